// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pgalloc

import (
	"fmt"

	"farfetch.dev/farfetch/pkg/refs"
)

// Page is a reference-counted page frame. Each reference keeps the frame
// from being returned to the MemoryFile.
type Page struct {
	refs.Refs

	mf    *MemoryFile
	frame uint64
}

// Frame returns the frame number of p within its MemoryFile.
func (p *Page) Frame() uint64 {
	return p.frame
}

// MemoryFile returns the MemoryFile p was allocated from.
func (p *Page) MemoryFile() *MemoryFile {
	return p.mf
}

// Map returns an internal mapping of p's contents. The mapping remains valid
// for as long as the caller holds a reference on p.
func (p *Page) Map() []byte {
	p.mf.mu.Lock()
	defer p.mf.mu.Unlock()
	return p.mf.frameLocked(p.frame)
}

// DecRef drops a reference on p, freeing the frame when the last one goes.
func (p *Page) DecRef() {
	p.Refs.DecRef(func() {
		p.mf.release(p.frame)
	})
}

// String implements fmt.Stringer.String.
func (p *Page) String() string {
	return fmt.Sprintf("page{frame: %d, refs: %d}", p.frame, p.ReadRefs())
}

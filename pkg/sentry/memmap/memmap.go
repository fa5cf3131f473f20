// Copyright 2018 The gVisor Authors.
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

// Package memmap defines semantics for memory mappings.
package memmap

import (
	"context"
	"fmt"

	"farfetch.dev/farfetch/pkg/hostarch"
)

// Mappable represents a memory-mappable object, a mutable mapping from uint64
// offsets to page contents.
type Mappable interface {
	// Fault fills dst, which is exactly one page long, with the contents of
	// the page at offset. Fault may block, e.g. to read from backing
	// storage; if ctx is cancelled while it is blocked, it must return
	// promptly with an error wrapping ctx.Err().
	//
	// Preconditions: offset is page-aligned.
	Fault(ctx context.Context, offset uint64, dst []byte) error
}

// MMapOpts specifies a request to create a memory mapping.
type MMapOpts struct {
	// Length is the length of the mapping.
	Length uint64

	// Mappable is the Mappable to be mapped. If Mappable is nil, the mapping
	// is anonymous and pages are zero-filled on first access.
	Mappable Mappable

	// Offset is the offset into Mappable to map. If Mappable is nil, Offset is
	// ignored.
	Offset uint64

	// Addr is the suggested address for the mapping.
	Addr hostarch.Addr

	// Fixed specifies whether this is a fixed mapping (it must be located at
	// Addr).
	Fixed bool

	// Unmap specifies whether existing mappings in the range being mapped may
	// be replaced. If Unmap is true, Fixed must be true.
	Unmap bool

	// Perms is the set of permissions to the applied to this mapping.
	Perms hostarch.AccessType

	// MaxPerms limits the set of permissions that may ever apply to this
	// mapping, including forced accesses that bypass Perms.
	MaxPerms hostarch.AccessType

	// Private is true if writes to the mapping should be propagated to a copy
	// that is exclusive to the MemoryManager.
	Private bool

	// Precommit is true if pages should be faulted in when the mapping is
	// created rather than on first access.
	Precommit bool

	// Hint is the name used for the mapping in /proc/[pid]/maps-style
	// listings.
	Hint string
}

// String implements fmt.Stringer.String.
func (opts MMapOpts) String() string {
	return fmt.Sprintf("{Length: %#x, Addr: %v, Fixed: %t, Perms: %v, MaxPerms: %v, Private: %t, Hint: %q}",
		opts.Length, opts.Addr, opts.Fixed, opts.Perms, opts.MaxPerms, opts.Private, opts.Hint)
}

// BytesMappable is a Mappable whose contents are a byte slice. Offsets
// beyond the end of the slice read as zeroes.
type BytesMappable struct {
	Data []byte
}

// Fault implements Mappable.Fault.
func (b *BytesMappable) Fault(ctx context.Context, offset uint64, dst []byte) error {
	clear(dst)
	if offset < uint64(len(b.Data)) {
		copy(dst, b.Data[offset:])
	}
	return nil
}

// FaultFunc adapts a function to the Mappable interface.
type FaultFunc func(ctx context.Context, offset uint64, dst []byte) error

// Fault implements Mappable.Fault.
func (f FaultFunc) Fault(ctx context.Context, offset uint64, dst []byte) error {
	return f(ctx, offset, dst)
}

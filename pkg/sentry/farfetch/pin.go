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

package farfetch

import (
	"context"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/sentry/mm"
	"farfetch.dev/farfetch/pkg/sentry/pgalloc"
)

// pinnedPages is a run of consecutive target pages, each holding a
// reference taken for the transfer.
type pinnedPages struct {
	mf *pgalloc.MemoryFile

	// vec is the page vector charged to mf. Its capacity is the charge.
	vec []*pgalloc.Page

	// pages is the prefix of vec that holds pinned pages, in address order.
	pages []*pgalloc.Page
}

// Release drops every pin and returns the page vector. It must be called
// exactly once.
func (p *pinnedPages) Release() {
	for _, pg := range p.pages {
		pg.DecRef()
	}
	p.mf.ReleasePageVector(p.vec)
	p.pages = nil
	p.vec = nil
}

// Len returns the number of pinned pages.
func (p *pinnedPages) Len() int {
	return len(p.pages)
}

// pinPages pins the pages of w in image for cmd, forcing access past the
// target's own memory protections. If fewer pages than w.Pages could be
// pinned, w is truncated to the pinned prefix.
//
// An error means that nothing is pinned. Allocation of the page vector fails
// with ENOMEM; cancellation of ctx, while waiting for the mapping lock or
// while a fault is serviced, fails with EINTR; a failure to pin the first
// page is returned as is.
func pinPages(ctx context.Context, image *mm.MemoryManager, w *Window, cmd Command) (*pinnedPages, error) {
	mf := image.MemoryFile()
	vec, err := mf.AllocatePageVector(w.Pages)
	if err != nil {
		return nil, err
	}
	if err := image.RLockMapping(ctx); err != nil {
		mf.ReleasePageVector(vec)
		return nil, linuxerr.EINTR
	}
	pages, err := image.GetUserPagesLocked(ctx, w.Start, w.Pages, vec, mm.PinOpts{
		Write: cmd == Write,
		Force: true,
	})
	image.RUnlockMapping()
	if err != nil {
		mf.ReleasePageVector(vec)
		return nil, err
	}
	w.truncate(uint64(len(pages)))
	return &pinnedPages{mf: mf, vec: vec, pages: pages}, nil
}

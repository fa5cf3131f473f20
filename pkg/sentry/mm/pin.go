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

package mm

import (
	"context"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/sentry/pgalloc"
)

// PinOpts controls GetUserPagesLocked.
type PinOpts struct {
	// Write is true if the pinned pages will be written to.
	Write bool

	// Force is true if the application's memory protections should be
	// checked against each mapping's maximum permissions instead, like
	// Linux's FOLL_FORCE.
	Force bool
}

// GetUserPagesLocked pins up to count consecutive pages starting at the page
// containing addr, appending them to pages in address order. Each appended
// page holds a new reference that the caller must drop with DecRef.
//
// Pinning stops early at the first page that is unmapped, that the access
// is not permitted on, or that cannot be faulted in. If at least one page
// was pinned, the pinned pages are returned with a nil error and the caller
// observes the shortfall through the returned length. If the first page
// fails, the error is returned. If ctx is cancelled, every page pinned by
// this call is released and EINTR is returned.
//
// Preconditions: mm.mappingMu must be locked for reading, as by
// RLockMapping, and remain locked until this function returns.
func (mm *MemoryManager) GetUserPagesLocked(ctx context.Context, addr hostarch.Addr, count uint64, pages []*pgalloc.Page, opts PinOpts) ([]*pgalloc.Page, error) {
	at := hostarch.Read
	if opts.Write {
		at = hostarch.Write
	}
	first := len(pages)
	release := func() []*pgalloc.Page {
		for _, p := range pages[first:] {
			p.DecRef()
		}
		clear(pages[first:])
		return pages[:first]
	}

	addr = addr.RoundDown()
	for i := uint64(0); i < count; i++ {
		if ctx.Err() != nil {
			return release(), linuxerr.EINTR
		}
		pageAddr, ok := addr.AddLength(i * hostarch.PageSize)
		if !ok {
			return shortPin(pages, first, linuxerr.EFAULT)
		}
		v := mm.findVMALocked(pageAddr)
		if v == nil || !v.canAccess(at, opts.Force) {
			return shortPin(pages, first, linuxerr.EFAULT)
		}
		p, err := mm.getPageLocked(ctx, v, pageAddr)
		if err != nil {
			if linuxerr.Equals(linuxerr.EINTR, err) || ctx.Err() != nil {
				return release(), linuxerr.EINTR
			}
			return shortPin(pages, first, err)
		}
		p.IncRef()
		pages = append(pages, p)
	}
	return pages, nil
}

// shortPin returns the result of a pin that stopped early with err.
func shortPin(pages []*pgalloc.Page, first int, err error) ([]*pgalloc.Page, error) {
	if len(pages) == first {
		return pages, err
	}
	return pages, nil
}

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

package mm

import (
	"context"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/usermem"
)

var _ usermem.IO = (*MemoryManager)(nil)

// CheckIORange is similar to hostarch.Addr.ToRange, but applies bounds
// checks consistent with Linux's arch/x86/include/asm/uaccess.h:access_ok().
func (mm *MemoryManager) CheckIORange(addr hostarch.Addr, length int64) (hostarch.AddrRange, bool) {
	if length < 0 {
		return hostarch.AddrRange{}, false
	}
	ar, ok := addr.ToRange(uint64(length))
	return ar, (ok && ar.End <= mm.layout.MaxAddr)
}

// CopyOut implements usermem.IO.CopyOut.
func (mm *MemoryManager) CopyOut(ctx context.Context, addr hostarch.Addr, src []byte, opts usermem.IOOpts) (int, error) {
	return mm.copy(ctx, addr, len(src), hostarch.Write, opts, func(page []byte, done int) int {
		return copy(page, src[done:])
	})
}

// CopyIn implements usermem.IO.CopyIn.
func (mm *MemoryManager) CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte, opts usermem.IOOpts) (int, error) {
	return mm.copy(ctx, addr, len(dst), hostarch.Read, opts, func(page []byte, done int) int {
		return copy(dst[done:], page)
	})
}

// copy applies f to successive page-sized pieces of [addr, addr+n), passing
// the part of each page covered by the range and the number of bytes
// already processed.
func (mm *MemoryManager) copy(ctx context.Context, addr hostarch.Addr, n int, at hostarch.AccessType, opts usermem.IOOpts, f func(page []byte, done int) int) (int, error) {
	ar, ok := mm.CheckIORange(addr, int64(n))
	if !ok {
		return 0, linuxerr.EFAULT
	}
	if n == 0 {
		return 0, nil
	}
	if err := mm.mappingMu.RLockKillable(ctx); err != nil {
		return 0, linuxerr.EINTR
	}
	defer mm.mappingMu.RUnlock()

	done := 0
	for cur := ar.Start; cur < ar.End; {
		pageAddr := cur.RoundDown()
		v := mm.findVMALocked(pageAddr)
		if v == nil || !v.canAccess(at, opts.IgnorePermissions) {
			return done, linuxerr.EFAULT
		}
		p, err := mm.getPageLocked(ctx, v, pageAddr)
		if err != nil {
			return done, err
		}
		off := cur.PageOffset()
		end := uint64(hostarch.PageSize)
		if rem := uint64(ar.End - cur); rem < end-off {
			end = off + rem
		}
		c := f(p.Map()[off:end], done)
		if at.Write {
			mm.mf.MarkDirty(p)
		}
		done += c
		cur += hostarch.Addr(c)
	}
	return done, nil
}

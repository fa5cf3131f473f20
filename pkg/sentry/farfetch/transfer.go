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
	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/sentry/pgalloc"
	"farfetch.dev/farfetch/pkg/usermem"
)

// copyPages moves w.Length bytes between pages and local memory starting at
// localAddr, in the direction given by cmd. The first page is entered at
// w.Offset and every later page at offset 0. A failed local access stops the
// copy with EFAULT; pages written before the failure keep their contents.
//
// Preconditions: pages covers w, as returned by pinPages.
func copyPages(ctx context.Context, local usermem.IO, localAddr hostarch.Addr, pages []*pgalloc.Page, w Window, cmd Command) (uint64, error) {
	if !cmd.Valid() {
		return 0, linuxerr.EINVAL
	}
	var (
		done uint64
		off  = w.Offset
	)
	for _, p := range pages {
		if done == w.Length {
			break
		}
		if local == nil {
			return done, linuxerr.EFAULT
		}
		cursor, ok := localAddr.AddLength(done)
		if !ok {
			return done, linuxerr.EFAULT
		}
		toCopy := min(w.Length-done, hostarch.PageSize-off)
		buf := p.Map()[off : off+toCopy]

		switch cmd {
		case Read:
			if n, err := local.CopyOut(ctx, cursor, buf, usermem.IOOpts{}); err != nil || uint64(n) != toCopy {
				return done, linuxerr.EFAULT
			}
		case Write:
			if n, err := local.CopyIn(ctx, cursor, buf, usermem.IOOpts{}); err != nil || uint64(n) != toCopy {
				return done, linuxerr.EFAULT
			}
			p.MemoryFile().MarkDirty(p)
		}
		done += toCopy
		off = 0
	}
	return done, nil
}

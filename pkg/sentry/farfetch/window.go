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
	"fmt"
	"math"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/hostarch"
)

// MaxRWCount is the largest number of bytes moved by a single transfer. It is
// Linux's MAX_RW_COUNT, INT_MAX rounded down to a page boundary, which keeps
// any byte count representable as a non-negative int32.
const MaxRWCount = math.MaxInt32 &^ uint64(hostarch.PageMask)

// Window is the page-aligned span of target memory covered by a transfer.
//
// Invariants: Start is page-aligned; Offset < hostarch.PageSize;
// Offset+Length <= Pages*hostarch.PageSize, and Pages*hostarch.PageSize does
// not overflow.
type Window struct {
	// Start is the target address rounded down to a page boundary.
	Start hostarch.Addr

	// Offset is the offset of the target address within the first page.
	Offset uint64

	// Pages is the number of pages spanned.
	Pages uint64

	// Length is the number of bytes to transfer, which may be less than was
	// requested.
	Length uint64
}

// ComputeWindow returns the Window for a transfer of length bytes at addr.
// length is clamped to maxRW, which is itself clamped to MaxRWCount (zero
// means MaxRWCount), and to the largest value for which Offset+Length can be
// rounded up to a page boundary without overflowing.
func ComputeWindow(addr hostarch.Addr, length, maxRW uint64) (Window, error) {
	if maxRW == 0 || maxRW > MaxRWCount {
		maxRW = MaxRWCount
	}
	off := addr.PageOffset()
	length = min(length, maxRW, math.MaxUint64-off-hostarch.PageSize+1)

	// off+length+PageSize-1 cannot overflow after the clamp above.
	pages := (off + length + hostarch.PageSize - 1) / hostarch.PageSize
	if pages > math.MaxUint64/hostarch.PageSize || pages*hostarch.PageSize < off+length {
		return Window{}, linuxerr.EINVAL
	}
	return Window{
		Start:  addr.RoundDown(),
		Offset: off,
		Pages:  pages,
		Length: length,
	}, nil
}

// truncate shrinks w to its first pages pages, bounding Length so that no
// byte past the last remaining page is covered.
func (w *Window) truncate(pages uint64) {
	if pages >= w.Pages {
		return
	}
	w.Pages = pages
	if avail := pages * hostarch.PageSize; avail <= w.Offset {
		w.Length = 0
	} else {
		w.Length = min(w.Length, avail-w.Offset)
	}
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return fmt.Sprintf("{start: %v, offset: %#x, pages: %d, length: %d}", w.Start, w.Offset, w.Pages, w.Length)
}

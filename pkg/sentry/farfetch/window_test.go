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
	"math"
	"math/bits"
	"math/rand"
	"testing"

	"farfetch.dev/farfetch/pkg/hostarch"
)

func TestComputeWindow(t *testing.T) {
	for _, test := range []struct {
		name   string
		addr   hostarch.Addr
		length uint64
		maxRW  uint64
		want   Window
	}{
		{
			name: "empty",
			addr: 0x1234,
			want: Window{Start: 0x1000, Offset: 0x234, Pages: 1},
		},
		{
			name:   "one byte",
			addr:   0x1000,
			length: 1,
			want:   Window{Start: 0x1000, Pages: 1, Length: 1},
		},
		{
			name:   "exactly one page",
			addr:   0x1000,
			length: hostarch.PageSize,
			want:   Window{Start: 0x1000, Pages: 1, Length: hostarch.PageSize},
		},
		{
			name:   "straddles a boundary",
			addr:   0x1fff,
			length: 2,
			want:   Window{Start: 0x1000, Offset: 0xfff, Pages: 2, Length: 2},
		},
		{
			name:   "clamped to MaxRWCount",
			addr:   0x10,
			length: math.MaxUint64,
			want:   Window{Start: 0, Offset: 0x10, Pages: MaxRWCount/hostarch.PageSize + 1, Length: MaxRWCount},
		},
		{
			name:   "clamped to configured maximum",
			addr:   0x2000,
			length: 10 * hostarch.PageSize,
			maxRW:  2 * hostarch.PageSize,
			want:   Window{Start: 0x2000, Pages: 2, Length: 2 * hostarch.PageSize},
		},
		{
			name:   "maximum above MaxRWCount is ignored",
			addr:   0,
			length: math.MaxUint64,
			maxRW:  math.MaxUint64,
			want:   Window{Pages: MaxRWCount / hostarch.PageSize, Length: MaxRWCount},
		},
		{
			name:   "top of the address space",
			addr:   hostarch.Addr(^uintptr(0)),
			length: math.MaxUint64,
			want: Window{
				Start:  hostarch.Addr(^uintptr(0)).RoundDown(),
				Offset: hostarch.PageSize - 1,
				Pages:  MaxRWCount/hostarch.PageSize + 1,
				Length: MaxRWCount,
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := ComputeWindow(test.addr, test.length, test.maxRW)
			if err != nil {
				t.Fatalf("ComputeWindow(%v, %d, %d) failed: %v", test.addr, test.length, test.maxRW, err)
			}
			if got != test.want {
				t.Errorf("ComputeWindow(%v, %d, %d) = %v, want %v", test.addr, test.length, test.maxRW, got, test.want)
			}
		})
	}
}

// TestWindowInvariants checks that every window covers its bytes, and that
// computing the span never overflows.
func TestWindowInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	edges := []uint64{0, 1, hostarch.PageSize - 1, hostarch.PageSize, hostarch.PageSize + 1, MaxRWCount - 1, MaxRWCount, MaxRWCount + 1, math.MaxUint64 - hostarch.PageSize, math.MaxUint64 - 1, math.MaxUint64}
	var inputs [][3]uint64
	for _, a := range edges {
		for _, l := range edges {
			for _, m := range []uint64{0, 1, hostarch.PageSize, math.MaxUint64} {
				inputs = append(inputs, [3]uint64{a, l, m})
			}
		}
	}
	for i := 0; i < 10000; i++ {
		inputs = append(inputs, [3]uint64{r.Uint64(), r.Uint64() >> uint(r.Intn(64)), r.Uint64() >> uint(r.Intn(64))})
	}

	for _, in := range inputs {
		addr, length, maxRW := hostarch.Addr(in[0]), in[1], in[2]
		w, err := ComputeWindow(addr, length, maxRW)
		if err != nil {
			t.Fatalf("ComputeWindow(%v, %d, %d) failed: %v", addr, length, maxRW, err)
		}
		if !w.Start.IsPageAligned() || w.Start != addr.RoundDown() {
			t.Errorf("ComputeWindow(%v, %d, %d): bad start %v", addr, length, maxRW, w.Start)
		}
		if w.Offset >= hostarch.PageSize || w.Start+hostarch.Addr(w.Offset) != addr {
			t.Errorf("ComputeWindow(%v, %d, %d): bad offset %#x", addr, length, maxRW, w.Offset)
		}
		if w.Length > length || w.Length > MaxRWCount {
			t.Errorf("ComputeWindow(%v, %d, %d): length %d not clamped", addr, length, maxRW, w.Length)
		}
		need, carry := bits.Add64(w.Offset, w.Length, 0)
		if carry != 0 {
			t.Fatalf("ComputeWindow(%v, %d, %d): offset+length overflows", addr, length, maxRW)
		}
		hi, span := bits.Mul64(w.Pages, hostarch.PageSize)
		if hi != 0 {
			t.Fatalf("ComputeWindow(%v, %d, %d): span of %d pages overflows", addr, length, maxRW, w.Pages)
		}
		if span < need || (w.Pages > 0 && span-hostarch.PageSize >= need) {
			t.Errorf("ComputeWindow(%v, %d, %d): %d pages do not tightly cover offset %#x + length %d", addr, length, maxRW, w.Pages, w.Offset, w.Length)
		}
	}
}

func TestWindowTruncate(t *testing.T) {
	for _, test := range []struct {
		name  string
		w     Window
		pages uint64
		want  Window
	}{
		{
			name:  "no pages",
			w:     Window{Offset: 100, Pages: 3, Length: 3 * hostarch.PageSize},
			pages: 0,
			want:  Window{Offset: 100},
		},
		{
			name:  "drops the tail",
			w:     Window{Offset: 100, Pages: 3, Length: 3 * hostarch.PageSize},
			pages: 2,
			want:  Window{Offset: 100, Pages: 2, Length: 2*hostarch.PageSize - 100},
		},
		{
			name:  "all pages",
			w:     Window{Offset: 100, Pages: 3, Length: 3*hostarch.PageSize - 200},
			pages: 3,
			want:  Window{Offset: 100, Pages: 3, Length: 3*hostarch.PageSize - 200},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			w := test.w
			w.truncate(test.pages)
			if w != test.want {
				t.Errorf("truncate(%d) = %v, want %v", test.pages, w, test.want)
			}
		})
	}
}

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

package hostarch

import (
	"math"
	"testing"
)

func TestRoundUp(t *testing.T) {
	for _, test := range []struct {
		addr Addr
		want Addr
		ok   bool
	}{
		{0, 0, true},
		{1, PageSize, true},
		{PageSize, PageSize, true},
		{PageSize + 1, 2 * PageSize, true},
		{Addr(math.MaxUint64) &^ PageMask, Addr(math.MaxUint64) &^ PageMask, true},
		{Addr(math.MaxUint64)&^PageMask + 1, 0, false},
		{Addr(math.MaxUint64), 0, false},
	} {
		got, ok := test.addr.RoundUp()
		if ok != test.ok || (ok && got != test.want) {
			t.Errorf("%v.RoundUp() = (%v, %t), want (%v, %t)", test.addr, got, ok, test.want, test.ok)
		}
	}
}

func TestPageOffset(t *testing.T) {
	for _, test := range []struct {
		addr Addr
		want uint64
	}{
		{0, 0},
		{1, 1},
		{PageSize - 1, PageSize - 1},
		{PageSize, 0},
		{0x7fff_0123, 0x123},
	} {
		if got := test.addr.PageOffset(); got != test.want {
			t.Errorf("%v.PageOffset() = %d, want %d", test.addr, got, test.want)
		}
		if got, want := test.addr.IsPageAligned(), test.want == 0; got != want {
			t.Errorf("%v.IsPageAligned() = %t, want %t", test.addr, got, want)
		}
	}
}

func TestAddLength(t *testing.T) {
	if _, ok := Addr(math.MaxUint64 - 1).AddLength(2); ok {
		t.Errorf("AddLength wrapped around without reporting overflow")
	}
	ar, ok := Addr(0x1000).ToRange(0x2000)
	if !ok || ar != (AddrRange{0x1000, 0x3000}) {
		t.Errorf("ToRange got (%v, %t), want ([0x1000, 0x3000), true)", ar, ok)
	}
}

func TestAddrRange(t *testing.T) {
	r := AddrRange{0x1000, 0x3000}
	if !r.Contains(0x1000) || r.Contains(0x3000) {
		t.Errorf("%v: wrong Contains at boundaries", r)
	}
	if !r.Overlaps(AddrRange{0x2fff, 0x4000}) || r.Overlaps(AddrRange{0x3000, 0x4000}) {
		t.Errorf("%v: wrong Overlaps at boundaries", r)
	}
	if got, want := r.Intersect(AddrRange{0x2000, 0x5000}), (AddrRange{0x2000, 0x3000}); got != want {
		t.Errorf("Intersect got %v, want %v", got, want)
	}
	if got := r.Intersect(AddrRange{0x5000, 0x6000}); got.Length() != 0 {
		t.Errorf("Intersect of disjoint ranges got %v, want empty", got)
	}
}

func TestAccessType(t *testing.T) {
	for _, s := range []string{"---", "r--", "rw-", "r-x", "rwx"} {
		at, ok := ParseAccessType(s)
		if !ok {
			t.Fatalf("ParseAccessType(%q) failed", s)
		}
		if got := at.String(); got != s {
			t.Errorf("ParseAccessType(%q).String() = %q", s, got)
		}
	}
	if _, ok := ParseAccessType("rq"); ok {
		t.Errorf("ParseAccessType(%q) succeeded, want failure", "rq")
	}
	if !ReadWrite.SupersetOf(Write) || Read.SupersetOf(Write) {
		t.Errorf("SupersetOf is wrong")
	}
	if got := Write.Effective(); got != ReadWrite {
		t.Errorf("Write.Effective() = %v, want %v", got, ReadWrite)
	}
}

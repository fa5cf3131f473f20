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

package arch

import (
	"math"
	"testing"
)

func TestSyscallArgumentConversions(t *testing.T) {
	a := SyscallArgument{Value: ^uintptr(0)}
	if got := a.Int(); got != -1 {
		t.Errorf("Int() = %d, want -1", got)
	}
	if got := a.Uint(); got != math.MaxUint32 {
		t.Errorf("Uint() = %d, want %d", got, uint32(math.MaxUint32))
	}
	if got := a.Uint64(); got != math.MaxUint64 {
		t.Errorf("Uint64() = %d, want %d", got, uint64(math.MaxUint64))
	}
	if got := a.Int64(); got != -1 {
		t.Errorf("Int64() = %d, want -1", got)
	}

	p := SyscallArgument{Value: 0x7fff_0000_1234}
	if got := p.Pointer(); uintptr(got) != p.Value {
		t.Errorf("Pointer() = %v, want %#x", got, p.Value)
	}
}

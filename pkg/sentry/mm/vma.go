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
	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/sentry/memmap"
)

// A vma represents a virtual memory area.
type vma struct {
	start hostarch.Addr
	end   hostarch.Addr

	// mappable is the virtual memory object mapped by this vma. If mappable
	// is nil, the vma represents an anonymous mapping.
	mappable memmap.Mappable

	// off is the offset into mappable at which this vma begins. If mappable
	// is nil, off is meaningless.
	off uint64

	// realPerms are the memory permissions on this vma, as defined by the
	// application.
	realPerms hostarch.AccessType

	// maxPerms limits the set of permissions that may ever apply to this
	// vma, including forced accesses.
	maxPerms hostarch.AccessType

	// private is true if this is a MAP_PRIVATE mapping.
	private bool

	hint string
}

func vmaLess(a, b *vma) bool {
	return a.start < b.start
}

func (v *vma) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: v.start, End: v.end}
}

// effectivePerms returns the permissions a normal access to v is checked
// against.
func (v *vma) effectivePerms() hostarch.AccessType {
	return v.realPerms.Effective()
}

// canAccess returns whether an access of type at is allowed on v. A forced
// access is checked against maxPerms instead of the application's
// permissions, like FOLL_FORCE in Linux's check_vma_flags().
func (v *vma) canAccess(at hostarch.AccessType, force bool) bool {
	if force {
		return v.maxPerms.SupersetOf(at)
	}
	return v.effectivePerms().SupersetOf(at)
}

// split returns the part of v that lies in ar, with off adjusted.
//
// Preconditions: ar intersects v.Range().
func (v *vma) split(ar hostarch.AddrRange) *vma {
	ar = ar.Intersect(v.Range())
	nv := *v
	nv.start = ar.Start
	nv.end = ar.End
	if nv.mappable != nil {
		nv.off += uint64(ar.Start - v.start)
	}
	return &nv
}

// findVMALocked returns the vma containing addr, or nil.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) findVMALocked(addr hostarch.Addr) *vma {
	var found *vma
	mm.vmas.DescendLessOrEqual(&vma{start: addr}, func(v *vma) bool {
		if v.Range().Contains(addr) {
			found = v
		}
		return false
	})
	return found
}

// overlappingVMAsLocked returns all vmas that overlap ar, in address order.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) overlappingVMAsLocked(ar hostarch.AddrRange) []*vma {
	var vmas []*vma
	if v := mm.findVMALocked(ar.Start); v != nil {
		vmas = append(vmas, v)
	}
	mm.vmas.AscendGreaterOrEqual(&vma{start: ar.Start + 1}, func(v *vma) bool {
		if v.start >= ar.End {
			return false
		}
		vmas = append(vmas, v)
		return true
	})
	return vmas
}

// insertVMALocked adds v to mm.
//
// Preconditions: mm.mappingMu must be locked for writing. v must not overlap
// any existing vma.
func (mm *MemoryManager) insertVMALocked(v *vma) {
	mm.vmas.ReplaceOrInsert(v)
	mm.usageAS += uint64(v.end - v.start)
}

// removeVMALocked removes v from mm.
//
// Preconditions: mm.mappingMu must be locked for writing.
func (mm *MemoryManager) removeVMALocked(v *vma) {
	mm.vmas.Delete(v)
	mm.usageAS -= uint64(v.end - v.start)
}

// findAvailableLocked returns the lowest address >= hint at which a mapping
// of length bytes fits.
//
// Preconditions: mm.mappingMu must be locked. length is page-aligned and
// non-zero.
func (mm *MemoryManager) findAvailableLocked(hint hostarch.Addr, length uint64) (hostarch.Addr, bool) {
	start := hint.RoundDown()
	if start < mm.layout.MinAddr {
		start = mm.layout.MinAddr
	}
	for {
		end, ok := start.AddLength(length)
		if !ok || end > mm.layout.MaxAddr {
			return 0, false
		}
		vmas := mm.overlappingVMAsLocked(hostarch.AddrRange{Start: start, End: end})
		if len(vmas) == 0 {
			return start, true
		}
		start = vmas[len(vmas)-1].end
	}
}

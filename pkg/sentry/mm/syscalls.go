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
	"fmt"
	"sort"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/sentry/memmap"
)

// MMap establishes a memory mapping.
func (mm *MemoryManager) MMap(ctx context.Context, opts memmap.MMapOpts) (hostarch.Addr, error) {
	if opts.Length == 0 {
		return 0, linuxerr.EINVAL
	}
	length, ok := hostarch.PageRoundUp(opts.Length)
	if !ok {
		return 0, linuxerr.ENOMEM
	}
	opts.Length = length

	if opts.Mappable != nil {
		// Offset must be aligned.
		if hostarch.PageRoundDown(opts.Offset) != opts.Offset {
			return 0, linuxerr.EINVAL
		}
		// Offset + length must not overflow.
		if end := opts.Offset + opts.Length; end < opts.Offset {
			return 0, linuxerr.ENOMEM
		}
	} else {
		opts.Offset = 0
	}

	if opts.Addr.RoundDown() != opts.Addr {
		// MAP_FIXED requires addr to be page-aligned; non-fixed mappings
		// don't.
		if opts.Fixed {
			return 0, linuxerr.EINVAL
		}
		opts.Addr = opts.Addr.RoundDown()
	}

	if opts.MaxPerms == hostarch.NoAccess {
		// A private or anonymous mapping can always be written through a
		// forced access, since the writes never reach a shared object.
		if opts.Private || opts.Mappable == nil {
			opts.MaxPerms = hostarch.AnyAccess
		} else {
			opts.MaxPerms = opts.Perms
		}
	}
	if !opts.MaxPerms.SupersetOf(opts.Perms) {
		return 0, linuxerr.EACCES
	}
	if opts.Unmap && !opts.Fixed {
		return 0, linuxerr.EINVAL
	}

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()

	var ar hostarch.AddrRange
	if opts.Fixed {
		ar, ok = opts.Addr.ToRange(opts.Length)
		if !ok || ar.Start < mm.layout.MinAddr || ar.End > mm.layout.MaxAddr {
			return 0, linuxerr.ENOMEM
		}
		if overlapping := mm.overlappingVMAsLocked(ar); len(overlapping) != 0 {
			if !opts.Unmap {
				return 0, linuxerr.EEXIST
			}
			mm.unmapLocked(ar)
		}
	} else {
		start, ok := mm.findAvailableLocked(opts.Addr, opts.Length)
		if !ok {
			return 0, linuxerr.ENOMEM
		}
		ar = hostarch.AddrRange{Start: start, End: start + hostarch.Addr(opts.Length)}
	}

	v := &vma{
		start:     ar.Start,
		end:       ar.End,
		mappable:  opts.Mappable,
		off:       opts.Offset,
		realPerms: opts.Perms,
		maxPerms:  opts.MaxPerms,
		private:   opts.Private,
		hint:      opts.Hint,
	}
	mm.insertVMALocked(v)

	if opts.Precommit {
		for addr := ar.Start; addr < ar.End; addr += hostarch.PageSize {
			if _, err := mm.getPageLocked(ctx, v, addr); err != nil {
				// Like MAP_POPULATE, failing to populate does not fail
				// the mapping; the page is faulted again on access.
				break
			}
		}
	}
	return ar.Start, nil
}

// MUnmap implements the semantics of Linux's munmap(2).
func (mm *MemoryManager) MUnmap(ctx context.Context, addr hostarch.Addr, length uint64) error {
	if addr != addr.RoundDown() {
		return linuxerr.EINVAL
	}
	if length == 0 {
		return linuxerr.EINVAL
	}
	la, ok := hostarch.PageRoundUp(length)
	if !ok {
		return linuxerr.EINVAL
	}
	ar, ok := addr.ToRange(la)
	if !ok {
		return linuxerr.EINVAL
	}

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()
	mm.unmapLocked(ar)
	return nil
}

// unmapLocked removes all mappings in ar, splitting vmas at its boundaries,
// and releases the pages that backed them.
//
// Preconditions: mm.mappingMu must be locked for writing. ar is
// page-aligned.
func (mm *MemoryManager) unmapLocked(ar hostarch.AddrRange) {
	for _, v := range mm.overlappingVMAsLocked(ar) {
		mm.removeVMALocked(v)
		if v.start < ar.Start {
			mm.insertVMALocked(v.split(hostarch.AddrRange{Start: v.start, End: ar.Start}))
		}
		if v.end > ar.End {
			mm.insertVMALocked(v.split(hostarch.AddrRange{Start: ar.End, End: v.end}))
		}
	}

	mm.activeMu.Lock()
	defer mm.activeMu.Unlock()
	for addr, p := range mm.pmas {
		if ar.Contains(addr) {
			p.DecRef()
			delete(mm.pmas, addr)
		}
	}
}

// MProtect implements the semantics of Linux's mprotect(2).
func (mm *MemoryManager) MProtect(ctx context.Context, addr hostarch.Addr, length uint64, realPerms hostarch.AccessType) error {
	if addr.RoundDown() != addr {
		return linuxerr.EINVAL
	}
	if length == 0 {
		return nil
	}
	rlength, ok := hostarch.PageRoundUp(length)
	if !ok {
		return linuxerr.ENOMEM
	}
	ar, ok := addr.ToRange(rlength)
	if !ok {
		return linuxerr.ENOMEM
	}
	effectivePerms := realPerms.Effective()

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()

	// All of ar must be mapped. Check for gaps and permission validity
	// before modifying any vma, for consistency with Linux.
	vmas := mm.overlappingVMAsLocked(ar)
	next := ar.Start
	for _, v := range vmas {
		if v.start > next {
			return linuxerr.ENOMEM
		}
		if !v.maxPerms.SupersetOf(effectivePerms) {
			return linuxerr.EACCES
		}
		next = v.end
	}
	if next < ar.End {
		return linuxerr.ENOMEM
	}

	for _, v := range vmas {
		mm.removeVMALocked(v)
		if v.start < ar.Start {
			mm.insertVMALocked(v.split(hostarch.AddrRange{Start: v.start, End: ar.Start}))
		}
		mid := v.split(ar)
		mid.realPerms = realPerms
		mm.insertVMALocked(mid)
		if v.end > ar.End {
			mm.insertVMALocked(v.split(hostarch.AddrRange{Start: ar.End, End: v.end}))
		}
	}
	return nil
}

// VMAInfo describes one mapping, as in a line of /proc/[pid]/maps.
type VMAInfo struct {
	Range    hostarch.AddrRange
	Perms    hostarch.AccessType
	MaxPerms hostarch.AccessType
	Private  bool
	Offset   uint64
	Name     string

	// Resident is the number of bytes of the mapping that are backed by
	// pages.
	Resident uint64
}

// String returns v formatted like a /proc/[pid]/maps line.
func (v VMAInfo) String() string {
	p := 's'
	if v.Private {
		p = 'p'
	}
	return fmt.Sprintf("%08x-%08x %s%c %08x %s", uint64(v.Range.Start), uint64(v.Range.End), v.Perms, p, v.Offset, v.Name)
}

// VMAs returns a description of every mapping in mm in address order.
func (mm *MemoryManager) VMAs() []VMAInfo {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	mm.activeMu.Lock()
	defer mm.activeMu.Unlock()

	var infos []VMAInfo
	mm.vmas.Ascend(func(v *vma) bool {
		info := VMAInfo{
			Range:    v.Range(),
			Perms:    v.realPerms,
			MaxPerms: v.maxPerms,
			Private:  v.private,
			Name:     v.hint,
		}
		if v.mappable != nil {
			info.Offset = v.off
		}
		infos = append(infos, info)
		return true
	})
	for addr := range mm.pmas {
		i := sort.Search(len(infos), func(i int) bool {
			return infos[i].Range.End > addr
		})
		if i < len(infos) && infos[i].Range.Contains(addr) {
			infos[i].Resident += hostarch.PageSize
		}
	}
	return infos
}

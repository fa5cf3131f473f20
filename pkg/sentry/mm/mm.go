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

// Package mm provides a memory management subsystem. A MemoryManager holds
// an address space's VMAs, and the private pages (pmas) that back them once
// they have been faulted in.
//
// Lock order:
//
//	mm.mappingMu
//		mm.activeMu
//			pgalloc.MemoryFile.mu
package mm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/log"
	"farfetch.dev/farfetch/pkg/sentry/pgalloc"
)

const (
	// DefaultMinAddr is the lowest address that may be mapped, like Linux's
	// default vm.mmap_min_addr.
	DefaultMinAddr hostarch.Addr = 0x10000

	// DefaultMaxAddr is the exclusive upper bound of the application address
	// space, matching x86-64's 47-bit TASK_SIZE.
	DefaultMaxAddr hostarch.Addr = 0x7ffffffff000

	// vmaBTreeDegree is the degree of the vma B-tree.
	vmaBTreeDegree = 8
)

// Layout describes the usable range of an address space.
type Layout struct {
	// MinAddr is the lowest mappable address.
	MinAddr hostarch.Addr

	// MaxAddr is the exclusive upper bound of mappable addresses.
	MaxAddr hostarch.Addr
}

// MemoryManager implements a virtual address space.
type MemoryManager struct {
	// mf is the MemoryFile that backs all application pages. mf is
	// immutable.
	mf *pgalloc.MemoryFile

	// layout is immutable.
	layout Layout

	// users is the number of references to the MemoryManager that are
	// holding its address space open. When users drops to zero, the address
	// space is torn down. This is the analogue of Linux's mm_users.
	users atomic.Int32

	// mappingMu is analogous to Linux's struct mm_struct::mmap_lock.
	mappingMu mappingRWMutex

	// vmas are the virtual memory areas in this address space, ordered by
	// start address and non-overlapping.
	//
	// vmas is protected by mappingMu.
	vmas *btree.BTreeG[*vma]

	// usageAS is the total size of all vmas in bytes.
	//
	// usageAS is protected by mappingMu.
	usageAS uint64

	// activeMu protects pmas.
	activeMu sync.Mutex

	// pmas maps page-aligned addresses to the pages currently backing them.
	// Each entry holds one reference on its page. Entries only exist for
	// addresses covered by a vma.
	//
	// pmas is protected by activeMu.
	pmas map[hostarch.Addr]*pgalloc.Page
}

// NewMemoryManager returns a new MemoryManager with no mappings and a single
// user.
func NewMemoryManager(mf *pgalloc.MemoryFile) *MemoryManager {
	return NewMemoryManagerWithLayout(mf, Layout{MinAddr: DefaultMinAddr, MaxAddr: DefaultMaxAddr})
}

// NewMemoryManagerWithLayout is NewMemoryManager with a custom layout.
func NewMemoryManagerWithLayout(mf *pgalloc.MemoryFile, layout Layout) *MemoryManager {
	if !layout.MinAddr.IsPageAligned() || !layout.MaxAddr.IsPageAligned() || layout.MinAddr >= layout.MaxAddr {
		panic(fmt.Sprintf("invalid layout %+v", layout))
	}
	mm := &MemoryManager{
		mf:        mf,
		layout:    layout,
		mappingMu: newMappingRWMutex(),
		vmas:      btree.NewG(vmaBTreeDegree, vmaLess),
		pmas:      make(map[hostarch.Addr]*pgalloc.Page),
	}
	mm.users.Store(1)
	return mm
}

// MemoryFile returns the MemoryFile backing mm.
func (mm *MemoryManager) MemoryFile() *pgalloc.MemoryFile {
	return mm.mf
}

// Layout returns mm's layout.
func (mm *MemoryManager) Layout() Layout {
	return mm.layout
}

// Users returns the number of users of mm. The value is inherently racy.
func (mm *MemoryManager) Users() int32 {
	return mm.users.Load()
}

// IncUsers increments mm's user count and returns true. If the user count is
// already 0, IncUsers does nothing and returns false; the address space is
// being torn down and must not be revived.
func (mm *MemoryManager) IncUsers() bool {
	for {
		users := mm.users.Load()
		if users == 0 {
			return false
		}
		if mm.users.CompareAndSwap(users, users+1) {
			return true
		}
	}
}

// DecUsers decrements mm's user count. If the user count reaches 0, all
// mappings in mm are unmapped and every page they held is released.
func (mm *MemoryManager) DecUsers(ctx context.Context) {
	if users := mm.users.Add(-1); users > 0 {
		return
	} else if users < 0 {
		panic(fmt.Sprintf("Invalid MemoryManager.users: %d", users))
	}

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()
	mm.vmas.Clear(false)
	mm.usageAS = 0

	mm.activeMu.Lock()
	defer mm.activeMu.Unlock()
	n := len(mm.pmas)
	for addr, p := range mm.pmas {
		p.DecRef()
		delete(mm.pmas, addr)
	}
	log.Debugf("Address space torn down, released %d pages", n)
}

// VirtualMemorySize returns the combined length in bytes of all mappings in
// mm.
func (mm *MemoryManager) VirtualMemorySize() uint64 {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	return mm.usageAS
}

// ResidentSetSize returns the number of bytes of mm that are backed by pages.
func (mm *MemoryManager) ResidentSetSize() uint64 {
	mm.activeMu.Lock()
	defer mm.activeMu.Unlock()
	return uint64(len(mm.pmas)) * hostarch.PageSize
}

// RLockMapping locks mm's mappings for reading in killable mode. It returns
// a non-nil error wrapping ctx.Err() if ctx is done before the lock is
// acquired. It is the lock that GetUserPagesLocked requires.
func (mm *MemoryManager) RLockMapping(ctx context.Context) error {
	return mm.mappingMu.RLockKillable(ctx)
}

// RUnlockMapping undoes a successful RLockMapping.
func (mm *MemoryManager) RUnlockMapping() {
	mm.mappingMu.RUnlock()
}

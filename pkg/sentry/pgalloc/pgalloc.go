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

// Package pgalloc contains the page allocator for application memory.
//
// Page frames are carved out of anonymous host mappings ("chunks") that are
// mapped on demand and never returned to the host before Destroy. Frames are
// reference counted through Page; a frame returns to the free list when its
// last reference is dropped.
package pgalloc

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sys/unix"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/log"
)

const (
	// chunkPages is the number of page frames mapped from the host at once.
	chunkPages = 64

	// chunkSize is the size of each host mapping in bytes.
	chunkSize = chunkPages * hostarch.PageSize

	// DefaultMemoryLimit is the default MemoryFileOpts.MemoryLimit.
	DefaultMemoryLimit = 1 << 30

	// DefaultPinQuota is the default MemoryFileOpts.PinQuota. It matches the
	// number of page pointers that fit in the largest kmalloc allocation on
	// Linux (4 MiB of 8-byte pointers).
	DefaultPinQuota = (4 << 20) / 8
)

// MemoryFileOpts provides options to NewMemoryFile.
type MemoryFileOpts struct {
	// MemoryLimit is the maximum number of bytes of page frames that may be
	// allocated at once. If zero, DefaultMemoryLimit is used.
	MemoryLimit uint64

	// PinQuota is the maximum number of page handles that may be held in
	// page vectors at once. If zero, DefaultPinQuota is used.
	PinQuota uint64
}

// Usage is a snapshot of a MemoryFile's accounting.
type Usage struct {
	// Allocated is the number of page frames currently in use.
	Allocated uint64

	// Mapped is the number of page frames mapped from the host.
	Mapped uint64

	// Dirty is the number of allocated frames marked dirty.
	Dirty uint64

	// VectorCharged is the number of page handles charged to PinQuota.
	VectorCharged uint64
}

// MemoryFile is a pool of page frames.
type MemoryFile struct {
	opts MemoryFileOpts

	// mu protects the fields below.
	mu sync.Mutex

	// chunks are the host mappings backing frames. Frame f lives in
	// chunks[f/chunkPages].
	chunks [][]byte

	// free is the list of frames that were allocated and released.
	free []uint64

	// allocated is the number of frames in use.
	allocated uint64

	// dirty has a bit set for each frame that has been written through a
	// pin since it was allocated.
	dirty *bitset.BitSet

	// vecCharged is the number of page handles charged to opts.PinQuota.
	vecCharged uint64

	destroyed bool
}

// NewMemoryFile creates a MemoryFile.
func NewMemoryFile(opts MemoryFileOpts) *MemoryFile {
	if opts.MemoryLimit == 0 {
		opts.MemoryLimit = DefaultMemoryLimit
	}
	if opts.PinQuota == 0 {
		opts.PinQuota = DefaultPinQuota
	}
	return &MemoryFile{
		opts:  opts,
		dirty: bitset.New(chunkPages),
	}
}

// Allocate returns a new zeroed page frame holding one reference.
func (f *MemoryFile) Allocate() (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		panic("Allocate on destroyed MemoryFile")
	}
	if (f.allocated+1)*hostarch.PageSize > f.opts.MemoryLimit {
		return nil, linuxerr.ENOMEM
	}

	var frame uint64
	if n := len(f.free); n > 0 {
		frame = f.free[n-1]
		f.free = f.free[:n-1]
	} else {
		frame = uint64(len(f.chunks)) * chunkPages
		if err := f.growLocked(); err != nil {
			return nil, err
		}
		// Queue the rest of the new chunk in descending order so that frames
		// are handed out in ascending order.
		for fr := frame + chunkPages - 1; fr > frame; fr-- {
			f.free = append(f.free, fr)
		}
	}
	f.allocated++
	clear(f.frameLocked(frame))

	p := &Page{mf: f, frame: frame}
	p.InitRefs("pgalloc.Page")
	return p, nil
}

// growLocked maps a new chunk from the host.
//
// Preconditions: f.mu must be locked.
func (f *MemoryFile) growLocked() error {
	m, err := unix.Mmap(-1, 0, chunkSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		log.Warningf("Failed to map %d bytes for page frames: %v", chunkSize, err)
		if errno, ok := err.(unix.Errno); ok && errno == unix.ENOMEM {
			return linuxerr.ENOMEM
		}
		return fmt.Errorf("mapping page frames: %w", err)
	}
	f.chunks = append(f.chunks, m)
	return nil
}

func (f *MemoryFile) frameLocked(frame uint64) []byte {
	off := (frame % chunkPages) * hostarch.PageSize
	return f.chunks[frame/chunkPages][off : off+hostarch.PageSize : off+hostarch.PageSize]
}

// release returns frame to the free list.
func (f *MemoryFile) release(frame uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty.Clear(uint(frame))
	f.free = append(f.free, frame)
	f.allocated--
}

// MarkDirty records that p's contents were modified and must be preserved.
func (f *MemoryFile) MarkDirty(p *Page) {
	f.mu.Lock()
	f.dirty.Set(uint(p.frame))
	f.mu.Unlock()
}

// ClearDirty clears p's dirty bit, as after writeback.
func (f *MemoryFile) ClearDirty(p *Page) {
	f.mu.Lock()
	f.dirty.Clear(uint(p.frame))
	f.mu.Unlock()
}

// IsDirty returns whether p has been marked dirty since it was allocated or
// last cleaned.
func (f *MemoryFile) IsDirty(p *Page) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty.Test(uint(p.frame))
}

// AllocatePageVector returns storage for n page handles, charging n against
// the pin quota. It returns ENOMEM if the quota would be exceeded. The vector
// must be returned with ReleasePageVector.
func (f *MemoryFile) AllocatePageVector(n uint64) ([]*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > f.opts.PinQuota || f.vecCharged > f.opts.PinQuota-n {
		return nil, linuxerr.ENOMEM
	}
	f.vecCharged += n
	return make([]*Page, 0, n), nil
}

// ReleasePageVector uncharges a vector returned by AllocatePageVector. It
// does not drop references on pages stored in the vector.
func (f *MemoryFile) ReleasePageVector(v []*Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := uint64(cap(v))
	if n > f.vecCharged {
		panic(fmt.Sprintf("releasing page vector of %d handles with only %d charged", n, f.vecCharged))
	}
	f.vecCharged -= n
}

// Usage returns a snapshot of f's accounting.
func (f *MemoryFile) Usage() Usage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Usage{
		Allocated:     f.allocated,
		Mapped:        uint64(len(f.chunks)) * chunkPages,
		Dirty:         uint64(f.dirty.Count()),
		VectorCharged: f.vecCharged,
	}
}

// Destroy unmaps all host memory. f must not be used afterward, and no Page
// allocated from f may be accessed.
func (f *MemoryFile) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocated != 0 {
		log.Warningf("MemoryFile destroyed with %d frames still allocated", f.allocated)
	}
	for _, m := range f.chunks {
		if err := unix.Munmap(m); err != nil {
			log.Warningf("Failed to unmap page frames: %v", err)
		}
	}
	f.chunks = nil
	f.free = nil
	f.destroyed = true
}

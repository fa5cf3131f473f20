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
	"context"

	"golang.org/x/sync/semaphore"
)

// mappingMaxReaders is the semaphore weight of a write lock. It bounds the
// number of concurrent readers.
const mappingMaxReaders = 1 << 30

// mappingRWMutex is a reader/writer lock whose acquisition can be abandoned
// when the acquiring context is cancelled, like Linux's
// mmap_read_lock_killable(). Waiters are served in FIFO order, so a waiting
// writer holds off readers that arrive after it.
type mappingRWMutex struct {
	sem *semaphore.Weighted
}

func newMappingRWMutex() mappingRWMutex {
	return mappingRWMutex{sem: semaphore.NewWeighted(mappingMaxReaders)}
}

// Lock locks m for writing.
func (m *mappingRWMutex) Lock() {
	// Acquire cannot fail with a context that is never cancelled.
	_ = m.sem.Acquire(context.Background(), mappingMaxReaders)
}

// Unlock unlocks m for writing.
func (m *mappingRWMutex) Unlock() {
	m.sem.Release(mappingMaxReaders)
}

// RLock locks m for reading.
func (m *mappingRWMutex) RLock() {
	_ = m.sem.Acquire(context.Background(), 1)
}

// RLockKillable locks m for reading, giving up and returning ctx.Err() if
// ctx is done before the lock is acquired.
func (m *mappingRWMutex) RLockKillable(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

// RUnlock undoes a single RLock or successful RLockKillable call.
func (m *mappingRWMutex) RUnlock() {
	m.sem.Release(1)
}

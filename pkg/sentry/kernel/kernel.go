// Copyright 2018 Google LLC
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

// Package kernel provides an emulation of the Linux kernel's process model:
// tasks, the PID namespace in which they are named, and the address spaces
// and credentials they hold.
//
// Lock order (outermost locks must be taken first):
//
//	TaskSet.mu
//		Task.mu
//			mm.MemoryManager locks
package kernel

import (
	"context"

	"farfetch.dev/farfetch/pkg/log"
	"farfetch.dev/farfetch/pkg/sentry/kernel/auth"
	"farfetch.dev/farfetch/pkg/sentry/mm"
	"farfetch.dev/farfetch/pkg/sentry/pgalloc"
)

// Kernel represents an emulated Linux kernel. It must be initialized by
// calling New.
type Kernel struct {
	// mf provides application memory. mf is immutable.
	mf *pgalloc.MemoryFile

	// rootUserNamespace is the root user namespace. rootUserNamespace is
	// immutable.
	rootUserNamespace *auth.UserNamespace

	// tasks is the set of all tasks. tasks is immutable.
	tasks *TaskSet
}

// New returns a Kernel whose application memory is allocated from mf.
func New(mf *pgalloc.MemoryFile) *Kernel {
	k := &Kernel{
		mf:                mf,
		rootUserNamespace: auth.NewRootUserNamespace(),
	}
	k.tasks = newTaskSet(k.rootUserNamespace)
	return k
}

// MemoryFile returns the MemoryFile that provides application memory.
func (k *Kernel) MemoryFile() *pgalloc.MemoryFile {
	return k.mf
}

// RootUserNamespace returns the root UserNamespace.
func (k *Kernel) RootUserNamespace() *auth.UserNamespace {
	return k.rootUserNamespace
}

// RootPIDNamespace returns the root PIDNamespace.
func (k *Kernel) RootPIDNamespace() *PIDNamespace {
	return k.tasks.Root
}

// TaskSet returns the TaskSet.
func (k *Kernel) TaskSet() *TaskSet {
	return k.tasks
}

// NewMemoryManager returns a new, empty address space backed by k's
// MemoryFile.
func (k *Kernel) NewMemoryManager() *mm.MemoryManager {
	return mm.NewMemoryManager(k.mf)
}

// Shutdown causes every task in k to exit, and reaps it.
func (k *Kernel) Shutdown(ctx context.Context) {
	ts := k.tasks.Root.Tasks()
	for _, t := range ts {
		t.Exit(ctx)
		t.Reap()
	}
	log.Infof("Kernel shut down, %d tasks reaped", len(ts))
}

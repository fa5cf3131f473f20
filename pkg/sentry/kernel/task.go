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

package kernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/log"
	"farfetch.dev/farfetch/pkg/refs"
	"farfetch.dev/farfetch/pkg/sentry/kernel/auth"
	"farfetch.dev/farfetch/pkg/sentry/mm"
)

// TaskExitState represents a step in the task exit path.
type TaskExitState int

const (
	// TaskExitNone indicates that the task has not begun exiting.
	TaskExitNone TaskExitState = iota

	// TaskExitZombie indicates that the task has released its resources,
	// including its address space, but has not yet been reaped.
	TaskExitZombie

	// TaskExitDead indicates that the task has been reaped and is no longer
	// visible in its PID namespace.
	TaskExitDead
)

// String implements fmt.Stringer.
func (t TaskExitState) String() string {
	switch t {
	case TaskExitNone:
		return "TaskExitNone"
	case TaskExitZombie:
		return "TaskExitZombie"
	case TaskExitDead:
		return "TaskExitDead"
	default:
		return fmt.Sprintf("TaskExitState(%d)", int(t))
	}
}

// Task represents a thread of execution in the untrusted app.
//
// A Task is reference counted. The PID namespace in which it is visible holds
// one reference until the task is reaped; lookups through TaskWithIDRef take
// additional ones.
type Task struct {
	refs.Refs

	k *Kernel

	// ns is the PID namespace in which t is visible. ns is immutable.
	ns *PIDNamespace

	// tid is t's thread ID in ns. tid is immutable.
	tid ThreadID

	// ctx is cancelled when t is killed or exits; blocking operations
	// performed on behalf of t observe it. ctx and cancel are immutable.
	ctx    context.Context
	cancel context.CancelFunc

	// creds is t's credentials.
	//
	// creds.Load() may be called without synchronization. creds.Store() is
	// serialized by mu. creds.Load() must not be mutated after being stored.
	creds atomic.Pointer[auth.Credentials]

	// mu protects the following fields.
	mu sync.Mutex

	// image is t's address space. image is nil for kernel-only tasks and
	// after t has exited.
	image *mm.MemoryManager

	// exitState is the task's progress through the exit path.
	exitState TaskExitState
}

// TaskConfig defines the configuration of a new Task.
type TaskConfig struct {
	// ThreadID is the requested thread ID. If zero, the next free ID is
	// used.
	ThreadID ThreadID

	// Credentials is the Credentials of the new task.
	Credentials *auth.Credentials

	// MemoryManager is the address space of the new task. NewTask takes
	// ownership of the caller's user reference. If MemoryManager is nil, the
	// task is a kernel-only task.
	MemoryManager *mm.MemoryManager
}

// NewTask creates a new task in k's root PID namespace.
func (k *Kernel) NewTask(cfg *TaskConfig) (*Task, error) {
	if cfg.Credentials == nil {
		return nil, linuxerr.EINVAL
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		k:      k,
		ns:     k.tasks.Root,
		ctx:    ctx,
		cancel: cancel,
		image:  cfg.MemoryManager,
	}
	t.creds.Store(cfg.Credentials)
	t.InitRefs("kernel.Task")

	ts := k.tasks
	ts.mu.Lock()
	defer ts.mu.Unlock()
	tid, ok := t.ns.allocateTIDLocked(cfg.ThreadID)
	if !ok {
		cancel()
		if cfg.ThreadID != 0 {
			return nil, linuxerr.EEXIST
		}
		return nil, linuxerr.EAGAIN
	}
	t.tid = tid
	t.ns.tasks[tid] = t
	t.ns.tids[t] = tid
	log.Debugf("[%d] Task created, kernel-only: %t", tid, cfg.MemoryManager == nil)
	return t, nil
}

// Kernel returns the Kernel containing t.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// ThreadID returns t's thread ID in its PID namespace.
func (t *Task) ThreadID() ThreadID {
	return t.tid
}

// PIDNamespace returns the PID namespace in which t is visible.
func (t *Task) PIDNamespace() *PIDNamespace {
	return t.ns
}

// Credentials returns t's credentials.
//
// This value must be considered immutable.
func (t *Task) Credentials() *auth.Credentials {
	return t.creds.Load()
}

// SetCredentials replaces t's credentials.
func (t *Task) SetCredentials(creds *auth.Credentials) {
	t.mu.Lock()
	t.creds.Store(creds)
	t.mu.Unlock()
}

// Context returns a context that is done once t has been killed or has
// exited.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Kill marks t as having a fatal signal pending. Killable waits performed on
// behalf of t are abandoned.
func (t *Task) Kill() {
	t.cancel()
}

// Killed returns true if t has a fatal signal pending.
func (t *Task) Killed() bool {
	return t.ctx.Err() != nil
}

// MemoryManager returns t's MemoryManager. MemoryManager does not take an
// additional reference on the returned MM.
//
// Preconditions: The caller must be acting on behalf of t, or t.mu must be
// locked.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.image
}

// GetMM returns t's MemoryManager with a new user reference that the caller
// must release with DecUsers. If t is a kernel-only task, or t has exited
// and its MemoryManager has been released, GetMM returns nil. This is the
// analogue of Linux's get_task_mm().
func (t *Task) GetMM() *mm.MemoryManager {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.image == nil {
		return nil
	}
	if !t.image.IncUsers() {
		return nil
	}
	return t.image
}

// WithMuLocked executes f with t.mu locked.
func (t *Task) WithMuLocked(f func(*Task)) {
	t.mu.Lock()
	f(t)
	t.mu.Unlock()
}

// ExitState returns t's current progress through the exit path.
func (t *Task) ExitState() TaskExitState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitState
}

// Exit releases t's address space and makes it a zombie. The zombie remains
// visible in its PID namespace until Reap is called. Exit is idempotent.
func (t *Task) Exit(ctx context.Context) {
	t.cancel()
	t.mu.Lock()
	if t.exitState != TaskExitNone {
		t.mu.Unlock()
		return
	}
	t.exitState = TaskExitZombie
	image := t.image
	t.image = nil
	t.mu.Unlock()

	if image != nil {
		image.DecUsers(ctx)
	}
	log.Debugf("[%d] Task exited", t.tid)
}

// Reap removes a zombie t from its PID namespace and drops the namespace's
// reference on it, after which its thread ID may be reused.
//
// Preconditions: t.Exit has been called.
func (t *Task) Reap() {
	t.mu.Lock()
	if t.exitState != TaskExitZombie {
		t.mu.Unlock()
		panic(fmt.Sprintf("reaping task %d in state %v", t.tid, t.exitState))
	}
	t.exitState = TaskExitDead
	t.mu.Unlock()

	ts := t.ns.owner
	ts.mu.Lock()
	delete(t.ns.tasks, t.tid)
	delete(t.ns.tids, t)
	ts.mu.Unlock()
	t.DecRef()
}

// DecRef drops a reference on t.
func (t *Task) DecRef() {
	t.Refs.DecRef(func() {
		log.Debugf("[%d] Task released", t.tid)
	})
}

// String implements fmt.Stringer.
func (t *Task) String() string {
	return fmt.Sprintf("task %d", t.tid)
}

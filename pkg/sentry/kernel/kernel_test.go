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

package kernel

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/sentry/kernel/auth"
	"farfetch.dev/farfetch/pkg/sentry/pgalloc"
)

func newTestKernel(t *testing.T) *Kernel {
	mf := pgalloc.NewMemoryFile(pgalloc.MemoryFileOpts{})
	t.Cleanup(mf.Destroy)
	k := New(mf)
	t.Cleanup(func() { k.Shutdown(context.Background()) })
	return k
}

func TestNewTaskIDs(t *testing.T) {
	k := newTestKernel(t)
	creds := auth.NewRootCredentials(k.RootUserNamespace())

	var tids []ThreadID
	for i := 0; i < 3; i++ {
		task, err := k.NewTask(&TaskConfig{Credentials: creds})
		if err != nil {
			t.Fatalf("NewTask: %v", err)
		}
		tids = append(tids, task.ThreadID())
	}
	if diff := cmp.Diff([]ThreadID{1, 2, 3}, tids); diff != "" {
		t.Errorf("thread IDs mismatch (-want +got):\n%s", diff)
	}

	task, err := k.NewTask(&TaskConfig{ThreadID: 100, Credentials: creds})
	if err != nil {
		t.Fatalf("NewTask with ID 100: %v", err)
	}
	if got := k.RootPIDNamespace().TaskWithID(100); got != task {
		t.Errorf("TaskWithID(100) = %v, want %v", got, task)
	}
	if got := k.RootPIDNamespace().IDOfTask(task); got != 100 {
		t.Errorf("IDOfTask = %d, want 100", got)
	}
	if _, err := k.NewTask(&TaskConfig{ThreadID: 100, Credentials: creds}); err != linuxerr.EEXIST {
		t.Errorf("NewTask with taken ID got %v, want EEXIST", err)
	}
	if _, err := k.NewTask(&TaskConfig{}); err != linuxerr.EINVAL {
		t.Errorf("NewTask without credentials got %v, want EINVAL", err)
	}
}

func TestGetMM(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)
	creds := auth.NewRootCredentials(k.RootUserNamespace())

	kthread, err := k.NewTask(&TaskConfig{Credentials: creds})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if mm := kthread.GetMM(); mm != nil {
		t.Errorf("GetMM on kernel-only task = %v, want nil", mm)
	}

	image := k.NewMemoryManager()
	task, err := k.NewTask(&TaskConfig{Credentials: creds, MemoryManager: image})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	mm := task.GetMM()
	if mm != image {
		t.Fatalf("GetMM = %v, want %v", mm, image)
	}
	if got := mm.Users(); got != 2 {
		t.Errorf("Users after GetMM = %d, want 2", got)
	}

	// Exiting drops the task's user, but the reference taken by GetMM keeps
	// the address space alive.
	task.Exit(ctx)
	if got := task.ExitState(); got != TaskExitZombie {
		t.Errorf("ExitState = %v, want %v", got, TaskExitZombie)
	}
	if !task.Killed() {
		t.Errorf("exited task is not killed")
	}
	if got := task.GetMM(); got != nil {
		t.Errorf("GetMM on zombie = %v, want nil", got)
	}
	if got := mm.Users(); got != 1 {
		t.Errorf("Users after exit = %d, want 1", got)
	}
	mm.DecUsers(ctx)
	if mm.IncUsers() {
		t.Errorf("IncUsers succeeded after last user dropped")
	}
}

func TestTaskWithIDRef(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)
	creds := auth.NewRootCredentials(k.RootUserNamespace())
	ns := k.RootPIDNamespace()

	task, err := k.NewTask(&TaskConfig{Credentials: creds})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	tid := task.ThreadID()
	ref := ns.TaskWithIDRef(tid)
	if ref != task {
		t.Fatalf("TaskWithIDRef(%d) = %v, want %v", tid, ref, task)
	}
	if got := task.ReadRefs(); got != 2 {
		t.Errorf("refs = %d, want 2", got)
	}

	task.Exit(ctx)
	task.Reap()
	if got := ns.TaskWithIDRef(tid); got != nil {
		t.Errorf("TaskWithIDRef after reap = %v, want nil", got)
	}
	// The reference keeps the reaped task object intact.
	if got := ref.ThreadID(); got != tid {
		t.Errorf("ThreadID of reaped task = %d, want %d", got, tid)
	}
	ref.DecRef()
	if got := task.ReadRefs(); got != 0 {
		t.Errorf("refs after release = %d, want 0", got)
	}

	// The ID may now be reused by an unrelated task.
	reuse, err := k.NewTask(&TaskConfig{ThreadID: tid, Credentials: creds})
	if err != nil {
		t.Fatalf("NewTask reusing %d: %v", tid, err)
	}
	if reuse == task {
		t.Errorf("reused ID resolved to the old task")
	}
}

func TestShutdown(t *testing.T) {
	mf := pgalloc.NewMemoryFile(pgalloc.MemoryFileOpts{})
	defer mf.Destroy()
	k := New(mf)
	creds := auth.NewRootCredentials(k.RootUserNamespace())
	for i := 0; i < 2; i++ {
		if _, err := k.NewTask(&TaskConfig{Credentials: creds, MemoryManager: k.NewMemoryManager()}); err != nil {
			t.Fatalf("NewTask: %v", err)
		}
	}
	k.Shutdown(context.Background())
	if got := len(k.RootPIDNamespace().Tasks()); got != 0 {
		t.Errorf("%d tasks left after Shutdown", got)
	}
}

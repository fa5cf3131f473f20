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
	"fmt"
	"sort"
	"sync"

	"farfetch.dev/farfetch/pkg/sentry/kernel/auth"
)

// TasksLimit is the maximum number of threads for untrusted application.
// Linux doesn't really limit this directly, rather it is limited by total
// memory size, stacks allocated and a global maximum. There's no real reason
// for us to limit it either, (esp. since threads are backed by go routine),
// and we would expect to hit resource limits long before hitting this number.
// However, for correctness, we still check that the user doesn't exceed this
// number.
//
// Note that because of the way futexes are implemented, there *are* in fact
// serious restrictions on valid thread IDs. They are limited to 2^30 - 1
// (kernel/fork.c:MAX_THREADS).
const TasksLimit = (1 << 16)

// ThreadID is a generic thread identifier.
type ThreadID int32

// String returns a decimal representation of the ThreadID.
func (tid ThreadID) String() string {
	return fmt.Sprintf("%d", tid)
}

// InitTID is the TID given to the first task added to each PID namespace.
const InitTID ThreadID = 1

// A TaskSet comprises all tasks in a system.
type TaskSet struct {
	// mu protects all relationships between tasks. (mu is approximately
	// equivalent to Linux's tasklist_lock.)
	mu sync.RWMutex

	// Root is the root PID namespace, in which all tasks in the TaskSet are
	// visible. The Root pointer is immutable.
	Root *PIDNamespace
}

// newTaskSet returns a new, empty TaskSet.
func newTaskSet(userns *auth.UserNamespace) *TaskSet {
	ts := &TaskSet{}
	ts.Root = newPIDNamespace(ts, userns)
	return ts
}

// A PIDNamespace represents a PID namespace, a bimap between thread IDs and
// tasks. See the pid_namespaces(7) man page for further details.
type PIDNamespace struct {
	// owner is the TaskSet that this PID namespace belongs to. The owner
	// pointer is immutable.
	owner *TaskSet

	// userns is the user namespace with which this PID namespace is
	// associated. The userns pointer is immutable.
	userns *auth.UserNamespace

	// The following fields are protected by owner.mu.

	// last is the last ThreadID to be allocated in this namespace.
	last ThreadID

	// tasks is a mapping from ThreadIDs in this namespace to tasks visible in
	// the namespace.
	tasks map[ThreadID]*Task

	// tids is a mapping from tasks visible in this namespace to their
	// identifiers in this namespace.
	tids map[*Task]ThreadID
}

func newPIDNamespace(ts *TaskSet, userns *auth.UserNamespace) *PIDNamespace {
	return &PIDNamespace{
		owner:  ts,
		userns: userns,
		tasks:  make(map[ThreadID]*Task),
		tids:   make(map[*Task]ThreadID),
	}
}

// UserNamespace returns the user namespace associated with PID namespace ns.
func (ns *PIDNamespace) UserNamespace() *auth.UserNamespace {
	return ns.userns
}

// TaskWithID returns the task with thread ID tid in PID namespace ns. If no
// task has that TID, TaskWithID returns nil. TaskWithID does not take a
// reference on the returned task; see TaskWithIDRef.
func (ns *PIDNamespace) TaskWithID(tid ThreadID) *Task {
	ns.owner.mu.RLock()
	t := ns.tasks[tid]
	ns.owner.mu.RUnlock()
	return t
}

// TaskWithIDRef is equivalent to TaskWithID, but takes a reference on the
// returned task that the caller must drop with DecRef. The reference
// prevents the task from being freed, so the caller observes the task that
// held tid at the time of the lookup even if tid is reused afterward.
func (ns *PIDNamespace) TaskWithIDRef(tid ThreadID) *Task {
	ns.owner.mu.RLock()
	defer ns.owner.mu.RUnlock()
	t := ns.tasks[tid]
	if t == nil || !t.TryIncRef() {
		return nil
	}
	return t
}

// IDOfTask returns the TID assigned to the given task in PID namespace ns. If
// the task is not visible in that namespace, IDOfTask returns 0.
func (ns *PIDNamespace) IDOfTask(t *Task) ThreadID {
	ns.owner.mu.RLock()
	id := ns.tids[t]
	ns.owner.mu.RUnlock()
	return id
}

// Tasks returns a snapshot of the tasks in ns, ordered by thread ID.
func (ns *PIDNamespace) Tasks() []*Task {
	ns.owner.mu.RLock()
	defer ns.owner.mu.RUnlock()
	tids := make([]ThreadID, 0, len(ns.tasks))
	for tid := range ns.tasks {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	tasks := make([]*Task, 0, len(tids))
	for _, tid := range tids {
		tasks = append(tasks, ns.tasks[tid])
	}
	return tasks
}

// allocateTIDLocked returns an unused ThreadID from ns. If want is non-zero,
// that ID is returned if it is free.
//
// Preconditions: ns.owner.mu must be locked for writing.
func (ns *PIDNamespace) allocateTIDLocked(want ThreadID) (ThreadID, bool) {
	if want != 0 {
		if want < 0 || ns.tasks[want] != nil {
			return 0, false
		}
		return want, true
	}
	if len(ns.tasks) >= TasksLimit {
		return 0, false
	}
	tid := ns.last
	for {
		// Next.
		tid++
		if tid > TasksLimit {
			tid = InitTID + 1
		}

		// Is it available?
		if _, ok := ns.tasks[tid]; !ok {
			ns.last = tid
			return tid, true
		}
	}
}

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

package farfetch

import (
	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/sentry/kernel"
	"farfetch.dev/farfetch/pkg/sentry/mm"
)

// resolveMM returns the address space of the task with thread ID tid in ns,
// with a user reference that the caller must release with DecUsers.
//
// The task is looked up by reference, so a tid reused concurrently can never
// yield another task's address space. The task reference is dropped before
// returning: the user reference alone keeps the address space alive, even if
// the task exits in the meantime.
func resolveMM(ns *kernel.PIDNamespace, tid kernel.ThreadID) (*mm.MemoryManager, error) {
	t := ns.TaskWithIDRef(tid)
	if t == nil {
		return nil, linuxerr.ESRCH
	}
	image := t.GetMM()
	t.DecRef()
	if image == nil {
		// Kernel-only task, or a zombie whose address space is gone.
		return nil, linuxerr.ESRCH
	}
	return image, nil
}

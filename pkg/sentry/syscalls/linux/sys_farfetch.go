// Copyright 2020 The gVisor Authors.
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

// Package linux provides syscall tables for amd64 and arm64 Linux.
package linux

import (
	"sync/atomic"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/log"
	"farfetch.dev/farfetch/pkg/sentry/arch"
	"farfetch.dev/farfetch/pkg/sentry/kernel"
)

// FarfetchHandler implements the farfetch system call.
type FarfetchHandler func(t *kernel.Task, args arch.SyscallArguments) (uintptr, error)

// farfetchDefault is the handler that is active when no implementation is
// installed.
func farfetchDefault(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	return 0, linuxerr.ENOSYS
}

// farfetchHandler is the installed handler. It always holds a non-nil
// pointer.
var farfetchHandler atomic.Pointer[FarfetchHandler]

func init() {
	h := FarfetchHandler(farfetchDefault)
	farfetchHandler.Store(&h)
}

// InstallFarfetch makes h the implementation of the farfetch system call.
// Calls already dispatched to the previous handler are unaffected.
func InstallFarfetch(h FarfetchHandler) {
	if h == nil {
		panic("InstallFarfetch called with nil handler")
	}
	farfetchHandler.Store(&h)
}

// UninstallFarfetch restores the default handler, which fails every call
// with ENOSYS.
func UninstallFarfetch() {
	h := FarfetchHandler(farfetchDefault)
	farfetchHandler.Store(&h)
}

// Farfetch implements the farfetch system call by dispatching to the
// installed handler.
func Farfetch(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	h := *farfetchHandler.Load()
	rv, err := h(t, args)
	if err != nil {
		log.Debugf("farfetch(%v) = %v", args, err)
	}
	return rv, err
}

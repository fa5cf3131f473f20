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

// Package farfetch implements a privileged transfer of bytes between the
// caller's memory and the memory of another task, in the manner of
// process_vm_readv(2) and process_vm_writev(2) but for a single contiguous
// range.
//
// A transfer resolves the target's address space, pins the target pages it
// spans, and copies page by page. Pinning forces access past the target's
// own memory protections, bounded only by each mapping's maximum
// permissions; the superuser check in front of it is the only gate.
package farfetch

import (
	"context"
	"time"

	"farfetch.dev/farfetch/pkg/cleanup"
	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/log"
	"farfetch.dev/farfetch/pkg/sentry/arch"
	"farfetch.dev/farfetch/pkg/sentry/kernel"
	"farfetch.dev/farfetch/pkg/sentry/kernel/auth"
	"farfetch.dev/farfetch/pkg/sentry/syscalls/linux"
	"farfetch.dev/farfetch/pkg/usermem"
)

// Request is a single transfer.
type Request struct {
	// Command is the direction of the transfer.
	Command Command

	// Local is the caller's memory, and LocalAddr the address of the local
	// buffer in it. The buffer is Length bytes long.
	Local     usermem.IO
	LocalAddr hostarch.Addr

	// Credentials are the caller's credentials.
	Credentials *auth.Credentials

	// PID identifies the target task in the kernel's root PID namespace.
	PID kernel.ThreadID

	// TargetAddr is the address of the first target byte.
	TargetAddr hostarch.Addr

	// Length is the requested number of bytes.
	Length uint64
}

// EngineOpts configures an Engine.
type EngineOpts struct {
	// MaxTransfer bounds the bytes moved by one transfer. Zero, or any
	// value above MaxRWCount, means MaxRWCount.
	MaxTransfer uint64

	// Metrics receives per-transfer metrics. It may be nil.
	Metrics *Metrics
}

// Engine performs transfers between tasks of one kernel.
type Engine struct {
	k       *kernel.Kernel
	maxRW   uint64
	metrics *Metrics

	// warn reports broken invariants without flooding the log.
	warn log.Logger
}

// NewEngine returns an Engine for tasks of k.
func NewEngine(k *kernel.Kernel, opts EngineOpts) *Engine {
	maxRW := opts.MaxTransfer
	if maxRW == 0 || maxRW > MaxRWCount {
		maxRW = MaxRWCount
	}
	return &Engine{
		k:       k,
		maxRW:   maxRW,
		metrics: opts.Metrics,
		warn:    log.BasicRateLimitedLogger(time.Minute),
	}
}

// Transfer performs req and returns the number of bytes moved, which is less
// than req.Length if the target range is only partly mapped. If the copy
// fails part way, only the error is returned, although bytes before the
// failure were moved.
//
// Transfer may block servicing faults on target pages. If ctx is cancelled
// while it waits for the target's mapping lock or for a fault, it fails with
// EINTR and nothing remains pinned.
func (e *Engine) Transfer(ctx context.Context, req Request) (uint64, error) {
	start := time.Now()
	n, err := e.transfer(ctx, req)
	e.metrics.observe(req.Command, n, err, time.Since(start))
	return n, err
}

func (e *Engine) transfer(ctx context.Context, req Request) (uint64, error) {
	if err := checkPermission(req.Credentials); err != nil {
		return 0, err
	}
	if !req.Command.Valid() {
		return 0, linuxerr.EINVAL
	}
	if req.Length == 0 {
		return 0, nil
	}

	w, err := ComputeWindow(req.TargetAddr, req.Length, e.maxRW)
	if err != nil {
		return 0, err
	}
	image, err := resolveMM(e.k.RootPIDNamespace(), req.PID)
	if err != nil {
		return 0, err
	}
	cu := cleanup.Make(func() { image.DecUsers(ctx) })
	defer cu.Clean()

	want := w.Pages
	pinned, err := pinPages(ctx, image, &w, req.Command)
	if err != nil {
		log.Debugf("farfetch: pinning %v of task %d failed: %v", w, req.PID, err)
		return 0, err
	}
	cu.Add(pinned.Release)
	e.metrics.pinned(uint64(pinned.Len()), want)

	n, err := copyPages(ctx, req.Local, req.LocalAddr, pinned.pages, w, req.Command)
	if err != nil {
		log.Debugf("farfetch: %v of task %d failed after %d bytes: %v", req.Command, req.PID, n, err)
		return 0, err
	}
	if n != w.Length {
		e.warn.Warningf("farfetch: %v of task %d moved %d bytes, window %v", req.Command, req.PID, n, w)
	}
	return n, nil
}

// Syscall implements the farfetch system call for t:
//
//	farfetch(cmd, local_addr, pid, target_addr, length)
//
// The local buffer is in t's own address space.
func (e *Engine) Syscall(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	req := Request{
		Command:     Command(args[0].Uint64()),
		LocalAddr:   args[1].Pointer(),
		Credentials: t.Credentials(),
		PID:         kernel.ThreadID(args[2].Int()),
		TargetAddr:  args[3].Pointer(),
		Length:      args[4].Uint64(),
	}
	if image := t.MemoryManager(); image != nil {
		req.Local = image
	}
	n, err := e.Transfer(t.Context(), req)
	return uintptr(n), err
}

// Install makes e the implementation of the farfetch system call.
func Install(e *Engine) {
	log.Infof("Installing farfetch")
	linux.InstallFarfetch(e.Syscall)
}

// Uninstall restores the default farfetch system call, which fails with
// ENOSYS.
func Uninstall() {
	log.Infof("Removing farfetch")
	linux.UninstallFarfetch()
}

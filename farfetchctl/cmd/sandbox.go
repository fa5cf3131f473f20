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

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/prometheus/client_golang/prometheus"

	"farfetch.dev/farfetch/farfetchctl/config"
	"farfetch.dev/farfetch/pkg/cleanup"
	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/log"
	"farfetch.dev/farfetch/pkg/sentry/arch"
	"farfetch.dev/farfetch/pkg/sentry/farfetch"
	"farfetch.dev/farfetch/pkg/sentry/kernel"
	"farfetch.dev/farfetch/pkg/sentry/kernel/auth"
	"farfetch.dev/farfetch/pkg/sentry/memmap"
	"farfetch.dev/farfetch/pkg/sentry/pgalloc"
	"farfetch.dev/farfetch/pkg/sentry/syscalls/linux"
	"farfetch.dev/farfetch/pkg/usermem"
)

// sandbox is a kernel booted from a workload, with farfetch installed.
// Transfers are issued by a caller task that is not part of the workload and
// whose memory holds the local buffers.
type sandbox struct {
	conf    *config.Config
	mf      *pgalloc.MemoryFile
	k       *kernel.Kernel
	reg     *prometheus.Registry
	caller  *kernel.Task
	targets []*kernel.Task
}

// boot starts a sandbox running w.
func boot(conf *config.Config, w *config.Workload) (*sandbox, error) {
	mf := pgalloc.NewMemoryFile(pgalloc.MemoryFileOpts{
		MemoryLimit: uint64(conf.MemoryLimit),
		PinQuota:    conf.PinQuota,
	})
	k := kernel.New(mf)
	s := &sandbox{
		conf: conf,
		mf:   mf,
		k:    k,
		reg:  prometheus.NewRegistry(),
	}
	cu := cleanup.Make(func() { s.shutdown(context.Background()) })
	defer cu.Clean()

	userns := k.RootUserNamespace()
	for i := range w.Tasks {
		t, err := s.startTask(&w.Tasks[i], userns)
		if err != nil {
			return nil, fmt.Errorf("starting task %d: %w", i, err)
		}
		s.targets = append(s.targets, t)
	}

	creds, err := callerCredentials(conf, userns)
	if err != nil {
		return nil, err
	}
	caller, err := k.NewTask(&kernel.TaskConfig{Credentials: creds, MemoryManager: k.NewMemoryManager()})
	if err != nil {
		return nil, fmt.Errorf("starting caller task: %w", err)
	}
	s.caller = caller
	log.Infof("Caller is task %d with credentials %v", caller.ThreadID(), creds)

	farfetch.Install(farfetch.NewEngine(k, farfetch.EngineOpts{
		MaxTransfer: uint64(conf.MaxTransfer),
		Metrics:     farfetch.NewMetrics(s.reg),
	}))
	cu.Release()
	return s, nil
}

func (s *sandbox) startTask(spec *config.TaskSpec, userns *auth.UserNamespace) (*kernel.Task, error) {
	cfg := &kernel.TaskConfig{
		ThreadID:    kernel.ThreadID(spec.PID),
		Credentials: auth.NewUserCredentials(auth.KUID(spec.UID), userns),
	}
	if !spec.KernelOnly {
		image := s.k.NewMemoryManager()
		for _, m := range spec.Mappings {
			opts, err := m.MMapOpts()
			if err != nil {
				image.DecUsers(context.Background())
				return nil, err
			}
			if _, err := image.MMap(context.Background(), opts); err != nil {
				image.DecUsers(context.Background())
				return nil, fmt.Errorf("mapping %q: %w", m.Name, err)
			}
		}
		cfg.MemoryManager = image
	}
	t, err := s.k.NewTask(cfg)
	if err != nil {
		if cfg.MemoryManager != nil {
			cfg.MemoryManager.DecUsers(context.Background())
		}
		return nil, err
	}
	return t, nil
}

// shutdown uninstalls farfetch and tears down every task.
func (s *sandbox) shutdown(ctx context.Context) {
	farfetch.Uninstall()
	s.k.Shutdown(ctx)
	s.mf.Destroy()
}

// task returns the workload task with thread ID pid.
func (s *sandbox) task(pid kernel.ThreadID) (*kernel.Task, error) {
	for _, t := range s.targets {
		if t.ThreadID() == pid {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no task with pid %d", pid)
}

// transfer moves len(buf) bytes between buf and the memory of task pid at
// addr, through the farfetch system call. It returns the number of bytes
// moved.
func (s *sandbox) transfer(ctx context.Context, cmd farfetch.Command, pid kernel.ThreadID, addr hostarch.Addr, buf []byte) (uint64, error) {
	image := s.caller.MemoryManager()
	var local hostarch.Addr
	if len(buf) != 0 {
		var err error
		local, err = image.MMap(ctx, memmap.MMapOpts{
			Length:  uint64(len(buf)),
			Private: true,
			Perms:   hostarch.ReadWrite,
			Hint:    "farfetchctl buffer",
		})
		if err != nil {
			return 0, fmt.Errorf("mapping local buffer: %w", err)
		}
		defer image.MUnmap(ctx, local, uint64(len(buf)))
	}
	if cmd == farfetch.Write && len(buf) != 0 {
		if _, err := image.CopyOut(ctx, local, buf, usermem.IOOpts{}); err != nil {
			return 0, err
		}
	}

	args := arch.SyscallArguments{
		{Value: uintptr(cmd)},
		{Value: uintptr(local)},
		{Value: uintptr(pid)},
		{Value: uintptr(addr)},
		{Value: uintptr(len(buf))},
	}
	var n uint64
	err := retry(ctx, s.conf.Retries, func() error {
		rv, err := linux.Farfetch(s.caller, args)
		n = uint64(rv)
		return err
	})
	if err != nil {
		return 0, err
	}

	if cmd == farfetch.Read && n != 0 {
		if _, err := image.CopyIn(ctx, local, buf[:n], usermem.IOOpts{}); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// retryable returns whether a transfer that failed with err may succeed if
// issued again.
func retryable(err error) bool {
	return linuxerr.Equals(linuxerr.EINTR, err) || linuxerr.Equals(linuxerr.ENOMEM, err)
}

// retry calls op until it succeeds, fails with an error that is not
// retryable, or has been retried the given number of times.
func retry(ctx context.Context, retries uint64, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil || !retryable(err) {
			return permanent(err)
		}
		log.Debugf("Transfer attempt %d failed: %v", attempt, err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))
}

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

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
	"bytes"
	"context"
	"flag"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/common/expfmt"

	"farfetch.dev/farfetch/farfetchctl/config"
	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/sentry/farfetch"
	"farfetch.dev/farfetch/pkg/sentry/kernel"
)

// testConfig returns the default configuration, acting as root inside the
// sandbox regardless of the privileges of the test.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(testFlags)
	testFlags.Set("as-uid", "0")
	conf, err := config.NewFromFlags(testFlags)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	return conf
}

func bootTest(t *testing.T, conf *config.Config, w *config.Workload) *sandbox {
	t.Helper()
	s, err := boot(conf, w)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	t.Cleanup(func() { s.shutdown(context.Background()) })
	return s
}

// heap returns the start of the first mapping of task pid.
func heap(t *testing.T, s *sandbox, pid kernel.ThreadID) hostarch.Addr {
	t.Helper()
	task, err := s.task(pid)
	if err != nil {
		t.Fatal(err)
	}
	return task.MemoryManager().VMAs()[0].Range.Start
}

func TestTransfer(t *testing.T) {
	s := bootTest(t, testConfig(t), config.DefaultWorkload())
	ctx := context.Background()
	addr := heap(t, s, 100) + hostarch.PageSize - 3

	data := []byte("across the page boundary")
	if n, err := s.transfer(ctx, farfetch.Write, 100, addr, data); n != uint64(len(data)) || err != nil {
		t.Fatalf("write got (%d, %v), want (%d, nil)", n, err, len(data))
	}
	got := make([]byte, len(data))
	if n, err := s.transfer(ctx, farfetch.Read, 100, addr, got); n != uint64(len(data)) || err != nil {
		t.Fatalf("read got (%d, %v), want (%d, nil)", n, err, len(data))
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read %q, want %q", got, data)
	}

	// The local buffers are unmapped again.
	if vmas := s.caller.MemoryManager().VMAs(); len(vmas) != 0 {
		t.Errorf("caller still has mappings: %v", vmas)
	}
}

func TestTransferContent(t *testing.T) {
	s := bootTest(t, testConfig(t), config.DefaultWorkload())
	task, err := s.task(100)
	if err != nil {
		t.Fatal(err)
	}
	banner := task.MemoryManager().VMAs()[1]
	got := make([]byte, 5)
	if _, err := s.transfer(context.Background(), farfetch.Read, 100, banner.Range.Start, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("read %q, want %q", got, "hello")
	}
}

func TestTransferErrors(t *testing.T) {
	ctx := context.Background()
	s := bootTest(t, testConfig(t), config.DefaultWorkload())
	for _, tc := range []struct {
		name string
		pid  kernel.ThreadID
		addr hostarch.Addr
		want error
	}{
		{"unknown task", 999, 0x10000, linuxerr.ESRCH},
		{"kernel-only task", 2, 0x10000, linuxerr.ESRCH},
		{"unmapped address", 100, 0x1000, linuxerr.EFAULT},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.transfer(ctx, farfetch.Read, tc.pid, tc.addr, make([]byte, 8)); err != tc.want {
				t.Errorf("read got %v, want %v", err, tc.want)
			}
		})
	}

	conf := testConfig(t)
	conf.AsUID = 1000
	unprivileged := bootTest(t, conf, config.DefaultWorkload())
	if _, err := unprivileged.transfer(ctx, farfetch.Read, 100, heap(t, unprivileged, 100), make([]byte, 8)); err != linuxerr.EPERM {
		t.Errorf("unprivileged read got %v, want EPERM", err)
	}
}

func TestBootErrors(t *testing.T) {
	for name, w := range map[string]*config.Workload{
		"duplicate pid": {Tasks: []config.TaskSpec{{PID: 5}, {PID: 5}}},
		"overlapping mappings": {Tasks: []config.TaskSpec{{Mappings: []config.MappingSpec{
			{Addr: 0x400000, Size: 2 * hostarch.PageSize, Perms: "rw-"},
			{Addr: 0x401000, Size: hostarch.PageSize, Perms: "rw-"},
		}}}},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := boot(testConfig(t), w); err == nil {
				t.Errorf("boot succeeded, want error")
			}
		})
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name    string
		errs    []error
		retries uint64
		want    error
		calls   int
	}{
		{"success", []error{nil}, 3, nil, 1},
		{"interrupted then success", []error{linuxerr.EINTR, linuxerr.ENOMEM, nil}, 3, nil, 3},
		{"permanent", []error{linuxerr.EFAULT}, 3, linuxerr.EFAULT, 1},
		{"retries exhausted", []error{linuxerr.EINTR, linuxerr.EINTR, linuxerr.EINTR}, 2, linuxerr.EINTR, 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := retry(ctx, tc.retries, func() error {
				err := tc.errs[calls]
				calls++
				return err
			})
			if err != tc.want || calls != tc.calls {
				t.Errorf("retry got (%v, %d calls), want (%v, %d calls)", err, calls, tc.want, tc.calls)
			}
		})
	}
}

func TestSelftest(t *testing.T) {
	s := bootTest(t, testConfig(t), config.DefaultWorkload())
	results, err := s.selftest(context.Background())
	if err != nil {
		t.Fatalf("selftest: %v", err)
	}
	var got []string
	for _, r := range results {
		if r.err != nil {
			t.Errorf("task %d, %s: %v", r.pid, r.scenario, r.err)
		}
		got = append(got, r.pid.String()+"/"+r.scenario)
	}
	want := []string{"100/byte", "100/page", "100/span", "200/byte", "200/page", "200/span"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	var out bytes.Buffer
	if failed := printResults(&out, results); failed != 0 {
		t.Errorf("printResults reported %d failures", failed)
	}
	if n := strings.Count(out.String(), "PASS"); n != len(want) {
		t.Errorf("printResults printed %d passes, want %d:\n%s", n, len(want), out.String())
	}
}

func TestWriteMetrics(t *testing.T) {
	s := bootTest(t, testConfig(t), config.DefaultWorkload())
	if _, err := s.selftest(context.Background()); err != nil {
		t.Fatalf("selftest: %v", err)
	}
	families, err := s.reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var out bytes.Buffer
	if err := writeMetrics(&out, families); err != nil {
		t.Fatalf("writeMetrics: %v", err)
	}

	parsed, err := (&expfmt.TextParser{}).TextToMetricFamilies(&out)
	if err != nil {
		t.Fatalf("parsing metrics: %v\n%s", err, out.String())
	}
	transfers, ok := parsed["farfetch_transfers_total"]
	if !ok {
		t.Fatalf("farfetch_transfers_total not found")
	}
	var total float64
	for _, m := range transfers.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	// Each scenario saves, writes, reads back and restores.
	if want := float64(4 * 6); total != want {
		t.Errorf("farfetch_transfers_total = %v, want %v", total, want)
	}
}

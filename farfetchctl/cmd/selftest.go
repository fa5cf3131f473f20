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
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"farfetch.dev/farfetch/farfetchctl/cmd/util"
	"farfetch.dev/farfetch/farfetchctl/config"
	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/log"
	"farfetch.dev/farfetch/pkg/sentry/farfetch"
	"farfetch.dev/farfetch/pkg/sentry/kernel"
)

// scenario is a round trip through target memory at off bytes into a
// mapping.
type scenario struct {
	name   string
	off    uint64
	length uint64
}

var scenarios = []scenario{
	{name: "byte", off: 17, length: 1},
	{name: "page", off: 0, length: hostarch.PageSize},
	{name: "span", off: hostarch.PageSize - 100, length: 200},
}

// result is the outcome of a scenario on one task. A nil err is a pass.
type result struct {
	pid      kernel.ThreadID
	scenario string
	err      error
}

// selftest runs every scenario against every task that has a mapping of at
// least two pages that forced accesses can read and write. Tasks are tested
// in parallel.
func (s *sandbox) selftest(ctx context.Context) ([]result, error) {
	perTask := make([][]result, len(s.targets))
	g, ctx := errgroup.WithContext(ctx)
	for i, t := range s.targets {
		base, ok := testArea(t)
		if !ok {
			log.Infof("Task %d has no mapping to test, skipping", t.ThreadID())
			continue
		}
		g.Go(func() error {
			for _, sc := range scenarios {
				if err := ctx.Err(); err != nil {
					return err
				}
				err := s.roundTrip(ctx, t.ThreadID(), base+hostarch.Addr(sc.off), sc.length)
				perTask[i] = append(perTask[i], result{pid: t.ThreadID(), scenario: sc.name, err: err})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var results []result
	for _, rs := range perTask {
		results = append(results, rs...)
	}
	return results, nil
}

// testArea returns the start of the first mapping of t that is suitable for
// the self test.
func testArea(t *kernel.Task) (hostarch.Addr, bool) {
	image := t.MemoryManager()
	if image == nil {
		return 0, false
	}
	for _, vma := range image.VMAs() {
		if vma.MaxPerms.SupersetOf(hostarch.ReadWrite) && vma.Range.Length() >= 2*hostarch.PageSize {
			return vma.Range.Start, true
		}
	}
	return 0, false
}

// roundTrip writes a pattern of length bytes at addr, reads it back and
// compares, then restores the previous contents.
func (s *sandbox) roundTrip(ctx context.Context, pid kernel.ThreadID, addr hostarch.Addr, length uint64) error {
	orig := make([]byte, length)
	if err := s.transferAll(ctx, farfetch.Read, pid, addr, orig); err != nil {
		return fmt.Errorf("saving contents: %w", err)
	}
	want := make([]byte, length)
	for i := range want {
		want[i] = orig[i] ^ byte(i%255+1)
	}
	if err := s.transferAll(ctx, farfetch.Write, pid, addr, want); err != nil {
		return fmt.Errorf("writing: %w", err)
	}
	got := make([]byte, length)
	if err := s.transferAll(ctx, farfetch.Read, pid, addr, got); err != nil {
		return fmt.Errorf("reading back: %w", err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("read back different bytes than were written")
	}
	if err := s.transferAll(ctx, farfetch.Write, pid, addr, orig); err != nil {
		return fmt.Errorf("restoring contents: %w", err)
	}
	return nil
}

// transferAll is like transfer, but a short transfer is an error.
func (s *sandbox) transferAll(ctx context.Context, cmd farfetch.Command, pid kernel.ThreadID, addr hostarch.Addr, buf []byte) error {
	n, err := s.transfer(ctx, cmd, pid, addr, buf)
	if err != nil {
		return err
	}
	if n != uint64(len(buf)) {
		return fmt.Errorf("%v moved %d of %d bytes", cmd, n, len(buf))
	}
	return nil
}

// printResults writes one line per result to w and returns the number of
// failures.
func printResults(w io.Writer, results []result) int {
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(w, "FAIL\ttask %d\t%s: %v\n", r.pid, r.scenario, r.err)
			continue
		}
		fmt.Fprintf(w, "PASS\ttask %d\t%s\n", r.pid, r.scenario)
	}
	return failed
}

// Selftest implements subcommands.Command for the "selftest" command.
type Selftest struct{}

// Name implements subcommands.Command.Name.
func (*Selftest) Name() string {
	return "selftest"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Selftest) Synopsis() string {
	return "run round trip transfers against every task"
}

// Usage implements subcommands.Command.Usage.
func (*Selftest) Usage() string {
	return `selftest - write, read back and restore memory of every task in parallel.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Selftest) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Selftest) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	s, err := bootFromConfig(conf)
	if err != nil {
		util.Fatalf("booting sandbox: %v", err)
	}
	defer s.shutdown(ctx)

	results, err := s.selftest(ctx)
	if err != nil {
		util.Fatalf("self test: %v", err)
	}
	if failed := printResults(os.Stdout, results); failed != 0 {
		fmt.Fprintf(os.Stdout, "%d of %d scenarios failed\n", failed, len(results))
		return subcommands.ExitFailure
	}
	fmt.Fprintf(os.Stdout, "All %d scenarios passed\n", len(results))
	return subcommands.ExitSuccess
}

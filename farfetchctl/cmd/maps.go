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
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"

	"farfetch.dev/farfetch/farfetchctl/cmd/util"
	"farfetch.dev/farfetch/farfetchctl/config"
	"farfetch.dev/farfetch/pkg/sentry/kernel"
)

// Maps implements subcommands.Command for the "maps" command.
type Maps struct {
	pid int
}

// Name implements subcommands.Command.Name.
func (*Maps) Name() string {
	return "maps"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Maps) Synopsis() string {
	return "list the memory mappings of a task"
}

// Usage implements subcommands.Command.Usage.
func (*Maps) Usage() string {
	return `maps --pid <pid> - list the memory mappings of a task.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Maps) SetFlags(f *flag.FlagSet) {
	f.IntVar(&m.pid, "pid", 0, "thread ID of the task.")
}

// Execute implements subcommands.Command.Execute.
func (m *Maps) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	t, err := s.task(kernel.ThreadID(m.pid))
	if err != nil {
		util.Fatalf("%v", err)
	}
	image := t.MemoryManager()
	if image == nil {
		fmt.Fprintf(os.Stdout, "Task %d is a kernel-only task\n", m.pid)
		return subcommands.ExitSuccess
	}
	for _, vma := range image.VMAs() {
		fmt.Fprintln(os.Stdout, vma)
	}
	fmt.Fprintf(os.Stdout, "Virtual size %s, resident %s\n",
		humanize.IBytes(image.VirtualMemorySize()),
		humanize.IBytes(image.ResidentSetSize()))
	return subcommands.ExitSuccess
}

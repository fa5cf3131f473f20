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
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"farfetch.dev/farfetch/farfetchctl/cmd/util"
	"farfetch.dev/farfetch/farfetchctl/config"
	"farfetch.dev/farfetch/pkg/sentry/farfetch"
)

// Write implements subcommands.Command for the "write" command.
type Write struct {
	targetFlags
	data string
}

// Name implements subcommands.Command.Name.
func (*Write) Name() string {
	return "write"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Write) Synopsis() string {
	return "write bytes into the memory of a task"
}

// Usage implements subcommands.Command.Usage.
func (*Write) Usage() string {
	return `write --pid <pid> --addr <address> --data <hex> - write bytes into the memory of a task.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Write) SetFlags(f *flag.FlagSet) {
	w.targetFlags.setFlags(f)
	f.StringVar(&w.data, "data", "", "bytes to write, hex encoded.")
}

// Execute implements subcommands.Command.Execute.
func (w *Write) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	data, err := hex.DecodeString(w.data)
	if err != nil {
		util.Fatalf("invalid --data: %v", err)
	}

	s, err := bootFromConfig(conf)
	if err != nil {
		util.Fatalf("booting sandbox: %v", err)
	}
	defer s.shutdown(ctx)

	pid, addr := w.target()
	n, err := s.transfer(ctx, farfetch.Write, pid, addr, data)
	if err != nil {
		util.Fatalf("writing %d bytes at %v to task %d: %v", len(data), addr, pid, err)
	}
	fmt.Fprintf(os.Stdout, "%d\n", n)
	return subcommands.ExitSuccess
}

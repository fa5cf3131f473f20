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

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"

	"farfetch.dev/farfetch/farfetchctl/cmd/util"
	"farfetch.dev/farfetch/farfetchctl/config"
	"farfetch.dev/farfetch/pkg/sentry/farfetch"
)

// Read implements subcommands.Command for the "read" command.
type Read struct {
	targetFlags
	length config.ByteSize
}

// Name implements subcommands.Command.Name.
func (*Read) Name() string {
	return "read"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Read) Synopsis() string {
	return "read memory of a task and print a hexdump of it"
}

// Usage implements subcommands.Command.Usage.
func (*Read) Usage() string {
	return `read --pid <pid> --addr <address> --len <length> - read memory of a task.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Read) SetFlags(f *flag.FlagSet) {
	r.targetFlags.setFlags(f)
	f.Var(&r.length, "len", "number of bytes to read, e.g. 64 or 4KiB.")
}

// Execute implements subcommands.Command.Execute.
func (r *Read) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if uint64(r.length) > farfetch.MaxRWCount {
		util.Fatalf("--len %d exceeds the largest transfer, %d", r.length, farfetch.MaxRWCount)
	}

	s, err := bootFromConfig(conf)
	if err != nil {
		util.Fatalf("booting sandbox: %v", err)
	}
	defer s.shutdown(ctx)

	pid, addr := r.target()
	buf := make([]byte, r.length)
	n, err := s.transfer(ctx, farfetch.Read, pid, addr, buf)
	if err != nil {
		util.Fatalf("reading %d bytes at %v from task %d: %v", r.length, addr, pid, err)
	}
	fmt.Fprintf(os.Stdout, "Read %s from task %d at %v\n", humanize.IBytes(n), pid, addr)
	os.Stdout.WriteString(hex.Dump(buf[:n]))
	return subcommands.ExitSuccess
}

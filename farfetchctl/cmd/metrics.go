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
	"io"
	"os"

	"github.com/google/subcommands"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"farfetch.dev/farfetch/farfetchctl/cmd/util"
	"farfetch.dev/farfetch/farfetchctl/config"
)

// Metrics implements subcommands.Command for the "metrics" command.
type Metrics struct{}

// Name implements subcommands.Command.Name.
func (*Metrics) Name() string {
	return "metrics"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Metrics) Synopsis() string {
	return "run the self test and print farfetch metrics in Prometheus text format"
}

// Usage implements subcommands.Command.Usage.
func (*Metrics) Usage() string {
	return `metrics - run the self test and print farfetch metrics.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Metrics) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Metrics) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	if _, err := s.selftest(ctx); err != nil {
		util.Fatalf("self test: %v", err)
	}
	families, err := s.reg.Gather()
	if err != nil {
		util.Fatalf("gathering metrics: %v", err)
	}
	if err := writeMetrics(os.Stdout, families); err != nil {
		util.Fatalf("writing metrics: %v", err)
	}
	return subcommands.ExitSuccess
}

// writeMetrics writes families to w in the Prometheus text exposition format.
func writeMetrics(w io.Writer, families []*dto.MetricFamily) error {
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

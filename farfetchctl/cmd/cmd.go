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

// Package cmd holds implementations of the farfetchctl commands.
package cmd

import (
	"flag"
	"fmt"
	"strconv"

	"farfetch.dev/farfetch/farfetchctl/config"
	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/log"
	"farfetch.dev/farfetch/pkg/sentry/kernel"
)

// addrFlag is a flag holding an address. It accepts any base that
// strconv.ParseUint accepts with base 0, so "0x" prefixes are allowed.
type addrFlag hostarch.Addr

// String implements flag.Value.
func (a *addrFlag) String() string {
	return fmt.Sprintf("%#x", uint64(*a))
}

// Get implements flag.Getter.
func (a *addrFlag) Get() any {
	return hostarch.Addr(*a)
}

// Set implements flag.Value.
func (a *addrFlag) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", s, err)
	}
	*a = addrFlag(v)
	return nil
}

// targetFlags are the flags selecting target memory.
type targetFlags struct {
	pid  int
	addr addrFlag
}

func (tf *targetFlags) setFlags(f *flag.FlagSet) {
	f.IntVar(&tf.pid, "pid", 0, "thread ID of the target task.")
	f.Var(&tf.addr, "addr", "address of the first target byte.")
}

func (tf *targetFlags) target() (kernel.ThreadID, hostarch.Addr) {
	return kernel.ThreadID(tf.pid), hostarch.Addr(tf.addr)
}

// bootFromConfig boots the sandbox for conf.
func bootFromConfig(conf *config.Config) (*sandbox, error) {
	w := config.DefaultWorkload()
	if conf.Workload != "" {
		var err error
		if w, err = config.LoadWorkload(conf.Workload); err != nil {
			return nil, err
		}
	}
	log.Debugf("Booting %d tasks", len(w.Tasks))
	return boot(conf, w)
}

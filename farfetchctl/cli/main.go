// Copyright 2018 The gVisor Authors.
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

// Package cli is the main entrypoint for farfetchctl.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"farfetch.dev/farfetch/farfetchctl/cmd"
	"farfetch.dev/farfetch/farfetchctl/cmd/util"
	"farfetch.dev/farfetch/farfetchctl/config"
	"farfetch.dev/farfetch/pkg/log"
	"farfetch.dev/farfetch/pkg/refs"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	refs.SetLeakMode(conf.ReferenceLeak)

	// Set up logging. Stdout is reserved for command output.
	log.SetTarget(newEmitter(conf.LogFormat, os.Stderr))
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	log.Debugf("farfetchctl %s, %s, %d CPUs, PID %d, UID %d", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), os.Getpid(), os.Getuid())
	log.Debugf("Args: %v", os.Args)
	conf.Log()

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	// Check for leaks before os.Exit().
	refs.DoRepeatedLeakCheck()
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by
// farfetchctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Read), "")
	cb(new(cmd.Write), "")
	cb(new(cmd.Maps), "")

	const debugGroup = "debug"
	cb(new(cmd.Selftest), debugGroup)
	cb(new(cmd.Metrics), debugGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{&log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{&log.Writer{Next: logFile}}
	case "logrus":
		l := logrus.New()
		l.SetOutput(logFile)
		l.SetLevel(logrus.DebugLevel)
		return log.LogrusEmitter{Logger: l}
	}
	util.Fatalf("invalid log format %q, must be 'text', 'json', or 'logrus'", format)
	panic("unreachable")
}

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

// Package config provides basic infrastructure to set configuration settings
// for farfetchctl. Every setting is a command line flag; settings may also be
// read from a TOML file, in which case flags given on the command line take
// precedence.
package config

import (
	"fmt"
	"reflect"

	"github.com/dustin/go-humanize"

	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/log"
	"farfetch.dev/farfetch/pkg/refs"
	"farfetch.dev/farfetch/pkg/sentry/farfetch"
)

// Config holds configuration that is not part of the workload.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with the same name and add a
//     description.
//  4. Add any necessary validation into validate().
type Config struct {
	// ConfigFile is a TOML file holding settings that were not given as
	// flags.
	ConfigFile string `flag:"config"`

	// Workload is the path of the workload file describing the tasks of the
	// sandbox. If empty, a built-in workload is used.
	Workload string `flag:"workload"`

	// LogFormat is the log format: text, json or logrus.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// MaxTransfer bounds the bytes moved by one farfetch call. Zero means
	// the largest transfer Linux allows.
	MaxTransfer ByteSize `flag:"max-transfer"`

	// PinQuota is the number of page handles that pinned transfers may hold
	// at once. Zero means the default.
	PinQuota uint64 `flag:"pin-quota"`

	// MemoryLimit bounds the sandbox's memory. Zero means the default.
	MemoryLimit ByteSize `flag:"memory-limit"`

	// Retries is the number of times a transfer failing with EINTR or
	// ENOMEM is retried.
	Retries uint64 `flag:"retries"`

	// AsUID is the UID farfetchctl acts as inside the sandbox. If negative,
	// farfetchctl acts as root if the host process is root or holds
	// CAP_SYS_PTRACE, and as its own effective UID otherwise.
	AsUID int `flag:"as-uid"`

	// ReferenceLeak sets reference leak check mode.
	ReferenceLeak refs.LeakMode `flag:"ref-leak-mode"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "logrus":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'logrus'", c.LogFormat)
	}
	if uint64(c.MaxTransfer) > farfetch.MaxRWCount {
		return fmt.Errorf("max-transfer %d exceeds %d", c.MaxTransfer, farfetch.MaxRWCount)
	}
	if c.MemoryLimit != 0 && c.MemoryLimit < hostarch.PageSize {
		return fmt.Errorf("memory-limit %d is smaller than a page", c.MemoryLimit)
	}
	if int64(c.AsUID) > 0xfffffffe {
		return fmt.Errorf("as-uid %d is out of range", c.AsUID)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Debugf("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		v := obj.Field(i).Interface()
		if b, ok := v.(ByteSize); ok {
			v = humanize.IBytes(uint64(b))
		}
		log.Debugf("\t%s: %v", name, v)
	}
}

// Copyright 2020 The gVisor Authors.
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

package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"farfetch.dev/farfetch/pkg/refs"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "path to a TOML file with settings for flags that are not given on the command line.")
	flagSet.String("workload", "", "path to a TOML or YAML file describing the tasks to boot. If empty, a built-in workload is used.")

	// Debugging flags.
	flagSet.String("log-format", "text", "log format: text (default), json, or logrus.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.Var(leakModePtr(refs.NoLeakChecking), "ref-leak-mode", "sets reference leak check mode: disabled (default), warning, panic.")

	// Flags that control transfers.
	flagSet.Var(byteSizePtr(0), "max-transfer", "maximum number of bytes moved by one transfer, e.g. 64KiB. 0 means the Linux limit.")
	flagSet.Uint64("pin-quota", 0, "maximum number of page handles held by transfers at once. 0 means the default.")
	flagSet.Var(byteSizePtr(0), "memory-limit", "maximum memory of the sandbox, e.g. 256MiB. 0 means the default.")
	flagSet.Uint64("retries", 5, "number of times a transfer interrupted or short of memory is retried.")
	flagSet.Int("as-uid", -1, "UID to act as inside the sandbox. If negative, act as root when the host process is privileged.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags. If the config flag names a file, settings in it are applied to flags
// that were not set on the command line first.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	if path := flagSet.Lookup("config").Value.String(); path != "" {
		if err := applyFile(flagSet, path); err != nil {
			return nil, err
		}
	}

	conf := &Config{}
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// applyFile sets flags from the TOML file at path. Keys are flag names. Flags
// set on the command line keep their values.
func applyFile(flagSet *flag.FlagSet, path string) error {
	var settings map[string]any
	if _, err := toml.DecodeFile(path, &settings); err != nil {
		return fmt.Errorf("reading config file %q: %w", path, err)
	}
	explicit := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) {
		explicit[fl.Name] = true
	})
	for name, value := range settings {
		fl := flagSet.Lookup(name)
		if fl == nil || name == "config" {
			return fmt.Errorf("config file %q: unknown setting %q", path, name)
		}
		if explicit[name] {
			continue
		}
		// Use the flag to convert the value, using the same rules as the
		// command line for consistency.
		if err := fl.Value.Set(fmt.Sprint(value)); err != nil {
			return fmt.Errorf("config file %q: setting %s=%v: %w", path, name, value, err)
		}
	}
	return nil
}

func leakModePtr(v refs.LeakMode) *refs.LeakMode {
	return &v
}

// ByteSize is a number of bytes. As a flag or in files it may be given with a
// unit, e.g. "64KiB" or "1MB".
type ByteSize uint64

func byteSizePtr(v ByteSize) *ByteSize {
	return &v
}

// Set implements flag.Value.
func (b *ByteSize) Set(v string) error {
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", v, err)
	}
	*b = ByteSize(n)
	return nil
}

// Get implements flag.Getter.
func (b *ByteSize) Get() any {
	return *b
}

// String implements flag.Value.
func (b *ByteSize) String() string {
	return strconv.FormatUint(uint64(*b), 10)
}

// UnmarshalText implements encoding.TextUnmarshaler, for TOML files.
func (b *ByteSize) UnmarshalText(text []byte) error {
	return b.Set(string(text))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	return b.Set(value.Value)
}

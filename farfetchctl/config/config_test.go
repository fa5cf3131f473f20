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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"farfetch.dev/farfetch/pkg/refs"
)

func newFlags(t *testing.T) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlags(t))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		LogFormat: "text",
		Retries:   5,
		AsUID:     -1,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newFlags(t)
	for name, value := range map[string]string{
		"debug":         "true",
		"max-transfer":  "64KiB",
		"memory-limit":  "1048576",
		"as-uid":        "0",
		"ref-leak-mode": "warning",
	} {
		if err := testFlags.Set(name, value); err != nil {
			t.Fatalf("Flag set %s=%s: %v", name, value, err)
		}
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := ByteSize(64 << 10); c.MaxTransfer != want {
		t.Errorf("MaxTransfer=%v, want: %v", c.MaxTransfer, want)
	}
	if want := ByteSize(1 << 20); c.MemoryLimit != want {
		t.Errorf("MemoryLimit=%v, want: %v", c.MemoryLimit, want)
	}
	if want := 0; c.AsUID != want {
		t.Errorf("AsUID=%v, want: %v", c.AsUID, want)
	}
	if want := refs.LeaksLogWarning; c.ReferenceLeak != want {
		t.Errorf("ReferenceLeak=%v, want: %v", c.ReferenceLeak, want)
	}
}

func TestInvalidFlags(t *testing.T) {
	for _, tc := range []struct {
		name  string
		value string
	}{
		{"max-transfer", "lots"},
		{"ref-leak-mode", "sometimes"},
		{"as-uid", "root"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := newFlags(t).Set(tc.name, tc.value); err == nil {
				t.Errorf("Flag set %s=%s succeeded, want error", tc.name, tc.value)
			}
		})
	}
}

func TestValidationFail(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flags map[string]string
	}{
		{"log-format", map[string]string{"log-format": "xml"}},
		{"max-transfer", map[string]string{"max-transfer": "4GiB"}},
		{"memory-limit", map[string]string{"memory-limit": "100"}},
		{"as-uid", map[string]string{"as-uid": "4294967295"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newFlags(t)
			for name, value := range tc.flags {
				if err := testFlags.Set(name, value); err != nil {
					t.Fatalf("Flag set %s=%s: %v", name, value, err)
				}
			}
			if _, err := NewFromFlags(testFlags); err == nil {
				t.Errorf("NewFromFlags() succeeded, want error")
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := writeFile(t, "farfetchctl.toml", `
log-format = "json"
retries = 9
max-transfer = "8KiB"
pin-quota = 32
`)
	testFlags := newFlags(t)
	testFlags.Set("config", path)
	// Flags on the command line win over the file.
	testFlags.Set("retries", "2")

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		ConfigFile:  path,
		LogFormat:   "json",
		MaxTransfer: 8 << 10,
		PinQuota:    32,
		Retries:     2,
		AsUID:       -1,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for name, content := range map[string]string{
		"unknown setting": `colour = "blue"`,
		"nested config":   `config = "other.toml"`,
		"bad value":       `retries = "many"`,
		"not toml":        `retries: 3`,
	} {
		t.Run(name, func(t *testing.T) {
			testFlags := newFlags(t)
			testFlags.Set("config", writeFile(t, "bad.toml", content))
			if _, err := NewFromFlags(testFlags); err == nil {
				t.Errorf("NewFromFlags() succeeded, want error")
			}
		})
	}
}

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
	"testing"

	"github.com/google/go-cmp/cmp"

	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/sentry/memmap"
)

const tomlWorkload = `
[[tasks]]
pid = 10
uid = 1000

[[tasks.mappings]]
name = "data"
addr = 0x400000
size = "8KiB"
perms = "rw-"

[[tasks.mappings]]
name = "text"
size = 4096
perms = "r-x"
shared = true
content = "abc"

[[tasks]]
pid = 11
kernel-only = true
`

const yamlWorkload = `
tasks:
  - pid: 10
    uid: 1000
    mappings:
      - name: data
        addr: 0x400000
        size: 8KiB
        perms: rw-
      - name: text
        size: 4096
        perms: r-x
        shared: true
        content: abc
  - pid: 11
    kernel-only: true
`

func TestLoadWorkload(t *testing.T) {
	want := &Workload{
		Tasks: []TaskSpec{
			{
				PID: 10,
				UID: 1000,
				Mappings: []MappingSpec{
					{Name: "data", Addr: 0x400000, Size: 8192, Perms: "rw-"},
					{Name: "text", Size: 4096, Perms: "r-x", Shared: true, Content: "abc"},
				},
			},
			{PID: 11, KernelOnly: true},
		},
	}
	for name, content := range map[string]string{
		"workload.toml": tomlWorkload,
		"workload.yaml": yamlWorkload,
		"workload.yml":  yamlWorkload,
	} {
		t.Run(name, func(t *testing.T) {
			got, err := LoadWorkload(writeFile(t, name, content))
			if err != nil {
				t.Fatalf("LoadWorkload: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("workload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadWorkloadErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		file    string
		content string
	}{
		{"unknown format", "w.json", `{}`},
		{"unknown toml key", "w.toml", "[[tasks]]\npid = 1\ncolour = 3\n"},
		{"unknown yaml key", "w.yaml", "tasks:\n  - pid: 1\n    colour: 3\n"},
		{"duplicate pid", "w.yaml", "tasks:\n  - pid: 1\n  - pid: 1\n"},
		{"negative pid", "w.yaml", "tasks:\n  - pid: -4\n"},
		{"kernel-only with mappings", "w.yaml", "tasks:\n  - kernel-only: true\n    mappings:\n      - size: 4096\n        perms: r--\n"},
		{"bad perms", "w.yaml", "tasks:\n  - mappings:\n      - size: 4096\n        perms: rwq\n"},
		{"no size", "w.yaml", "tasks:\n  - mappings:\n      - perms: r--\n"},
		{"bad size", "w.yaml", "tasks:\n  - mappings:\n      - size: huge\n        perms: r--\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if w, err := LoadWorkload(writeFile(t, tc.file, tc.content)); err == nil {
				t.Errorf("LoadWorkload() = %+v, want error", w)
			}
		})
	}
}

func TestMMapOpts(t *testing.T) {
	m := MappingSpec{Name: "ro", Addr: 0x10000, Size: 100, Perms: "r--", MaxPerms: "rw-", Shared: true, Content: "x"}
	got, err := m.MMapOpts()
	if err != nil {
		t.Fatalf("MMapOpts: %v", err)
	}
	want := memmap.MMapOpts{
		Length:   100,
		Mappable: &memmap.BytesMappable{Data: []byte("x")},
		Addr:     0x10000,
		Fixed:    true,
		Perms:    hostarch.Read,
		MaxPerms: hostarch.ReadWrite,
		Hint:     "ro",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MMapOpts mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultWorkload(t *testing.T) {
	w := DefaultWorkload()
	if err := w.Validate(); err != nil {
		t.Fatalf("default workload is invalid: %v", err)
	}
	w.Tasks[0].Mappings[0].Perms = "---"
	if got := DefaultWorkload().Tasks[0].Mappings[0].Perms; got != "rw-" {
		t.Errorf("modifying a default workload changed the next one: perms = %q", got)
	}
}

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
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"

	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/sentry/memmap"
)

// Workload describes the tasks of a sandbox.
type Workload struct {
	Tasks []TaskSpec `toml:"tasks" yaml:"tasks"`
}

// TaskSpec describes one task.
type TaskSpec struct {
	// PID is the task's thread ID. If zero, the next free ID is used.
	PID int32 `toml:"pid" yaml:"pid"`

	// UID is the task's real, effective and saved UID in the root user
	// namespace.
	UID uint32 `toml:"uid" yaml:"uid"`

	// KernelOnly tasks have no address space.
	KernelOnly bool `toml:"kernel-only" yaml:"kernel-only"`

	Mappings []MappingSpec `toml:"mappings" yaml:"mappings"`
}

// MappingSpec describes one memory mapping of a task.
type MappingSpec struct {
	// Name is shown in maps listings.
	Name string `toml:"name" yaml:"name"`

	// Addr is the fixed address of the mapping. If zero, the mapping is
	// placed anywhere.
	Addr uint64 `toml:"addr" yaml:"addr"`

	// Size is rounded up to a whole number of pages.
	Size ByteSize `toml:"size" yaml:"size"`

	// Perms are the application's permissions, e.g. "rw-".
	Perms string `toml:"perms" yaml:"perms"`

	// MaxPerms, if set, bounds the permissions that forced accesses get.
	MaxPerms string `toml:"max-perms" yaml:"max-perms"`

	// Shared mappings write through to their contents. Mappings are private
	// by default.
	Shared bool `toml:"shared" yaml:"shared"`

	// Content is the initial content of the mapping. The rest of the mapping
	// reads as zeroes. A mapping without content is anonymous.
	Content string `toml:"content" yaml:"content"`
}

// MMapOpts returns the options creating the mapping described by m.
func (m *MappingSpec) MMapOpts() (memmap.MMapOpts, error) {
	if m.Size == 0 {
		return memmap.MMapOpts{}, fmt.Errorf("mapping %q has no size", m.Name)
	}
	perms, ok := hostarch.ParseAccessType(m.Perms)
	if !ok {
		return memmap.MMapOpts{}, fmt.Errorf("mapping %q: invalid perms %q", m.Name, m.Perms)
	}
	opts := memmap.MMapOpts{
		Length:  uint64(m.Size),
		Addr:    hostarch.Addr(m.Addr),
		Fixed:   m.Addr != 0,
		Perms:   perms,
		Private: !m.Shared,
		Hint:    m.Name,
	}
	if m.MaxPerms != "" {
		if opts.MaxPerms, ok = hostarch.ParseAccessType(m.MaxPerms); !ok {
			return memmap.MMapOpts{}, fmt.Errorf("mapping %q: invalid max-perms %q", m.Name, m.MaxPerms)
		}
	}
	if m.Content != "" {
		opts.Mappable = &memmap.BytesMappable{Data: []byte(m.Content)}
	}
	return opts, nil
}

// Validate checks w for errors that would only show once it is booted.
func (w *Workload) Validate() error {
	pids := make(map[int32]bool)
	for i := range w.Tasks {
		t := &w.Tasks[i]
		if t.PID < 0 {
			return fmt.Errorf("task %d: invalid pid %d", i, t.PID)
		}
		if t.PID != 0 {
			if pids[t.PID] {
				return fmt.Errorf("task %d: duplicate pid %d", i, t.PID)
			}
			pids[t.PID] = true
		}
		if t.KernelOnly && len(t.Mappings) != 0 {
			return fmt.Errorf("task %d: kernel-only task has mappings", i)
		}
		for j := range t.Mappings {
			if _, err := t.Mappings[j].MMapOpts(); err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of w.
func (w *Workload) Clone() *Workload {
	return deepcopy.Copy(w).(*Workload)
}

// LoadWorkload reads a workload from path. Files ending in .toml are read as
// TOML, files ending in .yaml or .yml as YAML. Unknown keys are an error.
func LoadWorkload(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	w := &Workload{}
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		md, err := toml.Decode(string(data), w)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf("parsing %q: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(w); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("workload %q: unknown format %q, must be .toml, .yaml or .yml", path, ext)
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("workload %q: %w", path, err)
	}
	return w, nil
}

// defaultWorkload is used when no workload file is given.
var defaultWorkload = Workload{
	Tasks: []TaskSpec{
		{
			PID: 100,
			UID: 1000,
			Mappings: []MappingSpec{
				{Name: "[heap]", Size: 16 * hostarch.PageSize, Perms: "rw-"},
				{Name: "banner", Size: 2 * hostarch.PageSize, Perms: "r--", Content: "hello from task 100\n"},
			},
		},
		{
			PID: 200,
			UID: 1001,
			Mappings: []MappingSpec{
				{Name: "[heap]", Size: 8 * hostarch.PageSize, Perms: "rw-"},
				{Name: "[guard]", Size: hostarch.PageSize, Perms: "---"},
			},
		},
		{
			PID:        2,
			KernelOnly: true,
		},
	},
}

// DefaultWorkload returns the built-in workload. The caller may modify it.
func DefaultWorkload() *Workload {
	return defaultWorkload.Clone()
}

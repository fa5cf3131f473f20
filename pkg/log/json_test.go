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

package log

import (
	"bytes"
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		level Level
		want  string
	}{
		{Warning, `"warning"`},
		{Info, `"info"`},
		{Debug, `"debug"`},
		{Level(7), `7`},
	} {
		b, err := json.Marshal(tc.level)
		if err != nil {
			t.Fatalf("json.Marshal(%v) failed: %v", tc.level, err)
		}
		if got := string(b); got != tc.want {
			t.Errorf("json.Marshal(%v) = %s, want %s", tc.level, got, tc.want)
		}
	}

	for _, tc := range []struct {
		in   string
		want Level
	}{
		{`"warning"`, Warning},
		{`"Info"`, Info},
		{`"DEBUG"`, Debug},
		{`0`, Warning},
		{`2`, Debug},
	} {
		var l Level
		if err := json.Unmarshal([]byte(tc.in), &l); err != nil {
			t.Errorf("json.Unmarshal(%s) failed: %v", tc.in, err)
			continue
		}
		if l != tc.want {
			t.Errorf("json.Unmarshal(%s) got %v, want %v", tc.in, l, tc.want)
		}
	}

	for _, in := range []string{`"fatal"`, `3`, `-1`, `true`} {
		var l Level
		if err := json.Unmarshal([]byte(in), &l); err == nil {
			t.Errorf("json.Unmarshal(%s) got %v, want error", in, l)
		}
	}
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Debug, Emitter: JSONEmitter{&Writer{Next: &buf}}}

	_, _, line, _ := runtime.Caller(0)
	l.Warningf("farfetch: %s of task %d moved %d bytes, window %s", "Read", 100, 4096, "{start: 0x10000, offset: 0x0, pages: 1, length: 4096}")
	l.Debugf("farfetch: pinned %d of %d pages", 2, 3)

	var got []jsonLog
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var j jsonLog
		if err := dec.Decode(&j); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if j.Time.IsZero() {
			t.Errorf("line %+v has no timestamp", j)
		}
		got = append(got, j)
	}
	want := []jsonLog{
		{
			Msg:   "farfetch: Read of task 100 moved 4096 bytes, window {start: 0x10000, offset: 0x0, pages: 1, length: 4096}",
			Level: Warning,
			PID:   os.Getpid(),
			File:  "json_test.go",
			Line:  line + 1,
		},
		{
			Msg:   "farfetch: pinned 2 of 3 pages",
			Level: Debug,
			PID:   os.Getpid(),
			File:  "json_test.go",
			Line:  line + 2,
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(jsonLog{}, "Time")); diff != "" {
		t.Errorf("emitted lines mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONEmitterOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	e := JSONEmitter{&Writer{Next: &buf}}
	ts := time.Date(2026, time.March, 7, 1, 2, 3, 0, time.UTC)
	e.Emit(0, Info, ts, "Installing farfetch")
	e.Emit(0, Level(5), ts, "message with\nan embedded newline")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	var first jsonLog
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("json.Unmarshal(%q) failed: %v", lines[0], err)
	}
	if first.Level != Info || first.Msg != "Installing farfetch" || !first.Time.Equal(ts) {
		t.Errorf("got %+v, want info line at %v", first, ts)
	}
	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("json.Unmarshal(%q) failed: %v", lines[1], err)
	}
	if got, want := second["level"], float64(5); got != want {
		t.Errorf("got level %v, want %v", got, want)
	}
}

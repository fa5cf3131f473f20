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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// jsonLog is a single line of JSONEmitter output.
type jsonLog struct {
	Msg   string    `json:"msg"`
	Level Level     `json:"level"`
	Time  time.Time `json:"time"`
	PID   int       `json:"pid"`
	File  string    `json:"file,omitempty"`
	Line  int       `json:"line,omitempty"`
}

// MarshalJSON implements json.Marshaler.MarshalJSON. Known levels are
// written by name; any other level is written as its number.
func (l Level) MarshalJSON() ([]byte, error) {
	switch l {
	case Warning, Info, Debug:
		return []byte(strconv.Quote(strings.ToLower(l.String()))), nil
	default:
		return []byte(strconv.FormatUint(uint64(l), 10)), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. It accepts level
// names in any case, and the numbers of the known levels.
func (l *Level) UnmarshalJSON(b []byte) error {
	s := string(b)
	if unquoted, err := strconv.Unquote(s); err == nil {
		switch strings.ToLower(unquoted) {
		case "warning":
			*l = Warning
		case "info":
			*l = Info
		case "debug":
			*l = Debug
		default:
			return fmt.Errorf("unknown level %q", s)
		}
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || Level(n) > Debug {
		return fmt.Errorf("unknown level %q", s)
	}
	*l = Level(n)
	return nil
}

// JSONEmitter logs messages as newline-terminated JSON objects. The caller's
// file and line are separate fields rather than a prefix of the message.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	j := jsonLog{
		Msg:   fmt.Sprintf(format, v...),
		Level: level,
		Time:  timestamp,
		PID:   os.Getpid(),
	}
	if file, line, ok := callerLocation(depth + 1); ok {
		j.File, j.Line = file, line
	}
	b, err := json.Marshal(j)
	if err != nil {
		// Only a timestamp outside of RFC 3339's range gets here.
		e.Writer.Emit(depth+1, level, timestamp, "%s\n", j.Msg)
		return
	}
	e.Writer.Write(append(b, '\n'))
}

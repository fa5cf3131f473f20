// Copyright 2022 The gVisor Authors.
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
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedLogger is a Logger that emits at most one message per interval
// and drops the rest. The number of dropped messages is appended to the next
// message that gets through. Messages are attributed to the caller of
// Debugf, Infof or Warningf.
type RateLimitedLogger struct {
	// logger is the destination; nil means the global logger at the time of
	// each call.
	logger *BasicLogger

	limit   *rate.Limiter
	dropped atomic.Uint64
}

var _ Logger = (*RateLimitedLogger)(nil)

// NewRateLimitedLogger returns a RateLimitedLogger that logs to logger no
// more than once per every.
func NewRateLimitedLogger(logger *BasicLogger, every time.Duration) *RateLimitedLogger {
	return &RateLimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}

// BasicRateLimitedLogger returns a RateLimitedLogger that logs to the global
// logger no more than once per every.
func BasicRateLimitedLogger(every time.Duration) *RateLimitedLogger {
	return NewRateLimitedLogger(nil, every)
}

// Debugf implements Logger.Debugf.
func (rl *RateLimitedLogger) Debugf(format string, v ...any) {
	rl.emit(Debug, format, v)
}

// Infof implements Logger.Infof.
func (rl *RateLimitedLogger) Infof(format string, v ...any) {
	rl.emit(Info, format, v)
}

// Warningf implements Logger.Warningf.
func (rl *RateLimitedLogger) Warningf(format string, v ...any) {
	rl.emit(Warning, format, v)
}

// IsLogging implements Logger.IsLogging.
func (rl *RateLimitedLogger) IsLogging(level Level) bool {
	return rl.target().IsLogging(level)
}

// Dropped returns the number of messages dropped since the last one emitted.
func (rl *RateLimitedLogger) Dropped() uint64 {
	return rl.dropped.Load()
}

func (rl *RateLimitedLogger) target() *BasicLogger {
	if rl.logger != nil {
		return rl.logger
	}
	return Log()
}

// emit must be called directly from Debugf, Infof or Warningf so that the
// emitter's depth lands on their caller.
func (rl *RateLimitedLogger) emit(level Level, format string, v []any) {
	l := rl.target()
	if !l.IsLogging(level) {
		return
	}
	if !rl.limit.Allow() {
		rl.dropped.Add(1)
		return
	}
	if n := rl.dropped.Swap(0); n > 0 {
		format += " (%d similar messages dropped)"
		v = append(v[:len(v):len(v)], n)
	}
	l.Emit(2, level, time.Now(), format, v...)
}

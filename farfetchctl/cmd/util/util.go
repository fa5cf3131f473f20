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

// Package util groups a bunch of common helper functions used by commands.
package util

import (
	"fmt"
	"io"
	"os"

	"farfetch.dev/farfetch/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by scripts that run farfetchctl, so they are not mixed with
// debug logs.
var ErrorLogger io.Writer = os.Stderr

// Fatalf logs the same message to the error logger and to the debug log, and
// exits with status 128.
func Fatalf(format string, args ...any) {
	log.Warningf("FATAL ERROR: "+format, args...)
	fmt.Fprintf(ErrorLogger, format+"\n", args...)
	os.Exit(128)
}

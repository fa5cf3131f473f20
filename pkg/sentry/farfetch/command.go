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

package farfetch

import (
	"fmt"
)

// Command selects the direction of a transfer.
type Command uint64

const (
	// Read copies from the target's memory into the local buffer.
	Read Command = 0

	// Write copies from the local buffer into the target's memory.
	Write Command = 1
)

// Valid returns true if c is Read or Write.
func (c Command) Valid() bool {
	return c == Read || c == Write
}

// String implements fmt.Stringer.
func (c Command) String() string {
	switch c {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("Command(%d)", uint64(c))
	}
}

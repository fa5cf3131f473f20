// Copyright 2021 The gVisor Authors.
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

package linuxerr

import (
	"context"
	goerrors "errors"

	"golang.org/x/sys/unix"
	"farfetch.dev/farfetch/pkg/errors"
)

// ErrInterrupted is returned if a request is interrupted before it can
// complete.
var ErrInterrupted = errors.New(unix.EINTR, "request was interrupted")

var errorMap = map[error]*errors.Error{
	ErrInterrupted:           EINTR,
	context.Canceled:         EINTR,
	context.DeadlineExceeded: EINTR,
}

// TranslateError translates errors to errnos, it will return false if
// the error was not registered.
func TranslateError(from error) (*errors.Error, bool) {
	if err, ok := errorMap[from]; ok {
		return err, true
	}
	var e *errors.Error
	if goerrors.As(from, &e) {
		return e, true
	}
	for k, v := range errorMap {
		if goerrors.Is(from, k) {
			return v, true
		}
	}
	return nil, false
}

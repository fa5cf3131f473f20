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
	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/sentry/kernel/auth"
)

// checkPermission returns nil if creds may use farfetch. Only a caller whose
// effective UID is root in its own user namespace may; a UID without a
// mapping there is seen as the overflow UID.
func checkPermission(creds *auth.Credentials) error {
	if creds == nil || !creds.HasRootEUID() {
		return linuxerr.EPERM
	}
	return nil
}

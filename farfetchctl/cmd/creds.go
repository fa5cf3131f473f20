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

package cmd

import (
	"fmt"
	"os"

	"github.com/moby/sys/capability"

	"farfetch.dev/farfetch/farfetchctl/config"
	"farfetch.dev/farfetch/pkg/log"
	"farfetch.dev/farfetch/pkg/sentry/kernel/auth"
)

// callerCredentials returns the credentials that transfers are issued with.
// An explicit --as-uid wins. Otherwise a privileged host process acts as
// root in the sandbox, and any other process as its own effective UID.
func callerCredentials(conf *config.Config, userns *auth.UserNamespace) (*auth.Credentials, error) {
	if conf.AsUID >= 0 {
		return auth.NewUserCredentials(auth.KUID(conf.AsUID), userns), nil
	}
	privileged, err := hostPrivileged()
	if err != nil {
		return nil, fmt.Errorf("reading host capabilities: %w", err)
	}
	if privileged {
		return auth.NewRootCredentials(userns), nil
	}
	return auth.NewUserCredentials(auth.KUID(os.Geteuid()), userns), nil
}

// hostPrivileged returns whether this process could read and write other
// processes' memory on the host: it is root, or holds CAP_SYS_PTRACE.
func hostPrivileged() (bool, error) {
	if os.Geteuid() == 0 {
		return true, nil
	}
	caps, err := capability.NewPid2(os.Getpid())
	if err != nil {
		return false, err
	}
	if err := caps.Load(); err != nil {
		return false, err
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_SYS_PTRACE) {
		log.Debugf("CAP_SYS_PTRACE is not effective, acting as UID %d", os.Geteuid())
		return false, nil
	}
	return true, nil
}

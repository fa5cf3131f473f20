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

package auth

import (
	"fmt"
)

// Credentials contains information required to authorize privileged
// operations in a user namespace.
//
// Credentials are immutable once shared; use Fork to obtain a copy that may
// be modified.
type Credentials struct {
	// Real and effective user IDs in the root user namespace.
	RealKUID      KUID
	EffectiveKUID KUID
	SavedKUID     KUID

	// UserNamespace is the user namespace associated with these credentials.
	UserNamespace *UserNamespace
}

// NewRootCredentials returns Credentials for the root user in user namespace
// ns.
func NewRootCredentials(ns *UserNamespace) *Credentials {
	kuid := ns.MapToKUID(RootUID)
	return &Credentials{
		RealKUID:      kuid,
		EffectiveKUID: kuid,
		SavedKUID:     kuid,
		UserNamespace: ns,
	}
}

// NewUserCredentials returns Credentials for the given user in user
// namespace ns.
func NewUserCredentials(kuid KUID, ns *UserNamespace) *Credentials {
	return &Credentials{
		RealKUID:      kuid,
		EffectiveKUID: kuid,
		SavedKUID:     kuid,
		UserNamespace: ns,
	}
}

// Fork generates an identical copy of a set of credentials.
func (c *Credentials) Fork() *Credentials {
	nc := *c
	return &nc
}

// HasRootEUID returns true if the effective UID of c, as seen from c's own
// user namespace, is the superuser. An effective UID that has no mapping in
// c's namespace is seen as the overflow UID and is never root.
func (c *Credentials) HasRootEUID() bool {
	return c.EffectiveKUID.In(c.UserNamespace).OrOverflow() == RootUID
}

// String implements fmt.Stringer.String.
func (c *Credentials) String() string {
	return fmt.Sprintf("{ruid: %d, euid: %d, suid: %d}", c.RealKUID, c.EffectiveKUID, c.SavedKUID)
}

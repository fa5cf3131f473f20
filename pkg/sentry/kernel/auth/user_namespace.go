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

package auth

import (
	"math"
	"sync"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
)

// maxUserNamespaceDepth is Linux's limit on user namespace nesting, counting
// the root namespace.
const maxUserNamespaceDepth = 32

// A UserNamespace scopes the UIDs that credentials are checked against. The
// root namespace maps every UID to itself; a child starts with no mappings
// and gets exactly one UID map, written once by its owner or by a writer
// privileged in the parent. See user_namespaces(7).
type UserNamespace struct {
	// parent is nil for the root namespace. Immutable.
	parent *UserNamespace

	// owner is the effective KUID of the credentials that created the
	// namespace. Immutable.
	owner KUID

	// level is 1 for the root namespace and one more than the parent's level
	// otherwise. Immutable.
	level int

	// mu protects the ID maps below. When mu is held in more than one
	// namespace, descendants are locked before ancestors.
	mu sync.Mutex

	// uidMapFromParent translates parent UIDs to UIDs in this namespace and
	// uidMapToParent the reverse. Both are empty until SetUIDMap succeeds and
	// never change after that, so completed translations are stable.
	uidMapFromParent idMapSet
	uidMapToParent   idMapSet
}

// NewRootUserNamespace returns the namespace that KUIDs are expressed in.
func NewRootUserNamespace() *UserNamespace {
	ns := &UserNamespace{level: 1}
	// Identity maps, so that children validate their parent IDs against the
	// root the same way as against any other namespace.
	if !ns.uidMapFromParent.Add(0, math.MaxUint32, 0) || !ns.uidMapToParent.Add(0, math.MaxUint32, 0) {
		panic("identity map overlaps an empty ID map")
	}
	return ns
}

// Owner returns the KUID that created ns. The root namespace is owned by
// RootKUID.
func (ns *UserNamespace) Owner() KUID {
	return ns.owner
}

// NewChildUserNamespace returns a new user namespace, nested in c's, owned
// by c's effective UID. It fails with EUSERS past the nesting limit and with
// EPERM if c's effective UID has no mapping in its own namespace.
func (c *Credentials) NewChildUserNamespace() (*UserNamespace, error) {
	parent := c.UserNamespace
	if parent.level >= maxUserNamespaceDepth {
		return nil, linuxerr.EUSERS
	}
	if !c.EffectiveKUID.In(parent).Ok() {
		return nil, linuxerr.EPERM
	}
	return &UserNamespace{
		parent: parent,
		owner:  c.EffectiveKUID,
		level:  parent.level + 1,
	}, nil
}

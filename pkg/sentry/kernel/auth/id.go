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
	"math"
)

// UID is a user ID in an unspecified user namespace.
type UID uint32

// KUID is a user ID in the root user namespace.
type KUID uint32

const (
	// NoID is uint32(-1). -1 is consistently used as a special value, in Linux
	// and by extension in the auth package, to mean "no ID":
	//
	//	- ID mapping returns NoID if the ID cannot be mapped. (This is consistent
	//	with Linux: make_kuid() returns INVALID_UID.)
	//
	//	- Use of NoID in the UID field of ownership-changing syscalls, such as
	//	chown(2), means "do not change the owner". This is consistent with
	//	Linux.
	NoID = math.MaxUint32

	// OverflowUID is the default value of /proc/sys/kernel/overflowuid. The
	// "overflow UID" is usually [1] used when translating a user ID between
	// namespaces fails because the ID is not mapped. (We don't implement
	// this file, so the overflow UID is constant.)
	//
	// [1] "There is one notable case where unmapped user and group IDs are
	// not converted to the corresponding overflow ID value. When viewing a
	// uid_map or gid_map file in which there is no mapping for the second
	// field, that field is displayed as 4294967295 (-1 as an unsigned
	// integer);" - user_namespaces(7)
	OverflowUID = UID(65534)

	// RootUID is the user ID of the superuser within its namespace.
	RootUID = UID(0)

	// RootKUID is the KUID that RootUID maps to in the root user namespace.
	RootKUID = KUID(0)
)

// Ok returns true if uid is not NoID.
func (uid UID) Ok() bool {
	return uid != NoID
}

// OrOverflow returns uid if it is valid and the overflow UID otherwise.
func (uid UID) OrOverflow() UID {
	if uid.Ok() {
		return uid
	}
	return OverflowUID
}

// Ok returns true if kuid is not NoID.
func (kuid KUID) Ok() bool {
	return kuid != NoID
}

// In translates kuid into user namespace ns. If kuid is not mapped in ns,
// In returns NoID.
func (kuid KUID) In(ns *UserNamespace) UID {
	return ns.MapFromKUID(kuid)
}

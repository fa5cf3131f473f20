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
	"testing"

	"github.com/google/go-cmp/cmp"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
)

func TestRootNamespaceIdentity(t *testing.T) {
	ns := NewRootUserNamespace()
	for _, kuid := range []KUID{0, 1, 1000, 65534} {
		if got := kuid.In(ns); got != UID(kuid) {
			t.Errorf("KUID(%d).In(root) = %d, want %d", kuid, got, kuid)
		}
	}
	if !NewRootCredentials(ns).HasRootEUID() {
		t.Errorf("root credentials do not have root euid")
	}
	if NewUserCredentials(1000, ns).HasRootEUID() {
		t.Errorf("user 1000 has root euid")
	}
}

func TestChildNamespaceMapping(t *testing.T) {
	root := NewRootUserNamespace()
	creds := NewUserCredentials(1000, root)
	child, err := creds.NewChildUserNamespace()
	if err != nil {
		t.Fatalf("NewChildUserNamespace: %v", err)
	}

	// Unmapped IDs translate to NoID, and are seen as the overflow UID.
	if got := KUID(1000).In(child); got.Ok() {
		t.Errorf("KUID(1000).In(child) = %d before mapping, want NoID", got)
	}
	if got := KUID(1000).In(child).OrOverflow(); got != OverflowUID {
		t.Errorf("OrOverflow = %d, want %d", got, OverflowUID)
	}

	// The owner may map its own UID to root.
	if err := child.SetUIDMap(creds, []IDMapEntry{{FirstID: 0, FirstParentID: 1000, Length: 1}}); err != nil {
		t.Fatalf("SetUIDMap: %v", err)
	}
	if err := child.SetUIDMap(creds, []IDMapEntry{{FirstID: 0, FirstParentID: 1000, Length: 1}}); err != linuxerr.EPERM {
		t.Errorf("second SetUIDMap got %v, want EPERM", err)
	}
	if diff := cmp.Diff([]IDMapEntry{{FirstID: 0, FirstParentID: 1000, Length: 1}}, child.UIDMap()); diff != "" {
		t.Errorf("UIDMap mismatch (-want +got):\n%s", diff)
	}

	inChild := creds.Fork()
	inChild.UserNamespace = child
	if !inChild.HasRootEUID() {
		t.Errorf("mapped owner is not root in child namespace")
	}
	if got := child.MapToKUID(RootUID); got != 1000 {
		t.Errorf("MapToKUID(0) = %d, want 1000", got)
	}
	if NewUserCredentials(1001, child).HasRootEUID() {
		t.Errorf("unmapped user is root in child namespace")
	}
	if got := NewRootCredentials(child).EffectiveKUID; got != 1000 {
		t.Errorf("NewRootCredentials(child).EffectiveKUID = %d, want 1000", got)
	}
}

func TestSetUIDMapUnprivileged(t *testing.T) {
	root := NewRootUserNamespace()
	creds := NewUserCredentials(1000, root)
	child, err := creds.NewChildUserNamespace()
	if err != nil {
		t.Fatalf("NewChildUserNamespace: %v", err)
	}
	// An unprivileged owner may not map other users.
	if err := child.SetUIDMap(creds, []IDMapEntry{{FirstID: 0, FirstParentID: 0, Length: 1}}); err != linuxerr.EPERM {
		t.Errorf("SetUIDMap of foreign UID got %v, want EPERM", err)
	}
	// A privileged writer may map ranges, but not overlapping ones.
	rootCreds := NewRootCredentials(root)
	err = child.SetUIDMap(rootCreds, []IDMapEntry{
		{FirstID: 0, FirstParentID: 100000, Length: 1000},
		{FirstID: 500, FirstParentID: 200000, Length: 10},
	})
	if err != linuxerr.EINVAL {
		t.Errorf("SetUIDMap of overlapping ranges got %v, want EINVAL", err)
	}
	if child.UIDMap() != nil {
		t.Errorf("failed SetUIDMap left mappings behind: %v", child.UIDMap())
	}
	if err := child.SetUIDMap(rootCreds, []IDMapEntry{{FirstID: 0, FirstParentID: 100000, Length: 1000}}); err != nil {
		t.Fatalf("SetUIDMap: %v", err)
	}
	if got := KUID(100042).In(child); got != 42 {
		t.Errorf("KUID(100042).In(child) = %d, want 42", got)
	}
}

func TestUserNamespaceNesting(t *testing.T) {
	root := NewRootUserNamespace()
	if got := root.Owner(); got != RootKUID {
		t.Errorf("root.Owner() = %d, want %d", got, RootKUID)
	}
	if child, err := NewUserCredentials(1000, root).NewChildUserNamespace(); err != nil {
		t.Fatalf("NewChildUserNamespace: %v", err)
	} else if got := child.Owner(); got != 1000 {
		t.Errorf("child.Owner() = %d, want 1000", got)
	}

	// Each level maps root to root, so root credentials can keep nesting
	// until the limit.
	ns := root
	for level := 1; level < maxUserNamespaceDepth; level++ {
		creds := NewRootCredentials(ns)
		child, err := creds.NewChildUserNamespace()
		if err != nil {
			t.Fatalf("NewChildUserNamespace at level %d: %v", level, err)
		}
		if err := child.SetUIDMap(creds, []IDMapEntry{{FirstID: 0, FirstParentID: 0, Length: 1}}); err != nil {
			t.Fatalf("SetUIDMap at level %d: %v", level, err)
		}
		ns = child
	}
	if _, err := NewRootCredentials(ns).NewChildUserNamespace(); err != linuxerr.EUSERS {
		t.Errorf("NewChildUserNamespace past the limit got %v, want EUSERS", err)
	}
}

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
	"github.com/google/btree"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
)

// idMapSegment maps the IDs [start, end) to [value, value+end-start).
type idMapSegment struct {
	start uint32
	end   uint32
	value uint32
}

// idMapSet is a set of non-overlapping idMapSegments ordered by start.
type idMapSet struct {
	segs *btree.BTreeG[idMapSegment]
}

func idMapSegmentLess(a, b idMapSegment) bool {
	return a.start < b.start
}

func (m *idMapSet) init() {
	if m.segs == nil {
		m.segs = btree.NewG(2, idMapSegmentLess)
	}
}

// IsEmpty returns true if m contains no mappings.
func (m *idMapSet) IsEmpty() bool {
	return m.segs == nil || m.segs.Len() == 0
}

// find returns the segment containing id.
func (m *idMapSet) find(id uint32) (idMapSegment, bool) {
	if m.segs == nil {
		return idMapSegment{}, false
	}
	var (
		seg idMapSegment
		ok  bool
	)
	m.segs.DescendLessOrEqual(idMapSegment{start: id}, func(s idMapSegment) bool {
		seg, ok = s, id < s.end
		return false
	})
	return seg, ok
}

// Add inserts a mapping of [start, end) to value. It returns false, leaving
// m unchanged, if the range overlaps an existing mapping.
func (m *idMapSet) Add(start, end, value uint32) bool {
	m.init()
	if _, ok := m.find(start); ok {
		return false
	}
	overlaps := false
	m.segs.AscendGreaterOrEqual(idMapSegment{start: start}, func(s idMapSegment) bool {
		overlaps = s.start < end
		return false
	})
	if overlaps {
		return false
	}
	m.segs.ReplaceOrInsert(idMapSegment{start: start, end: end, value: value})
	return true
}

// RemoveAll removes all mappings from m.
func (m *idMapSet) RemoveAll() {
	if m.segs != nil {
		m.segs.Clear(false)
	}
}

// allMapped returns true if every ID in [start, end) is mapped in m.
func (m *idMapSet) allMapped(start, end uint32) bool {
	for id := start; id < end; {
		seg, ok := m.find(id)
		if !ok {
			return false
		}
		if seg.end == 0 || seg.end >= end {
			return true
		}
		id = seg.end
	}
	return true
}

// MapFromKUID translates kuid, a UID in the root namespace, to a UID in ns.
func (ns *UserNamespace) MapFromKUID(kuid KUID) UID {
	if ns.parent == nil {
		return UID(kuid)
	}
	return UID(ns.mapID(&ns.uidMapFromParent, uint32(ns.parent.MapFromKUID(kuid))))
}

// MapToKUID translates uid, a UID in ns, to a UID in the root namespace.
func (ns *UserNamespace) MapToKUID(uid UID) KUID {
	if ns.parent == nil {
		return KUID(uid)
	}
	return ns.parent.MapToKUID(UID(ns.mapID(&ns.uidMapToParent, uint32(uid))))
}

func (ns *UserNamespace) mapID(m *idMapSet, id uint32) uint32 {
	if id == NoID {
		return NoID
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if seg, ok := m.find(id); ok {
		return seg.value + (id - seg.start)
	}
	return NoID
}

// An IDMapEntry represents a mapping from a range of contiguous IDs in a user
// namespace to an equally-sized range of contiguous IDs in the namespace's
// parent.
type IDMapEntry struct {
	// FirstID is the first ID in the range in the namespace.
	FirstID uint32

	// FirstParentID is the first ID in the range in the parent namespace.
	FirstParentID uint32

	// Length is the number of IDs in the range.
	Length uint32
}

// SetUIDMap instructs ns to translate UIDs as specified by entries. c is the
// credentials of the writer.
func (ns *UserNamespace) SetUIDMap(c *Credentials, entries []IDMapEntry) error {
	if ns.parent == nil {
		return linuxerr.EPERM
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	// "After the creation of a new user namespace, the uid_map file of *one*
	// of the processes in the namespace may be written to *once* to define the
	// mapping of user IDs in the new user namespace. An attempt to write more
	// than once to a uid_map file in a user namespace fails with the error
	// EPERM." - user_namespaces(7)
	if !ns.uidMapFromParent.IsEmpty() {
		return linuxerr.EPERM
	}
	// "At least one line must be written to the file."
	if len(entries) == 0 {
		return linuxerr.EINVAL
	}
	// "2. The writing process must either be in the user namespace of the process
	// pid or be in the parent user namespace of the process pid."
	if c.UserNamespace != ns && c.UserNamespace != ns.parent {
		return linuxerr.EPERM
	}
	// Without privilege in the parent namespace, the only permitted mapping
	// is of the writer's own effective UID, written by the namespace's owner.
	if c.EffectiveKUID.In(ns.parent) != RootUID {
		if len(entries) != 1 || ns.parent.MapToKUID(UID(entries[0].FirstParentID)) != c.EffectiveKUID || entries[0].Length != 1 {
			return linuxerr.EPERM
		}
		if c.EffectiveKUID != ns.owner {
			return linuxerr.EPERM
		}
	}
	// trySetUIDMap leaves data in maps if it fails.
	if err := ns.trySetUIDMap(entries); err != nil {
		ns.uidMapFromParent.RemoveAll()
		ns.uidMapToParent.RemoveAll()
		return err
	}
	return nil
}

func (ns *UserNamespace) trySetUIDMap(entries []IDMapEntry) error {
	for _, e := range entries {
		// Determine upper bounds and check for overflow. This implicitly
		// checks for NoID.
		lastID := e.FirstID + e.Length
		if lastID <= e.FirstID {
			return linuxerr.EINVAL
		}
		lastParentID := e.FirstParentID + e.Length
		if lastParentID <= e.FirstParentID {
			return linuxerr.EINVAL
		}
		// "3. The mapped user IDs (group IDs) must in turn have a mapping in
		// the parent user namespace."
		if !ns.parent.allIDsMapped(e.FirstParentID, lastParentID) {
			return linuxerr.EPERM
		}
		// If either of these Adds fail, we have an overlapping range.
		if !ns.uidMapFromParent.Add(e.FirstParentID, lastParentID, e.FirstID) {
			return linuxerr.EINVAL
		}
		if !ns.uidMapToParent.Add(e.FirstID, lastID, e.FirstParentID) {
			return linuxerr.EINVAL
		}
	}
	return nil
}

// allIDsMapped returns true if all IDs in the range [start, end) are mapped
// to ns's parent.
//
// Preconditions: end >= start.
func (ns *UserNamespace) allIDsMapped(start, end uint32) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.uidMapToParent.allMapped(start, end)
}

// UIDMap returns the user ID mappings configured for ns. If no mappings
// have been configured, UIDMap returns nil.
func (ns *UserNamespace) UIDMap() []IDMapEntry {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.uidMapToParent.segs == nil {
		return nil
	}
	var entries []IDMapEntry
	ns.uidMapToParent.segs.Ascend(func(s idMapSegment) bool {
		entries = append(entries, IDMapEntry{
			FirstID:       s.start,
			FirstParentID: s.value,
			Length:        s.end - s.start,
		})
		return true
	})
	return entries
}

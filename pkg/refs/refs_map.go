// Copyright 2020 The gVisor Authors.
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

package refs

import (
	"fmt"
	"sort"
	"sync"

	"farfetch.dev/farfetch/pkg/log"
)

var (
	// liveObjects is a global map of reference-counted objects. Objects are
	// inserted when leak check is enabled, and they are removed when they are
	// destroyed. It is protected by liveObjectsMu.
	liveObjects   = make(map[CheckedObject]struct{})
	liveObjectsMu sync.Mutex
)

// CheckedObject represents a reference-counted object with an informative
// leak detection message.
type CheckedObject interface {
	// RefType is the type of the reference-counted object.
	RefType() string

	// LeakMessage supplies a warning to be printed upon leak detection.
	LeakMessage() string
}

// LeakCheckEnabled returns whether leak checking is enabled. The following
// functions should only be called if it returns true.
func LeakCheckEnabled() bool {
	return GetLeakMode() != NoLeakChecking
}

// Register adds obj to the live object map.
func Register(obj CheckedObject) {
	if LeakCheckEnabled() {
		liveObjectsMu.Lock()
		defer liveObjectsMu.Unlock()
		if _, ok := liveObjects[obj]; ok {
			panic(fmt.Sprintf("Unexpected entry in leak checking map: reference %p already added", obj))
		}
		liveObjects[obj] = struct{}{}
	}
}

// Unregister removes obj from the live object map.
func Unregister(obj CheckedObject) {
	if LeakCheckEnabled() {
		liveObjectsMu.Lock()
		defer liveObjectsMu.Unlock()
		// Objects registered before leak checking was turned on are not in
		// the map; that is not an error.
		delete(liveObjects, obj)
	}
}

// LiveObjects returns the number of live objects of the given type, or of
// every type if refType is empty. It is intended for tests.
func LiveObjects(refType string) int {
	liveObjectsMu.Lock()
	defer liveObjectsMu.Unlock()
	n := 0
	for obj := range liveObjects {
		if refType == "" || obj.RefType() == refType {
			n++
		}
	}
	return n
}

// DoRepeatedLeakCheck iterates through the live object map and logs a
// message for each object. It should be called when no reference-counted
// objects are reachable anymore, at which point anything left in the map is
// considered a leak. It returns the number of leaked objects.
func DoRepeatedLeakCheck() int {
	if !LeakCheckEnabled() {
		return 0
	}
	liveObjectsMu.Lock()
	defer liveObjectsMu.Unlock()
	leaked := len(liveObjects)
	if leaked == 0 {
		return 0
	}
	msgs := make([]string, 0, leaked)
	for obj := range liveObjects {
		msgs = append(msgs, obj.LeakMessage())
	}
	sort.Strings(msgs)
	msg := fmt.Sprintf("Leak checking detected %d leaked objects:\n", leaked)
	for _, m := range msgs {
		msg += m + "\n"
	}
	if GetLeakMode() == LeaksPanic {
		panic(msg)
	}
	log.Warningf("%s", msg)
	return leaked
}

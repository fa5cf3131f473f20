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

package mm

import (
	"context"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
	"farfetch.dev/farfetch/pkg/hostarch"
	"farfetch.dev/farfetch/pkg/log"
	"farfetch.dev/farfetch/pkg/sentry/pgalloc"
)

// getPageLocked returns the page backing addr, faulting it in from v if no
// page backs it yet. The returned page is owned by mm.pmas; callers that use
// it after unlocking mm.mappingMu must take their own reference.
//
// Preconditions: mm.mappingMu must be locked. mm.activeMu must be unlocked.
// addr is page-aligned and v contains addr.
func (mm *MemoryManager) getPageLocked(ctx context.Context, v *vma, addr hostarch.Addr) (*pgalloc.Page, error) {
	mm.activeMu.Lock()
	p, ok := mm.pmas[addr]
	mm.activeMu.Unlock()
	if ok {
		return p, nil
	}

	// Fill the new page without holding activeMu, since Fault may block.
	np, err := mm.mf.Allocate()
	if err != nil {
		return nil, err
	}
	if v.mappable != nil {
		if err := v.mappable.Fault(ctx, v.off+uint64(addr-v.start), np.Map()); err != nil {
			np.DecRef()
			return nil, translateFaultError(addr, err)
		}
	}

	mm.activeMu.Lock()
	defer mm.activeMu.Unlock()
	if p, ok := mm.pmas[addr]; ok {
		// Lost a race with another fault on the same address.
		np.DecRef()
		return p, nil
	}
	mm.pmas[addr] = np
	return np, nil
}

// translateFaultError converts an error returned by Mappable.Fault to the
// error reported for the faulting access.
func translateFaultError(addr hostarch.Addr, err error) error {
	if e, ok := linuxerr.TranslateError(err); ok {
		return e
	}
	log.Debugf("Fault at %v failed: %v", addr, err)
	return linuxerr.EFAULT
}

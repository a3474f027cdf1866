// Copyright 2024 The Armored Witness authors. All Rights Reserved.
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

// Package vault implements the persistent data vault shared by the boot
// stages.
//
// The vault is a fixed set of slots surviving warm resets. Sticky slots are
// written once on the cold boot path, non-sticky slots may be rewritten after
// a warm reset unless locked. A lock bit is only cleared by a cold reset.
//
// The vault is dumb storage: write failures are returned as *fatal.Error and
// the caller owning the slot halts on them.
package vault

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/fatal"
)

// state is the persisted representation, its fields are exported for
// encoding/binary.
type state struct {
	StickyWide     [NumStickyWide]WideValue
	StickySmall    [NumStickySmall]uint32
	NonStickyWide  [NumNonStickyWide]WideValue
	NonStickySmall [NumNonStickySmall]uint32

	// lock bitmaps indexed by [Class][Width]
	Locks [2][2]uint32
}

// Size is the length of the vault persisted representation.
var Size = binary.Size(state{})

// Vault represents the persistent data vault.
type Vault struct {
	s state
}

func mustBeValid(c Class, w Width, s Slot) {
	if !Valid(c, w, s) {
		panic(fatal.Errorf(fatal.VaultInvalidSlot, "invalid %s %s slot %d", c, w, s))
	}
}

// ReadSmall returns the content of a small slot, reads are permitted
// regardless of lock state.
func (v *Vault) ReadSmall(c Class, s Slot) uint32 {
	mustBeValid(c, Small, s)

	if c == Sticky {
		return v.s.StickySmall[s]
	}

	return v.s.NonStickySmall[s]
}

// ReadWide returns the content of a wide slot, reads are permitted regardless
// of lock state.
func (v *Vault) ReadWide(c Class, s Slot) WideValue {
	mustBeValid(c, Wide, s)

	if c == Sticky {
		return v.s.StickyWide[s]
	}

	return v.s.NonStickyWide[s]
}

// checkWrite returns the error a write to a locked slot results in.
func (v *Vault) checkWrite(c Class, w Width, s Slot) error {
	if !Valid(c, w, s) {
		return fatal.Errorf(fatal.VaultInvalidSlot, "invalid %s %s slot %d", c, w, s)
	}

	if !v.IsLocked(c, w, s) {
		return nil
	}

	if c == Sticky {
		return fatal.Errorf(fatal.VaultStickyWriteViolation, "%s %s slot %d already written", c, w, s)
	}

	return fatal.Errorf(fatal.VaultLockViolation, "%s %s slot %d is locked", c, w, s)
}

// WriteSmall writes a small slot. A sticky slot is locked as soon as it is
// written.
func (v *Vault) WriteSmall(c Class, s Slot, val uint32) error {
	if err := v.checkWrite(c, Small, s); err != nil {
		return err
	}

	klog.V(2).Infof("vault: write %s small slot %d = %#x", c, s, val)

	if c == Sticky {
		v.s.StickySmall[s] = val
		v.setLock(c, Small, s)
	} else {
		v.s.NonStickySmall[s] = val
	}

	return nil
}

// WriteWide writes a wide slot. A sticky slot is locked as soon as it is
// written.
func (v *Vault) WriteWide(c Class, s Slot, val WideValue) error {
	if err := v.checkWrite(c, Wide, s); err != nil {
		return err
	}

	klog.V(2).Infof("vault: write %s wide slot %d = %x", c, s, val[:])

	if c == Sticky {
		v.s.StickyWide[s] = val
		v.setLock(c, Wide, s)
	} else {
		v.s.NonStickyWide[s] = val
	}

	return nil
}

func (v *Vault) setLock(c Class, w Width, s Slot) {
	v.s.Locks[c][w] |= 1 << s
}

// Lock sets the lock bit of a slot, further writes fail until the lock is
// cleared by a reset.
func (v *Vault) Lock(c Class, w Width, s Slot) error {
	if !Valid(c, w, s) {
		return fatal.Errorf(fatal.VaultInvalidSlot, "invalid %s %s slot %d", c, w, s)
	}

	klog.V(2).Infof("vault: lock %s %s slot %d", c, w, s)
	v.setLock(c, w, s)

	return nil
}

// IsLocked returns whether the lock bit of a slot is set.
func (v *Vault) IsLocked(c Class, w Width, s Slot) bool {
	if !Valid(c, w, s) {
		return false
	}

	return v.s.Locks[c][w]&(1<<s) != 0
}

// WarmReset clears the non-sticky lock bits, slot contents are preserved.
func (v *Vault) WarmReset() {
	klog.Infof("vault: warm reset")
	v.s.Locks[NonSticky] = [2]uint32{}
}

// ColdReset clears all slots and lock bits.
func (v *Vault) ColdReset() {
	klog.Infof("vault: cold reset")
	v.s = state{}
}

// MarshalBinary returns the fixed little-endian representation of the vault.
func (v *Vault) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, &v.s); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary restores the vault from its persisted representation.
func (v *Vault) UnmarshalBinary(buf []byte) error {
	if len(buf) != Size {
		return fatal.Errorf(fatal.VaultInvalidLayout, "invalid vault length %d, expected %d", len(buf), Size)
	}

	var s state

	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &s); err != nil {
		return fmt.Errorf("could not decode vault, %v", err)
	}

	v.s = s

	return nil
}

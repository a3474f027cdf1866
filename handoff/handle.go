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

package handoff

import (
	"fmt"

	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
	"github.com/transparency-dev/armored-witness-dice/vault"
)

// Kind is the type tag of a handle.
type Kind uint8

const (
	KindKeyVault Kind = iota + 1
	KindNonStickyWide
	KindStickyWide
	KindNonStickySmall
	KindStickySmall
	KindInvalid Kind = 0xff
)

func (k Kind) String() string {
	switch k {
	case KindKeyVault:
		return "key vault"
	case KindNonStickyWide:
		return "non-sticky wide"
	case KindStickyWide:
		return "sticky wide"
	case KindNonStickySmall:
		return "non-sticky small"
	case KindStickySmall:
		return "sticky small"
	case KindInvalid:
		return "invalid"
	}

	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Handle is a typed reference recorded in the handoff table, the kind is held
// in bits 31..24 and the index in bits 23..0.
type Handle uint32

// Invalid is the value of a handle which has not been set.
const Invalid Handle = 0xffffffff

const indexMask = 0x00ffffff

// NewHandle returns a handle for an index of a given kind, out of range
// indices result in Invalid.
func NewHandle(k Kind, index uint32) Handle {
	if index > indexMask || k == KindInvalid {
		return Invalid
	}

	return Handle(uint32(k)<<24 | index)
}

func (h Handle) Kind() Kind {
	return Kind(h >> 24)
}

func (h Handle) Index() uint32 {
	return uint32(h) & indexMask
}

func (h Handle) String() string {
	if h == Invalid {
		return "invalid"
	}

	return fmt.Sprintf("%s[%d]", h.Kind(), h.Index())
}

// DataStore is the storage location a handle resolves to, it is one of
// KeyVaultSlot, NonStickyWide, StickyWide, NonStickySmall or StickySmall.
type DataStore interface {
	Handle() Handle
	dataStore()
}

type KeyVaultSlot struct {
	Key keyvault.KeyID
}

type NonStickyWide struct {
	Slot vault.Slot
}

type StickyWide struct {
	Slot vault.Slot
}

type NonStickySmall struct {
	Slot vault.Slot
}

type StickySmall struct {
	Slot vault.Slot
}

func (KeyVaultSlot) dataStore()   {}
func (NonStickyWide) dataStore()  {}
func (StickyWide) dataStore()     {}
func (NonStickySmall) dataStore() {}
func (StickySmall) dataStore()    {}

func (d KeyVaultSlot) Handle() Handle   { return NewHandle(KindKeyVault, uint32(d.Key)) }
func (d NonStickyWide) Handle() Handle  { return NewHandle(KindNonStickyWide, uint32(d.Slot)) }
func (d StickyWide) Handle() Handle     { return NewHandle(KindStickyWide, uint32(d.Slot)) }
func (d NonStickySmall) Handle() Handle { return NewHandle(KindNonStickySmall, uint32(d.Slot)) }
func (d StickySmall) Handle() Handle    { return NewHandle(KindStickySmall, uint32(d.Slot)) }

func vaultSlot(c vault.Class, w vault.Width, index uint32) (vault.Slot, bool) {
	if index > 0xff || !vault.Valid(c, w, vault.Slot(index)) {
		return 0, false
	}

	return vault.Slot(index), true
}

// Resolve returns the storage location referenced by h. Handles of unknown
// kind, or whose index is out of range for their kind, fail to resolve.
func (h Handle) Resolve() (DataStore, error) {
	idx := h.Index()

	switch h.Kind() {
	case KindKeyVault:
		if idx < keyvault.NumKeys {
			return KeyVaultSlot{Key: keyvault.KeyID(idx)}, nil
		}
	case KindNonStickyWide:
		if s, ok := vaultSlot(vault.NonSticky, vault.Wide, idx); ok {
			return NonStickyWide{Slot: s}, nil
		}
	case KindStickyWide:
		if s, ok := vaultSlot(vault.Sticky, vault.Wide, idx); ok {
			return StickyWide{Slot: s}, nil
		}
	case KindNonStickySmall:
		if s, ok := vaultSlot(vault.NonSticky, vault.Small, idx); ok {
			return NonStickySmall{Slot: s}, nil
		}
	case KindStickySmall:
		if s, ok := vaultSlot(vault.Sticky, vault.Small, idx); ok {
			return StickySmall{Slot: s}, nil
		}
	}

	return nil, fatal.Errorf(fatal.FmcHandoffInvalidParam, "handle %#08x does not resolve", uint32(h))
}

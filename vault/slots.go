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

package vault

import (
	"fmt"
)

// Class selects between the sticky and non-sticky halves of the vault.
type Class uint8

const (
	// NonSticky slots can be written again after a warm reset, unless
	// locked.
	NonSticky Class = iota
	// Sticky slots are written at most once per power cycle, on the cold
	// boot path.
	Sticky
)

func (c Class) String() string {
	switch c {
	case NonSticky:
		return "non-sticky"
	case Sticky:
		return "sticky"
	}

	return fmt.Sprintf("class(%d)", uint8(c))
}

// Width selects between small (scalar) and wide (digest/coordinate) slots.
type Width uint8

const (
	Small Width = iota
	Wide
)

func (w Width) String() string {
	switch w {
	case Small:
		return "small"
	case Wide:
		return "wide"
	}

	return fmt.Sprintf("width(%d)", uint8(w))
}

const (
	// SmallSize is the size in bytes of a small slot.
	SmallSize = 4
	// WideSize is the size in bytes of a wide slot, a SHA-256 digest or a
	// P-256 coordinate.
	WideSize = 32
)

// WideValue is the content of a wide slot.
type WideValue [WideSize]byte

// IsZero reports whether the value has never been written.
func (v WideValue) IsZero() bool {
	return v == WideValue{}
}

// Slot is the index of a vault entry within its class and width. The slot map
// below is shared by all boot stages and must not be renumbered.
type Slot uint8

// Sticky wide slots
const (
	LDevIDSigR Slot = iota
	LDevIDSigS
	FmcAliasSigR
	FmcAliasSigS
	FmcAliasPubKeyX
	FmcAliasPubKeyY
	FmcTCI
	OwnerPubKeyHash

	NumStickyWide
)

// Sticky small slots
const (
	FmcSVN Slot = iota
	VendorPubKeyIndex
	FmcEntryPoint
	FmcLoadAddr

	NumStickySmall
)

// Non-sticky wide slots
const (
	RtTCI Slot = iota
	RtAliasPubKeyX
	RtAliasPubKeyY
	RtAliasSigR
	RtAliasSigS

	NumNonStickyWide
)

// Non-sticky small slots
const (
	RtSVN Slot = iota
	RtMinSVN
	RtEntryPoint
	RtLoadAddr

	NumNonStickySmall
)

// Count returns the number of slots for a class and width.
func Count(c Class, w Width) int {
	switch {
	case c == Sticky && w == Wide:
		return int(NumStickyWide)
	case c == Sticky && w == Small:
		return int(NumStickySmall)
	case c == NonSticky && w == Wide:
		return int(NumNonStickyWide)
	case c == NonSticky && w == Small:
		return int(NumNonStickySmall)
	}

	return 0
}

// Valid reports whether s exists for the given class and width.
func Valid(c Class, w Width, s Slot) bool {
	return int(s) < Count(c, w)
}

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
	"bytes"
	"encoding/binary"

	"github.com/transparency-dev/armored-witness-dice/fatal"
)

const (
	// TableMarker identifies an initialized handoff table ("CFHT").
	TableMarker = 0x54484643

	MajorVersion = 1
	MinorVersion = 0

	// TableSize is the length of the table persisted representation.
	TableSize = 128
)

// Table is the firmware handoff table, created by the ROM on cold boot and
// updated in place by the stage owning each field.
type Table struct {
	Marker       uint32
	MajorVersion uint16
	MinorVersion uint16

	// FMC alias layer, produced by the ROM
	FmcCDI      Handle
	FmcPrivKey  Handle
	FmcPubKeyX  Handle
	FmcPubKeyY  Handle
	FmcCertSigR Handle
	FmcCertSigS Handle
	FmcTCI      Handle
	FmcSVN      Handle

	// Runtime alias layer, produced by the FMC
	RtCDI        Handle
	RtPrivKey    Handle
	RtPubKeyX    Handle
	RtPubKeyY    Handle
	RtDiceSigR   Handle
	RtDiceSigS   Handle
	RtTCI        Handle
	RtSVN        Handle
	RtMinSVN     Handle
	RtEntryPoint Handle

	LDevIDCertSigR Handle
	LDevIDCertSigS Handle

	RtAliasTBSSize uint32

	Reserved [36]byte
}

// New returns a table with all handles unset.
func New() *Table {
	return &Table{
		Marker:         TableMarker,
		MajorVersion:   MajorVersion,
		MinorVersion:   MinorVersion,
		FmcCDI:         Invalid,
		FmcPrivKey:     Invalid,
		FmcPubKeyX:     Invalid,
		FmcPubKeyY:     Invalid,
		FmcCertSigR:    Invalid,
		FmcCertSigS:    Invalid,
		FmcTCI:         Invalid,
		FmcSVN:         Invalid,
		RtCDI:          Invalid,
		RtPrivKey:      Invalid,
		RtPubKeyX:      Invalid,
		RtPubKeyY:      Invalid,
		RtDiceSigR:     Invalid,
		RtDiceSigS:     Invalid,
		RtTCI:          Invalid,
		RtSVN:          Invalid,
		RtMinSVN:       Invalid,
		RtEntryPoint:   Invalid,
		LDevIDCertSigR: Invalid,
		LDevIDCertSigS: Invalid,
	}
}

// IsValid reports whether the table has been created by the ROM with a
// compatible layout.
func (t *Table) IsValid() bool {
	return t != nil && t.Marker == TableMarker && t.MajorVersion == MajorVersion
}

// MarshalBinary returns the fixed little-endian representation of the table.
func (t *Table) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, t); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a table, validity is not checked.
func (t *Table) UnmarshalBinary(buf []byte) error {
	if len(buf) != TableSize {
		return fatal.Errorf(fatal.HandoffInvalidLayout, "invalid handoff table length %d", len(buf))
	}

	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, t)
}

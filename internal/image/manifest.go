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

// Package image implements the firmware image format and the verification
// algorithm run by the ROM before the FMC and runtime are allowed to execute.
package image

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/coreos/go-semver/semver"

	"github.com/transparency-dev/armored-witness-dice/cert"
	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
)

const (
	// ManifestMarker identifies a firmware manifest ("CMAN").
	ManifestMarker = 0x4e414d43
	// NumVendorKeys is the number of vendor keys carried by a manifest,
	// the key in use is selected by VendorKeyIndex.
	NumVendorKeys = 4
)

// TOC describes a firmware component within the image.
type TOC struct {
	// Offset of the component from the start of the image
	Offset     uint32
	Size       uint32
	SVN        uint32
	LoadAddr   uint32
	EntryPoint uint32
	Digest     [32]byte
}

// Preamble holds the keys and signatures authenticating the header.
type Preamble struct {
	VendorPubKeys  [NumVendorKeys]keyvault.PubKey
	VendorKeyIndex uint32
	VendorSig      cert.Signature
	OwnerPubKey    keyvault.PubKey
	OwnerSig       cert.Signature
}

// Header is the signed part of the manifest.
type Header struct {
	// NUL padded semantic version string
	Version [16]byte
	Fmc     TOC
	Rt      TOC
}

// Manifest is the fixed size structure at the start of a firmware image.
type Manifest struct {
	Marker   uint32
	Size     uint32
	Preamble Preamble
	Header   Header
}

var (
	// ManifestSize is the length of the manifest encoding.
	ManifestSize = binary.Size(Manifest{})

	preambleOffset = binary.Size(uint32(0)) * 2
	vendorKeysSize = binary.Size([NumVendorKeys]keyvault.PubKey{})
	ownerKeyOffset = preambleOffset + vendorKeysSize + binary.Size(uint32(0)) + binary.Size(cert.Signature{})
	ownerKeySize   = binary.Size(keyvault.PubKey{})
	headerOffset   = preambleOffset + binary.Size(Preamble{})
	headerSize     = binary.Size(Header{})
)

// SetVersion records a semantic version in the header.
func (h *Header) SetVersion(v *semver.Version) error {
	s := v.String()

	if len(s) > len(h.Version) {
		return fatal.Errorf(fatal.ImageVerifyVersionInvalid, "version %q too long", s)
	}

	h.Version = [16]byte{}
	copy(h.Version[:], s)

	return nil
}

// SemVer parses the header version.
func (h *Header) SemVer() (*semver.Version, error) {
	v, err := semver.NewVersion(strings.TrimRight(string(h.Version[:]), "\x00"))

	if err != nil {
		return nil, fatal.Errorf(fatal.ImageVerifyVersionInvalid, "invalid version, %w", err)
	}

	return v, nil
}

// MarshalBinary returns the manifest encoding.
func (m *Manifest) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, m); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// HeaderBytes returns the encoding of the signed header.
func (m *Manifest) HeaderBytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, &m.Header); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Parse decodes the manifest at the start of an image.
func Parse(img []byte) (*Manifest, error) {
	if len(img) < ManifestSize {
		return nil, fatal.Errorf(fatal.ImageVerifyManifestSizeMismatch, "image too short (%d bytes)", len(img))
	}

	m := &Manifest{}

	if err := binary.Read(bytes.NewReader(img[:ManifestSize]), binary.LittleEndian, m); err != nil {
		return nil, fatal.Errorf(fatal.ImageVerifyManifestSizeMismatch, "could not decode manifest, %w", err)
	}

	if m.Marker != ManifestMarker {
		return nil, fatal.Errorf(fatal.ImageVerifyManifestMarkerMismatch, "invalid manifest marker %#08x", m.Marker)
	}

	return m, nil
}

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

package image

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/coreos/go-semver/semver"

	"github.com/transparency-dev/armored-witness-dice/cert"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
)

// VendorKeysDigest returns the digest of a vendor key set, as provisioned in
// fuses.
func VendorKeysDigest(keys [NumVendorKeys]keyvault.PubKey) [32]byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, &keys)

	return sha256.Sum256(buf.Bytes())
}

// OwnerKeyDigest returns the digest of an owner key, as provisioned in fuses.
func OwnerKeyDigest(key keyvault.PubKey) [32]byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, &key)

	return sha256.Sum256(buf.Bytes())
}

// Payload is a firmware component to be packaged.
type Payload struct {
	Data       []byte
	SVN        uint32
	LoadAddr   uint32
	EntryPoint uint32
}

// BuildOptions describes a firmware image to be packaged and signed.
type BuildOptions struct {
	Version        *semver.Version
	VendorPubKeys  [NumVendorKeys]keyvault.PubKey
	VendorKeyIndex uint32
	VendorKey      crypto.Signer
	OwnerKey       crypto.Signer
	Fmc            Payload
	Rt             Payload
}

func sign(s crypto.Signer, digest [32]byte) (sig cert.Signature, err error) {
	der, err := s.Sign(rand.Reader, digest[:], crypto.SHA256)

	if err != nil {
		return
	}

	return cert.ParseSignature(der)
}

func align(n int) int {
	return (n + 3) &^ 3
}

// Build returns a signed firmware image, the manifest is followed by the FMC
// and the runtime.
func Build(o *BuildOptions) (img []byte, err error) {
	if o.VendorKey == nil || o.OwnerKey == nil || o.Version == nil {
		return nil, errors.New("missing signing keys or version")
	}

	if o.VendorKeyIndex >= NumVendorKeys {
		return nil, fmt.Errorf("invalid vendor key index %d", o.VendorKeyIndex)
	}

	m := &Manifest{
		Marker: ManifestMarker,
		Size:   uint32(ManifestSize),
	}

	m.Preamble.VendorPubKeys = o.VendorPubKeys
	m.Preamble.VendorKeyIndex = o.VendorKeyIndex
	owner, ok := o.OwnerKey.Public().(*ecdsa.PublicKey)

	if !ok {
		return nil, errors.New("owner key is not an ECDSA key")
	}

	m.Preamble.OwnerPubKey = keyvault.FromECDSA(owner)

	if err = m.Header.SetVersion(o.Version); err != nil {
		return
	}

	fmcOffset := align(ManifestSize)
	rtOffset := align(fmcOffset + len(o.Fmc.Data))

	toc := func(p Payload, offset int) TOC {
		return TOC{
			Offset:     uint32(offset),
			Size:       uint32(len(p.Data)),
			SVN:        p.SVN,
			LoadAddr:   p.LoadAddr,
			EntryPoint: p.EntryPoint,
			Digest:     sha256.Sum256(p.Data),
		}
	}

	m.Header.Fmc = toc(o.Fmc, fmcOffset)
	m.Header.Rt = toc(o.Rt, rtOffset)

	hdr, err := m.HeaderBytes()

	if err != nil {
		return
	}

	digest := sha256.Sum256(hdr)

	if m.Preamble.VendorSig, err = sign(o.VendorKey, digest); err != nil {
		return nil, fmt.Errorf("vendor signature failed, %v", err)
	}

	if m.Preamble.OwnerSig, err = sign(o.OwnerKey, digest); err != nil {
		return nil, fmt.Errorf("owner signature failed, %v", err)
	}

	buf, err := m.MarshalBinary()

	if err != nil {
		return
	}

	img = make([]byte, rtOffset+len(o.Rt.Data))
	copy(img, buf)
	copy(img[fmcOffset:], o.Fmc.Data)
	copy(img[rtOffset:], o.Rt.Data)

	return
}

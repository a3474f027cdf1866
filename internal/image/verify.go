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
	"fmt"

	"github.com/coreos/go-semver/semver"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/cert"
	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
	"github.com/transparency-dev/armored-witness-dice/transfer"
)

// Stage identifies a verified firmware component.
type Stage int

const (
	StageFmc Stage = iota
	StageRt
)

func (s Stage) String() string {
	switch s {
	case StageFmc:
		return "FMC"
	case StageRt:
		return "RT"
	}

	return fmt.Sprintf("stage(%d)", int(s))
}

// Lifecycle is the device lifecycle state held in fuses.
type Lifecycle int

const (
	Unprovisioned Lifecycle = iota
	Manufacturing
	Production
)

// Env is the set of facts and capabilities the verification algorithm runs
// against.
type Env interface {
	// Digest returns the SHA-256 digest of length bytes of the image
	// starting at offset.
	Digest(offset uint32, length uint32) ([32]byte, error)
	// VerifySignature reports whether sig is a valid signature of digest
	// by pub.
	VerifySignature(digest [32]byte, pub keyvault.PubKey, sig cert.Signature) (bool, error)

	VendorPubKeyHash() [32]byte
	VendorPubKeyRevocation() uint32
	OwnerPubKeyHash() [32]byte
	AntiRollbackDisabled() bool
	Lifecycle() Lifecycle
	MinSVN(stage Stage) uint32
	ICCMRange() transfer.Region

	// Facts recorded in the vault on cold boot.
	VendorPubKeyIndexFromVault() uint32
	OwnerPubKeyHashFromVault() [32]byte
	FmcDigestFromVault() [32]byte
}

// Component is the verified description of a firmware component.
type Component struct {
	Offset     uint32
	Size       uint32
	Digest     [32]byte
	SVN        uint32
	MinSVN     uint32
	LoadAddr   uint32
	EntryPoint uint32
}

// Info is the result of a successful verification.
type Info struct {
	VendorKeyIndex  uint32
	VendorPubKey    keyvault.PubKey
	OwnerPubKeyHash [32]byte
	Version         *semver.Version
	Fmc             Component
	Rt              Component
}

// Verifier implements firmware image verification.
type Verifier struct {
	Env Env
}

func zero(d [32]byte) bool {
	return d == [32]byte{}
}

// Verify authenticates the image described by m, of size bytes. On warm boot
// the facts recorded in the vault on cold boot must match the image.
//
// Failures are returned as *fatal.Error carrying an ImageVerify code, the
// caller decides whether they are fatal.
func (v *Verifier) Verify(m *Manifest, size uint32, coldBoot bool) (info *Info, err error) {
	env := v.Env

	if m.Marker != ManifestMarker {
		return nil, fatal.Errorf(fatal.ImageVerifyManifestMarkerMismatch, "invalid manifest marker %#08x", m.Marker)
	}

	if m.Size != uint32(ManifestSize) || size < m.Size {
		return nil, fatal.Errorf(fatal.ImageVerifyManifestSizeMismatch, "invalid manifest size %d", m.Size)
	}

	info = &Info{}

	if err = v.vendorKey(m, info, coldBoot); err != nil {
		return nil, err
	}

	if err = v.ownerKey(info, coldBoot); err != nil {
		return nil, err
	}

	if err = v.signatures(m, info); err != nil {
		return nil, err
	}

	if info.Version, err = m.Header.SemVer(); err != nil {
		return nil, err
	}

	if info.Fmc, err = v.component(StageFmc, &m.Header.Fmc, size); err != nil {
		return nil, err
	}

	if info.Rt, err = v.component(StageRt, &m.Header.Rt, size); err != nil {
		return nil, err
	}

	if overlap(info.Fmc, info.Rt) {
		return nil, fatal.New(fatal.ImageVerifyTOCInvalid, "FMC and RT components overlap")
	}

	if !coldBoot && info.Fmc.Digest != env.FmcDigestFromVault() {
		return nil, fatal.New(fatal.ImageVerifyFmcDigestMismatchWarm, "FMC digest differs from cold boot")
	}

	klog.Infof("image: verified version %s (FMC SVN %d, RT SVN %d, vendor key %d)",
		info.Version, info.Fmc.SVN, info.Rt.SVN, info.VendorKeyIndex)

	return info, nil
}

func (v *Verifier) vendorKey(m *Manifest, info *Info, coldBoot bool) error {
	env := v.Env
	idx := m.Preamble.VendorKeyIndex

	fused := env.VendorPubKeyHash()

	if zero(fused) {
		return fatal.New(fatal.ImageVerifyVendorPubKeyDigestInvalid, "vendor key digest not provisioned")
	}

	d, err := env.Digest(uint32(preambleOffset), uint32(vendorKeysSize))

	if err != nil {
		return err
	}

	if d != fused {
		return fatal.New(fatal.ImageVerifyVendorPubKeyDigestMismatch, "vendor key digest mismatch")
	}

	if idx >= NumVendorKeys {
		return fatal.Errorf(fatal.ImageVerifyVendorPubKeyIndexOutOfBounds, "vendor key index %d", idx)
	}

	if env.VendorPubKeyRevocation()&(1<<idx) != 0 {
		return fatal.Errorf(fatal.ImageVerifyVendorPubKeyRevoked, "vendor key %d revoked", idx)
	}

	if !coldBoot && idx != env.VendorPubKeyIndexFromVault() {
		return fatal.Errorf(fatal.ImageVerifyVendorPubKeyIndexMismatch, "vendor key %d, cold boot used %d", idx, env.VendorPubKeyIndexFromVault())
	}

	info.VendorKeyIndex = idx
	info.VendorPubKey = m.Preamble.VendorPubKeys[idx]

	return nil
}

func (v *Verifier) ownerKey(info *Info, coldBoot bool) error {
	env := v.Env

	d, err := env.Digest(uint32(ownerKeyOffset), uint32(ownerKeySize))

	if err != nil {
		return err
	}

	// an unprovisioned owner fuse accepts any owner key
	if fused := env.OwnerPubKeyHash(); !zero(fused) && d != fused {
		return fatal.New(fatal.ImageVerifyOwnerPubKeyDigestMismatch, "owner key digest differs from fuses")
	}

	if !coldBoot && d != env.OwnerPubKeyHashFromVault() {
		return fatal.New(fatal.ImageVerifyOwnerPubKeyDigestMismatch, "owner key digest differs from cold boot")
	}

	info.OwnerPubKeyHash = d

	return nil
}

func (v *Verifier) signatures(m *Manifest, info *Info) error {
	env := v.Env

	d, err := env.Digest(uint32(headerOffset), uint32(headerSize))

	if err != nil {
		return err
	}

	ok, err := env.VerifySignature(d, info.VendorPubKey, m.Preamble.VendorSig)

	if err != nil || !ok {
		return fatal.Errorf(fatal.ImageVerifyVendorSignatureInvalid, "vendor signature invalid (%v)", err)
	}

	ok, err = env.VerifySignature(d, m.Preamble.OwnerPubKey, m.Preamble.OwnerSig)

	if err != nil || !ok {
		return fatal.Errorf(fatal.ImageVerifyOwnerSignatureInvalid, "owner signature invalid (%v)", err)
	}

	return nil
}

func (v *Verifier) component(s Stage, toc *TOC, size uint32) (c Component, err error) {
	env := v.Env

	digestMismatch := fatal.ImageVerifyFmcDigestMismatch
	svnTooLow := fatal.ImageVerifyFmcSVNLessThanMin

	if s == StageRt {
		digestMismatch = fatal.ImageVerifyRuntimeDigestMismatch
		svnTooLow = fatal.ImageVerifyRuntimeSVNLessThanMin
	}

	end := uint64(toc.Offset) + uint64(toc.Size)

	if toc.Size == 0 || toc.Offset < uint32(ManifestSize) || end > uint64(size) {
		return c, fatal.Errorf(fatal.ImageVerifyTOCInvalid, "%s component [%d, %d) outside of image", s, toc.Offset, end)
	}

	d, err := env.Digest(toc.Offset, toc.Size)

	if err != nil {
		return
	}

	if d != toc.Digest {
		return c, fatal.Errorf(digestMismatch, "%s digest mismatch", s)
	}

	iccm := env.ICCMRange()

	if err = iccm.Check(toc.EntryPoint, transfer.Alignment); err != nil {
		return c, fatal.Errorf(fatal.ImageVerifyEntryPointInvalid, "%s entry point, %w", s, err)
	}

	loadEnd := uint64(toc.LoadAddr) + uint64(toc.Size)

	if !iccm.Contains(toc.LoadAddr) || loadEnd > uint64(iccm.Origin)+uint64(iccm.Size) || toc.EntryPoint < toc.LoadAddr {
		return c, fatal.Errorf(fatal.ImageVerifyLoadAddressInvalid, "%s load address %#08x", s, toc.LoadAddr)
	}

	c = Component{
		Offset:     toc.Offset,
		Size:       toc.Size,
		Digest:     d,
		SVN:        toc.SVN,
		LoadAddr:   toc.LoadAddr,
		EntryPoint: toc.EntryPoint,
	}

	if env.AntiRollbackDisabled() {
		return
	}

	c.MinSVN = env.MinSVN(s)

	if c.SVN < c.MinSVN {
		return c, fatal.Errorf(svnTooLow, "%s SVN %d below minimum %d", s, c.SVN, c.MinSVN)
	}

	return
}

func overlap(a Component, b Component) bool {
	return a.LoadAddr < b.LoadAddr+b.Size && b.LoadAddr < a.LoadAddr+a.Size
}

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

// Package verify implements the environment firmware images are verified
// against: a shared digest accelerator, a signature verifier, fuse facts and
// the facts recorded in the vault on cold boot.
package verify

import (
	"runtime"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/cert"
	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/image"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
	"github.com/transparency-dev/armored-witness-dice/internal/rollback"
	"github.com/transparency-dev/armored-witness-dice/transfer"
	"github.com/transparency-dev/armored-witness-dice/vault"
)

// Txn is an acquired digest accelerator transaction.
type Txn interface {
	Sum256(data []byte) ([32]byte, error)
	Release()
}

// Accelerator is the shared digest engine, TryStartOperation never blocks
// and reports whether a transaction was acquired.
type Accelerator interface {
	TryStartOperation() (Txn, bool)
}

// FuseBank is the read-only source of the trust root facts held in fuses.
type FuseBank interface {
	VendorPubKeyHash() ([32]byte, error)
	VendorPubKeyRevocation() (uint32, error)
	OwnerPubKeyHash() ([32]byte, error)
	AntiRollbackDisable() (bool, error)
	Lifecycle() (image.Lifecycle, error)
	// SVN returns the minimum SVN of a stage as burned in fuses.
	SVN(stage image.Stage) (uint32, error)
}

// RollbackStore holds the minimum SVN of a stage in replay protected storage.
type RollbackStore interface {
	MinSVN(sector uint16) (uint32, error)
}

// Env implements image.Env. Every fact is read from its authoritative source
// on each call.
type Env struct {
	Image       []byte
	Accelerator Accelerator
	Verifier    SignatureVerifier
	Fuses       FuseBank
	Vault       *vault.Vault
	// Rollback is optional, when set the minimum SVN of a stage is the
	// highest of its fuse and rollback store values.
	Rollback RollbackStore
	ICCM     transfer.Region
	Policy   *fatal.Policy
}

var _ image.Env = &Env{}

func (e *Env) acquire() Txn {
	for {
		if txn, ok := e.Accelerator.TryStartOperation(); ok {
			return txn
		}

		// bounded by the watchdog
		runtime.Gosched()
	}
}

// Digest computes the SHA-256 digest of an image region on the shared
// accelerator, retrying acquisition until a transaction is obtained.
func (e *Env) Digest(offset uint32, length uint32) (d [32]byte, err error) {
	end := uint64(offset) + uint64(length)

	if end > uint64(len(e.Image)) {
		return d, fatal.Errorf(fatal.ImageVerifyDigestFailure, "digest region [%d, %d) outside of image", offset, end)
	}

	txn := e.acquire()
	defer txn.Release()

	if d, err = txn.Sum256(e.Image[offset:end]); err != nil {
		return d, fatal.Errorf(fatal.ImageVerifyDigestFailure, "accelerator fault, %w", err)
	}

	return
}

func (e *Env) VerifySignature(digest [32]byte, pub keyvault.PubKey, sig cert.Signature) (bool, error) {
	return e.Verifier.Verify(digest, pub, sig)
}

func (e *Env) fuseError(err error) {
	klog.Errorf("verify: fuse read error, %v", err)
	e.Policy.Halt(fatal.Errorf(fatal.FuseReadFailure, "fuse read failed, %w", err))
}

func (e *Env) VendorPubKeyHash() [32]byte {
	h, err := e.Fuses.VendorPubKeyHash()

	if err != nil {
		e.fuseError(err)
	}

	return h
}

func (e *Env) VendorPubKeyRevocation() uint32 {
	m, err := e.Fuses.VendorPubKeyRevocation()

	if err != nil {
		e.fuseError(err)
	}

	return m
}

func (e *Env) OwnerPubKeyHash() [32]byte {
	h, err := e.Fuses.OwnerPubKeyHash()

	if err != nil {
		e.fuseError(err)
	}

	return h
}

func (e *Env) AntiRollbackDisabled() bool {
	d, err := e.Fuses.AntiRollbackDisable()

	if err != nil {
		e.fuseError(err)
	}

	return d
}

func (e *Env) Lifecycle() image.Lifecycle {
	l, err := e.Fuses.Lifecycle()

	if err != nil {
		e.fuseError(err)
	}

	return l
}

// MinSVN returns the minimum SVN a stage image must carry.
func (e *Env) MinSVN(stage image.Stage) uint32 {
	svn, err := e.Fuses.SVN(stage)

	if err != nil {
		e.fuseError(err)
	}

	if e.Rollback == nil {
		return svn
	}

	sector := uint16(rollback.FmcSector)

	if stage == image.StageRt {
		sector = rollback.RtSector
	}

	stored, err := e.Rollback.MinSVN(sector)

	if err != nil {
		e.Policy.Halt(fatal.Errorf(fatal.RollbackFailure, "could not read %s rollback sector, %w", stage, err))
	}

	return max(svn, stored)
}

func (e *Env) ICCMRange() transfer.Region {
	return e.ICCM
}

func (e *Env) VendorPubKeyIndexFromVault() uint32 {
	return e.Vault.VendorPubKeyIndex()
}

func (e *Env) OwnerPubKeyHashFromVault() [32]byte {
	return e.Vault.OwnerPubKeyHash()
}

func (e *Env) FmcDigestFromVault() [32]byte {
	return e.Vault.FmcTCI()
}

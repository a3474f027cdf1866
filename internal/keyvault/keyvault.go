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

// Package keyvault defines the slot-indexed key store capability the boot
// stages derive identities with.
//
// Key material never leaves the key store, stages only pass slot indices to
// each other through the handoff table.
package keyvault

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"io"
	"math/big"
)

// KeyID is the index of a key store slot.
type KeyID uint8

// NumKeys is the number of key store slots.
const NumKeys = 32

// Slot assignment
const (
	UDS KeyID = iota
	IDevIDCDI
	IDevIDPrivKey
	LDevIDCDI
	LDevIDPrivKey
	FmcAliasCDI
	FmcAliasPrivKey
	RtAliasCDI
	RtAliasPrivKey
)

// PubKey is a P-256 public key in affine coordinates.
type PubKey struct {
	X [32]byte
	Y [32]byte
}

// ECDSA returns the public key in crypto/ecdsa format.
func (k PubKey) ECDSA() *ecdsa.PublicKey {
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(k.X[:]),
		Y:     new(big.Int).SetBytes(k.Y[:]),
	}
}

// IsZero reports whether the key is unset.
func (k PubKey) IsZero() bool {
	return k == PubKey{}
}

// KeyVault is the key store capability.
type KeyVault interface {
	// DeriveCDI derives a compound device identifier into dst from the
	// secret held in src and a measurement.
	DeriveCDI(dst KeyID, src KeyID, measurement []byte) error
	// DeriveKeyPair derives a P-256 key pair into priv from the CDI held
	// in cdi, the public key is returned.
	DeriveKeyPair(cdi KeyID, priv KeyID) (PubKey, error)
	// PublicKey returns the public key matching the private key in priv.
	PublicKey(priv KeyID) (PubKey, error)
	// Sign returns the ASN.1 encoded ECDSA signature of digest.
	Sign(priv KeyID, digest []byte) ([]byte, error)
	// Erase clears a slot.
	Erase(id KeyID) error
}

type signer struct {
	kv  KeyVault
	id  KeyID
	pub *ecdsa.PublicKey
}

// Signer returns a crypto.Signer backed by a private key slot.
func Signer(kv KeyVault, priv KeyID) (crypto.Signer, error) {
	pub, err := kv.PublicKey(priv)

	if err != nil {
		return nil, err
	}

	return &signer{
		kv:  kv,
		id:  priv,
		pub: pub.ECDSA(),
	}, nil
}

func (s *signer) Public() crypto.PublicKey {
	return s.pub
}

func (s *signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if opts != nil && opts.HashFunc() != crypto.SHA256 {
		return nil, fmt.Errorf("unsupported hash %v", opts.HashFunc())
	}

	return s.kv.Sign(s.id, digest)
}

// FromECDSA converts a P-256 public key.
func FromECDSA(pub *ecdsa.PublicKey) (k PubKey) {
	pub.X.FillBytes(k.X[:])
	pub.Y.FillBytes(k.Y[:])

	return
}

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

// Package cert assembles DICE identity certificates from a to-be-signed
// template prepared by the issuing stage and the signature it recorded in the
// vault.
package cert

import (
	"encoding/asn1"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/transparency-dev/armored-witness-dice/fatal"
)

var oidSignatureECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}

// Signature is a P-256 ECDSA signature as stored in two wide vault slots.
type Signature struct {
	R [32]byte
	S [32]byte
}

// IsZero reports whether the signature is unset.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// ASN1 returns the Ecdsa-Sig-Value encoding of the signature.
func (s Signature) ASN1() []byte {
	var b cryptobyte.Builder

	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(new(big.Int).SetBytes(s.R[:]))
		b.AddASN1BigInt(new(big.Int).SetBytes(s.S[:]))
	})

	return b.BytesOrPanic()
}

// ParseSignature converts an Ecdsa-Sig-Value into its fixed size form.
func ParseSignature(der []byte) (sig Signature, err error) {
	var inner cryptobyte.String

	r := new(big.Int)
	s := new(big.Int)
	in := cryptobyte.String(der)

	if !in.ReadASN1(&inner, cbasn1.SEQUENCE) || !in.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return sig, fatal.New(fatal.DiceCertificateFailure, "invalid ECDSA signature encoding")
	}

	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > 256 || s.BitLen() > 256 {
		return sig, fatal.New(fatal.DiceCertificateFailure, "ECDSA signature out of range")
	}

	r.FillBytes(sig.R[:])
	s.FillBytes(sig.S[:])

	return
}

// Builder splices a signature into a to-be-signed certificate template.
type Builder struct {
	tbs []byte
	sig Signature
}

// NewBuilder validates its inputs, the template must be exactly one DER
// SEQUENCE and the signature must be set.
func NewBuilder(tbs []byte, sig Signature) (*Builder, error) {
	var elem cryptobyte.String

	in := cryptobyte.String(tbs)

	if !in.ReadASN1Element(&elem, cbasn1.SEQUENCE) || !in.Empty() {
		return nil, fatal.Errorf(fatal.RuntimeInsufficientMemory, "invalid TBS template (%d bytes)", len(tbs))
	}

	if sig.IsZero() {
		return nil, fatal.New(fatal.RuntimeInsufficientMemory, "missing certificate signature")
	}

	return &Builder{
		tbs: tbs,
		sig: sig,
	}, nil
}

func (b *Builder) bytes() ([]byte, error) {
	var c cryptobyte.Builder

	c.AddASN1(cbasn1.SEQUENCE, func(c *cryptobyte.Builder) {
		c.AddBytes(b.tbs)
		c.AddASN1(cbasn1.SEQUENCE, func(c *cryptobyte.Builder) {
			c.AddASN1ObjectIdentifier(oidSignatureECDSAWithSHA256)
		})
		c.AddASN1BitString(b.sig.ASN1())
	})

	der, err := c.Bytes()

	if err != nil {
		return nil, fatal.Errorf(fatal.RuntimeInsufficientMemory, "could not assemble certificate, %w", err)
	}

	return der, nil
}

// Len returns the size of the certificate.
func (b *Builder) Len() (int, error) {
	der, err := b.bytes()
	return len(der), err
}

// Build writes the certificate to out and returns its length. An undersized
// buffer results in an error, out is never partially written.
func (b *Builder) Build(out []byte) (int, error) {
	der, err := b.bytes()

	if err != nil {
		return 0, err
	}

	if len(der) > len(out) {
		return 0, fatal.Errorf(fatal.RuntimeInsufficientMemory, "certificate needs %d bytes, buffer holds %d", len(der), len(out))
	}

	return copy(out, der), nil
}

// Build assembles the certificate for template tbs and signature sig into
// out.
func Build(tbs []byte, sig Signature, out []byte) (int, error) {
	b, err := NewBuilder(tbs, sig)

	if err != nil {
		return 0, err
	}

	return b.Build(out)
}

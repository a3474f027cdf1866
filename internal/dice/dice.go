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

// Package dice derives DICE layers: the compound device identifier of a
// layer, its alias key pair and the certificate its parent issues for it.
//
// Certificates are not kept whole, the to-be-signed part is retained as a
// template and the signature is recorded in the vault, cert.Build reassembles
// them on demand.
package dice

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/cert"
	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
)

const Vendor = "Armored Witness"

// Subject common names of the layers.
const (
	IDevIDName   = "Armored Witness IDevID"
	LDevIDName   = "Armored Witness LDevID"
	FmcAliasName = "Armored Witness FMC Alias"
	RtAliasName  = "Armored Witness RT Alias"
)

var (
	notBefore = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	// RFC 5280 4.1.2.5, no well-defined expiration date
	notAfter = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// Params describes a layer derivation.
type Params struct {
	// ParentCDI is the key slot holding the CDI the layer CDI is derived
	// from.
	ParentCDI keyvault.KeyID
	// Issuer is the key slot holding the private key which certifies the
	// layer.
	Issuer     keyvault.KeyID
	IssuerName string

	CDI     keyvault.KeyID
	PrivKey keyvault.KeyID
	Name    string

	// TCI is the measurement of the layer.
	TCI     [32]byte
	SVN     uint32
	Layer   int
	Version string
	// CA is set when the layer certifies further layers.
	CA bool
}

// Output is the result of a layer derivation.
type Output struct {
	CDI       keyvault.KeyID
	PrivKey   keyvault.KeyID
	PubKey    keyvault.PubKey
	TBS       []byte
	Signature cert.Signature
}

// Certificate assembles the layer certificate.
func (o *Output) Certificate() ([]byte, error) {
	b, err := cert.NewBuilder(o.TBS, o.Signature)

	if err != nil {
		return nil, err
	}

	n, err := b.Len()

	if err != nil {
		return nil, err
	}

	der := make([]byte, n)
	_, err = b.Build(der)

	return der, err
}

// KeyID returns the identifier of a public key, the first 20 bytes of the
// SHA-256 digest of its uncompressed encoding.
func KeyID(pub keyvault.PubKey) []byte {
	h := sha256.New()
	h.Write([]byte{0x04})
	h.Write(pub.X[:])
	h.Write(pub.Y[:])

	return h.Sum(nil)[:20]
}

// Subject returns the distinguished name of the holder of pub.
func Subject(name string, pub keyvault.PubKey) pkix.Name {
	return pkix.Name{
		CommonName:   name,
		SerialNumber: hex.EncodeToString(KeyID(pub)),
	}
}

func serial(pub keyvault.PubKey) *big.Int {
	id := KeyID(pub)
	// positive INTEGER
	id[0] &= 0x7f

	return new(big.Int).SetBytes(id)
}

// split separates a certificate into its to-be-signed part and signature.
func split(der []byte) (tbs []byte, sig cert.Signature, err error) {
	var c, elem cryptobyte.String
	var alg cryptobyte.String
	var bits asn1.BitString

	in := cryptobyte.String(der)

	if !in.ReadASN1(&c, cbasn1.SEQUENCE) || !in.Empty() ||
		!c.ReadASN1Element(&elem, cbasn1.SEQUENCE) ||
		!c.ReadASN1(&alg, cbasn1.SEQUENCE) ||
		!c.ReadASN1BitString(&bits) || !c.Empty() {
		return nil, sig, fatal.New(fatal.DiceCertificateFailure, "malformed certificate")
	}

	sig, err = cert.ParseSignature(bits.RightAlign())

	return elem, sig, err
}

// Derive derives the layer described by p and issues its certificate.
func Derive(kv keyvault.KeyVault, p *Params) (*Output, error) {
	if err := kv.DeriveCDI(p.CDI, p.ParentCDI, p.TCI[:]); err != nil {
		return nil, err
	}

	pub, err := kv.DeriveKeyPair(p.CDI, p.PrivKey)

	if err != nil {
		return nil, err
	}

	signer, err := keyvault.Signer(kv, p.Issuer)

	if err != nil {
		return nil, err
	}

	issuerPub, err := kv.PublicKey(p.Issuer)

	if err != nil {
		return nil, err
	}

	tcb := &cert.TcbInfo{
		Vendor:  Vendor,
		Model:   p.Name,
		Version: p.Version,
		SVN:     int(p.SVN),
		Layer:   p.Layer,
		Fwids: []cert.Fwid{
			{HashAlg: cert.OIDSHA256, Digest: p.TCI[:]},
		},
	}

	ext, err := tcb.Extension()

	if err != nil {
		return nil, fatal.Errorf(fatal.DiceCertificateFailure, "could not encode TCB info, %w", err)
	}

	parent := &x509.Certificate{
		Subject:      Subject(p.IssuerName, issuerPub),
		SubjectKeyId: KeyID(issuerPub),
		PublicKey:    signer.Public(),
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial(pub),
		Subject:               Subject(p.Name, pub),
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		SignatureAlgorithm:    x509.ECDSAWithSHA256,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		SubjectKeyId:          KeyID(pub),
		ExtraExtensions:       []pkix.Extension{ext},
	}

	if p.CA {
		tmpl.IsCA = true
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub.ECDSA(), signer)

	if err != nil {
		return nil, fatal.Errorf(fatal.DiceCertificateFailure, "could not issue %s certificate, %w", p.Name, err)
	}

	tbs, sig, err := split(der)

	if err != nil {
		return nil, err
	}

	klog.Infof("dice: derived %s layer %d (key %x)", p.Name, p.Layer, KeyID(pub))

	return &Output{
		CDI:       p.CDI,
		PrivKey:   p.PrivKey,
		PubKey:    pub,
		TBS:       tbs,
		Signature: sig,
	}, nil
}

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
package testonly

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/coreos/go-semver/semver"

	"github.com/transparency-dev/armored-witness-dice/internal/image"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
	"github.com/transparency-dev/armored-witness-dice/internal/layout"
	"github.com/transparency-dev/armored-witness-dice/internal/verify"
)

// Load addresses of the test firmware components.
const (
	FmcLoadAddr = layout.ICCMStart
	RtLoadAddr  = layout.ICCMStart + 0x00100000
)

// Firmware is a signed test image together with the keys it was signed with.
type Firmware struct {
	Image      []byte
	Options    *image.BuildOptions
	VendorKeys [image.NumVendorKeys]*ecdsa.PrivateKey
	OwnerKey   *ecdsa.PrivateKey
}

func payload(n int, seed byte) []byte {
	buf := make([]byte, n)

	for i := range buf {
		buf[i] = seed + byte(i)
	}

	return buf
}

// NewFirmware builds a valid image, modify is invoked on the build options
// before signing when not nil.
func NewFirmware(t *testing.T, modify func(*image.BuildOptions)) *Firmware {
	t.Helper()

	f := &Firmware{}

	for i := range f.VendorKeys {
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

		if err != nil {
			t.Fatal(err)
		}

		f.VendorKeys[i] = k
	}

	owner, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	if err != nil {
		t.Fatal(err)
	}

	f.OwnerKey = owner

	o := &image.BuildOptions{
		Version:        semver.New("1.2.3"),
		VendorKeyIndex: 1,
		OwnerKey:       owner,
		Fmc: image.Payload{
			Data:       payload(256, 0xf0),
			SVN:        1,
			LoadAddr:   FmcLoadAddr,
			EntryPoint: FmcLoadAddr,
		},
		Rt: image.Payload{
			Data:       payload(512, 0x70),
			SVN:        2,
			LoadAddr:   RtLoadAddr,
			EntryPoint: RtLoadAddr + 0x40,
		},
	}

	for i, k := range f.VendorKeys {
		o.VendorPubKeys[i] = keyvault.FromECDSA(&k.PublicKey)
	}

	if modify != nil {
		modify(o)
	}

	if o.VendorKey == nil && o.VendorKeyIndex < image.NumVendorKeys {
		o.VendorKey = f.VendorKeys[o.VendorKeyIndex]
	}

	f.Options = o

	if f.Image, err = image.Build(o); err != nil {
		t.Fatalf("image.Build: %v", err)
	}

	return f
}

// Fuses returns a fuse bank provisioned for the image keys.
func (f *Firmware) Fuses() *Fuses {
	return &Fuses{
		VendorHash: image.VendorKeysDigest(f.Options.VendorPubKeys),
		OwnerHash:  image.OwnerKeyDigest(keyvault.FromECDSA(&f.OwnerKey.PublicKey)),
		Life:       image.Production,
	}
}

// Fuses is an in-memory fuse bank.
type Fuses struct {
	VendorHash   [32]byte
	Revocation   uint32
	OwnerHash    [32]byte
	AntiRollback bool
	Life         image.Lifecycle
	FmcSVN       uint32
	RtSVN        uint32
	// Err is returned by every read when set.
	Err error
}

func (f *Fuses) VendorPubKeyHash() ([32]byte, error)     { return f.VendorHash, f.Err }
func (f *Fuses) VendorPubKeyRevocation() (uint32, error) { return f.Revocation, f.Err }
func (f *Fuses) OwnerPubKeyHash() ([32]byte, error)      { return f.OwnerHash, f.Err }
func (f *Fuses) AntiRollbackDisable() (bool, error)      { return f.AntiRollback, f.Err }
func (f *Fuses) Lifecycle() (image.Lifecycle, error)     { return f.Life, f.Err }

func (f *Fuses) SVN(s image.Stage) (uint32, error) {
	if s == image.StageRt {
		return f.RtSVN, f.Err
	}

	return f.FmcSVN, f.Err
}

// Accelerator is a software digest engine which can be made busy or faulty.
type Accelerator struct {
	// Busy is the number of acquisition attempts refused before one
	// succeeds.
	Busy     int
	Fault    error
	Attempts int
	Released int
	held     bool
}

type txn struct {
	a *Accelerator
}

func (a *Accelerator) TryStartOperation() (verify.Txn, bool) {
	a.Attempts++

	if a.held {
		return nil, false
	}

	if a.Busy > 0 {
		a.Busy--
		return nil, false
	}

	a.held = true

	return &txn{a: a}, true
}

// Held reports whether a transaction is outstanding.
func (a *Accelerator) Held() bool {
	return a.held
}

func (t *txn) Sum256(data []byte) ([32]byte, error) {
	if t.a.Fault != nil {
		return [32]byte{}, t.a.Fault
	}

	return sha256.Sum256(data), nil
}

func (t *txn) Release() {
	t.a.Released++
	t.a.held = false
}

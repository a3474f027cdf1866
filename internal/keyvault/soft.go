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

package keyvault

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/fatal"
)

const (
	cdiLabel = "armored-witness-dice CDI"
	keyLabel = "armored-witness-dice ECC private key"
)

type slotKind int

const (
	empty slotKind = iota
	secret
	private
)

type entry struct {
	kind   slotKind
	secret [32]byte
	key    *ecdsa.PrivateKey
}

// Soft is a software key store chaining HKDF-SHA256 derivations from a unique
// device secret.
type Soft struct {
	slots [NumKeys]entry
}

// NewSoft returns a key store holding the unique device secret in the UDS
// slot.
func NewSoft(uds []byte) (*Soft, error) {
	if len(uds) != 32 {
		return nil, fatal.Errorf(fatal.DiceDerivationFailure, "invalid UDS length %d", len(uds))
	}

	kv := &Soft{}
	kv.slots[UDS].kind = secret
	copy(kv.slots[UDS].secret[:], uds)

	return kv, nil
}

func (kv *Soft) get(id KeyID, kind slotKind) (*entry, error) {
	if int(id) >= NumKeys {
		return nil, fatal.Errorf(fatal.KeyVaultInvalidSlot, "invalid key slot %d", id)
	}

	e := &kv.slots[id]

	if e.kind != kind {
		return nil, fatal.Errorf(fatal.KeyVaultEmptySlot, "key slot %d does not hold the expected key type", id)
	}

	return e, nil
}

func (kv *Soft) expand(secret []byte, salt []byte, info string, n int) ([]byte, error) {
	buf := make([]byte, n)

	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), buf); err != nil {
		return nil, fatal.Errorf(fatal.DiceDerivationFailure, "key derivation failed, %w", err)
	}

	return buf, nil
}

func (kv *Soft) DeriveCDI(dst KeyID, src KeyID, measurement []byte) error {
	s, err := kv.get(src, secret)

	if err != nil {
		return err
	}

	if int(dst) >= NumKeys {
		return fatal.Errorf(fatal.KeyVaultInvalidSlot, "invalid key slot %d", dst)
	}

	cdi, err := kv.expand(s.secret[:], measurement, cdiLabel, 32)

	if err != nil {
		return err
	}

	klog.V(2).Infof("keyvault: CDI %d derived from %d", dst, src)

	e := entry{kind: secret}
	copy(e.secret[:], cdi)
	kv.slots[dst] = e

	return nil
}

// scalar maps 40 bytes of key material to [1, n-1].
func scalar(seed []byte) []byte {
	n := elliptic.P256().Params().N
	k := new(big.Int).SetBytes(seed)
	nMinusOne := new(big.Int).Sub(n, big.NewInt(1))

	k.Mod(k, nMinusOne)
	k.Add(k, big.NewInt(1))

	return k.FillBytes(make([]byte, 32))
}

func (kv *Soft) DeriveKeyPair(cdi KeyID, priv KeyID) (pub PubKey, err error) {
	s, err := kv.get(cdi, secret)

	if err != nil {
		return
	}

	if int(priv) >= NumKeys {
		return pub, fatal.Errorf(fatal.KeyVaultInvalidSlot, "invalid key slot %d", priv)
	}

	seed, err := kv.expand(s.secret[:], nil, keyLabel, 40)

	if err != nil {
		return
	}

	d := scalar(seed)
	k, err := ecdh.P256().NewPrivateKey(d)

	if err != nil {
		return pub, fatal.Errorf(fatal.DiceDerivationFailure, "invalid private key, %w", err)
	}

	// uncompressed point encoding: 0x04 || X || Y
	point := k.PublicKey().Bytes()
	copy(pub.X[:], point[1:33])
	copy(pub.Y[:], point[33:65])

	kv.slots[priv] = entry{
		kind: private,
		key: &ecdsa.PrivateKey{
			PublicKey: *pub.ECDSA(),
			D:         new(big.Int).SetBytes(d),
		},
	}

	klog.V(2).Infof("keyvault: key pair %d derived from %d", priv, cdi)

	return
}

func (kv *Soft) PublicKey(priv KeyID) (pub PubKey, err error) {
	e, err := kv.get(priv, private)

	if err != nil {
		return
	}

	e.key.X.FillBytes(pub.X[:])
	e.key.Y.FillBytes(pub.Y[:])

	return
}

func (kv *Soft) Sign(priv KeyID, digest []byte) ([]byte, error) {
	e, err := kv.get(priv, private)

	if err != nil {
		return nil, err
	}

	return ecdsa.SignASN1(rand.Reader, e.key, digest)
}

func (kv *Soft) Erase(id KeyID) error {
	if int(id) >= NumKeys {
		return fatal.Errorf(fatal.KeyVaultInvalidSlot, "invalid key slot %d", id)
	}

	kv.slots[id] = entry{}

	return nil
}

// entrySize is the persisted size of a slot: kind followed by the secret or
// private scalar.
const entrySize = 1 + 32

// Size is the length of the key store persisted representation.
const Size = NumKeys * entrySize

// MarshalBinary returns the key store contents, for retention across stages
// in protected memory.
func (kv *Soft) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)

	for i, e := range kv.slots {
		off := i * entrySize
		buf[off] = byte(e.kind)

		switch e.kind {
		case secret:
			copy(buf[off+1:off+entrySize], e.secret[:])
		case private:
			e.key.D.FillBytes(buf[off+1 : off+entrySize])
		}
	}

	return buf, nil
}

// UnmarshalBinary restores the key store contents.
func (kv *Soft) UnmarshalBinary(buf []byte) error {
	if len(buf) != Size {
		return fatal.Errorf(fatal.KeyVaultInvalidSlot, "invalid key store length %d", len(buf))
	}

	var slots [NumKeys]entry

	for i := range slots {
		off := i * entrySize
		val := buf[off+1 : off+entrySize]

		switch slotKind(buf[off]) {
		case empty:
		case secret:
			slots[i].kind = secret
			copy(slots[i].secret[:], val)
		case private:
			k, err := ecdh.P256().NewPrivateKey(val)

			if err != nil {
				return fatal.Errorf(fatal.KeyVaultInvalidSlot, "invalid private key in slot %d, %w", i, err)
			}

			var pub PubKey
			point := k.PublicKey().Bytes()
			copy(pub.X[:], point[1:33])
			copy(pub.Y[:], point[33:65])

			slots[i] = entry{
				kind: private,
				key: &ecdsa.PrivateKey{
					PublicKey: *pub.ECDSA(),
					D:         new(big.Int).SetBytes(val),
				},
			}
		default:
			return fatal.Errorf(fatal.KeyVaultInvalidSlot, "invalid kind %d in slot %d", buf[off], i)
		}
	}

	kv.slots = slots

	return nil
}

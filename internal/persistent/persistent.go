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

// Package persistent implements the layout of the memory region handing state
// over between boot stages: the handoff table, the vault, the key store and
// the certificate templates.
//
// The region survives warm resets only, a missing marker or a checksum
// mismatch identifies a cold boot.
package persistent

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/handoff"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
	"github.com/transparency-dev/armored-witness-dice/vault"
)

const (
	// Marker identifies an initialized region ("APDR").
	Marker  = 0x52445041
	Version = 1

	// TBSMaxSize is the capacity of a certificate template.
	TBSMaxSize = 1024

	headerSize   = 8
	templateSize = 2 + TBSMaxSize
	numTemplates = 3
)

// Size is the length of the persisted region.
var Size = headerSize + handoff.TableSize + vault.Size + keyvault.Size + numTemplates*templateSize + sha256.Size

// ErrNotInitialized is returned when the region does not carry a valid
// marker, as is the case after a cold reset.
var ErrNotInitialized = errors.New("persistent data not initialized")

// Data is the state handed over between boot stages.
type Data struct {
	FHT      *handoff.Table
	Vault    *vault.Vault
	KeyVault *keyvault.Soft

	LDevIDTBS   []byte
	FmcAliasTBS []byte
	RtAliasTBS  []byte
}

// New returns the state of a cold boot: a new handoff table, an empty vault
// and the given key store.
func New(kv *keyvault.Soft) *Data {
	return &Data{
		FHT:      handoff.New(),
		Vault:    &vault.Vault{},
		KeyVault: kv,
	}
}

func putTemplate(buf *bytes.Buffer, tbs []byte) error {
	if len(tbs) > TBSMaxSize {
		return fatal.Errorf(fatal.RuntimeInsufficientMemory, "certificate template too large (%d > %d)", len(tbs), TBSMaxSize)
	}

	var t [templateSize]byte
	binary.LittleEndian.PutUint16(t[0:2], uint16(len(tbs)))
	copy(t[2:], tbs)
	buf.Write(t[:])

	return nil
}

func getTemplate(t []byte) ([]byte, error) {
	n := int(binary.LittleEndian.Uint16(t[0:2]))

	if n > TBSMaxSize {
		return nil, fmt.Errorf("invalid certificate template size %d", n)
	}

	if n == 0 {
		return nil, nil
	}

	return bytes.Clone(t[2 : 2+n]), nil
}

// MarshalBinary returns the persisted representation, terminated by its
// SHA-256 digest.
func (d *Data) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)

	binary.Write(buf, binary.LittleEndian, uint32(Marker))
	binary.Write(buf, binary.LittleEndian, uint32(Version))

	for _, m := range []interface{ MarshalBinary() ([]byte, error) }{d.FHT, d.Vault, d.KeyVault} {
		b, err := m.MarshalBinary()

		if err != nil {
			return nil, err
		}

		buf.Write(b)
	}

	for _, tbs := range [][]byte{d.LDevIDTBS, d.FmcAliasTBS, d.RtAliasTBS} {
		if err := putTemplate(buf, tbs); err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256(buf.Bytes())
	buf.Write(sum[:])

	return buf.Bytes(), nil
}

// UnmarshalBinary restores the state from its persisted representation.
func (d *Data) UnmarshalBinary(buf []byte) (err error) {
	if len(buf) < Size {
		return fmt.Errorf("invalid persistent data length %d", len(buf))
	}

	buf = buf[:Size]

	if binary.LittleEndian.Uint32(buf[0:4]) != Marker {
		return ErrNotInitialized
	}

	if v := binary.LittleEndian.Uint32(buf[4:8]); v != Version {
		return fmt.Errorf("unsupported persistent data version %d", v)
	}

	body := buf[:Size-sha256.Size]

	if sum := sha256.Sum256(body); !bytes.Equal(sum[:], buf[len(body):]) {
		return errors.New("persistent data checksum mismatch")
	}

	off := headerSize
	next := func(n int) []byte {
		b := body[off : off+n]
		off += n
		return b
	}

	fht := &handoff.Table{}
	v := &vault.Vault{}
	kv := &keyvault.Soft{}

	if err = fht.UnmarshalBinary(next(handoff.TableSize)); err != nil {
		return
	}

	if err = v.UnmarshalBinary(next(vault.Size)); err != nil {
		return
	}

	if err = kv.UnmarshalBinary(next(keyvault.Size)); err != nil {
		return
	}

	var tbs [numTemplates][]byte

	for i := range tbs {
		if tbs[i], err = getTemplate(next(templateSize)); err != nil {
			return
		}
	}

	*d = Data{
		FHT:         fht,
		Vault:       v,
		KeyVault:    kv,
		LDevIDTBS:   tbs[0],
		FmcAliasTBS: tbs[1],
		RtAliasTBS:  tbs[2],
	}

	return
}

// Load restores the state held in mem.
func Load(mem []byte) (*Data, error) {
	d := &Data{}

	if err := d.UnmarshalBinary(mem); err != nil {
		return nil, err
	}

	return d, nil
}

// Store persists the state into mem.
func (d *Data) Store(mem []byte) error {
	buf, err := d.MarshalBinary()

	if err != nil {
		return err
	}

	if len(mem) < len(buf) {
		return fatal.Errorf(fatal.RuntimeInsufficientMemory, "persistent region too small (%d < %d)", len(mem), len(buf))
	}

	copy(mem, buf)

	return nil
}

// Invalidate clears the region marker, the next boot is a cold one.
func Invalidate(mem []byte) {
	if len(mem) >= 4 {
		binary.LittleEndian.PutUint32(mem[0:4], 0)
	}
}

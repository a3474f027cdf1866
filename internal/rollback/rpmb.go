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
package rollback

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/rpmb"
)

const (
	// DiversifierMAC is the diversifier of the hardware key from which the
	// RPMB authentication key is derived.
	DiversifierMAC = "ArmoredDICEMAC"

	svnLength = 4
	iter      = 4096
)

// DeriveKey returns the RPMB authentication key for a device, from a
// hardware derived key and the SoC unique ID.
func DeriveKey(dk []byte, uid []byte) []byte {
	return pbkdf2.Key(dk, uid, iter, sha256.Size, sha256.New)
}

// ProgrammedFlag is a one-time programmable flag recording that the RPMB key
// has been programmed, which prevents an eMMC replacement from intercepting a
// second programming.
type ProgrammedFlag interface {
	Read() (bool, error)
	Blow() error
}

// RPMB is a store backed by the eMMC replay protected partition.
type RPMB struct {
	partition *rpmb.RPMB
}

// Open initializes the RPMB partition of card, the authentication key is
// programmed on first use.
func Open(card rpmb.Card, key []byte, flag ProgrammedFlag) (*RPMB, error) {
	p, err := rpmb.Init(card, key, DummySector, false)

	if err != nil {
		return nil, err
	}

	programmed, err := p.KeyProgrammed()

	if err != nil {
		return nil, fmt.Errorf("could not read RPMB counter (%v)", err)
	}

	if programmed {
		// invalidate uncommitted writes
		if err = p.Write(DummySector, nil); err != nil {
			return nil, fmt.Errorf("RPMB dummy write failed (%v)", err)
		}

		return &RPMB{partition: p}, nil
	}

	// If already fused refuse to do any programming and bail.
	if fused, err := flag.Read(); err != nil || fused {
		return nil, fmt.Errorf("could not read RPMB program key flag (%t, %v)", fused, err)
	}

	if err = flag.Blow(); err != nil {
		return nil, fmt.Errorf("could not fuse RPMB program key flag (%v)", err)
	}

	klog.Info("rollback: RPMB authentication key not yet programmed, programming")

	if err = p.ProgramKey(); err != nil {
		return nil, fmt.Errorf("could not program RPMB key (%v)", err)
	}

	return &RPMB{partition: p}, nil
}

func (r *RPMB) read(sector uint16) (uint32, error) {
	if err := checkSector(sector); err != nil {
		return 0, err
	}

	if r.partition == nil {
		return 0, errors.New("RPMB has not been initialized")
	}

	buf := make([]byte, svnLength)

	if err := r.partition.Read(sector, buf); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(buf), nil
}

func (r *RPMB) write(sector uint16, svn uint32) error {
	buf := make([]byte, svnLength)
	binary.BigEndian.PutUint32(buf, svn)

	return r.partition.Write(sector, buf)
}

func (r *RPMB) MinSVN(sector uint16) (uint32, error) {
	return r.read(sector)
}

func (r *RPMB) Commit(sector uint16, svn uint32) error {
	return commit(sector, svn, r.read, r.write)
}

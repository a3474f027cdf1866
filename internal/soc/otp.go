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


//go:build tamago && arm
// +build tamago,arm

package soc

import (
	"bytes"
	"math/big"
	"math/bits"

	"github.com/usbarmory/crucible/otp"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/transparency-dev/armored-witness-dice/internal/image"
)

// OTP fuse map, each entry is a bank, a word and a bit offset.
const (
	// SRK_HASH
	vendorKeyHashBank = 3
	vendorKeyHashWord = 0

	ownerKeyHashBank = 6
	ownerKeyHashWord = 0

	// GP1, bit 0 is the RPMB programmed flag
	flagsBank          = 4
	flagsWord          = 6
	rpmbFlagOff        = 0
	antiRollbackOff    = 1
	manufacturingOff   = 2
	vendorRevokeOff    = 4
	vendorRevokeLength = 4

	// GP2, thermometer encoded minimum SVNs
	svnBank   = 4
	svnWord   = 7
	fmcSVNOff = 0
	rtSVNOff  = 16
	svnLength = 16
)

func readWord(bank int, word int, off int, size int) (uint32, error) {
	res, err := otp.ReadOCOTP(bank, word, off, size)

	if err != nil {
		return 0, err
	}

	return uint32(new(big.Int).SetBytes(res).Uint64()), nil
}

func readHash(bank int, word int) (h [32]byte, err error) {
	res, err := otp.ReadOCOTP(bank, word, 0, 256)

	if err != nil {
		return
	}

	copy(h[:], res)

	return
}

// Fuses reads the trust root facts from the on-chip OTP controller.
type Fuses struct{}

func (Fuses) VendorPubKeyHash() ([32]byte, error) {
	return readHash(vendorKeyHashBank, vendorKeyHashWord)
}

func (Fuses) VendorPubKeyRevocation() (uint32, error) {
	return readWord(flagsBank, flagsWord, vendorRevokeOff, vendorRevokeLength)
}

func (Fuses) OwnerPubKeyHash() ([32]byte, error) {
	return readHash(ownerKeyHashBank, ownerKeyHashWord)
}

func (Fuses) AntiRollbackDisable() (bool, error) {
	v, err := readWord(flagsBank, flagsWord, antiRollbackOff, 1)
	return v == 1, err
}

// Lifecycle is Production once secure boot is enabled, Manufacturing when
// only the manufacturing flag is burned.
func (Fuses) Lifecycle() (image.Lifecycle, error) {
	if imx6ul.SNVS.Available() {
		return image.Production, nil
	}

	v, err := readWord(flagsBank, flagsWord, manufacturingOff, 1)

	if err != nil {
		return image.Unprovisioned, err
	}

	if v == 1 {
		return image.Manufacturing, nil
	}

	return image.Unprovisioned, nil
}

func (Fuses) SVN(stage image.Stage) (uint32, error) {
	off := fmcSVNOff

	if stage == image.StageRt {
		off = rtSVNOff
	}

	v, err := readWord(svnBank, svnWord, off, svnLength)

	if err != nil {
		return 0, err
	}

	return uint32(bits.OnesCount32(v)), nil
}

// RPMBFlag is the fuse recording the RPMB authentication key programming, it
// prevents a malicious eMMC replacement from intercepting the key.
type RPMBFlag struct{}

func (RPMBFlag) Read() (bool, error) {
	res, err := otp.ReadOCOTP(flagsBank, flagsWord, rpmbFlagOff, 1)
	return bytes.Equal(res, []byte{1}), err
}

func (RPMBFlag) Blow() error {
	return otp.BlowOCOTP(flagsBank, flagsWord, rpmbFlagOff, 1, []byte{1})
}

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

// Package soc binds the boot stages to the USB armory Mk II (NXP i.MX6UL):
// memory layout, digest accelerator, fuses, eMMC storage, key derivation and
// fatal error reporting.
package soc

import (
	"crypto/aes"
	"crypto/sha256"
	"fmt"
	"io"
	"unsafe"

	"golang.org/x/crypto/hkdf"

	"github.com/usbarmory/tamago/dma"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/transparency-dev/armored-witness-dice/internal/layout"
	"github.com/transparency-dev/armored-witness-dice/internal/persistent"
	"github.com/transparency-dev/armored-witness-dice/internal/rollback"
)

// DiversifierUDS is the diversifier of the hardware key from which the unique
// device secret is derived.
const DiversifierUDS = "ArmoredDICEUDS"

// Init configures the SoC, it must be called by every stage before any other
// function of this package.
func Init() {
	if imx6ul.Native {
		imx6ul.SetARMFreq(imx6ul.Freq792)
		imx6ul.DCP.Init()
	}

	dma.Init(layout.DMAStart, layout.DMASize)

	deriveKeyMemory, _ := dma.NewRegion(imx6ul.OCRAM_START, imx6ul.OCRAM_SIZE, false)

	if imx6ul.DCP != nil {
		imx6ul.DCP.DeriveKeyMemory = deriveKeyMemory
	}
}

// Persistent returns the memory region surviving warm resets.
func Persistent() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(layout.PersistentStart))), persistent.Size)
}

func hardwareKey(diversifier string) ([]byte, error) {
	if !imx6ul.Native {
		k := sha256.Sum256([]byte(diversifier))
		return k[:aes.BlockSize], nil
	}

	return imx6ul.DCP.DeriveKey([]byte(diversifier), make([]byte, aes.BlockSize), -1)
}

// UDS returns the unique device secret, derived from the OTP master key and
// the SoC unique identifier.
func UDS() ([]byte, error) {
	dk, err := hardwareKey(DiversifierUDS)

	if err != nil {
		return nil, fmt.Errorf("could not derive UDS (%v)", err)
	}

	uid := imx6ul.UniqueID()
	uds := make([]byte, sha256.Size)

	if _, err = io.ReadFull(hkdf.New(sha256.New, dk, uid[:], []byte(DiversifierUDS)), uds); err != nil {
		return nil, err
	}

	return uds, nil
}

// RollbackKey returns the RPMB authentication key.
func RollbackKey() ([]byte, error) {
	dk, err := hardwareKey(rollback.DiversifierMAC)

	if err != nil {
		return nil, fmt.Errorf("could not derive RPMB key (%v)", err)
	}

	uid := imx6ul.UniqueID()

	return rollback.DeriveKey(dk, uid[:]), nil
}

// Halt stops forward progress until the next power cycle.
func Halt() {
	imx6ul.ARM.DisableInterrupts()

	for {
		imx6ul.ARM.WaitInterrupt()
	}
}

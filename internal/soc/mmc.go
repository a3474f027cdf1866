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
	"fmt"
	"log"

	usbarmory "github.com/usbarmory/tamago/board/usbarmory/mk2"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"
	"github.com/usbarmory/tamago/soc/nxp/usdhc"

	"github.com/transparency-dev/armored-witness-dice/internal/storage"
)

// Card mirrors the block API of usdhc.USDHC.
type Card interface {
	Detect() error
	Info() usdhc.CardInfo
	ReadBlocks(lba int, buf []byte) error
	WriteBlocks(lba int, buf []byte) error
}

// MMC adapts a card to storage.Device.
type MMC struct {
	Card Card
}

var _ storage.Device = &MMC{}

func (m *MMC) BlockSize() uint {
	return uint(m.Card.Info().BlockSize)
}

func (m *MMC) ReadBlocks(lba uint, b []byte) error {
	return m.Card.ReadBlocks(int(lba), b)
}

func (m *MMC) WriteBlocks(lba uint, b []byte) (uint, error) {
	if err := m.Card.WriteBlocks(int(lba), b); err != nil {
		return 0, err
	}

	return uint(len(b)) / m.BlockSize(), nil
}

// Storage detects and returns the internal eMMC, the returned card also
// serves RPMB transfers.
func Storage() (*MMC, *usdhc.USDHC, error) {
	if !imx6ul.Native {
		return nil, nil, fmt.Errorf("no eMMC under emulation")
	}

	card := usbarmory.MMC

	if err := card.Detect(); err != nil {
		return nil, nil, fmt.Errorf("failed to detect storage, %v", err)
	}

	log.Printf("eMMC detected, %d blocks of %d bytes", card.Info().Blocks, card.Info().BlockSize)

	return &MMC{Card: card}, card, nil
}

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
	"fmt"
	"log"

	"github.com/usbarmory/armory-boot/exec"
	"github.com/usbarmory/tamago/arm"
	"github.com/usbarmory/tamago/dma"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/transparency-dev/armored-witness-dice/internal/layout"
)

var elfMagic = []byte("\x7fELF")

// ICCM loads verified components in the instruction memory region.
type ICCM struct {
	region *dma.Region
}

// NewICCM reserves the instruction memory region.
func NewICCM() (*ICCM, error) {
	r, err := dma.NewRegion(layout.ICCMStart, layout.ICCMSize, false)

	if err != nil {
		return nil, err
	}

	r.Reserve(layout.ICCMSize, 0)

	// caching must be activated before image loading
	imx6ul.ARM.ConfigureMMU(uint32(r.Start()), uint32(r.End()), 0, arm.MemoryRegion)

	return &ICCM{region: r}, nil
}

// Load copies a component to addr, ELF components are loaded by segment
// instead.
func (m *ICCM) Load(addr uint32, data []byte) error {
	if bytes.HasPrefix(data, elfMagic) {
		img := &exec.ELFImage{
			Region: m.region,
			ELF:    data,
		}

		if err := img.Load(); err != nil {
			return err
		}

		log.Printf("ELF component loaded entry:%#x size:%d", img.Entry(), len(data))

		return nil
	}

	start := m.region.Start()
	end := uint64(addr) + uint64(len(data))

	if uint(addr) < start || end > uint64(m.region.End()) {
		return fmt.Errorf("component [%#x, %#x) outside of ICCM", addr, end)
	}

	m.region.Write(start, int(uint(addr)-start), data)

	return nil
}

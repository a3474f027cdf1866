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

// Package chain assembles a complete boot chain out of the host stand-ins,
// for tests of the stages following the ROM.
package chain

import (
	"bytes"
	"testing"

	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/layout"
	"github.com/transparency-dev/armored-witness-dice/internal/persistent"
	"github.com/transparency-dev/armored-witness-dice/internal/rollback"
	"github.com/transparency-dev/armored-witness-dice/internal/rom"
	"github.com/transparency-dev/armored-witness-dice/internal/storage"
	"github.com/transparency-dev/armored-witness-dice/internal/testonly"
	"github.com/transparency-dev/armored-witness-dice/internal/verify"
	"github.com/transparency-dev/armored-witness-dice/transfer"
)

// NumBlocks is the size of the test flash device.
const NumBlocks = storage.ImageBlock + 64

// Chain is a device with a released firmware image flashed.
type Chain struct {
	Firmware *testonly.Firmware
	Release  *testonly.Release
	Flash    *testonly.MemDev
	Memory   *testonly.Memory
	Jumper   *testonly.Jumper
	Rollback *rollback.Mem
	Reporter *testonly.Reporter

	ROM *rom.ROM
	// Persistent is the memory shared by the stages.
	Persistent []byte
}

// New returns a device whose ROM is ready to boot, tests are skipped when
// mock signature verification is compiled in.
func New(t *testing.T) *Chain {
	t.Helper()

	if verify.FastVerify {
		t.Skip("production lifecycle boot with mock verification")
	}

	c := &Chain{
		Firmware:   testonly.NewFirmware(t, nil),
		Release:    testonly.NewRelease(t),
		Flash:      testonly.NewMemDev(NumBlocks),
		Memory:     &testonly.Memory{},
		Jumper:     &testonly.Jumper{},
		Rollback:   &rollback.Mem{},
		Persistent: make([]byte, persistent.Size),
	}

	c.Write(t, c.Firmware.Image)

	policy, rep := testonly.NewPolicy()
	c.Reporter = rep

	c.ROM = &rom.ROM{
		Policy:       policy,
		UDS:          bytes.Repeat([]byte{0x3c}, 32),
		Fuses:        c.Firmware.Fuses(),
		Accelerator:  &testonly.Accelerator{Busy: 2},
		Verifier:     verify.NewSignatureVerifier(),
		Storage:      c.Flash,
		Rollback:     c.Rollback,
		Transparency: c.Release.Verifier,
		Loader:       c.Memory,
		Transfer:     c.Transfer(policy),
		Persistent:   c.Persistent,
	}

	return c
}

// Transfer returns a control transfer into the ICCM recorded by the chain
// jumper.
func (c *Chain) Transfer(policy *fatal.Policy) *transfer.Transfer {
	return &transfer.Transfer{
		Region: layout.ICCM(),
		Jumper: c.Jumper,
		Policy: policy,
	}
}

// Write flashes a released image.
func (c *Chain) Write(t *testing.T, img []byte) {
	t.Helper()

	if err := storage.Write(c.Flash, c.Release.Bundle(t, img)); err != nil {
		t.Fatalf("storage.Write: %v", err)
	}
}

// MustJump runs fn and fails the test unless it transfers to entry.
func MustJump(t *testing.T, entry uint32, fn func()) {
	t.Helper()

	o := testonly.Run(t, fn)

	if o.Jumped == nil || o.Jumped.Entry != entry {
		t.Fatalf("Got %v, want jump to %#08x", o, entry)
	}
}

// BootROM runs the ROM to the FMC and returns the state it handed over.
func (c *Chain) BootROM(t *testing.T) *persistent.Data {
	t.Helper()

	MustJump(t, c.Firmware.Options.Fmc.EntryPoint, c.ROM.Boot)

	d, err := persistent.Load(c.Persistent)

	if err != nil {
		t.Fatalf("persistent.Load: %v", err)
	}

	return d
}

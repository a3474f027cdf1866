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

// Package layout describes the memory map shared by the boot stages.
package layout

import (
	"github.com/transparency-dev/armored-witness-dice/transfer"
)

const (
	// Stage runtime memory
	RAMStart = 0x80000000
	RAMSize  = 0x0e000000 // 224MB

	// DMA region
	DMAStart = 0x8e000000
	DMASize  = 0x01f00000 // 31MB

	// Persistent data surviving warm reset
	PersistentStart = 0x8ff00000
	PersistentSize  = 0x00100000 // 1MB

	// Instruction closely coupled memory, FMC and runtime images execute
	// from here.
	ICCMStart = 0x90000000
	ICCMSize  = 0x10000000 // 256MB
)

// ICCM returns the region control transfers are bounded to.
func ICCM() transfer.Region {
	return transfer.Region{
		Origin: ICCMStart,
		Size:   ICCMSize,
	}
}

// Persistent returns the region holding the vault and the handoff table.
func Persistent() transfer.Region {
	return transfer.Region{
		Origin: PersistentStart,
		Size:   PersistentSize,
	}
}

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

// Package transfer implements bounded control transfer between boot stages.
//
// An entry point read from the handoff table is only jumped to once it has
// been validated against the static code region of the target, any other
// address halts.
package transfer

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/fatal"
)

// Alignment is the required alignment of an ARM entry point.
const Alignment = 4

// Region describes the [Origin, Origin+Size) code region a stage may transfer
// control to.
type Region struct {
	Origin uint32
	Size   uint32
}

func (r Region) String() string {
	return fmt.Sprintf("[%#08x, %#08x)", r.Origin, uint64(r.Origin)+uint64(r.Size))
}

// Contains reports whether addr lies within the region.
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Origin && addr-r.Origin < r.Size
}

// Check returns an error if addr is outside the region or not aligned to
// align bytes.
func (r Region) Check(addr uint32, align uint32) error {
	if !r.Contains(addr) {
		return fatal.Errorf(fatal.AddressNotInICCM, "address %#08x outside of %s", addr, r)
	}

	if align > 1 && addr%align != 0 {
		return fatal.Errorf(fatal.AddressMisaligned, "address %#08x not aligned to %d", addr, align)
	}

	return nil
}

// Jumper is the target specific primitive which hands over execution, Jump
// must not return.
type Jumper interface {
	Jump(entry uint32)
}

// Transfer validates and performs control transfers into a region.
type Transfer struct {
	Region Region
	// Align overrides the default ARM entry point alignment.
	Align  uint32
	Jumper Jumper
	Policy *fatal.Policy
}

// To transfers execution to entry, it never returns.
func (t *Transfer) To(entry uint32) {
	align := t.Align

	if align == 0 {
		align = Alignment
	}

	if err := t.Region.Check(entry, align); err != nil {
		t.Policy.Halt(err)
	}

	klog.Infof("transfer: jumping to %#08x", entry)

	t.Jumper.Jump(entry)

	t.Policy.Haltf(fatal.TransferReturned, "control returned from %#08x", entry)
}

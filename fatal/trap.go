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

package fatal

import (
	"k8s.io/klog/v2"
)

// TrapRecord is the CPU state captured by an exception vector.
type TrapRecord struct {
	Vector int
	Cause  uint32
	PC     uint32
	LR     uint32
}

// Exception halts on an unexpected CPU exception.
func (p *Policy) Exception(rec TrapRecord) {
	klog.Errorf("EXCEPTION vector=%d cause=%#08x pc=%#08x lr=%#08x", rec.Vector, rec.Cause, rec.PC, rec.LR)
	p.Haltf(GlobalException, "unhandled exception %d", rec.Vector)
}

// NMI halts on a non-maskable interrupt, wdtExpired distinguishes a watchdog
// timeout from any other source.
func (p *Policy) NMI(rec TrapRecord, wdtExpired bool) {
	klog.Errorf("NMI vector=%d cause=%#08x pc=%#08x lr=%#08x", rec.Vector, rec.Cause, rec.PC, rec.LR)

	if wdtExpired {
		p.Haltf(GlobalWDTExpired, "watchdog expired")
	}

	p.Haltf(GlobalNMI, "non-maskable interrupt")
}

// Panic halts on a Go runtime panic recovered by the stage entry point. A
// panic carrying an earlier halt, or a classified error, keeps its code.
func (p *Policy) Panic(v any) {
	switch e := v.(type) {
	case *Halted:
		p.Halt(e.Err)
	case *Error:
		p.Halt(e)
	}

	p.Haltf(GlobalPanic, "panic: %v", v)
}

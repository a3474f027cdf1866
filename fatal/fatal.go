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

// Package fatal implements the halt policy shared by all boot stages.
//
// Any invariant violation detected by a stage (invalid handoff handle, out of
// range transfer address, vault lock violation, failed verification the stage
// treats as fatal, hardware trap) ends up in (*Policy).Halt, which reports a
// specific error code and stops forward progress for the rest of the power
// cycle. There is no recovery path.
package fatal

import (
	"fmt"
	"sync/atomic"

	"k8s.io/klog/v2"
)

// Reporter publishes a fatal error code to the supervising SoC.
type Reporter interface {
	ReportFatal(code Code)
}

// Halted is the value Halt panics with when its Stop function returns, which
// only happens on hosts (tests and simulation).
type Halted struct {
	Code Code
	Err  error
}

func (h *Halted) Error() string {
	return fmt.Sprintf("halted: %v", h.Err)
}

// Policy is the Running -> Halted state machine of a boot stage.
type Policy struct {
	// Reporter receives the fatal code, it is invoked once per power cycle.
	Reporter Reporter
	// Stop must never return on hardware targets.
	Stop func()

	halted atomic.Bool
	code   atomic.Uint32
}

// Halted reports whether the policy has been entered.
func (p *Policy) Halted() bool {
	return p.halted.Load()
}

// Code returns the code reported on entry, or Success while running.
func (p *Policy) Code() Code {
	return Code(p.code.Load())
}

// Halt reports err and stops, it never returns.
//
// Only the first invocation reports, a halt triggered while another one is in
// progress (e.g. a trap raised by the reporter) goes straight to Stop.
func (p *Policy) Halt(err error) {
	code := CodeOf(err)

	if p.halted.CompareAndSwap(false, true) {
		p.code.Store(uint32(code))
		klog.Errorf("fatal error %s, %v", code, err)

		if p.Reporter != nil {
			p.Reporter.ReportFatal(code)
		}
	}

	if p.Stop != nil {
		p.Stop()
	}

	panic(&Halted{Code: code, Err: err})
}

// Haltf halts with a new error carrying code.
func (p *Policy) Haltf(code Code, format string, a ...any) {
	p.Halt(Errorf(code, format, a...))
}

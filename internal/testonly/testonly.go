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

// Package testonly holds host stand-ins for the hardware collaborators of the
// boot stages.
package testonly

import (
	"fmt"
	"testing"

	"github.com/transparency-dev/armored-witness-dice/fatal"
)

// Reporter records reported fatal codes.
type Reporter struct {
	Codes []fatal.Code
}

func (r *Reporter) ReportFatal(c fatal.Code) {
	r.Codes = append(r.Codes, c)
}

// NewPolicy returns a halt policy whose Stop returns, so that Halt panics with
// *fatal.Halted.
func NewPolicy() (*fatal.Policy, *Reporter) {
	r := &Reporter{}
	return &fatal.Policy{Reporter: r}, r
}

// Jumped is the value Jumper panics with, it unwinds the stage like a real
// transfer never returning would.
type Jumped struct {
	Entry uint32
}

// Jumper records control transfers instead of performing them.
type Jumper struct {
	Entries []uint32
	// Return makes Jump return instead of unwinding.
	Return bool
}

func (j *Jumper) Jump(entry uint32) {
	j.Entries = append(j.Entries, entry)

	if !j.Return {
		panic(&Jumped{Entry: entry})
	}
}

// Outcome is how a stage function ended.
type Outcome struct {
	Halted *fatal.Halted
	Jumped *Jumped
}

func (o Outcome) String() string {
	switch {
	case o.Halted != nil:
		return fmt.Sprintf("halted with %v", o.Halted.Code)
	case o.Jumped != nil:
		return fmt.Sprintf("jumped to %#08x", o.Jumped.Entry)
	}

	return "returned"
}

// Run calls fn and captures a halt or a jump, any other panic is re-raised.
func Run(t *testing.T, fn func()) (o Outcome) {
	t.Helper()

	defer func() {
		switch r := recover().(type) {
		case nil:
		case *fatal.Halted:
			o.Halted = r
		case *Jumped:
			o.Jumped = r
		default:
			panic(r)
		}
	}()

	fn()

	return
}

// MustHalt calls fn and fails the test unless it halts with want.
func MustHalt(t *testing.T, want fatal.Code, fn func()) {
	t.Helper()

	o := Run(t, fn)

	if o.Halted == nil || o.Halted.Code != want {
		t.Fatalf("Got %v, want halt with %v", o, want)
	}
}

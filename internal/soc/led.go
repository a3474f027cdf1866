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
	"log"

	usbarmory "github.com/usbarmory/tamago/board/usbarmory/mk2"

	"github.com/transparency-dev/armored-witness-dice/fatal"
)

// LED reports fatal errors on the board LEDs and console.
type LED struct{}

func (LED) ReportFatal(code fatal.Code) {
	usbarmory.LED("blue", false)
	usbarmory.LED("white", true)

	log.Printf("fatal error %#08x (%s)", uint32(code), code)
}

// Progress lights the blue LED while a stage runs.
func Progress(on bool) {
	usbarmory.LED("blue", on)
}

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


//go:build tamago && arm && linkprintk
// +build tamago,arm,linkprintk

package soc

import (
	"io"
	"log"
	_ "unsafe"

	"github.com/usbarmory/tamago/soc/nxp/imx6ul"
)

// The stages do not log sensitive information, the console is nonetheless
// silenced to avoid leaking stack traces or runtime errors.
//
// The board support enables UART2 at runtime initialization, before init(),
// therefore printk is overridden with a NOP and UART2 is disabled at the
// first opportunity. Builds without the linkprintk tag keep the board
// console.

func init() {
	imx6ul.UART2.Disable()
	log.SetOutput(io.Discard)
}

//go:linkname printk runtime.printk
func printk(c byte) {
	// no output before UART2 disabling
}

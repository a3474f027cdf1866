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

package transfer

import (
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"
)

// defined in jump_arm.s
func exec(entry uint32)

// ARM hands over execution on the i.MX6UL, caches are flushed and disabled
// so that the next stage finds loaded code in memory.
type ARM struct{}

func (ARM) Jump(entry uint32) {
	imx6ul.ARM.DisableInterrupts()
	imx6ul.ARM.FlushDataCache()
	imx6ul.ARM.DisableCache()

	exec(entry)
}

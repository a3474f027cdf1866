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
	_ "unsafe"

	"github.com/transparency-dev/armored-witness-dice/internal/layout"
)

//go:linkname ramStart runtime.ramStart
var ramStart uint32 = layout.RAMStart

//go:linkname ramSize runtime.ramSize
var ramSize uint32 = layout.RAMSize

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

// The fmc command is the first mutable boot stage, it derives the runtime
// alias layer and hands over to the runtime.
package main

import (
	"log"
	"os"
	"runtime"

	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/fmc"
	"github.com/transparency-dev/armored-witness-dice/internal/layout"
	"github.com/transparency-dev/armored-witness-dice/internal/soc"
	"github.com/transparency-dev/armored-witness-dice/transfer"
)

var (
	Build    string
	Revision string
	Version  string
)

func init() {
	log.SetPrefix("FMC ")
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	soc.Init()

	log.Printf("%s/%s (%s) • DICE FMC %s • %s %s",
		runtime.GOOS, runtime.GOARCH, runtime.Version(),
		Version, Revision, Build)
}

func main() {
	policy := &fatal.Policy{
		Reporter: soc.LED{},
		Stop:     soc.Halt,
	}

	defer func() {
		if r := recover(); r != nil {
			policy.Panic(r)
		}
	}()

	f := &fmc.FMC{
		Policy: policy,
		Transfer: &transfer.Transfer{
			Region: layout.ICCM(),
			Jumper: transfer.ARM{},
			Policy: policy,
		},
		Persistent: soc.Persistent(),
		Version:    Version,
	}

	// never returns
	f.Boot()
}

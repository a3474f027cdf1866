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

// The rom command is the first boot stage, it verifies the firmware image
// held on the internal eMMC, derives the device identity and hands over to
// the FMC.
package main

import (
	"log"
	"os"
	"runtime"

	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/ft"
	"github.com/transparency-dev/armored-witness-dice/internal/layout"
	"github.com/transparency-dev/armored-witness-dice/internal/rom"
	"github.com/transparency-dev/armored-witness-dice/internal/soc"
	"github.com/transparency-dev/armored-witness-dice/internal/verify"
	"github.com/transparency-dev/armored-witness-dice/transfer"
)

var (
	Build    string
	Revision string
	Version  string
)

func init() {
	log.SetPrefix("ROM ")
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	soc.Init()

	log.Printf("%s/%s (%s) • DICE ROM %s • %s %s",
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

	soc.Progress(true)

	uds, err := soc.UDS()

	if err != nil {
		policy.Haltf(fatal.DiceDerivationFailure, "could not derive UDS, %v", err)
	}

	mmc, card, err := soc.Storage()

	if err != nil {
		policy.Haltf(fatal.ImageVerifyLoadFailure, "%v", err)
	}

	iccm, err := soc.NewICCM()

	if err != nil {
		policy.Haltf(fatal.RuntimeInsufficientMemory, "could not reserve ICCM, %v", err)
	}

	r := &rom.ROM{
		Policy:      policy,
		UDS:         uds,
		Fuses:       soc.Fuses{},
		Accelerator: &soc.DCP{},
		Verifier:    verify.NewSignatureVerifier(),
		Storage:     mmc,
		Loader:      iccm,
		Transfer: &transfer.Transfer{
			Region: layout.ICCM(),
			Jumper: transfer.ARM{},
			Policy: policy,
		},
		Persistent: soc.Persistent(),
	}

	if !ft.DisableAuth {
		if r.Transparency, err = ft.Default(); err != nil {
			policy.Haltf(fatal.ImageVerifyTransparencyFailure, "invalid release keys, %v", err)
		}
	}

	if r.Rollback, err = openRollback(card); err != nil {
		policy.Haltf(fatal.RollbackFailure, "could not initialize rollback protection, %v", err)
	}

	log.Printf("booting firmware")

	// never returns
	r.Boot()
}

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

// Package fmc implements the first mutable code: it derives the runtime alias
// layer from the FMC alias layer handed over by the ROM, locks the minimum
// runtime SVN and transfers to the runtime.
package fmc

import (
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/handoff"
	"github.com/transparency-dev/armored-witness-dice/internal/dice"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
	"github.com/transparency-dev/armored-witness-dice/internal/persistent"
	"github.com/transparency-dev/armored-witness-dice/transfer"
)

// FMC holds the collaborators of the stage.
type FMC struct {
	Policy     *fatal.Policy
	Transfer   *transfer.Transfer
	Persistent []byte
	// Version is recorded in the runtime alias certificate.
	Version string
}

func (f *FMC) must(err error) {
	if err != nil {
		klog.Errorf("fmc: %v", err)
		f.Policy.Halt(err)
	}
}

// Boot runs the stage, it never returns.
func (f *FMC) Boot() {
	d, err := persistent.Load(f.Persistent)

	if err != nil {
		f.Policy.Halt(fatal.Errorf(fatal.FmcHandoffFhtNotLoaded, "could not load handoff state, %w", err))
	}

	if !d.FHT.IsValid() {
		f.Policy.Haltf(fatal.FmcHandoffFhtNotLoaded, "invalid handoff table")
	}

	h := &handoff.HandOff{
		FHT:    d.FHT,
		Vault:  d.Vault,
		Policy: f.Policy,
	}

	svn := h.RtSVN()

	out, err := dice.Derive(d.KeyVault, &dice.Params{
		ParentCDI:  h.FmcCDI(),
		Issuer:     h.FmcPrivKey(),
		IssuerName: dice.FmcAliasName,
		CDI:        keyvault.RtAliasCDI,
		PrivKey:    keyvault.RtAliasPrivKey,
		Name:       dice.RtAliasName,
		TCI:        h.RtTCI(),
		SVN:        svn,
		Layer:      2,
		Version:    f.Version,
	})
	f.must(err)

	h.SetRtDiceSignature(out.Signature)
	h.SetRtAliasTBSSize(len(out.TBS))
	d.RtAliasTBS = out.TBS

	// lowest runtime SVN booted since cold reset
	minSVN := svn

	if prev := h.RtMinSVN(); prev != 0 && prev < minSVN {
		minSVN = prev
	}

	f.must(h.SetAndLockRtMinSVN(minSVN))

	h.Update(handoff.DiceOutput{
		CDI:     out.CDI,
		PrivKey: out.PrivKey,
		PubKey:  out.PubKey,
	})

	if err := h.IsReadyForRt(); err != nil {
		klog.Errorf("fmc: %v", err)
		f.Policy.Halt(err)
	}

	f.must(d.Store(f.Persistent))

	h.ToRt(f.Transfer)
}

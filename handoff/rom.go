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

package handoff

import (
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
	"github.com/transparency-dev/armored-witness-dice/vault"
)

// SetFmcHandles records the FMC alias layer handles, derived by the ROM on
// cold boot into the given key slots and the sticky vault slots.
func (t *Table) SetFmcHandles(cdi keyvault.KeyID, priv keyvault.KeyID) {
	t.FmcCDI = KeyVaultSlot{Key: cdi}.Handle()
	t.FmcPrivKey = KeyVaultSlot{Key: priv}.Handle()
	t.FmcPubKeyX = StickyWide{Slot: vault.FmcAliasPubKeyX}.Handle()
	t.FmcPubKeyY = StickyWide{Slot: vault.FmcAliasPubKeyY}.Handle()
	t.FmcCertSigR = StickyWide{Slot: vault.FmcAliasSigR}.Handle()
	t.FmcCertSigS = StickyWide{Slot: vault.FmcAliasSigS}.Handle()
	t.FmcTCI = StickyWide{Slot: vault.FmcTCI}.Handle()
	t.FmcSVN = StickySmall{Slot: vault.FmcSVN}.Handle()
	t.LDevIDCertSigR = StickyWide{Slot: vault.LDevIDSigR}.Handle()
	t.LDevIDCertSigS = StickyWide{Slot: vault.LDevIDSigS}.Handle()
}

// SetRtHandles records the handles of the runtime facts the ROM measures on
// every boot, the runtime identity handles are left to the FMC.
func (t *Table) SetRtHandles() {
	t.RtTCI = NonStickyWide{Slot: vault.RtTCI}.Handle()
	t.RtSVN = NonStickySmall{Slot: vault.RtSVN}.Handle()
	t.RtMinSVN = NonStickySmall{Slot: vault.RtMinSVN}.Handle()
	t.RtEntryPoint = NonStickySmall{Slot: vault.RtEntryPoint}.Handle()
	t.RtDiceSigR = NonStickyWide{Slot: vault.RtAliasSigR}.Handle()
	t.RtDiceSigS = NonStickyWide{Slot: vault.RtAliasSigS}.Handle()
}

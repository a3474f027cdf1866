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

// Package handoff implements the firmware handoff table (FHT) through which a
// boot stage passes typed handles to key store slots and vault entries to the
// next one.
//
// Every accessor resolves the recorded handle and checks its kind against the
// usage of the field, a mismatch halts with FmcHandoffInvalidParam and is
// never coerced into a default value.
package handoff

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/cert"
	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
	"github.com/transparency-dev/armored-witness-dice/transfer"
	"github.com/transparency-dev/armored-witness-dice/vault"
)

// ErrNotReady is returned by readiness checks whose prerequisites are unmet.
var ErrNotReady = fatal.New(fatal.FmcHandoffNotReadyForRt, "handoff not ready for runtime")

// DiceOutput is the result of a DICE layer derivation.
type DiceOutput struct {
	CDI     keyvault.KeyID
	PrivKey keyvault.KeyID
	PubKey  keyvault.PubKey
}

// HandOff binds a handoff table to the vault its handles refer to, for the
// lifetime of a boot stage.
type HandOff struct {
	FHT    *Table
	Vault  *vault.Vault
	Policy *fatal.Policy
}

func (h *HandOff) invalid(field string, hdl Handle, want string) {
	h.Policy.Haltf(fatal.FmcHandoffInvalidParam, "%s handle %v does not resolve to %s", field, hdl, want)
}

func (h *HandOff) keySlot(field string, hdl Handle) keyvault.KeyID {
	ds, err := hdl.Resolve()

	if err != nil {
		h.Policy.Halt(err)
	}

	switch d := ds.(type) {
	case KeyVaultSlot:
		return d.Key
	}

	h.invalid(field, hdl, "a key vault slot")
	return 0
}

func (h *HandOff) wide(field string, hdl Handle) vault.WideValue {
	ds, err := hdl.Resolve()

	if err != nil {
		h.Policy.Halt(err)
	}

	switch d := ds.(type) {
	case StickyWide:
		return h.Vault.ReadWide(vault.Sticky, d.Slot)
	case NonStickyWide:
		return h.Vault.ReadWide(vault.NonSticky, d.Slot)
	}

	h.invalid(field, hdl, "a wide vault slot")
	return vault.WideValue{}
}

func (h *HandOff) small(field string, hdl Handle) uint32 {
	ds, err := hdl.Resolve()

	if err != nil {
		h.Policy.Halt(err)
	}

	switch d := ds.(type) {
	case StickySmall:
		return h.Vault.ReadSmall(vault.Sticky, d.Slot)
	case NonStickySmall:
		return h.Vault.ReadSmall(vault.NonSticky, d.Slot)
	}

	h.invalid(field, hdl, "a small vault slot")
	return 0
}

func (h *HandOff) writeWide(field string, hdl Handle, val vault.WideValue) {
	ds, err := hdl.Resolve()

	if err != nil {
		h.Policy.Halt(err)
	}

	switch d := ds.(type) {
	case StickyWide:
		err = h.Vault.WriteWide(vault.Sticky, d.Slot, val)
	case NonStickyWide:
		err = h.Vault.WriteWide(vault.NonSticky, d.Slot, val)
	default:
		h.invalid(field, hdl, "a wide vault slot")
	}

	if err != nil {
		h.Policy.Halt(fmt.Errorf("%s: %w", field, err))
	}
}

func (h *HandOff) signature(field string, r Handle, s Handle) (sig cert.Signature) {
	sig.R = h.wide(field+" R", r)
	sig.S = h.wide(field+" S", s)

	return
}

// FmcCDI returns the key slot holding the FMC alias CDI.
func (h *HandOff) FmcCDI() keyvault.KeyID {
	return h.keySlot("FMC CDI", h.FHT.FmcCDI)
}

// FmcPrivKey returns the key slot holding the FMC alias private key.
func (h *HandOff) FmcPrivKey() keyvault.KeyID {
	return h.keySlot("FMC private key", h.FHT.FmcPrivKey)
}

// FmcPubKey returns the FMC alias public key.
func (h *HandOff) FmcPubKey() (pub keyvault.PubKey) {
	pub.X = h.wide("FMC public key X", h.FHT.FmcPubKeyX)
	pub.Y = h.wide("FMC public key Y", h.FHT.FmcPubKeyY)

	return
}

func (h *HandOff) FmcTCI() vault.WideValue {
	return h.wide("FMC TCI", h.FHT.FmcTCI)
}

func (h *HandOff) FmcSVN() uint32 {
	return h.small("FMC SVN", h.FHT.FmcSVN)
}

// FmcCertSignature returns the signature of the FMC alias certificate, issued
// by the LDevID key.
func (h *HandOff) FmcCertSignature() cert.Signature {
	return h.signature("FMC certificate signature", h.FHT.FmcCertSigR, h.FHT.FmcCertSigS)
}

// LDevIDCertSignature returns the signature of the LDevID certificate, issued
// by the IDevID key.
func (h *HandOff) LDevIDCertSignature() cert.Signature {
	return h.signature("LDevID certificate signature", h.FHT.LDevIDCertSigR, h.FHT.LDevIDCertSigS)
}

// RtCDI returns the key slot holding the runtime alias CDI.
func (h *HandOff) RtCDI() keyvault.KeyID {
	return h.keySlot("RT CDI", h.FHT.RtCDI)
}

// RtPrivKey returns the key slot holding the runtime alias private key.
func (h *HandOff) RtPrivKey() keyvault.KeyID {
	return h.keySlot("RT private key", h.FHT.RtPrivKey)
}

// RtPubKey returns the runtime alias public key.
func (h *HandOff) RtPubKey() (pub keyvault.PubKey) {
	pub.X = h.wide("RT public key X", h.FHT.RtPubKeyX)
	pub.Y = h.wide("RT public key Y", h.FHT.RtPubKeyY)

	return
}

func (h *HandOff) RtTCI() vault.WideValue {
	return h.wide("RT TCI", h.FHT.RtTCI)
}

func (h *HandOff) RtSVN() uint32 {
	return h.small("RT SVN", h.FHT.RtSVN)
}

// RtMinSVN returns the minimum runtime SVN, it must be held in a non-sticky
// small slot.
func (h *HandOff) RtMinSVN() uint32 {
	return h.Vault.ReadSmall(vault.NonSticky, h.rtMinSVNSlot())
}

func (h *HandOff) rtMinSVNSlot() vault.Slot {
	ds, err := h.FHT.RtMinSVN.Resolve()

	if err != nil {
		h.Policy.Halt(err)
	}

	switch d := ds.(type) {
	case NonStickySmall:
		return d.Slot
	}

	h.invalid("RT min SVN", h.FHT.RtMinSVN, "a non-sticky small vault slot")
	return 0
}

// SetAndLockRtMinSVN writes the minimum runtime SVN and locks its slot. If the
// slot is already locked an error is returned and the slot is left untouched,
// on success the value is written and locked.
func (h *HandOff) SetAndLockRtMinSVN(svn uint32) error {
	s := h.rtMinSVNSlot()

	if h.Vault.IsLocked(vault.NonSticky, vault.Small, s) {
		return fatal.Errorf(fatal.VaultLockViolation, "RT min SVN already locked at %d", h.Vault.ReadSmall(vault.NonSticky, s))
	}

	if err := h.Vault.WriteSmall(vault.NonSticky, s, svn); err != nil {
		return err
	}

	if err := h.Vault.Lock(vault.NonSticky, vault.Small, s); err != nil {
		h.Policy.Halt(err)
	}

	klog.Infof("handoff: RT min SVN set to %d", svn)

	return nil
}

// RtEntryPoint returns the runtime entry point recorded by the ROM.
func (h *HandOff) RtEntryPoint() uint32 {
	return h.small("RT entry point", h.FHT.RtEntryPoint)
}

// SetRtAliasTBSSize records the length of the runtime alias TBS template.
func (h *HandOff) SetRtAliasTBSSize(n int) {
	if n <= 0 || n > 0xffff {
		h.Policy.Haltf(fatal.FmcHandoffInvalidParam, "invalid RT alias TBS size %d", n)
	}

	h.FHT.RtAliasTBSSize = uint32(n)
}

// SetRtDiceSignature records the runtime alias certificate signature.
func (h *HandOff) SetRtDiceSignature(sig cert.Signature) {
	h.writeWide("RT DICE signature R", h.FHT.RtDiceSigR, sig.R)
	h.writeWide("RT DICE signature S", h.FHT.RtDiceSigS, sig.S)
}

// RtDiceSignature returns the runtime alias certificate signature.
func (h *HandOff) RtDiceSignature() cert.Signature {
	return h.signature("RT DICE signature", h.FHT.RtDiceSigR, h.FHT.RtDiceSigS)
}

// Update records the runtime alias layer derived by the FMC.
func (h *HandOff) Update(out DiceOutput) {
	if int(out.CDI) >= keyvault.NumKeys || int(out.PrivKey) >= keyvault.NumKeys {
		h.Policy.Haltf(fatal.FmcHandoffInvalidParam, "invalid DICE output slots %d/%d", out.CDI, out.PrivKey)
	}

	x := NonStickyWide{Slot: vault.RtAliasPubKeyX}
	y := NonStickyWide{Slot: vault.RtAliasPubKeyY}

	h.writeWide("RT public key X", x.Handle(), out.PubKey.X)
	h.writeWide("RT public key Y", y.Handle(), out.PubKey.Y)

	h.FHT.RtCDI = KeyVaultSlot{Key: out.CDI}.Handle()
	h.FHT.RtPrivKey = KeyVaultSlot{Key: out.PrivKey}.Handle()
	h.FHT.RtPubKeyX = x.Handle()
	h.FHT.RtPubKeyY = y.Handle()
}

func isKeySlot(hdl Handle) bool {
	ds, err := hdl.Resolve()

	if err != nil {
		return false
	}

	switch ds.(type) {
	case KeyVaultSlot:
		return true
	}

	return false
}

func isWide(hdl Handle) bool {
	ds, err := hdl.Resolve()

	if err != nil {
		return false
	}

	switch ds.(type) {
	case StickyWide, NonStickyWide:
		return true
	}

	return false
}

// IsReadyForRt returns ErrNotReady unless all the runtime identity handles
// are set and of the expected kind.
func (h *HandOff) IsReadyForRt() error {
	switch {
	case !isKeySlot(h.FHT.RtCDI):
		return fmt.Errorf("%w: RT CDI %v", ErrNotReady, h.FHT.RtCDI)
	case !isKeySlot(h.FHT.RtPrivKey):
		return fmt.Errorf("%w: RT private key %v", ErrNotReady, h.FHT.RtPrivKey)
	case !isWide(h.FHT.RtPubKeyX):
		return fmt.Errorf("%w: RT public key X %v", ErrNotReady, h.FHT.RtPubKeyX)
	case !isWide(h.FHT.RtPubKeyY):
		return fmt.Errorf("%w: RT public key Y %v", ErrNotReady, h.FHT.RtPubKeyY)
	}

	return nil
}

// ToRt transfers control to the runtime entry point, it never returns.
func (h *HandOff) ToRt(t *transfer.Transfer) {
	entry := h.RtEntryPoint()
	klog.Infof("handoff: executing runtime at %#08x", entry)
	t.To(entry)
}

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

package vault

// Cold boot facts recorded by the ROM.

func (v *Vault) FmcTCI() WideValue {
	return v.ReadWide(Sticky, FmcTCI)
}

func (v *Vault) FmcSVN() uint32 {
	return v.ReadSmall(Sticky, FmcSVN)
}

func (v *Vault) FmcEntryPoint() uint32 {
	return v.ReadSmall(Sticky, FmcEntryPoint)
}

func (v *Vault) VendorPubKeyIndex() uint32 {
	return v.ReadSmall(Sticky, VendorPubKeyIndex)
}

func (v *Vault) OwnerPubKeyHash() WideValue {
	return v.ReadWide(Sticky, OwnerPubKeyHash)
}

// LDevIDSignature returns the r and s components of the LDevID certificate
// signature.
func (v *Vault) LDevIDSignature() (r WideValue, s WideValue) {
	return v.ReadWide(Sticky, LDevIDSigR), v.ReadWide(Sticky, LDevIDSigS)
}

// FmcAliasSignature returns the r and s components of the FMC alias
// certificate signature.
func (v *Vault) FmcAliasSignature() (r WideValue, s WideValue) {
	return v.ReadWide(Sticky, FmcAliasSigR), v.ReadWide(Sticky, FmcAliasSigS)
}

// FmcAliasPubKey returns the FMC alias public key coordinates.
func (v *Vault) FmcAliasPubKey() (x WideValue, y WideValue) {
	return v.ReadWide(Sticky, FmcAliasPubKeyX), v.ReadWide(Sticky, FmcAliasPubKeyY)
}

// Facts recorded by the FMC on every boot.

func (v *Vault) RtTCI() WideValue {
	return v.ReadWide(NonSticky, RtTCI)
}

func (v *Vault) RtSVN() uint32 {
	return v.ReadSmall(NonSticky, RtSVN)
}

func (v *Vault) RtMinSVN() uint32 {
	return v.ReadSmall(NonSticky, RtMinSVN)
}

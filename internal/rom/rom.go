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

// Package rom implements the first boot stage: it authenticates the firmware
// image, records its measurements, derives the device identity and the FMC
// alias layer and hands over to the FMC.
package rom

import (
	"errors"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/dice"
	"github.com/transparency-dev/armored-witness-dice/internal/ft"
	"github.com/transparency-dev/armored-witness-dice/internal/image"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
	"github.com/transparency-dev/armored-witness-dice/internal/persistent"
	"github.com/transparency-dev/armored-witness-dice/internal/rollback"
	"github.com/transparency-dev/armored-witness-dice/internal/storage"
	"github.com/transparency-dev/armored-witness-dice/internal/verify"
	"github.com/transparency-dev/armored-witness-dice/transfer"
	"github.com/transparency-dev/armored-witness-dice/vault"
)

// Loader copies a verified component to its load address.
type Loader interface {
	Load(addr uint32, data []byte) error
}

// ROM holds the collaborators of the first boot stage.
type ROM struct {
	Policy *fatal.Policy
	// UDS is the unique device secret, only used on cold boot.
	UDS []byte

	Fuses       verify.FuseBank
	Accelerator verify.Accelerator
	Verifier    verify.SignatureVerifier
	Storage     storage.Device
	// Rollback is optional.
	Rollback rollback.Store
	// Transparency may only be nil when release authentication is
	// disabled.
	Transparency *ft.Verifier

	Loader   Loader
	Transfer *transfer.Transfer
	// Persistent is the memory handing over state to the later stages.
	Persistent []byte
}

func (r *ROM) must(err error) {
	if err != nil {
		klog.Errorf("rom: %v", err)
		r.Policy.Halt(err)
	}
}

// Boot runs the stage, it never returns.
func (r *ROM) Boot() {
	if verify.FastVerify {
		life, err := r.Fuses.Lifecycle()

		if err != nil {
			r.must(fatal.Errorf(fatal.FuseReadFailure, "fuse read failed, %w", err))
		}

		if life == image.Production {
			r.Policy.Haltf(fatal.ImageVerifyMockInProduction, "mock signature verification on a production device")
		}
	}

	d, err := persistent.Load(r.Persistent)

	switch {
	case err == nil:
		r.warmBoot(d)
	case errors.Is(err, persistent.ErrNotInitialized):
		r.coldBoot()
	default:
		klog.Errorf("rom: %v", err)
		r.Policy.Halt(fatal.Errorf(fatal.RomHandoffFhtInvalid, "inconsistent handoff state, %w", err))
	}
}

func (r *ROM) env(img []byte, v *vault.Vault) *verify.Env {
	return &verify.Env{
		Image:       img,
		Accelerator: r.Accelerator,
		Verifier:    r.Verifier,
		Fuses:       r.Fuses,
		Vault:       v,
		Rollback:    r.Rollback,
		ICCM:        r.Transfer.Region,
		Policy:      r.Policy,
	}
}

// verify reads and authenticates the firmware image.
func (r *ROM) verify(v *vault.Vault, coldBoot bool) (*image.Info, []byte, *verify.Env) {
	fw, err := storage.Read(r.Storage)

	if err != nil {
		r.must(fatal.Errorf(fatal.ImageVerifyLoadFailure, "could not read firmware, %w", err))
	}

	env := r.env(fw.Firmware, v)

	if !ft.DisableAuth {
		if r.Transparency == nil {
			r.Policy.Haltf(fatal.ImageVerifyTransparencyFailure, "no release verifier")
		}

		digest, err := env.Digest(0, uint32(len(fw.Firmware)))
		r.must(err)

		_, err = r.Transparency.Verify(fw, digest)
		r.must(err)
	} else {
		klog.Warning("rom: firmware release authentication disabled")
	}

	m, err := image.Parse(fw.Firmware)
	r.must(err)

	info, err := (&image.Verifier{Env: env}).Verify(m, uint32(len(fw.Firmware)), coldBoot)
	r.must(err)

	return info, fw.Firmware, env
}

func (r *ROM) coldBoot() {
	klog.Info("rom: cold boot")

	kv, err := keyvault.NewSoft(r.UDS)
	r.must(err)

	d := persistent.New(kv)
	info, img, env := r.verify(d.Vault, true)

	r.recordFmc(d.Vault, info)
	r.deriveIdentity(d, info)
	r.recordRt(d.Vault, info)
	r.commit(env, info)
	r.handOver(d, info, img)
}

func (r *ROM) warmBoot(d *persistent.Data) {
	klog.Info("rom: warm boot")

	if !d.FHT.IsValid() {
		r.Policy.Haltf(fatal.RomHandoffFhtInvalid, "invalid handoff table on warm boot")
	}

	d.Vault.WarmReset()

	info, img, env := r.verify(d.Vault, false)

	r.recordRt(d.Vault, info)
	r.commit(env, info)
	r.handOver(d, info, img)
}

// recordFmc records the FMC measurement and the trust root facts it was
// verified against, they are sticky for the rest of the power cycle.
func (r *ROM) recordFmc(v *vault.Vault, info *image.Info) {
	r.must(v.WriteWide(vault.Sticky, vault.FmcTCI, info.Fmc.Digest))
	r.must(v.WriteWide(vault.Sticky, vault.OwnerPubKeyHash, info.OwnerPubKeyHash))
	r.must(v.WriteSmall(vault.Sticky, vault.FmcSVN, info.Fmc.SVN))
	r.must(v.WriteSmall(vault.Sticky, vault.VendorPubKeyIndex, info.VendorKeyIndex))
	r.must(v.WriteSmall(vault.Sticky, vault.FmcEntryPoint, info.Fmc.EntryPoint))
	r.must(v.WriteSmall(vault.Sticky, vault.FmcLoadAddr, info.Fmc.LoadAddr))
}

// recordRt records the runtime measurement, it is refreshed on every boot.
func (r *ROM) recordRt(v *vault.Vault, info *image.Info) {
	r.must(v.WriteWide(vault.NonSticky, vault.RtTCI, info.Rt.Digest))
	r.must(v.WriteSmall(vault.NonSticky, vault.RtSVN, info.Rt.SVN))
	r.must(v.WriteSmall(vault.NonSticky, vault.RtEntryPoint, info.Rt.EntryPoint))
	r.must(v.WriteSmall(vault.NonSticky, vault.RtLoadAddr, info.Rt.LoadAddr))
}

// deriveIdentity derives the IDevID, LDevID and FMC alias layers. Only the FMC
// alias CDI and private key are left in the key store.
func (r *ROM) deriveIdentity(d *persistent.Data, info *image.Info) {
	kv := d.KeyVault

	r.must(kv.DeriveCDI(keyvault.IDevIDCDI, keyvault.UDS, nil))
	_, err := kv.DeriveKeyPair(keyvault.IDevIDCDI, keyvault.IDevIDPrivKey)
	r.must(err)

	// the LDevID is bound to the owner
	ldevid, err := dice.Derive(kv, &dice.Params{
		ParentCDI:  keyvault.IDevIDCDI,
		Issuer:     keyvault.IDevIDPrivKey,
		IssuerName: dice.IDevIDName,
		CDI:        keyvault.LDevIDCDI,
		PrivKey:    keyvault.LDevIDPrivKey,
		Name:       dice.LDevIDName,
		TCI:        info.OwnerPubKeyHash,
		CA:         true,
	})
	r.must(err)

	fmc, err := dice.Derive(kv, &dice.Params{
		ParentCDI:  keyvault.LDevIDCDI,
		Issuer:     keyvault.LDevIDPrivKey,
		IssuerName: dice.LDevIDName,
		CDI:        keyvault.FmcAliasCDI,
		PrivKey:    keyvault.FmcAliasPrivKey,
		Name:       dice.FmcAliasName,
		TCI:        info.Fmc.Digest,
		SVN:        info.Fmc.SVN,
		Layer:      1,
		Version:    info.Version.String(),
		CA:         true,
	})
	r.must(err)

	for _, k := range []keyvault.KeyID{
		keyvault.UDS,
		keyvault.IDevIDCDI,
		keyvault.IDevIDPrivKey,
		keyvault.LDevIDCDI,
		keyvault.LDevIDPrivKey,
	} {
		r.must(kv.Erase(k))
	}

	v := d.Vault
	r.must(v.WriteWide(vault.Sticky, vault.LDevIDSigR, ldevid.Signature.R))
	r.must(v.WriteWide(vault.Sticky, vault.LDevIDSigS, ldevid.Signature.S))
	r.must(v.WriteWide(vault.Sticky, vault.FmcAliasSigR, fmc.Signature.R))
	r.must(v.WriteWide(vault.Sticky, vault.FmcAliasSigS, fmc.Signature.S))
	r.must(v.WriteWide(vault.Sticky, vault.FmcAliasPubKeyX, fmc.PubKey.X))
	r.must(v.WriteWide(vault.Sticky, vault.FmcAliasPubKeyY, fmc.PubKey.Y))

	d.LDevIDTBS = ldevid.TBS
	d.FmcAliasTBS = fmc.TBS

	d.FHT.SetFmcHandles(fmc.CDI, fmc.PrivKey)
	d.FHT.SetRtHandles()
}

// commit raises the minimum SVNs held in the rollback store to the ones of
// the booted image.
func (r *ROM) commit(env *verify.Env, info *image.Info) {
	if r.Rollback == nil || env.AntiRollbackDisabled() {
		return
	}

	for _, c := range []struct {
		sector uint16
		svn    uint32
	}{
		{rollback.FmcSector, info.Fmc.SVN},
		{rollback.RtSector, info.Rt.SVN},
	} {
		if err := r.Rollback.Commit(c.sector, c.svn); err != nil {
			r.must(fatal.Errorf(fatal.RollbackFailure, "could not commit SVN %d to sector %d, %w", c.svn, c.sector, err))
		}
	}
}

// handOver loads the verified components, persists the handoff state and
// transfers to the FMC.
func (r *ROM) handOver(d *persistent.Data, info *image.Info, img []byte) {
	for _, c := range []image.Component{info.Fmc, info.Rt} {
		if err := r.Loader.Load(c.LoadAddr, img[c.Offset:c.Offset+c.Size]); err != nil {
			r.must(fatal.Errorf(fatal.ImageVerifyLoadFailure, "could not load component at %#08x, %w", c.LoadAddr, err))
		}
	}

	r.must(d.Store(r.Persistent))

	r.Transfer.To(d.Vault.FmcEntryPoint())
}

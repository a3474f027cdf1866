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
package rom_test

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"testing"

	"github.com/transparency-dev/armored-witness-dice/cert"
	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/handoff"
	"github.com/transparency-dev/armored-witness-dice/internal/ft"
	"github.com/transparency-dev/armored-witness-dice/internal/image"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
	"github.com/transparency-dev/armored-witness-dice/internal/persistent"
	"github.com/transparency-dev/armored-witness-dice/internal/rollback"
	"github.com/transparency-dev/armored-witness-dice/internal/rom"
	"github.com/transparency-dev/armored-witness-dice/internal/testonly"
	"github.com/transparency-dev/armored-witness-dice/internal/testonly/chain"
	"github.com/transparency-dev/armored-witness-dice/internal/verify"
	"github.com/transparency-dev/armored-witness-dice/vault"
)

func certificate(t *testing.T, tbs []byte, r vault.WideValue, s vault.WideValue) *x509.Certificate {
	t.Helper()

	out := make([]byte, 2048)
	n, err := cert.Build(tbs, cert.Signature{R: r, S: s}, out)

	if err != nil {
		t.Fatalf("cert.Build: %v", err)
	}

	c, err := x509.ParseCertificate(out[:n])

	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}

	return c
}

func TestColdBoot(t *testing.T) {
	c := chain.New(t)
	d := c.BootROM(t)
	o := c.Firmware.Options

	if !d.FHT.IsValid() {
		t.Fatal("handoff table not initialized")
	}

	if got, want := d.FHT.FmcCDI, (handoff.KeyVaultSlot{Key: keyvault.FmcAliasCDI}).Handle(); got != want {
		t.Errorf("Got FMC CDI handle %v, want %v", got, want)
	}

	if got, want := d.FHT.RtMinSVN, (handoff.NonStickySmall{Slot: vault.RtMinSVN}).Handle(); got != want {
		t.Errorf("Got RT min SVN handle %v, want %v", got, want)
	}

	v := d.Vault

	for _, test := range []struct {
		name      string
		got, want uint32
	}{
		{name: "FMC SVN", got: v.FmcSVN(), want: o.Fmc.SVN},
		{name: "FMC entry point", got: v.FmcEntryPoint(), want: o.Fmc.EntryPoint},
		{name: "vendor key index", got: v.VendorPubKeyIndex(), want: o.VendorKeyIndex},
		{name: "RT SVN", got: v.RtSVN(), want: o.Rt.SVN},
		{name: "RT min SVN", got: v.RtMinSVN(), want: 0},
	} {
		if test.got != test.want {
			t.Errorf("Got %s %d, want %d", test.name, test.got, test.want)
		}
	}

	if got, want := [32]byte(v.FmcTCI()), sha256.Sum256(o.Fmc.Data); got != want {
		t.Errorf("Got FMC TCI %x, want %x", got, want)
	}

	if !v.IsLocked(vault.Sticky, vault.Wide, vault.FmcTCI) {
		t.Error("FMC TCI not sticky")
	}

	for _, p := range []image.Payload{o.Fmc, o.Rt} {
		if !bytes.Equal(c.Memory.Loaded[p.LoadAddr], p.Data) {
			t.Errorf("component not loaded at %#08x", p.LoadAddr)
		}
	}

	for _, test := range []struct {
		sector uint16
		want   uint32
	}{
		{sector: rollback.FmcSector, want: o.Fmc.SVN},
		{sector: rollback.RtSector, want: o.Rt.SVN},
	} {
		if got, _ := c.Rollback.MinSVN(test.sector); got != test.want {
			t.Errorf("Got sector %d SVN %d, want %d", test.sector, got, test.want)
		}
	}

	for _, k := range []keyvault.KeyID{keyvault.IDevIDPrivKey, keyvault.LDevIDPrivKey} {
		if _, err := d.KeyVault.PublicKey(k); err == nil {
			t.Errorf("key slot %d not erased", k)
		}
	}

	pub, err := d.KeyVault.PublicKey(keyvault.FmcAliasPrivKey)

	if err != nil {
		t.Fatalf("FMC alias key: %v", err)
	}

	if x, y := v.FmcAliasPubKey(); pub.X != x || pub.Y != y {
		t.Error("vault FMC alias public key differs from the key store one")
	}

	ldevid := certificate(t, d.LDevIDTBS, v.ReadWide(vault.Sticky, vault.LDevIDSigR), v.ReadWide(vault.Sticky, vault.LDevIDSigS))
	fmc := certificate(t, d.FmcAliasTBS, v.ReadWide(vault.Sticky, vault.FmcAliasSigR), v.ReadWide(vault.Sticky, vault.FmcAliasSigS))

	if err := fmc.CheckSignatureFrom(ldevid); err != nil {
		t.Errorf("FMC alias certificate not issued by LDevID: %v", err)
	}

	tcb, ok := cert.ParseTcbInfo(fmc.Extensions)

	if !ok || tcb.SVN != int(o.Fmc.SVN) || tcb.Version != o.Version.String() {
		t.Errorf("Got FMC alias TCB info %+v", tcb)
	}
}

func TestWarmBoot(t *testing.T) {
	c := chain.New(t)
	cold := c.BootROM(t)

	// update the runtime only
	o := *c.Firmware.Options
	o.Rt.Data = append([]byte{0xee}, o.Rt.Data...)
	o.Rt.SVN = 3

	img, err := image.Build(&o)

	if err != nil {
		t.Fatalf("image.Build: %v", err)
	}

	c.Write(t, img)

	warm := c.BootROM(t)

	if got, want := warm.Vault.RtSVN(), uint32(3); got != want {
		t.Errorf("Got RT SVN %d, want %d", got, want)
	}

	if got, want := [32]byte(warm.Vault.RtTCI()), sha256.Sum256(o.Rt.Data); got != want {
		t.Errorf("Got RT TCI %x, want %x", got, want)
	}

	if !bytes.Equal(warm.FmcAliasTBS, cold.FmcAliasTBS) {
		t.Error("FMC alias certificate changed on warm boot")
	}

	if got, _ := c.Rollback.MinSVN(rollback.RtSector); got != 3 {
		t.Errorf("Got RT rollback SVN %d, want 3", got)
	}
}

func TestBootFailures(t *testing.T) {
	for _, test := range []struct {
		name  string
		setup func(t *testing.T, c *chain.Chain)
		want  fatal.Code
	}{
		{
			name: "no firmware",
			setup: func(t *testing.T, c *chain.Chain) {
				c.ROM.Storage = testonly.NewMemDev(chain.NumBlocks)
			},
			want: fatal.ImageVerifyLoadFailure,
		},
		{
			name: "unreleased firmware",
			setup: func(t *testing.T, c *chain.Chain) {
				if ft.DisableAuth {
					t.Skip("release authentication disabled")
				}
				c.ROM.Transparency = testonly.NewRelease(t).Verifier
			},
			want: fatal.ImageVerifyTransparencyFailure,
		},
		{
			name: "rolled back FMC",
			setup: func(t *testing.T, c *chain.Chain) {
				if err := c.Rollback.Commit(rollback.FmcSector, 5); err != nil {
					t.Fatal(err)
				}
			},
			want: fatal.ImageVerifyFmcSVNLessThanMin,
		},
		{
			name: "load failure",
			setup: func(t *testing.T, c *chain.Chain) {
				c.Memory.Err = errors.New("bus error")
			},
			want: fatal.ImageVerifyLoadFailure,
		},
		{
			name: "rollback store failure",
			setup: func(t *testing.T, c *chain.Chain) {
				c.ROM.Rollback = failingStore{}
			},
			want: fatal.RollbackFailure,
		},
		{
			name: "warm boot with invalid handoff table",
			setup: func(t *testing.T, c *chain.Chain) {
				d := persistent.New(&keyvault.Soft{})
				d.FHT.Marker = 0

				if err := d.Store(c.ROM.Persistent); err != nil {
					t.Fatal(err)
				}
			},
			want: fatal.RomHandoffFhtInvalid,
		},
		{
			name: "warm boot with another FMC",
			setup: func(t *testing.T, c *chain.Chain) {
				c.BootROM(t)

				o := *c.Firmware.Options
				o.Fmc.Data = bytes.Repeat([]byte{0x11}, len(o.Fmc.Data))
				img, err := image.Build(&o)

				if err != nil {
					t.Fatal(err)
				}

				c.Write(t, img)
			},
			want: fatal.ImageVerifyFmcDigestMismatchWarm,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := chain.New(t)
			test.setup(t, c)

			testonly.MustHalt(t, test.want, c.ROM.Boot)
		})
	}
}

func TestInconsistentPersistentDataHalts(t *testing.T) {
	for _, test := range []struct {
		name   string
		offset int
	}{
		{name: "handoff table", offset: 12},
		{name: "checksum", offset: persistent.Size - 1},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := chain.New(t)
			c.BootROM(t)

			c.ROM.Persistent[test.offset] ^= 0xff

			testonly.MustHalt(t, fatal.RomHandoffFhtInvalid, c.ROM.Boot)
		})
	}
}

func TestInvalidatedPersistentDataColdBoots(t *testing.T) {
	c := chain.New(t)
	c.BootROM(t)

	persistent.Invalidate(c.ROM.Persistent)

	d := c.BootROM(t)

	if d.LDevIDTBS == nil {
		t.Error("identity not derived on cold boot")
	}
}

func TestMockVerificationInProduction(t *testing.T) {
	if !verify.FastVerify {
		t.Skip("mock verification not compiled in")
	}

	policy, _ := testonly.NewPolicy()
	r := &rom.ROM{
		Policy: policy,
		Fuses:  &testonly.Fuses{Life: image.Production},
	}

	testonly.MustHalt(t, fatal.ImageVerifyMockInProduction, r.Boot)
}

type failingStore struct{}

func (failingStore) MinSVN(uint16) (uint32, error) { return 0, nil }

func (failingStore) Commit(uint16, uint32) error { return errors.New("RPMB write failed") }

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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/transparency-dev/armored-witness-dice/cert"
	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
	"github.com/transparency-dev/armored-witness-dice/internal/testonly"
	"github.com/transparency-dev/armored-witness-dice/transfer"
	"github.com/transparency-dev/armored-witness-dice/vault"
)

func TestHandleRoundTrip(t *testing.T) {
	for _, test := range []struct {
		kind  Kind
		count int
	}{
		{KindKeyVault, keyvault.NumKeys},
		{KindNonStickyWide, vault.Count(vault.NonSticky, vault.Wide)},
		{KindStickyWide, vault.Count(vault.Sticky, vault.Wide)},
		{KindNonStickySmall, vault.Count(vault.NonSticky, vault.Small)},
		{KindStickySmall, vault.Count(vault.Sticky, vault.Small)},
	} {
		t.Run(test.kind.String(), func(t *testing.T) {
			for i := 0; i < test.count; i++ {
				h := NewHandle(test.kind, uint32(i))
				if h.Kind() != test.kind || h.Index() != uint32(i) {
					t.Fatalf("Got (%v, %d), want (%v, %d)", h.Kind(), h.Index(), test.kind, i)
				}
				ds, err := h.Resolve()
				if err != nil {
					t.Fatalf("Resolve(%v): %v", h, err)
				}
				if got := ds.Handle(); got != h {
					t.Fatalf("Got handle %v, want %v", got, h)
				}
			}

			if _, err := NewHandle(test.kind, uint32(test.count)).Resolve(); fatal.CodeOf(err) != fatal.FmcHandoffInvalidParam {
				t.Fatalf("out of range index resolved: %v", err)
			}
		})
	}

	for _, h := range []Handle{Invalid, 0, NewHandle(6, 0), NewHandle(KindInvalid, 1), NewHandle(KindKeyVault, 1<<24)} {
		if ds, err := h.Resolve(); err == nil {
			t.Errorf("%#08x resolved to %#v", uint32(h), ds)
		}
	}
}

func newHandOff() (*HandOff, *testonly.Reporter) {
	p, r := testonly.NewPolicy()
	fht := New()
	fht.SetFmcHandles(keyvault.FmcAliasCDI, keyvault.FmcAliasPrivKey)
	fht.SetRtHandles()

	return &HandOff{
		FHT:    fht,
		Vault:  &vault.Vault{},
		Policy: p,
	}, r
}

func TestKindMismatchHalts(t *testing.T) {
	for _, test := range []struct {
		name string
		set  func(fht *Table)
		call func(h *HandOff)
	}{
		{
			name: "CDI resolving to vault slot",
			set:  func(fht *Table) { fht.FmcCDI = StickyWide{Slot: vault.FmcTCI}.Handle() },
			call: func(h *HandOff) { h.FmcCDI() },
		}, {
			name: "public key resolving to key slot",
			set:  func(fht *Table) { fht.FmcPubKeyY = KeyVaultSlot{Key: keyvault.FmcAliasPrivKey}.Handle() },
			call: func(h *HandOff) { h.FmcPubKey() },
		}, {
			name: "SVN resolving to wide slot",
			set:  func(fht *Table) { fht.RtSVN = NonStickyWide{Slot: vault.RtTCI}.Handle() },
			call: func(h *HandOff) { h.RtSVN() },
		}, {
			name: "min SVN resolving to sticky slot",
			set:  func(fht *Table) { fht.RtMinSVN = StickySmall{Slot: vault.FmcSVN}.Handle() },
			call: func(h *HandOff) { h.SetAndLockRtMinSVN(1) },
		}, {
			name: "unset entry point",
			set:  func(fht *Table) { fht.RtEntryPoint = Invalid },
			call: func(h *HandOff) { h.RtEntryPoint() },
		}, {
			name: "signature written to small slot",
			set:  func(fht *Table) { fht.RtDiceSigS = NonStickySmall{Slot: vault.RtSVN}.Handle() },
			call: func(h *HandOff) { h.SetRtDiceSignature(cert.Signature{R: [32]byte{1}, S: [32]byte{2}}) },
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			h, r := newHandOff()
			test.set(h.FHT)

			testonly.MustHalt(t, fatal.FmcHandoffInvalidParam, func() { test.call(h) })

			if diff := cmp.Diff([]fatal.Code{fatal.FmcHandoffInvalidParam}, r.Codes); diff != "" {
				t.Fatalf("Got diff: %s", diff)
			}
		})
	}
}

func TestStickyAndNonStickyPaths(t *testing.T) {
	h, _ := newHandOff()
	tci := vault.WideValue{0xde, 0xad}

	if err := h.Vault.WriteWide(vault.Sticky, vault.FmcTCI, tci); err != nil {
		t.Fatal(err)
	}
	if err := h.Vault.WriteWide(vault.NonSticky, vault.RtTCI, tci); err != nil {
		t.Fatal(err)
	}

	fromSticky := h.FmcTCI()
	h.FHT.FmcTCI = NonStickyWide{Slot: vault.RtTCI}.Handle()
	fromNonSticky := h.FmcTCI()

	if fromSticky != tci || fromNonSticky != tci {
		t.Fatalf("Got %x and %x, want %x", fromSticky, fromNonSticky, tci)
	}
}

func TestSetAndLockRtMinSVN(t *testing.T) {
	t.Run("unlocked", func(t *testing.T) {
		h, _ := newHandOff()

		if err := h.SetAndLockRtMinSVN(5); err != nil {
			t.Fatalf("SetAndLockRtMinSVN: %v", err)
		}
		if got := h.RtMinSVN(); got != 5 {
			t.Fatalf("Got %d, want 5", got)
		}
		if !h.Vault.IsLocked(vault.NonSticky, vault.Small, vault.RtMinSVN) {
			t.Fatal("slot not locked after success")
		}
	})

	t.Run("already locked at 3", func(t *testing.T) {
		h, r := newHandOff()

		if err := h.SetAndLockRtMinSVN(3); err != nil {
			t.Fatal(err)
		}

		err := h.SetAndLockRtMinSVN(5)
		if fatal.CodeOf(err) != fatal.VaultLockViolation {
			t.Fatalf("Got %v, want lock violation", err)
		}
		if got := h.RtMinSVN(); got != 3 {
			t.Fatalf("Got %d, want 3", got)
		}
		if !h.Vault.IsLocked(vault.NonSticky, vault.Small, vault.RtMinSVN) {
			t.Fatal("slot unlocked by failed call")
		}
		if len(r.Codes) != 0 {
			t.Fatalf("Got reports %v, the caller decides", r.Codes)
		}
	})

	t.Run("warm reset", func(t *testing.T) {
		h, _ := newHandOff()

		if err := h.SetAndLockRtMinSVN(3); err != nil {
			t.Fatal(err)
		}
		h.Vault.WarmReset()
		if err := h.SetAndLockRtMinSVN(4); err != nil {
			t.Fatalf("Got %v after warm reset", err)
		}
		if got := h.RtMinSVN(); got != 4 {
			t.Fatalf("Got %d, want 4", got)
		}
	})
}

func TestIsReadyForRt(t *testing.T) {
	out := DiceOutput{
		CDI:     keyvault.RtAliasCDI,
		PrivKey: keyvault.RtAliasPrivKey,
		PubKey:  keyvault.PubKey{X: [32]byte{1}, Y: [32]byte{2}},
	}

	t.Run("fresh table", func(t *testing.T) {
		h, _ := newHandOff()
		if err := h.IsReadyForRt(); !errors.Is(err, ErrNotReady) {
			t.Fatalf("Got %v, want not ready", err)
		}
	})

	t.Run("key slot only", func(t *testing.T) {
		h, _ := newHandOff()
		h.FHT.RtCDI = KeyVaultSlot{Key: out.CDI}.Handle()
		h.FHT.RtPrivKey = KeyVaultSlot{Key: out.PrivKey}.Handle()

		err := h.IsReadyForRt()
		if !errors.Is(err, ErrNotReady) {
			t.Fatalf("Got %v, want not ready", err)
		}
		if fatal.CodeOf(err) != fatal.FmcHandoffNotReadyForRt {
			t.Fatalf("Got code %v", fatal.CodeOf(err))
		}
	})

	t.Run("public key of wrong kind", func(t *testing.T) {
		h, _ := newHandOff()
		h.Update(out)
		h.FHT.RtPubKeyY = NonStickySmall{Slot: vault.RtSVN}.Handle()

		if err := h.IsReadyForRt(); !errors.Is(err, ErrNotReady) {
			t.Fatalf("Got %v, want not ready", err)
		}
	})

	t.Run("updated", func(t *testing.T) {
		h, _ := newHandOff()
		h.Update(out)

		if err := h.IsReadyForRt(); err != nil {
			t.Fatalf("IsReadyForRt: %v", err)
		}
		if diff := cmp.Diff(out.PubKey, h.RtPubKey()); diff != "" {
			t.Fatalf("Got diff: %s", diff)
		}
		if h.RtCDI() != out.CDI || h.RtPrivKey() != out.PrivKey {
			t.Fatalf("Got slots %d/%d", h.RtCDI(), h.RtPrivKey())
		}
	})
}

func TestSignatures(t *testing.T) {
	h, _ := newHandOff()
	sig := cert.Signature{R: [32]byte{0x11}, S: [32]byte{0x22}}

	h.SetRtDiceSignature(sig)

	if diff := cmp.Diff(sig, h.RtDiceSignature()); diff != "" {
		t.Fatalf("Got diff: %s", diff)
	}
}

func TestToRt(t *testing.T) {
	for _, test := range []struct {
		name     string
		entry    uint32
		wantCode fatal.Code
	}{
		{
			name:  "in region",
			entry: 0x90010000,
		}, {
			name:     "outside region",
			entry:    0x80000000,
			wantCode: fatal.AddressNotInICCM,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			h, _ := newHandOff()
			if err := h.Vault.WriteSmall(vault.NonSticky, vault.RtEntryPoint, test.entry); err != nil {
				t.Fatal(err)
			}

			tr := &transfer.Transfer{
				Region: transfer.Region{Origin: 0x90000000, Size: 0x00100000},
				Jumper: &testonly.Jumper{},
				Policy: h.Policy,
			}

			o := testonly.Run(t, func() { h.ToRt(tr) })

			switch {
			case test.wantCode != fatal.Success:
				if o.Halted == nil || o.Halted.Code != test.wantCode {
					t.Fatalf("Got %v, want %v", o, test.wantCode)
				}
			case o.Jumped == nil || o.Jumped.Entry != test.entry:
				t.Fatalf("Got %v, want jump to %#x", o, test.entry)
			}
		})
	}
}

func TestTableLayout(t *testing.T) {
	fht := New()
	fht.SetFmcHandles(keyvault.FmcAliasCDI, keyvault.FmcAliasPrivKey)
	fht.RtAliasTBSSize = 400

	buf, err := fht.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(buf) != TableSize {
		t.Fatalf("Got %d bytes, want %d", len(buf), TableSize)
	}

	got := &Table{}
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if !got.IsValid() {
		t.Fatal("decoded table not valid")
	}
	if diff := cmp.Diff(fht, got); diff != "" {
		t.Fatalf("Got diff: %s", diff)
	}

	if (&Table{}).IsValid() {
		t.Fatal("zero table is valid")
	}
}

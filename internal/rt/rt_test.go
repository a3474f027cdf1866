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
package rt_test

import (
	"crypto/x509"
	"testing"

	"github.com/coreos/go-semver/semver"

	"github.com/transparency-dev/armored-witness-dice/api"
	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/fmc"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
	"github.com/transparency-dev/armored-witness-dice/internal/persistent"
	"github.com/transparency-dev/armored-witness-dice/internal/rt"
	"github.com/transparency-dev/armored-witness-dice/internal/testonly"
	"github.com/transparency-dev/armored-witness-dice/internal/testonly/chain"
)

var version = semver.New("1.2.3")

// boot runs the whole chain up to the runtime entry.
func boot(t *testing.T) (*chain.Chain, *rt.Runtime) {
	t.Helper()

	c := chain.New(t)
	c.BootROM(t)

	policy, _ := testonly.NewPolicy()
	f := &fmc.FMC{
		Policy:     policy,
		Transfer:   c.Transfer(policy),
		Persistent: c.Persistent,
		Version:    version.String(),
	}

	chain.MustJump(t, c.Firmware.Options.Rt.EntryPoint, f.Boot)

	policy, _ = testonly.NewPolicy()

	return c, rt.Entry(policy, c.Persistent, version)
}

func certificate(t *testing.T, r *rt.Runtime, cmd uint32) *x509.Certificate {
	t.Helper()

	buf, err := r.Handle(cmd)
	if err != nil {
		t.Fatalf("Handle(%#x): %v", cmd, err)
	}

	resp := &api.CertResp{}
	if err := resp.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}

	c, err := x509.ParseCertificate(resp.Cert())
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}

	return c
}

func TestCertificates(t *testing.T) {
	_, r := boot(t)

	ldevid := certificate(t, r, api.CmdGetLDevIDCert)
	fmcAlias := certificate(t, r, api.CmdGetFmcAliasCert)
	rtAlias := certificate(t, r, api.CmdGetRtAliasCert)

	for _, test := range []struct {
		name          string
		child, parent *x509.Certificate
	}{
		{name: "FMC alias", child: fmcAlias, parent: ldevid},
		{name: "RT alias", child: rtAlias, parent: fmcAlias},
	} {
		t.Run(test.name, func(t *testing.T) {
			if err := test.child.CheckSignatureFrom(test.parent); err != nil {
				t.Errorf("CheckSignatureFrom: %v", err)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	c, r := boot(t)

	buf, err := r.Handle(api.CmdStatus)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	s, err := api.ParseStatus(buf)
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}

	o := c.Firmware.Options
	if s.FmcSVN != o.Fmc.SVN || s.RtSVN != o.Rt.SVN || s.RtMinSVN != o.Rt.SVN || s.Stage != "RT" {
		t.Errorf("Got status %+v", s)
	}

	if !s.Version.Equal(*version) {
		t.Errorf("Got version %v, want %v", s.Version, version)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, r := boot(t)

	if _, err := r.Handle(0xdeadbeef); fatal.CodeOf(err) != fatal.RuntimeUnimplementedCommand {
		t.Errorf("Got %v, want %v", err, fatal.RuntimeUnimplementedCommand)
	}

	for _, cmd := range []uint32{0xdeadbeef, 0} {
		resp := &api.ErrorResp{}

		if err := resp.UnmarshalBinary(r.Dispatch(cmd)); err != nil {
			t.Fatalf("UnmarshalBinary: %v", err)
		}

		if got, want := fatal.Code(resp.Code), fatal.RuntimeUnimplementedCommand; got != want {
			t.Errorf("Got code %v, want %v", got, want)
		}
	}

	if r.Policy.Halted() {
		t.Fatal("unknown command halted the runtime")
	}

	if _, err := api.ParseStatus(r.Dispatch(api.CmdStatus)); err != nil {
		t.Errorf("Got %v serving status after an unknown command", err)
	}
}

func TestRtAliasTBSSizeOverflow(t *testing.T) {
	_, r := boot(t)
	r.HandOff.FHT.RtAliasTBSSize = uint32(len(r.Data.RtAliasTBS) + 1)

	if _, err := r.GetRtAliasCert(); fatal.CodeOf(err) != fatal.FmcHandoffInvalidParam {
		t.Errorf("Got %v, want %v", err, fatal.FmcHandoffInvalidParam)
	}
}

func TestEntryWithoutHandoff(t *testing.T) {
	for _, test := range []struct {
		name string
		mem  func() []byte
	}{
		{
			name: "cold memory",
			mem:  func() []byte { return make([]byte, persistent.Size) },
		},
		{
			name: "invalid handoff table",
			mem: func() []byte {
				mem := make([]byte, persistent.Size)
				d := persistent.New(&keyvault.Soft{})
				d.FHT.Marker = 0
				if err := d.Store(mem); err != nil {
					t.Fatal(err)
				}
				return mem
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			policy, rep := testonly.NewPolicy()
			mem := test.mem()

			testonly.MustHalt(t, fatal.RuntimeHandoffFhtNotLoaded, func() { rt.Entry(policy, mem, version) })

			if len(rep.Codes) != 1 || rep.Codes[0] != fatal.RuntimeHandoffFhtNotLoaded {
				t.Errorf("Got reported codes %v", rep.Codes)
			}
		})
	}
}

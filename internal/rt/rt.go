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

// Package rt implements the runtime services built on the state handed over
// by the earlier stages.
package rt

import (
	"github.com/coreos/go-semver/semver"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/api"
	"github.com/transparency-dev/armored-witness-dice/cert"
	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/handoff"
	"github.com/transparency-dev/armored-witness-dice/internal/persistent"
)

// Runtime holds the handoff state for the lifetime of the runtime.
type Runtime struct {
	Policy  *fatal.Policy
	Data    *persistent.Data
	HandOff *handoff.HandOff
	Version *semver.Version
}

// Entry restores the state handed over by the FMC, it halts when no valid
// handoff table is available.
func Entry(policy *fatal.Policy, mem []byte, version *semver.Version) *Runtime {
	d, err := persistent.Load(mem)

	if err != nil {
		klog.Errorf("rt: %v", err)
		policy.Halt(fatal.Errorf(fatal.RuntimeHandoffFhtNotLoaded, "could not load handoff state, %w", err))
	}

	if !d.FHT.IsValid() {
		policy.Haltf(fatal.RuntimeHandoffFhtNotLoaded, "invalid handoff table")
	}

	return &Runtime{
		Policy: policy,
		Data:   d,
		HandOff: &handoff.HandOff{
			FHT:    d.FHT,
			Vault:  d.Vault,
			Policy: policy,
		},
		Version: version,
	}
}

func certResp(tbs []byte, sig cert.Signature) (*api.CertResp, error) {
	resp := &api.CertResp{}
	n, err := cert.Build(tbs, sig, resp.Data[:])

	if err != nil {
		return nil, err
	}

	resp.DataSize = uint32(n)

	return resp, nil
}

// GetLDevIDCert returns the LDevID certificate issued by the ROM.
func (r *Runtime) GetLDevIDCert() (*api.CertResp, error) {
	return certResp(r.Data.LDevIDTBS, r.HandOff.LDevIDCertSignature())
}

// GetFmcAliasCert returns the FMC alias certificate issued by the ROM.
func (r *Runtime) GetFmcAliasCert() (*api.CertResp, error) {
	return certResp(r.Data.FmcAliasTBS, r.HandOff.FmcCertSignature())
}

// GetRtAliasCert returns the runtime alias certificate issued by the FMC.
func (r *Runtime) GetRtAliasCert() (*api.CertResp, error) {
	tbs := r.Data.RtAliasTBS
	n := r.HandOff.FHT.RtAliasTBSSize

	if int(n) > len(tbs) {
		return nil, fatal.Errorf(fatal.FmcHandoffInvalidParam, "RT alias TBS size %d exceeds template (%d bytes)", n, len(tbs))
	}

	return certResp(tbs[:n], r.HandOff.RtDiceSignature())
}

// Status returns the runtime status.
func (r *Runtime) Status() *api.Status {
	h := r.HandOff

	return &api.Status{
		FatalCode: uint32(r.Policy.Code()),
		Stage:     "RT",
		Version:   r.Version,
		FmcSVN:    h.FmcSVN(),
		RtSVN:     h.RtSVN(),
		RtMinSVN:  h.RtMinSVN(),
	}
}

// Handle serves a command and returns its encoded response.
func (r *Runtime) Handle(cmd uint32) ([]byte, error) {
	var resp *api.CertResp
	var err error

	switch cmd {
	case api.CmdGetLDevIDCert:
		resp, err = r.GetLDevIDCert()
	case api.CmdGetFmcAliasCert:
		resp, err = r.GetFmcAliasCert()
	case api.CmdGetRtAliasCert:
		resp, err = r.GetRtAliasCert()
	case api.CmdStatus:
		return r.Status().Bytes(), nil
	default:
		return nil, fatal.Errorf(fatal.RuntimeUnimplementedCommand, "unknown command %#08x", cmd)
	}

	if err != nil {
		return nil, err
	}

	return resp.MarshalBinary()
}

// Dispatch serves a command. Unknown commands get an error response, any
// other failure is fatal.
func (r *Runtime) Dispatch(cmd uint32) []byte {
	res, err := r.Handle(cmd)

	if code := fatal.CodeOf(err); err != nil && code == fatal.RuntimeUnimplementedCommand {
		klog.Warningf("rt: %v", err)

		if res, err = (&api.ErrorResp{Code: uint32(code)}).MarshalBinary(); err == nil {
			return res
		}
	}

	if err != nil {
		klog.Errorf("rt: command %#08x failed, %v", cmd, err)
		r.Policy.Halt(err)
	}

	return res
}

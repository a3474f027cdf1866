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

// The rt command is the runtime stage, it serves the certificate chain
// handed over by the earlier stages.
package main

import (
	"encoding/pem"
	"log"
	"os"
	"runtime"

	"github.com/coreos/go-semver/semver"

	"github.com/transparency-dev/armored-witness-dice/api"
	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/rt"
	"github.com/transparency-dev/armored-witness-dice/internal/soc"
)

var (
	Build    string
	Revision string
	Version  string
)

func init() {
	log.SetPrefix("RT ")
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	soc.Init()

	log.Printf("%s/%s (%s) • DICE runtime %s • %s %s",
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

	version, err := semver.NewVersion(Version)

	if err != nil {
		log.Printf("invalid version %q, %v", Version, err)
	}

	r := rt.Entry(policy, soc.Persistent(), version)

	soc.Progress(false)

	st, err := api.ParseStatus(r.Dispatch(api.CmdStatus))

	if err != nil {
		policy.Haltf(fatal.GlobalUnknown, "invalid status, %v", err)
	}

	log.Print(st.Print())

	for _, cmd := range []uint32{api.CmdGetLDevIDCert, api.CmdGetFmcAliasCert, api.CmdGetRtAliasCert} {
		resp := &api.CertResp{}

		if err = resp.UnmarshalBinary(r.Dispatch(cmd)); err != nil {
			policy.Haltf(fatal.GlobalUnknown, "invalid certificate response, %v", err)
		}

		log.Print(string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: resp.Cert()})))
	}

	soc.Halt()
}

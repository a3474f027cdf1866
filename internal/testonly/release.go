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
package testonly

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/transparency-dev/armored-witness-common/release/firmware"
	"github.com/transparency-dev/armored-witness-common/release/firmware/ftlog"
	"github.com/transparency-dev/merkle/rfc6962"
	"golang.org/x/mod/sumdb/note"

	"github.com/transparency-dev/armored-witness-dice/internal/ft"
)

// LogOrigin is the origin of the test release log.
const LogOrigin = "Armored DICE Test Log"

// Release signs test firmware releases into a single leaf release log.
type Release struct {
	Verifier *ft.Verifier

	log      note.Signer
	manifest note.Signer
}

func newSigner(t *testing.T, name string) (note.Signer, string) {
	t.Helper()

	skey, vkey, err := note.GenerateKey(rand.Reader, name)

	if err != nil {
		t.Fatal(err)
	}

	s, err := note.NewSigner(skey)

	if err != nil {
		t.Fatal(err)
	}

	return s, vkey
}

// NewRelease returns a release log with fresh log and manifest keys.
func NewRelease(t *testing.T) *Release {
	t.Helper()

	r := &Release{}
	var logKey, manifestKey string

	r.log, logKey = newSigner(t, "log")
	r.manifest, manifestKey = newSigner(t, "release")

	v, err := ft.NewVerifier(LogOrigin, logKey, manifestKey)

	if err != nil {
		t.Fatal(err)
	}

	r.Verifier = v

	return r
}

// Bundle returns the proof bundle of a release of img.
func (r *Release) Bundle(t *testing.T, img []byte) *firmware.Bundle {
	t.Helper()

	digest := sha256.Sum256(img)
	js, err := json.Marshal(ftlog.FirmwareRelease{
		Component: ftlog.ComponentOS,
		Output: ftlog.Output{
			FirmwareDigestSha256: digest[:],
		},
	})

	if err != nil {
		t.Fatal(err)
	}

	m, err := note.Sign(&note.Note{Text: string(js) + "\n"}, r.manifest)

	if err != nil {
		t.Fatal(err)
	}

	root := rfc6962.DefaultHasher.HashLeaf(m)
	cp, err := note.Sign(&note.Note{
		Text: fmt.Sprintf("%s\n%d\n%s\n", LogOrigin, 1, base64.StdEncoding.EncodeToString(root)),
	}, r.log)

	if err != nil {
		t.Fatal(err)
	}

	return &firmware.Bundle{
		Checkpoint: cp,
		Index:      0,
		Manifest:   m,
		Firmware:   img,
	}
}

// Memory records the components loaded at each address.
type Memory struct {
	Loaded map[uint32][]byte
	Err    error
}

func (m *Memory) Load(addr uint32, data []byte) error {
	if m.Err != nil {
		return m.Err
	}

	if m.Loaded == nil {
		m.Loaded = make(map[uint32][]byte)
	}

	m.Loaded[addr] = append([]byte{}, data...)

	return nil
}

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

// Package ft verifies that a firmware image was published in the firmware
// transparency log before it is allowed to boot.
package ft

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/transparency-dev/armored-witness-common/release/firmware"
	"github.com/transparency-dev/armored-witness-common/release/firmware/ftlog"
	"github.com/transparency-dev/formats/log"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"
	"golang.org/x/mod/sumdb/note"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/fatal"
)

// Release log and manifest keys, set at build time with -ldflags -X.
var (
	LogOrigin        string
	LogPublicKey     string
	ReleasePublicKey string
)

// Verifier checks firmware transparency bundles.
type Verifier struct {
	LogOrigin         string
	LogVerifier       note.Verifier
	ManifestVerifiers []note.Verifier
}

// NewVerifier returns a verifier from note verifier keys.
func NewVerifier(logOrigin string, logKey string, manifestKeys ...string) (*Verifier, error) {
	logV, err := note.NewVerifier(logKey)

	if err != nil {
		return nil, fmt.Errorf("invalid log key, %v", err)
	}

	v := &Verifier{
		LogOrigin:   logOrigin,
		LogVerifier: logV,
	}

	for _, k := range manifestKeys {
		mv, err := note.NewVerifier(k)

		if err != nil {
			return nil, fmt.Errorf("invalid manifest key, %v", err)
		}

		v.ManifestVerifiers = append(v.ManifestVerifiers, mv)
	}

	return v, nil
}

// Default returns the verifier configured at build time.
func Default() (*Verifier, error) {
	return NewVerifier(LogOrigin, LogPublicKey, ReleasePublicKey)
}

func failure(format string, a ...any) error {
	return fatal.Errorf(fatal.ImageVerifyTransparencyFailure, format, a...)
}

// Verify checks that the bundle manifest is committed to by a log checkpoint
// and that it claims digest as the firmware digest. The release statement is
// returned on success.
func (v *Verifier) Verify(b *firmware.Bundle, digest [32]byte) (*ftlog.FirmwareRelease, error) {
	if len(v.ManifestVerifiers) == 0 {
		return nil, failure("no manifest verifiers")
	}

	cp, _, _, err := log.ParseCheckpoint(b.Checkpoint, v.LogOrigin, v.LogVerifier)

	if err != nil {
		return nil, failure("invalid checkpoint, %v", err)
	}

	n, err := note.Open(b.Manifest, note.VerifierList(v.ManifestVerifiers...))

	if err != nil {
		return nil, failure("invalid manifest, %v", err)
	}

	r := &ftlog.FirmwareRelease{}

	if err = json.Unmarshal([]byte(n.Text), r); err != nil {
		return nil, failure("invalid manifest contents, %v", err)
	}

	if b.Index >= cp.Size {
		return nil, failure("manifest index %d beyond checkpoint size %d", b.Index, cp.Size)
	}

	leaf := rfc6962.DefaultHasher.HashLeaf(b.Manifest)

	if err = proof.VerifyInclusion(rfc6962.DefaultHasher, b.Index, cp.Size, leaf, b.InclusionProof, cp.Hash); err != nil {
		return nil, failure("invalid inclusion proof, %v", err)
	}

	if !bytes.Equal(r.Output.FirmwareDigestSha256, digest[:]) {
		return nil, failure("firmware digest %x, manifest claims %x", digest[:], r.Output.FirmwareDigestSha256)
	}

	klog.Infof("ft: %s release committed at index %d of checkpoint %d", r.Component, b.Index, cp.Size)

	return r, nil
}

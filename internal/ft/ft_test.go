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
package ft_test

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

	"github.com/transparency-dev/armored-witness-dice/fatal"
	"github.com/transparency-dev/armored-witness-dice/internal/ft"
)

const origin = "Armored DICE Test Log"

type keys struct {
	signer   note.Signer
	verifier string
}

func genKeys(t *testing.T, name string) keys {
	t.Helper()

	skey, vkey, err := note.GenerateKey(rand.Reader, name)

	if err != nil {
		t.Fatal(err)
	}

	s, err := note.NewSigner(skey)

	if err != nil {
		t.Fatal(err)
	}

	return keys{signer: s, verifier: vkey}
}

func sign(t *testing.T, k keys, text string) []byte {
	t.Helper()

	n, err := note.Sign(&note.Note{Text: text}, k.signer)

	if err != nil {
		t.Fatal(err)
	}

	return n
}

func manifest(t *testing.T, k keys, digest [32]byte) []byte {
	t.Helper()

	js, err := json.Marshal(ftlog.FirmwareRelease{
		Component: ftlog.ComponentOS,
		Output: ftlog.Output{
			FirmwareDigestSha256: digest[:],
		},
	})

	if err != nil {
		t.Fatal(err)
	}

	return sign(t, k, string(js)+"\n")
}

// bundle returns a bundle committing to m as the second leaf of a two leaf log.
func bundle(t *testing.T, logKey keys, m []byte, logOrigin string) *firmware.Bundle {
	t.Helper()

	h := rfc6962.DefaultHasher
	other := h.HashLeaf([]byte("previous release"))
	root := h.HashChildren(other, h.HashLeaf(m))
	cp := fmt.Sprintf("%s\n%d\n%s\n", logOrigin, 2, base64.StdEncoding.EncodeToString(root))

	return &firmware.Bundle{
		Checkpoint:     sign(t, logKey, cp),
		Index:          1,
		InclusionProof: [][]byte{other},
		Manifest:       m,
	}
}

func TestVerify(t *testing.T) {
	logKey := genKeys(t, "log")
	releaseKey := genKeys(t, "release")
	otherKey := genKeys(t, "other")

	fw := []byte("firmware image")
	digest := sha256.Sum256(fw)

	v, err := ft.NewVerifier(origin, logKey.verifier, releaseKey.verifier)

	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	for _, test := range []struct {
		name    string
		bundle  func() *firmware.Bundle
		digest  [32]byte
		wantErr bool
	}{
		{
			name:   "valid",
			bundle: func() *firmware.Bundle { return bundle(t, logKey, manifest(t, releaseKey, digest), origin) },
			digest: digest,
		}, {
			name:    "other firmware",
			bundle:  func() *firmware.Bundle { return bundle(t, logKey, manifest(t, releaseKey, digest), origin) },
			digest:  sha256.Sum256([]byte("other image")),
			wantErr: true,
		}, {
			name:    "manifest not signed by release key",
			bundle:  func() *firmware.Bundle { return bundle(t, logKey, manifest(t, otherKey, digest), origin) },
			digest:  digest,
			wantErr: true,
		}, {
			name:    "checkpoint not signed by log key",
			bundle:  func() *firmware.Bundle { return bundle(t, otherKey, manifest(t, releaseKey, digest), origin) },
			digest:  digest,
			wantErr: true,
		}, {
			name:    "wrong log origin",
			bundle:  func() *firmware.Bundle { return bundle(t, logKey, manifest(t, releaseKey, digest), "Other Log") },
			digest:  digest,
			wantErr: true,
		}, {
			name: "wrong index",
			bundle: func() *firmware.Bundle {
				b := bundle(t, logKey, manifest(t, releaseKey, digest), origin)
				b.Index = 0
				return b
			},
			digest:  digest,
			wantErr: true,
		}, {
			name: "index beyond checkpoint",
			bundle: func() *firmware.Bundle {
				b := bundle(t, logKey, manifest(t, releaseKey, digest), origin)
				b.Index = 2
				return b
			},
			digest:  digest,
			wantErr: true,
		}, {
			name: "bad proof",
			bundle: func() *firmware.Bundle {
				b := bundle(t, logKey, manifest(t, releaseKey, digest), origin)
				b.InclusionProof[0][0] ^= 1
				return b
			},
			digest:  digest,
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			r, err := v.Verify(test.bundle(), test.digest)

			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Got %v, wantErr %t", err, test.wantErr)
			}

			if err != nil {
				if got := fatal.CodeOf(err); got != fatal.ImageVerifyTransparencyFailure {
					t.Errorf("Got code %v, want %v", got, fatal.ImageVerifyTransparencyFailure)
				}

				return
			}

			if r.Component != ftlog.ComponentOS {
				t.Errorf("Got component %q, want %q", r.Component, ftlog.ComponentOS)
			}
		})
	}
}

func TestNewVerifier(t *testing.T) {
	logKey := genKeys(t, "log")

	for _, test := range []struct {
		name    string
		logKey  string
		keys    []string
		wantErr bool
	}{
		{name: "valid", logKey: logKey.verifier, keys: []string{logKey.verifier}},
		{name: "bad log key", logKey: "log+1234+AAAA", wantErr: true},
		{name: "bad manifest key", logKey: logKey.verifier, keys: []string{"garbage"}, wantErr: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := ft.NewVerifier(origin, test.logKey, test.keys...)

			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Got %v, wantErr %t", err, test.wantErr)
			}
		})
	}

	t.Run("no manifest keys", func(t *testing.T) {
		v, err := ft.NewVerifier(origin, logKey.verifier)

		if err != nil {
			t.Fatal(err)
		}

		if _, err := v.Verify(&firmware.Bundle{}, [32]byte{}); err == nil {
			t.Errorf("Got nil error without manifest verifiers")
		}
	})
}

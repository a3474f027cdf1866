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


package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/transparency-dev/armored-witness-common/release/firmware"

	"github.com/transparency-dev/armored-witness-dice/internal/storage"
)

func TestFlashDisk(t *testing.T) {
	for _, test := range []struct {
		desc string
		size int
	}{
		{
			desc: "block aligned",
			size: 4 * storage.ExpectedBlockSize,
		},
		{
			desc: "partial block",
			size: 3*storage.ExpectedBlockSize + 17,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "disk.img")
			fw := &firmware.Bundle{
				Checkpoint: []byte("checkpoint\n"),
				Index:          3,
				InclusionProof: [][]byte{bytes.Repeat([]byte{0x01}, 32)},
				Manifest:       []byte("manifest"),
				Firmware:       bytes.Repeat([]byte{0xa5}, test.size),
			}

			if err := flashDisk(p, fw); err != nil {
				t.Fatalf("flashDisk: %v", err)
			}

			f, err := os.Open(p)

			if err != nil {
				t.Fatalf("os.Open: %v", err)
			}
			defer f.Close()

			got, err := storage.Read(&disk{f: f})

			if err != nil {
				t.Fatalf("storage.Read: %v", err)
			}

			if diff := cmp.Diff(fw.Firmware, got.Firmware); diff != "" {
				t.Errorf("Got firmware diff: %s", diff)
			}

			if diff := cmp.Diff(fw.InclusionProof, got.InclusionProof); diff != "" {
				t.Errorf("Got proof diff: %s", diff)
			}

			if got.Index != fw.Index || !bytes.Equal(got.Checkpoint, fw.Checkpoint) || !bytes.Equal(got.Manifest, fw.Manifest) {
				t.Errorf("Got bundle %d %q %q, want %d %q %q", got.Index, got.Checkpoint, got.Manifest, fw.Index, fw.Checkpoint, fw.Manifest)
			}
		})
	}
}

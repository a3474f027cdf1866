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
package rollback_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/transparency-dev/armored-witness-dice/internal/rollback"
	"github.com/transparency-dev/armored-witness-dice/internal/testonly"
)

type flag struct {
	fused bool
	blown int
	err   error
}

func (f *flag) Read() (bool, error) {
	return f.fused, f.err
}

func (f *flag) Blow() error {
	f.fused = true
	f.blown++

	return nil
}

var key = rollback.DeriveKey(bytes.Repeat([]byte{0xaa}, 16), []byte{1, 2, 3, 4, 5, 6, 7, 8})

func testStore(t *testing.T, s rollback.Store) {
	t.Helper()

	for _, test := range []struct {
		name    string
		sector  uint16
		svn     uint32
		want    uint32
		wantErr error
	}{
		{name: "first", sector: rollback.FmcSector, svn: 3, want: 3},
		{name: "same", sector: rollback.FmcSector, svn: 3, want: 3},
		{name: "forward", sector: rollback.FmcSector, svn: 4, want: 4},
		{name: "backward", sector: rollback.FmcSector, svn: 2, want: 4, wantErr: rollback.ErrRollback},
		{name: "other sector", sector: rollback.RtSector, svn: 1, want: 1},
	} {
		t.Run(test.name, func(t *testing.T) {
			err := s.Commit(test.sector, test.svn)

			if !errors.Is(err, test.wantErr) {
				t.Fatalf("Got %v, want %v", err, test.wantErr)
			}

			got, err := s.MinSVN(test.sector)

			if err != nil {
				t.Fatalf("MinSVN: %v", err)
			}

			if got != test.want {
				t.Errorf("Got %d, want %d", got, test.want)
			}
		})
	}

	for _, sector := range []uint16{rollback.DummySector, 3, 0xffff} {
		if _, err := s.MinSVN(sector); err == nil {
			t.Errorf("Got nil error reading sector %d", sector)
		}

		if err := s.Commit(sector, 1); err == nil {
			t.Errorf("Got nil error committing sector %d", sector)
		}
	}
}

func TestMem(t *testing.T) {
	m := &rollback.Mem{}
	testStore(t, m)

	if m.Writes != 3 {
		t.Errorf("Got %d writes, want 3", m.Writes)
	}
}

func TestRPMB(t *testing.T) {
	card := &testonly.Card{}
	f := &flag{}

	s, err := rollback.Open(card, key, f)

	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if f.blown != 1 || !bytes.Equal(card.Key, key) {
		t.Fatalf("Got flag blown %d times and key %x, want key programmed once", f.blown, card.Key)
	}

	testStore(t, s)

	// reopening writes the dummy sector and sees the stored values
	writes := card.Writes
	s, err = rollback.Open(card, key, f)

	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if card.Writes != writes+1 || f.blown != 1 {
		t.Errorf("Got %d writes and %d flag blows, want %d and 1", card.Writes, f.blown, writes+1)
	}

	if got, err := s.MinSVN(rollback.FmcSector); err != nil || got != 4 {
		t.Errorf("Got %d, %v, want 4", got, err)
	}
}

func TestOpen(t *testing.T) {
	for _, test := range []struct {
		name    string
		card    *testonly.Card
		flag    *flag
		wantErr bool
	}{
		{
			name: "programmed",
			card: &testonly.Card{Key: key},
			flag: &flag{fused: true},
		}, {
			name:    "replaced card",
			card:    &testonly.Card{},
			flag:    &flag{fused: true},
			wantErr: true,
		}, {
			name:    "flag unreadable",
			card:    &testonly.Card{},
			flag:    &flag{err: errors.New("OCOTP error")},
			wantErr: true,
		}, {
			name:    "wrong key",
			card:    &testonly.Card{Key: bytes.Repeat([]byte{1}, len(key))},
			flag:    &flag{fused: true},
			wantErr: true,
		}, {
			name:    "card fault",
			card:    &testonly.Card{Fault: errors.New("CMD timeout")},
			flag:    &flag{},
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := rollback.Open(test.card, key, test.flag)

			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Got %v, wantErr %t", err, test.wantErr)
			}

			if test.flag.fused && test.flag.blown != 0 {
				t.Errorf("Got flag blown on a device already fused")
			}
		})
	}
}

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
package rpmb_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/transparency-dev/armored-witness-dice/internal/testonly"
	"github.com/transparency-dev/armored-witness-dice/rpmb"
)

var key = bytes.Repeat([]byte{0x5a}, rpmb.KeyLength)

func programmed(t *testing.T) (*rpmb.RPMB, *testonly.Card) {
	t.Helper()

	card := &testonly.Card{}
	p, err := rpmb.Init(card, key, 0, false)

	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := p.ProgramKey(); err != nil {
		t.Fatalf("ProgramKey: %v", err)
	}

	return p, card
}

func TestInit(t *testing.T) {
	for _, test := range []struct {
		name       string
		card       rpmb.Card
		key        []byte
		writeDummy bool
		wantErr    bool
	}{
		{name: "valid", card: &testonly.Card{}, key: key},
		{name: "no card", key: key, wantErr: true},
		{name: "short key", card: &testonly.Card{}, key: key[1:], wantErr: true},
		{name: "dummy write before programming", card: &testonly.Card{}, key: key, writeDummy: true, wantErr: true},
		{name: "dummy write", card: &testonly.Card{Key: key}, key: key, writeDummy: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := rpmb.Init(test.card, test.key, 0, test.writeDummy)

			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Got %v, wantErr %t", err, test.wantErr)
			}
		})
	}
}

func TestProgramKey(t *testing.T) {
	card := &testonly.Card{}
	p, err := rpmb.Init(card, key, 0, false)

	if err != nil {
		t.Fatal(err)
	}

	ok, err := p.KeyProgrammed()

	if err != nil || ok {
		t.Fatalf("Got %t, %v, want unprogrammed key", ok, err)
	}

	if err := p.ProgramKey(); err != nil {
		t.Fatalf("ProgramKey: %v", err)
	}

	if !bytes.Equal(card.Key, key) {
		t.Errorf("Got card key %x, want %x", card.Key, key)
	}

	if ok, err := p.KeyProgrammed(); err != nil || !ok {
		t.Errorf("Got %t, %v, want programmed key", ok, err)
	}

	var e *rpmb.OperationError

	if err := p.ProgramKey(); !errors.As(err, &e) || e.Result != rpmb.WriteFailure {
		t.Errorf("Got %v, want write failure on second programming", err)
	}
}

func TestReadWrite(t *testing.T) {
	p, card := programmed(t)

	want := []byte("minimum SVN")

	if err := p.Write(2, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if card.Counter != 1 {
		t.Errorf("Got counter %d, want 1", card.Counter)
	}

	got := make([]byte, len(want))

	if err := p.Read(2, got); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if !bytes.Equal(got, want) {
		t.Errorf("Got %q, want %q", got, want)
	}

	n, err := p.Counter(true)

	if err != nil || n != 1 {
		t.Errorf("Got counter %d, %v, want 1", n, err)
	}

	if err := p.Write(0, make([]byte, rpmb.DataLength+1)); err == nil {
		t.Errorf("Got nil error for oversized write")
	}
}

func TestAttacks(t *testing.T) {
	for _, test := range []struct {
		name    string
		tamper  func(*testonly.Card)
		op      func(*rpmb.RPMB) error
		wantErr error
		// wantResult is checked when wantErr is nil
		wantResult uint16
	}{
		{
			name:    "replayed write",
			tamper:  func(c *testonly.Card) { c.Replay = true },
			op:      func(p *rpmb.RPMB) error { return p.Write(1, []byte{1}) },
			wantErr: rpmb.ErrCounterMismatch,
		}, {
			name:    "forged read response",
			tamper:  func(c *testonly.Card) { c.CorruptMAC = true },
			op:      func(p *rpmb.RPMB) error { return p.Read(1, make([]byte, 4)) },
			wantErr: rpmb.ErrResponseMAC,
		}, {
			name:    "forged counter response",
			tamper:  func(c *testonly.Card) { c.CorruptMAC = true },
			op:      func(p *rpmb.RPMB) error { return p.Write(1, []byte{1}) },
			wantErr: rpmb.ErrResponseMAC,
		}, {
			name:    "wrong key",
			tamper:  func(c *testonly.Card) { c.Key = bytes.Repeat([]byte{1}, rpmb.KeyLength) },
			op:      func(p *rpmb.RPMB) error { return p.Write(1, []byte{1}) },
			wantErr: rpmb.ErrResponseMAC,
		}, {
			name:       "address out of range",
			op:         func(p *rpmb.RPMB) error { return p.Read(testonly.NumRPMBSectors, make([]byte, 4)) },
			wantResult: rpmb.AddressFailure,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			p, card := programmed(t)

			if test.tamper != nil {
				test.tamper(card)
			}

			err := test.op(p)

			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("Got %v, want %v", err, test.wantErr)
				}

				return
			}

			var e *rpmb.OperationError

			if !errors.As(err, &e) || e.Result != test.wantResult {
				t.Fatalf("Got %v, want result %d", err, test.wantResult)
			}
		})
	}
}

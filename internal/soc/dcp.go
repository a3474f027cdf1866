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

package soc

import (
	"crypto/sha256"
	"sync"

	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/transparency-dev/armored-witness-dice/internal/verify"
)

// DCP is the shared Data Co-Processor, a single transaction may be in flight.
type DCP struct {
	mu sync.Mutex
}

type dcpTxn struct {
	dcp *DCP
}

func (d *DCP) TryStartOperation() (verify.Txn, bool) {
	if !d.mu.TryLock() {
		return nil, false
	}

	return &dcpTxn{dcp: d}, true
}

func (t *dcpTxn) Sum256(data []byte) ([32]byte, error) {
	if !imx6ul.Native {
		return sha256.Sum256(data), nil
	}

	return imx6ul.DCP.Sum256(data)
}

func (t *dcpTxn) Release() {
	t.dcp.mu.Unlock()
}

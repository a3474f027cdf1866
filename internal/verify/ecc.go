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

package verify

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/transparency-dev/armored-witness-dice/cert"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
)

// SignatureVerifier checks firmware signatures.
type SignatureVerifier interface {
	Verify(digest [32]byte, pub keyvault.PubKey, sig cert.Signature) (bool, error)
}

// ECDSA verifies P-256 signatures.
type ECDSA struct{}

func (ECDSA) Verify(digest [32]byte, pub keyvault.PubKey, sig cert.Signature) (bool, error) {
	k := pub.ECDSA()

	if !k.Curve.IsOnCurve(k.X, k.Y) {
		return false, errors.New("public key not on curve")
	}

	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])

	return ecdsa.Verify(k, digest[:], r, s), nil
}

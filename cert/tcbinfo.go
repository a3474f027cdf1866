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

package cert

import (
	"crypto/x509/pkix"
	"encoding/asn1"
)

var (
	// tcg-dice-TcbInfo
	OIDTcbInfo = asn1.ObjectIdentifier{2, 23, 133, 5, 4, 1}
	// id-sha256
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
)

// Fwid is a firmware measurement.
type Fwid struct {
	HashAlg asn1.ObjectIdentifier
	Digest  []byte
}

// TcbInfo describes the measured layer a certificate is issued for.
//
//	DiceTcbInfo ::= SEQUENCE {
//		vendor  [0] IMPLICIT UTF8String OPTIONAL,
//		model   [1] IMPLICIT UTF8String OPTIONAL,
//		version [2] IMPLICIT UTF8String OPTIONAL,
//		svn     [3] IMPLICIT INTEGER OPTIONAL,
//		layer   [4] IMPLICIT INTEGER OPTIONAL,
//		index   [5] IMPLICIT INTEGER OPTIONAL,
//		fwids   [6] IMPLICIT FWIDLIST OPTIONAL,
//		...
//	}
type TcbInfo struct {
	Vendor  string `asn1:"optional,tag:0,utf8"`
	Model   string `asn1:"optional,tag:1,utf8"`
	Version string `asn1:"optional,tag:2,utf8"`
	SVN     int    `asn1:"optional,tag:3"`
	Layer   int    `asn1:"optional,tag:4"`
	Index   int    `asn1:"optional,tag:5"`
	Fwids   []Fwid `asn1:"optional,tag:6"`
}

// Extension returns the critical X.509 extension carrying the TCB info.
func (t *TcbInfo) Extension() (pkix.Extension, error) {
	val, err := asn1.Marshal(*t)

	if err != nil {
		return pkix.Extension{}, err
	}

	return pkix.Extension{
		Id:       OIDTcbInfo,
		Critical: true,
		Value:    val,
	}, nil
}

// ParseTcbInfo extracts the TCB info from a certificate extension list.
func ParseTcbInfo(exts []pkix.Extension) (*TcbInfo, bool) {
	for _, ext := range exts {
		if !ext.Id.Equal(OIDTcbInfo) {
			continue
		}

		t := &TcbInfo{}

		if rest, err := asn1.Unmarshal(ext.Value, t); err != nil || len(rest) != 0 {
			return nil, false
		}

		return t, true
	}

	return nil, false
}

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

// Package api defines the records the runtime returns to its callers.
package api

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Command codes
const (
	// "LDEV"
	CmdGetLDevIDCert = 0x5645444c
	// "FMCA"
	CmdGetFmcAliasCert = 0x41434d46
	// "RTAC"
	CmdGetRtAliasCert = 0x43415452
	// "STAT"
	CmdStatus = 0x54415453
)

// FIPS status values
const (
	FIPSApproved    = 0
	FIPSNotApproved = 1
)

// DataMaxSize is the capacity of a certificate response.
const DataMaxSize = 1024

// RespHdr is the header common to all responses.
type RespHdr struct {
	Checksum   uint32
	FIPSStatus uint32
}

// CertResp carries a DER encoded certificate.
type CertResp struct {
	Hdr      RespHdr
	DataSize uint32
	Data     [DataMaxSize]byte
}

// Cert returns the certificate carried by the response.
func (r *CertResp) Cert() []byte {
	if r.DataSize > DataMaxSize {
		return nil
	}

	return r.Data[:r.DataSize]
}

func sum(buf []byte) (s uint32) {
	for _, b := range buf {
		s += uint32(b)
	}

	return
}

// Checksum returns the value which makes the byte sum of the payload and the
// checksum itself wrap to zero.
func Checksum(payload []byte) uint32 {
	return 0 - sum(payload)
}

// VerifyChecksum reports whether an encoded response carries a valid checksum.
func VerifyChecksum(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}

	return binary.LittleEndian.Uint32(buf[0:4])+sum(buf[4:]) == 0
}

// marshal encodes a response starting with a RespHdr and sets its checksum.
func marshal(hdr *RespHdr, r any) ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, r); err != nil {
		return nil, err
	}

	b := buf.Bytes()
	hdr.Checksum = Checksum(b[4:])
	binary.LittleEndian.PutUint32(b[0:4], hdr.Checksum)

	return b, nil
}

func unmarshal(buf []byte, r any) error {
	if len(buf) != binary.Size(r) {
		return fmt.Errorf("invalid response length %d", len(buf))
	}

	if !VerifyChecksum(buf) {
		return fmt.Errorf("invalid response checksum")
	}

	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, r)
}

// MarshalBinary returns the little-endian encoding of the response, with its
// checksum set.
func (r *CertResp) MarshalBinary() ([]byte, error) {
	return marshal(&r.Hdr, r)
}

// UnmarshalBinary decodes a response, the checksum must be valid.
func (r *CertResp) UnmarshalBinary(buf []byte) error {
	return unmarshal(buf, r)
}

// ErrorResp reports a rejected command, the device keeps serving.
type ErrorResp struct {
	Hdr  RespHdr
	Code uint32
}

func (r *ErrorResp) MarshalBinary() ([]byte, error) {
	return marshal(&r.Hdr, r)
}

func (r *ErrorResp) UnmarshalBinary(buf []byte) error {
	return unmarshal(buf, r)
}

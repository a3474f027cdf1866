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
package api

import (
	"bytes"
	"fmt"

	"github.com/coreos/go-semver/semver"
	"google.golang.org/protobuf/encoding/protowire"
)

// Status field numbers
const (
	statusFatalCode protowire.Number = iota + 1
	statusStage
	statusVersion
	statusFmcSVN
	statusRtSVN
	statusRtMinSVN
	statusFIPS
)

// Status is the runtime status message.
type Status struct {
	// FatalCode is the code of the last fatal error, if any.
	FatalCode  uint32
	Stage      string
	Version    *semver.Version
	FmcSVN     uint32
	RtSVN      uint32
	RtMinSVN   uint32
	FIPSStatus uint32
}

// Bytes serializes the status message.
func (s *Status) Bytes() (buf []byte) {
	varint := func(n protowire.Number, v uint32) {
		if v == 0 {
			return
		}

		buf = protowire.AppendTag(buf, n, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(v))
	}

	str := func(n protowire.Number, v string) {
		if len(v) == 0 {
			return
		}

		buf = protowire.AppendTag(buf, n, protowire.BytesType)
		buf = protowire.AppendString(buf, v)
	}

	varint(statusFatalCode, s.FatalCode)
	str(statusStage, s.Stage)

	if s.Version != nil {
		str(statusVersion, s.Version.String())
	}

	varint(statusFmcSVN, s.FmcSVN)
	varint(statusRtSVN, s.RtSVN)
	varint(statusRtMinSVN, s.RtMinSVN)
	varint(statusFIPS, s.FIPSStatus)

	return
}

// ParseStatus decodes a status message, unknown fields are skipped.
func ParseStatus(buf []byte) (*Status, error) {
	s := &Status{}

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)

		if n < 0 {
			return nil, protowire.ParseError(n)
		}

		buf = buf[n:]

		switch {
		case typ == protowire.VarintType && num != statusStage && num != statusVersion:
			v, n := protowire.ConsumeVarint(buf)

			if n < 0 {
				return nil, protowire.ParseError(n)
			}

			buf = buf[n:]

			switch num {
			case statusFatalCode:
				s.FatalCode = uint32(v)
			case statusFmcSVN:
				s.FmcSVN = uint32(v)
			case statusRtSVN:
				s.RtSVN = uint32(v)
			case statusRtMinSVN:
				s.RtMinSVN = uint32(v)
			case statusFIPS:
				s.FIPSStatus = uint32(v)
			}
		case typ == protowire.BytesType && (num == statusStage || num == statusVersion):
			v, n := protowire.ConsumeString(buf)

			if n < 0 {
				return nil, protowire.ParseError(n)
			}

			buf = buf[n:]

			if num == statusStage {
				s.Stage = v
				continue
			}

			ver, err := semver.NewVersion(v)

			if err != nil {
				return nil, fmt.Errorf("invalid version %q, %v", v, err)
			}

			s.Version = ver
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)

			if n < 0 {
				return nil, protowire.ParseError(n)
			}

			buf = buf[n:]
		}
	}

	return s, nil
}

// Print returns the status in textual format.
func (s *Status) Print() string {
	var status bytes.Buffer

	status.WriteString("-------------------------------------------------------------- DICE ----\n")
	status.WriteString(fmt.Sprintf("Stage ..................: %s\n", s.Stage))
	status.WriteString(fmt.Sprintf("Version ................: %v\n", s.Version))
	status.WriteString(fmt.Sprintf("FMC SVN ................: %d\n", s.FmcSVN))
	status.WriteString(fmt.Sprintf("RT SVN .................: %d (min %d)\n", s.RtSVN, s.RtMinSVN))
	status.WriteString(fmt.Sprintf("FIPS status ............: %d\n", s.FIPSStatus))
	status.WriteString(fmt.Sprintf("Fatal error ............: %#08x", s.FatalCode))

	return status.String()
}

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
package testonly

import (
	"crypto/hmac"
	"encoding/binary"
	"errors"

	"github.com/transparency-dev/armored-witness-dice/rpmb"
)

// NumRPMBSectors is the size of the RPMB partition emulated by Card.
const NumRPMBSectors = 16

// Card emulates the RPMB partition of an eMMC, frames are authenticated as
// specified by JESD84-B51.
type Card struct {
	Key     []byte
	Counter uint32
	Sectors [NumRPMBSectors][rpmb.DataLength]byte

	// Replay makes writes succeed without moving the write counter.
	Replay bool
	// CorruptMAC corrupts the MAC of every response.
	CorruptMAC bool
	// Fault is returned by every transfer when set.
	Fault error

	// Writes counts the authenticated data writes committed.
	Writes int

	pending *rpmb.DataFrame
	res     *rpmb.DataFrame
}

func (c *Card) respond(req *rpmb.DataFrame, result uint16) *rpmb.DataFrame {
	res := &rpmb.DataFrame{
		Nonce:   req.Nonce,
		Address: req.Address,
		Resp:    req.Req,
	}

	binary.BigEndian.PutUint16(res.Result[:], result)
	binary.BigEndian.PutUint32(res.WriteCounter[:], c.Counter)

	return res
}

func (c *Card) sign(res *rpmb.DataFrame) {
	if c.Key == nil {
		return
	}

	copy(res.KeyMAC[:], rpmb.MAC(c.Key, res.Bytes()))

	if c.CorruptMAC {
		res.KeyMAC[0] ^= 1
	}
}

func (c *Card) write(req *rpmb.DataFrame, buf []byte) *rpmb.DataFrame {
	if c.Key == nil {
		return c.respond(req, rpmb.AuthenticationKeyNotYetProgrammed)
	}

	if !hmac.Equal(req.KeyMAC[:], rpmb.MAC(c.Key, buf)) {
		return c.respond(req, rpmb.AuthenticationFailure)
	}

	if req.Counter() != c.Counter {
		return c.respond(req, rpmb.CounterFailure)
	}

	addr := binary.BigEndian.Uint16(req.Address[:])

	if addr >= NumRPMBSectors {
		return c.respond(req, rpmb.AddressFailure)
	}

	c.Sectors[addr] = req.Data
	c.Writes++

	if !c.Replay {
		c.Counter++
	}

	return c.respond(req, rpmb.OperationOK)
}

func (c *Card) WriteRPMB(buf []byte, _ bool) error {
	if c.Fault != nil {
		return c.Fault
	}

	req, err := rpmb.Parse(buf)

	if err != nil {
		return err
	}

	switch req.Req {
	case rpmb.AuthenticationKeyProgramming:
		if c.Key != nil {
			c.pending = c.respond(req, rpmb.WriteFailure)
			break
		}

		c.Key = append([]byte{}, req.KeyMAC[:]...)
		c.pending = c.respond(req, rpmb.OperationOK)
	case rpmb.WriteCounterRead:
		if c.Key == nil {
			c.res = c.respond(req, rpmb.AuthenticationKeyNotYetProgrammed)
			break
		}

		c.res = c.respond(req, rpmb.OperationOK)
		c.sign(c.res)
	case rpmb.AuthenticatedDataWrite:
		c.pending = c.write(req, buf)
		c.sign(c.pending)
	case rpmb.AuthenticatedDataRead:
		addr := binary.BigEndian.Uint16(req.Address[:])

		switch {
		case c.Key == nil:
			c.res = c.respond(req, rpmb.AuthenticationKeyNotYetProgrammed)
		case addr >= NumRPMBSectors:
			c.res = c.respond(req, rpmb.AddressFailure)
		default:
			c.res = c.respond(req, rpmb.OperationOK)
			c.res.Data = c.Sectors[addr]
		}

		c.sign(c.res)
	case rpmb.ResultRead:
		if c.pending == nil {
			return errors.New("no pending result")
		}

		c.res, c.pending = c.pending, nil
	default:
		return errors.New("unsupported request")
	}

	return nil
}

func (c *Card) ReadRPMB(buf []byte) error {
	if c.Fault != nil {
		return c.Fault
	}

	if c.res == nil {
		return errors.New("no response")
	}

	copy(buf, c.res.Bytes())
	c.res = nil

	return nil
}

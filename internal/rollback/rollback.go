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

// Package rollback implements the anti-rollback store holding the minimum
// SVN of each boot stage.
package rollback

import (
	"errors"
	"fmt"
	"sync"

	"k8s.io/klog/v2"
)

// Store sectors
const (
	// DummySector is written on every boot to invalidate uncommitted
	// writes (CVE-2020-13799).
	DummySector = 0
	FmcSector   = 1
	RtSector    = 2

	numSectors = 3
)

// ErrRollback is returned when a commit would move a minimum SVN backwards.
var ErrRollback = errors.New("SVN older than stored minimum")

// Store holds the minimum SVN of each stage, a stored value only ever moves
// forward.
type Store interface {
	MinSVN(sector uint16) (uint32, error)
	Commit(sector uint16, svn uint32) error
}

func checkSector(sector uint16) error {
	if sector == DummySector || sector >= numSectors {
		return fmt.Errorf("invalid rollback sector %d", sector)
	}

	return nil
}

// commit implements the forward only update of a sector on top of its read
// and write primitives.
func commit(sector uint16, svn uint32, read func(uint16) (uint32, error), write func(uint16, uint32) error) error {
	if err := checkSector(sector); err != nil {
		return err
	}

	stored, err := read(sector)

	if err != nil {
		return err
	}

	switch {
	case svn < stored:
		return fmt.Errorf("sector %d: %w (%d < %d)", sector, ErrRollback, svn, stored)
	case svn == stored:
		return nil
	}

	klog.Infof("rollback: sector %d minimum SVN %d -> %d", sector, stored, svn)

	return write(sector, svn)
}

// Mem is a volatile store, used in tests and in builds without RPMB access.
type Mem struct {
	sync.Mutex

	svn [numSectors]uint32
	// Writes counts the committed updates.
	Writes int
}

func (m *Mem) read(sector uint16) (uint32, error) {
	if err := checkSector(sector); err != nil {
		return 0, err
	}

	return m.svn[sector], nil
}

func (m *Mem) write(sector uint16, svn uint32) error {
	m.svn[sector] = svn
	m.Writes++

	return nil
}

func (m *Mem) MinSVN(sector uint16) (uint32, error) {
	m.Lock()
	defer m.Unlock()

	return m.read(sector)
}

func (m *Mem) Commit(sector uint16, svn uint32) error {
	m.Lock()
	defer m.Unlock()

	return commit(sector, svn, m.read, m.write)
}

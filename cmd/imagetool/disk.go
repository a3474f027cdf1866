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
	"fmt"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/transparency-dev/armored-witness-common/release/firmware"

	"github.com/transparency-dev/armored-witness-dice/internal/storage"
)

// disk is a storage.Device backed by a disk image file.
type disk struct {
	f   *os.File
	bar *pb.ProgressBar
}

func (d *disk) BlockSize() uint {
	return storage.ExpectedBlockSize
}

func (d *disk) ReadBlocks(lba uint, b []byte) error {
	if len(b)%storage.ExpectedBlockSize != 0 {
		return fmt.Errorf("read size %d not a multiple of the block size", len(b))
	}

	_, err := d.f.ReadAt(b, int64(lba)*storage.ExpectedBlockSize)

	return err
}

func (d *disk) WriteBlocks(lba uint, b []byte) (uint, error) {
	if r := len(b) % storage.ExpectedBlockSize; r != 0 {
		b = append(b, make([]byte, storage.ExpectedBlockSize-r)...)
	}

	if _, err := d.f.WriteAt(b, int64(lba)*storage.ExpectedBlockSize); err != nil {
		return 0, err
	}

	if d.bar != nil {
		d.bar.Add(len(b))
	}

	return uint(len(b) / storage.ExpectedBlockSize), nil
}

// flashDisk writes a bundle to a disk image, creating it if needed.
func flashDisk(p string, fw *firmware.Bundle) (err error) {
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0o644)

	if err != nil {
		return
	}

	defer func() {
		if e := f.Close(); err == nil {
			err = e
		}
	}()

	bar := pb.Full.Start(len(fw.Firmware))
	bar.Set(pb.Bytes, true)
	defer bar.Finish()

	d := &disk{f: f, bar: bar}

	if err = storage.Write(d, fw); err != nil {
		return
	}

	// read back what the ROM will see
	got, err := storage.Read(d)

	if err != nil {
		return fmt.Errorf("read back failed, %v", err)
	}

	if len(got.Firmware) != len(fw.Firmware) {
		return fmt.Errorf("read back %d bytes, want %d", len(got.Firmware), len(fw.Firmware))
	}

	return
}

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

// Package storage reads and writes the firmware image and its transparency
// proof bundle on the internal eMMC.
package storage

import (
	"fmt"
	"runtime"

	"github.com/transparency-dev/armored-witness-boot/config"
	"github.com/transparency-dev/armored-witness-common/release/firmware"
	"k8s.io/klog/v2"
)

const (
	// ExpectedBlockSize is the size in bytes of an eMMC block.
	ExpectedBlockSize = 512
	// ConfBlock is the block holding the image configuration.
	ConfBlock = 0x5000
	// ImageBlock is the first block of the firmware image.
	ImageBlock = ConfBlock + config.MaxLength/ExpectedBlockSize
	// MaxImageSize is the largest firmware image accepted.
	MaxImageSize = 31457280

	batchSize = 2048
)

// Device is a block device.
type Device interface {
	// BlockSize returns the size in bytes of each block.
	BlockSize() uint
	// ReadBlocks reads len(b) bytes from contiguous blocks starting at lba,
	// b must be a multiple of the block size.
	ReadBlocks(lba uint, b []byte) error
	// WriteBlocks writes b to contiguous blocks starting at lba, a partial
	// final block is padded with zeroes.
	WriteBlocks(lba uint, b []byte) (uint, error)
}

func checkBlockSize(dev Device) error {
	if bs := dev.BlockSize(); bs != ExpectedBlockSize {
		return fmt.Errorf("h/w invariant error - expected MMC blocksize %d, found %d", ExpectedBlockSize, bs)
	}

	return nil
}

func read(dev Device, offset int64, size int64) ([]byte, error) {
	if offset%ExpectedBlockSize != 0 {
		return nil, fmt.Errorf("unaligned offset %d", offset)
	}

	n := (size + ExpectedBlockSize - 1) / ExpectedBlockSize
	buf := make([]byte, n*ExpectedBlockSize)

	if err := dev.ReadBlocks(uint(offset/ExpectedBlockSize), buf); err != nil {
		return nil, err
	}

	return buf[:size], nil
}

// Read reads the firmware image and its proof bundle, neither is verified by
// this function.
func Read(dev Device) (fw *firmware.Bundle, err error) {
	if err = checkBlockSize(dev); err != nil {
		return
	}

	buf, err := read(dev, ConfBlock*ExpectedBlockSize, config.MaxLength)

	if err != nil {
		return
	}

	conf := &config.Config{}

	if err = conf.Decode(buf); err != nil {
		return nil, fmt.Errorf("invalid image configuration, %v", err)
	}

	if conf.Size <= 0 || conf.Size > MaxImageSize {
		return nil, fmt.Errorf("invalid image size %d", conf.Size)
	}

	fw = &firmware.Bundle{
		Checkpoint:     conf.Bundle.Checkpoint,
		Index:          conf.Bundle.LogIndex,
		InclusionProof: conf.Bundle.InclusionProof,
		Manifest:       conf.Bundle.Manifest,
	}

	if fw.Firmware, err = read(dev, conf.Offset, conf.Size); err != nil {
		return nil, fmt.Errorf("failed to read firmware: %v", err)
	}

	return
}

// flash writes a buffer to blocks starting at lba.
func flash(dev Device, buf []byte, lba uint) (err error) {
	blockSize := int(dev.BlockSize())

	if rem := len(buf) % blockSize; rem > 0 {
		buf = append(buf, make([]byte, blockSize-rem)...)
	}

	blocks := len(buf) / blockSize
	batch := batchSize

	// write in batch to limit DMA requirements
	for i := 0; i < blocks; i += batch {
		if i+batch > blocks {
			batch = blocks - i
		}

		start := i * blockSize
		end := start + blockSize*batch

		if _, err = dev.WriteBlocks(lba+uint(i), buf[start:end]); err != nil {
			return
		}

		klog.V(1).Infof("storage: flashed %d/%d blocks", i+batch, blocks)

		runtime.Gosched()
	}

	return
}

// Write writes a firmware image and its proof bundle.
func Write(dev Device, fw *firmware.Bundle) error {
	if err := checkBlockSize(dev); err != nil {
		return err
	}

	if len(fw.Firmware) == 0 || len(fw.Firmware) > MaxImageSize {
		return fmt.Errorf("invalid image size %d", len(fw.Firmware))
	}

	conf := &config.Config{
		Size:   int64(len(fw.Firmware)),
		Offset: ImageBlock * ExpectedBlockSize,
		Bundle: config.ProofBundle{
			Checkpoint:     fw.Checkpoint,
			LogIndex:       fw.Index,
			InclusionProof: fw.InclusionProof,
			Manifest:       fw.Manifest,
		},
	}

	confEnc, err := conf.Encode()

	if err != nil {
		return err
	}

	klog.Infof("storage: flashing config (%d bytes) @ %#x", len(confEnc), ConfBlock)

	if err = flash(dev, confEnc, ConfBlock); err != nil {
		return fmt.Errorf("config flashing error: %v", err)
	}

	klog.Infof("storage: flashing image (%d bytes) @ %#x", len(fw.Firmware), ImageBlock)

	if err = flash(dev, fw.Firmware, ImageBlock); err != nil {
		return fmt.Errorf("image flashing error: %v", err)
	}

	return nil
}

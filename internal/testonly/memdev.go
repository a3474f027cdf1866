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
	"fmt"
)

// MemBlockSize is the number of bytes in a single memory block.
const MemBlockSize = 512

// MemDev is a sparse in-memory block device.
type MemDev struct {
	Blocks    map[uint][MemBlockSize]byte
	NumBlocks uint

	// OnBlockWritten is called just after a mem block has been written.
	OnBlockWritten func(lba uint)
}

// NewMemDev creates a new in-memory block device.
func NewMemDev(numBlocks uint) *MemDev {
	return &MemDev{
		Blocks:    make(map[uint][MemBlockSize]byte),
		NumBlocks: numBlocks,
	}
}

// BlockSize returns the block size of the underlying storage system.
func (md *MemDev) BlockSize() uint {
	return MemBlockSize
}

func (md *MemDev) span(lba uint, n int) (uint, error) {
	bl := uint(n / MemBlockSize)

	if lba >= md.NumBlocks || lba+bl > md.NumBlocks {
		return 0, fmt.Errorf("blocks [%d, %d) beyond device blocks (%d)", lba, lba+bl, md.NumBlocks)
	}

	return bl, nil
}

// ReadBlocks reads len(b) bytes into b from contiguous storage blocks starting
// at the given block address, unwritten blocks read as zeroes.
func (md *MemDev) ReadBlocks(lba uint, b []byte) error {
	bl, err := md.span(lba, len(b))

	if err != nil {
		return err
	}

	for i := uint(0); i < bl; i++ {
		blk := md.Blocks[lba+i]
		copy(b[i*MemBlockSize:], blk[:])
	}

	return nil
}

// WriteBlocks writes len(b) bytes from b to contiguous storage blocks starting
// at the given block address, padding the final block.
//
// Returns the number of blocks written, or an error.
func (md *MemDev) WriteBlocks(lba uint, b []byte) (uint, error) {
	if r := len(b) % MemBlockSize; r != 0 {
		b = append(b, make([]byte, MemBlockSize-r)...)
	}

	bl, err := md.span(lba, len(b))

	if err != nil {
		return 0, err
	}

	for i := uint(0); i < bl; i++ {
		var blk [MemBlockSize]byte
		copy(blk[:], b[i*MemBlockSize:])
		md.Blocks[lba+i] = blk

		if md.OnBlockWritten != nil {
			md.OnBlockWritten(lba + i)
		}
	}

	return bl, nil
}

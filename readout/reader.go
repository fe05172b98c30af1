// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package readout

import (
	"encoding/binary"
)

// BlockSource performs block transfers from a board output buffer.
type BlockSource interface {
	ReadBlock(p []byte) (int, error)
}

// BlockReader buffers the words of one block transfer and hands them out
// one at a time.
type BlockReader struct {
	src BlockSource
	buf []byte // raw bytes of the last transfer
	n   int    // number of bytes of the last transfer
	cur int    // cursor, in words
	nw  int    // number of words of the last transfer
}

// NewBlockReader returns a block reader transferring data from src.
func NewBlockReader(src BlockSource) *BlockReader {
	return &BlockReader{
		src: src,
		buf: make([]byte, MaxBLTSize),
	}
}

// HasBuffered reports whether unconsumed words remain in the buffer.
func (r *BlockReader) HasBuffered() bool {
	return r.cur < r.nw
}

// NeedsRefill reports whether a new block should be transferred: either
// all the words have been consumed, or the current word is a filler.
func (r *BlockReader) NeedsRefill() bool {
	return !r.HasBuffered() || r.Peek().Tag() == TagFiller
}

// Peek returns the word at the cursor, without consuming it.
// Peek must only be called when HasBuffered is true.
func (r *BlockReader) Peek() Word {
	return Word(binary.LittleEndian.Uint32(r.buf[4*r.cur:]))
}

// Next returns the word at the cursor and advances the cursor.
// Next must only be called when HasBuffered is true.
func (r *BlockReader) Next() Word {
	w := r.Peek()
	r.cur++
	return w
}

// Refill performs one block transfer, replacing the buffer content, and
// returns the number of words and bytes transferred.
// On error, the buffer is left empty.
func (r *BlockReader) Refill() (words, bytes int, err error) {
	r.cur = 0
	r.n, err = r.src.ReadBlock(r.buf)
	if err != nil {
		r.n = 0
		r.nw = 0
		return 0, 0, err
	}
	switch {
	case r.n < 0:
		r.n = 0
	case r.n > len(r.buf):
		r.n = len(r.buf)
	}
	r.nw = r.n / 4
	return r.nw, r.n, nil
}

// Discard drops the remaining words of the current block.
func (r *BlockReader) Discard() {
	r.cur = r.nw
}

// Raw returns the bytes of the last block transfer.
// The returned slice is only valid until the next call to Refill.
func (r *BlockReader) Raw() []byte {
	return r.buf[:r.n]
}

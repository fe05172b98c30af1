// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package readout holds types to configure CAEN QTP boards and to decode
// the data words they produce.
package readout // import "github.com/go-lpc/qtp/readout"

import "fmt"

const (
	MaxChannels = 32         // maximum number of channels of a QTP board
	MaxBLTSize  = 256 * 1024 // maximum size (in bytes) of a block transfer
	ValueMask   = 0xFFF      // mask of the 12-bit conversion value
)

// Tag is the data type of a QTP output word.
type Tag uint32

const (
	TagChannel Tag = 0x00000000 // channel data
	TagHeader  Tag = 0x02000000 // event header
	TagEOB     Tag = 0x04000000 // end of block (event trailer)
	TagFiller  Tag = 0x06000000 // filler (not valid datum)

	tagMask = 0x06000000
)

func (tag Tag) String() string {
	switch tag {
	case TagChannel:
		return "channel"
	case TagHeader:
		return "header"
	case TagEOB:
		return "eob"
	case TagFiller:
		return "filler"
	}
	return fmt.Sprintf("Tag(0x%08x)", uint32(tag))
}

// Word is a 32-bit word of the QTP output buffer.
type Word uint32

// Tag returns the data type of the word.
func (w Word) Tag() Tag { return Tag(w & tagMask) }

// NumChannels returns the number of channel words announced by a header.
func (w Word) NumChannels() int { return int((w >> 8) & 0x3F) }

// Crate returns the crate number of a header.
func (w Word) Crate() uint8 { return uint8(w >> 16) }

// Geo returns the geographical address of a header or trailer.
func (w Word) Geo() uint8 { return uint8(w >> 27) }

// Value returns the 12-bit conversion value of a channel word.
func (w Word) Value() uint16 { return uint16(w & ValueMask) }

// Overflow reports whether the overflow bit of a channel word is set.
func (w Word) Overflow() bool { return w&(1<<12) != 0 }

// UnderThreshold reports whether the under-threshold bit of a channel
// word is set.
func (w Word) UnderThreshold() bool { return w&(1<<13) != 0 }

// EventID returns the 24-bit event counter of a trailer.
func (w Word) EventID() uint32 { return uint32(w & 0xFFFFFF) }

// HeaderWord returns the header announcing nch channel words.
func HeaderWord(geo, crate uint8, nch int) Word {
	return Word(uint32(geo)<<27 | uint32(TagHeader) | uint32(crate)<<16 | uint32(nch&0x3F)<<8)
}

// EOBWord returns the trailer carrying the event counter id.
func EOBWord(geo uint8, id uint32) Word {
	return Word(uint32(geo)<<27 | uint32(TagEOB) | id&0xFFFFFF)
}

// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package readout

// Layout describes the channel numbering scheme of a QTP board.
//
// 32-channel boards (V792, V775, V785, V862, V965A) and 16-channel boards
// (the 'N' variants and V965) encode the channel index at different bit
// positions and space their threshold registers differently.
type Layout interface {
	// NumChannels returns the number of physical channels.
	NumChannels() int
	// Channel returns the channel index encoded in a channel word.
	Channel(w Word) int
	// ChannelWord encodes a channel word for channel ch.
	ChannelWord(ch int, v uint16) Word
	// LLDOffset returns the offset of the low level discriminator
	// register of channel ch.
	LLDOffset(ch int) uint16
}

var (
	Layout32 Layout = layout32{}
	Layout16 Layout = layout16{}
)

// LayoutFor returns the layout of a board with nch channels.
func LayoutFor(nch int) Layout {
	if nch == 16 {
		return Layout16
	}
	return Layout32
}

type layout32 struct{}

func (layout32) NumChannels() int   { return 32 }
func (layout32) Channel(w Word) int { return int((w >> 16) & 0x3F) }
func (layout32) ChannelWord(ch int, v uint16) Word {
	return Word(uint32(TagChannel) | uint32(ch&0x3F)<<16 | uint32(v&ValueMask))
}
func (layout32) LLDOffset(ch int) uint16 { return regLLD + uint16(2*ch) }

type layout16 struct{}

func (layout16) NumChannels() int   { return 16 }
func (layout16) Channel(w Word) int { return int((w >> 17) & 0x3F) }
func (layout16) ChannelWord(ch int, v uint16) Word {
	return Word(uint32(TagChannel) | uint32(ch&0x3F)<<17 | uint32(v&ValueMask))
}
func (layout16) LLDOffset(ch int) uint16 { return regLLD + uint16(4*ch) }

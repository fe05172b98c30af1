// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package readout

import (
	"fmt"
	"math/bits"
)

// State is the state of the event decoder.
type State uint8

const (
	AwaitingHeader State = iota
	ReadingChannels
	AwaitingTrailer
)

func (st State) String() string {
	switch st {
	case AwaitingHeader:
		return "awaiting-header"
	case ReadingChannels:
		return "reading-channels"
	case AwaitingTrailer:
		return "awaiting-trailer"
	}
	return fmt.Sprintf("State(%d)", uint8(st))
}

// FrameError is returned by the decoder when a word does not fit the
// current decoding state.
type FrameError struct {
	State State // decoder state when the word was received
	Word  Word
	Msg   string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("readout: invalid word 0x%08X (%v) in state %v: %s",
		uint32(e.Word), e.Word.Tag(), e.State, e.Msg,
	)
}

// Event is a decoded QTP event.
type Event struct {
	ID    uint32 // event counter, from the trailer
	Geo   uint8
	Crate uint8
	NCh   int // number of channel words announced by the header

	Mask   uint32              // bit i is set if channel i is present
	Values [MaxChannels]uint16 // conversion values, indexed by channel
}

// Present reports whether channel ch was read out for this event.
func (evt *Event) Present(ch int) bool {
	if ch < 0 || ch >= MaxChannels {
		return false
	}
	return evt.Mask&(1<<uint(ch)) != 0
}

// Value returns the conversion value of channel ch, and whether that
// channel was present.
func (evt *Event) Value(ch int) (uint16, bool) {
	if !evt.Present(ch) {
		return 0, false
	}
	return evt.Values[ch], true
}

// Channels returns the present channels, in ascending order.
func (evt *Event) Channels() []int {
	chs := make([]int, 0, bits.OnesCount32(evt.Mask))
	for m := evt.Mask; m != 0; m &= m - 1 {
		chs = append(chs, bits.TrailingZeros32(m))
	}
	return chs
}

func (evt *Event) reset() {
	*evt = Event{}
}

// Histogrammer accumulates channel values.
type Histogrammer interface {
	Increment(ch int, v uint16)
}

// Decoder decodes a stream of QTP words, one word at a time.
//
// Each channel datum is accumulated in the histogrammer as soon as it is
// decoded. Complete events are handed to the emit function.
type Decoder struct {
	layout Layout
	hist   Histogrammer
	emit   func(evt *Event)

	state State
	nch   int // number of channel words announced by the header
	ich   int // number of channel words decoded so far
	evt   Event
}

// NewDecoder creates a new decoder for boards with the provided layout.
// The event passed to emit is only valid for the duration of the call.
func NewDecoder(layout Layout, hist Histogrammer, emit func(evt *Event)) *Decoder {
	return &Decoder{
		layout: layout,
		hist:   hist,
		emit:   emit,
		state:  AwaitingHeader,
	}
}

// State returns the current decoding state.
func (dec *Decoder) State() State { return dec.state }

// Reset forces the decoder back to the AwaitingHeader state, dropping the
// event being decoded.
func (dec *Decoder) Reset() {
	dec.state = AwaitingHeader
	dec.nch = 0
	dec.ich = 0
}

// Feed decodes one word.
// Feed returns a *FrameError if the word is not the one expected in the
// current state. The decoder state is then left unchanged.
func (dec *Decoder) Feed(w Word) error {
	switch dec.state {
	case AwaitingHeader:
		if w.Tag() != TagHeader {
			return dec.errorf(w, "expected a header")
		}
		dec.evt.reset()
		dec.nch = w.NumChannels()
		dec.ich = 0
		dec.evt.NCh = dec.nch
		dec.evt.Geo = w.Geo()
		dec.evt.Crate = w.Crate()
		if dec.nch > 0 {
			dec.state = ReadingChannels
		} else {
			dec.state = AwaitingTrailer
		}

	case ReadingChannels:
		if w.Tag() != TagChannel {
			return dec.errorf(w, "expected channel data")
		}
		ch := dec.layout.Channel(w)
		if ch >= dec.layout.NumChannels() {
			return dec.errorf(w, fmt.Sprintf(
				"channel %d out of range [0, %d)", ch, dec.layout.NumChannels(),
			))
		}
		v := w.Value()
		dec.evt.Values[ch] = v
		dec.evt.Mask |= 1 << uint(ch)
		if dec.hist != nil {
			dec.hist.Increment(ch, v)
		}
		dec.ich++
		if dec.ich >= dec.nch {
			dec.state = AwaitingTrailer
		}

	case AwaitingTrailer:
		if w.Tag() != TagEOB {
			return dec.errorf(w, "expected an end-of-block")
		}
		dec.evt.ID = w.EventID()
		if dec.emit != nil {
			dec.emit(&dec.evt)
		}
		dec.state = AwaitingHeader

	default:
		panic(fmt.Errorf("readout: invalid decoder state %v", dec.state))
	}
	return nil
}

func (dec *Decoder) errorf(w Word, msg string) error {
	return &FrameError{State: dec.state, Word: w, Msg: msg}
}

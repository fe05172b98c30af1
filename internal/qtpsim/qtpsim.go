// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package qtpsim provides a simulated QTP board behind a VME bus.
//
// Importing the package registers the "sim" VME driver.
package qtpsim // import "github.com/go-lpc/qtp/internal/qtpsim"

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"

	"github.com/go-lpc/qtp/readout"
	"github.com/go-lpc/qtp/vme"
)

func init() {
	vme.Register("sim", driver{})
}

type driver struct{}

func (driver) Open(link vme.Link) (vme.Bus, error) {
	seed := int64(1234)
	if link.Arg != "" {
		v, err := strconv.ParseInt(link.Arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("qtpsim: invalid seed %q: %w", link.Arg, err)
		}
		seed = v
	}
	return New(seed), nil
}

const (
	regFWRev     = 0x1000
	regReset     = 0x1016
	regBitSet2   = 0x1032
	regBitClr2   = 0x1034
	regEvtCnt    = 0x1040
	regIPed      = 0x1060
	regLLD       = 0x1080
	regVersion   = 0x8032
	regModelMSB  = 0x803A
	regModelLSB  = 0x803E
	regSerialMSB = 0x8F02
	regSerialLSB = 0x8F06

	bitLowThresh = 0x0010
)

// Board is a simulated QTP board.
//
// Registers are decoded from the 16 lower bits of the bus address, so
// the board answers at any base address.
type Board struct {
	Model   uint16
	Version uint16
	Serial  uint16
	Geo     uint8

	MaxEvents int     // maximum number of events per block transfer
	Glitch    float64 // probability to insert a stray word in a transfer
	Fillers   bool    // terminate transfers with filler words

	mu     sync.Mutex
	rnd    *rand.Rand
	regs   map[uint16]uint16
	evtcnt uint32
	xfers  int
}

// New returns a simulated V792N board.
func New(seed int64) *Board {
	brd := &Board{
		Model:     792,
		Version:   0xE3,
		Serial:    421,
		Geo:       3,
		MaxEvents: 8,
		rnd:       rand.New(rand.NewSource(seed)),
	}
	brd.reset()
	return brd
}

func (brd *Board) reset() {
	brd.regs = map[uint16]uint16{
		regFWRev: 0x0905,
		regIPed:  180,
	}
	brd.evtcnt = 0
}

// Transfers returns the number of block transfers served.
func (brd *Board) Transfers() int {
	brd.mu.Lock()
	defer brd.mu.Unlock()
	return brd.xfers
}

// Register returns the value last written to the register at offset off.
func (brd *Board) Register(off uint16) uint16 {
	brd.mu.Lock()
	defer brd.mu.Unlock()
	return brd.regs[off]
}

func (brd *Board) ReadCycle(addr uint32) (uint16, error) {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	switch off := uint16(addr); off {
	case regModelLSB:
		return brd.Model & 0xFF, nil
	case regModelMSB:
		return brd.Model >> 8, nil
	case regVersion:
		return brd.Version, nil
	case regSerialLSB:
		return brd.Serial & 0xFF, nil
	case regSerialMSB:
		return brd.Serial >> 8, nil
	default:
		return brd.regs[off], nil
	}
}

func (brd *Board) WriteCycle(addr uint32, v uint16) error {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	switch off := uint16(addr); off {
	case regReset:
		brd.reset()
	case regEvtCnt:
		brd.evtcnt = 0
	case regBitSet2:
		brd.regs[off] |= v
	case regBitClr2:
		brd.regs[regBitSet2] &^= v
	default:
		brd.regs[off] = v
	}
	return nil
}

func (brd *Board) FIFOBLTRead(addr uint32, p []byte) (int, error) {
	brd.mu.Lock()
	defer brd.mu.Unlock()

	brd.xfers++

	var (
		model  = readout.Identify(brd.Model, brd.Version)
		layout = model.Layout()
		supp   = brd.regs[regBitSet2]&bitLowThresh == 0
		nevts  = brd.rnd.Intn(brd.MaxEvents + 1)
		words  = make([]uint32, 0, nevts*(layout.NumChannels()+2)+2)
	)

	for i := 0; i < nevts; i++ {
		if brd.Glitch > 0 && brd.rnd.Float64() < brd.Glitch {
			words = append(words, uint32(readout.EOBWord(brd.Geo, 0)))
		}
		chans := make([]uint32, 0, layout.NumChannels())
		for ch := 0; ch < layout.NumChannels(); ch++ {
			v := brd.value(ch)
			if supp && v < int(brd.regs[layout.LLDOffset(ch)])*16 {
				continue
			}
			w := layout.ChannelWord(ch, uint16(v))
			if v > readout.ValueMask {
				w |= 1 << 12 // overflow
			}
			chans = append(chans, uint32(w))
		}
		words = append(words, uint32(readout.HeaderWord(brd.Geo, 0, len(chans))))
		words = append(words, chans...)
		words = append(words, uint32(readout.EOBWord(brd.Geo, brd.evtcnt)))
		brd.evtcnt = (brd.evtcnt + 1) & 0xFFFFFF
	}
	if brd.Fillers && len(words) > 0 {
		words = append(words, uint32(readout.TagFiller), uint32(readout.TagFiller))
	}

	n := 0
	for _, w := range words {
		if n+4 > len(p) {
			break
		}
		binary.LittleEndian.PutUint32(p[n:], w)
		n += 4
	}
	return n, nil
}

// value returns a conversion value for channel ch: a pedestal peak for
// one third of the events, a signal peak otherwise.
func (brd *Board) value(ch int) int {
	mean, sigma := 100.0+float64(brd.regs[regIPed])/4, 5.0
	if brd.rnd.Intn(3) != 0 {
		mean, sigma = 400+20*float64(ch), 30
	}
	v := int(math.Round(brd.rnd.NormFloat64()*sigma + mean))
	switch {
	case v < 0:
		v = 0
	case v > readout.ValueMask+1:
		v = readout.ValueMask + 1
	}
	return v
}

func (brd *Board) Close() error { return nil }

var (
	_ vme.Bus = (*Board)(nil)
)

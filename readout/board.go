// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package readout

import (
	"fmt"

	"github.com/go-lpc/qtp/vme"
)

// QTP register map.
const (
	regFWRev       = 0x1000
	regCtrl1       = 0x1010
	regReset       = 0x1016
	regBitSet2     = 0x1032
	regBitClr2     = 0x1034
	regEvtCntReset = 0x1040
	regIPed        = 0x1060
	regLLD         = 0x1080
	regVersion     = 0x8032
	regModelMSB    = 0x803A
	regModelLSB    = 0x803E
	regSerialMSB   = 0x8F02
	regSerialLSB   = 0x8F06
)

// bit-set/bit-clear 2 register bits.
const (
	bitClearData  = 0x0004
	bitOverRange  = 0x0008
	bitLowThresh  = 0x0010
	bitStepThresh = 0x0100
	bitAllTrg     = 0x1000

	ctrl1BERR = 0x60
)

const DefaultPedestal = 255

// Settings holds the acquisition settings of a QTP board.
type Settings struct {
	Pedestal    uint16              // pedestal current (IPED)
	LLD         [MaxChannels]uint16 // low level discriminator thresholds
	Suppression bool                // zero and overflow suppression
}

// DefaultSettings returns the power-on acquisition settings.
func DefaultSettings() Settings {
	return Settings{
		Pedestal:    DefaultPedestal,
		Suppression: true,
	}
}

// Board is a QTP board reachable through a VME session.
type Board struct {
	sess *vme.Session

	fwrev  uint16
	serial uint16
	model  Model

	err error // first error of the current register sequence
}

// NewBoard returns a board driven through sess.
// Until Identify is called, the board is assumed to have 32 channels.
func NewBoard(sess *vme.Session) *Board {
	return &Board{
		sess:  sess,
		model: Model{Channels: 32},
	}
}

// Session returns the VME session of the board.
func (b *Board) Session() *vme.Session { return b.sess }

// Model returns the identified model of the board.
func (b *Board) Model() Model { return b.model }

// Serial returns the serial number of the board.
func (b *Board) Serial() uint16 { return b.serial }

// Firmware returns the firmware revision of the board.
func (b *Board) Firmware() string {
	return fmt.Sprintf("%d.%d", (b.fwrev>>8)&0xFF, b.fwrev&0xFF)
}

// Reset issues a software reset of the board.
func (b *Board) Reset() error {
	err := b.sess.WriteRegister(regReset, 0)
	if err != nil {
		return fmt.Errorf("readout: could not reset board: %w", err)
	}
	return nil
}

// Identify reads the firmware revision, model, version and serial number
// of the board.
func (b *Board) Identify() error {
	var err error
	b.fwrev, err = b.sess.ReadRegister(regFWRev)
	if err != nil {
		return fmt.Errorf("readout: could not read firmware revision: %w", err)
	}

	b.err = nil
	lsb := b.read(regModelLSB)
	msb := b.read(regModelMSB)
	vers := b.read(regVersion)
	model := (lsb & 0xFF) + (msb&0xFF)<<8

	slsb := b.read(regSerialLSB)
	smsb := b.read(regSerialMSB)
	if b.err != nil {
		return fmt.Errorf("readout: could not identify board: %w", b.err)
	}

	b.model = Identify(model, vers&0xFF)
	b.serial = (slsb & 0xFF) + (smsb&0xFF)<<8
	return nil
}

// Configure programs the pedestal, the bus error mode, the low level
// discriminator thresholds and the suppression mode of the board.
func (b *Board) Configure(cfg Settings) error {
	b.err = nil
	b.write(regIPed, cfg.Pedestal)
	b.write(regCtrl1, ctrl1BERR)

	b.write(regBitClr2, bitStepThresh)
	layout := b.model.Layout()
	for i := 0; i < layout.NumChannels(); i++ {
		b.write(layout.LLDOffset(i), cfg.LLD[i]/16)
	}

	if !cfg.Suppression {
		b.write(regBitSet2, bitLowThresh)
		b.write(regBitSet2, bitOverRange)
		b.write(regBitSet2, bitAllTrg)
	}

	if b.err != nil {
		return fmt.Errorf("readout: could not configure board: %w", b.err)
	}
	return nil
}

// ClearEventCounter resets the board event counter.
func (b *Board) ClearEventCounter() error {
	err := b.sess.WriteRegister(regEvtCntReset, 0)
	if err != nil {
		return fmt.Errorf("readout: could not clear event counter: %w", err)
	}
	return nil
}

// ClearData clears the board output buffer and its readout logic.
func (b *Board) ClearData() error {
	b.err = nil
	b.write(regBitSet2, bitClearData)
	b.write(regBitClr2, bitClearData)
	if b.err != nil {
		return fmt.Errorf("readout: could not clear data: %w", b.err)
	}
	return nil
}

// ReadBlock performs one block transfer of the board output buffer.
func (b *Board) ReadBlock(p []byte) (int, error) {
	return b.sess.ReadBlock(p)
}

func (b *Board) read(off uint16) uint16 {
	if b.err != nil {
		return 0
	}
	v, err := b.sess.ReadRegister(off)
	if err != nil {
		b.err = err
	}
	return v
}

func (b *Board) write(off, v uint16) {
	if b.err != nil {
		return
	}
	b.err = b.sess.WriteRegister(off, v)
}

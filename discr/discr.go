// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package discr programs CAEN V812/V814/V895 16-channel discriminators.
package discr // import "github.com/go-lpc/qtp/discr"

import (
	"fmt"

	"github.com/go-lpc/qtp/vme"
)

const NumChannels = 16

const (
	regThreshold = 0x0000 // threshold of channel i at 2*i
	regWidthLo   = 0x0040 // output width, channels 0-7
	regWidthHi   = 0x0042 // output width, channels 8-15
	regMask      = 0x004A // channel enable mask
)

// Settings holds the settings of a discriminator.
type Settings struct {
	Mask       uint16 // channel enable mask
	Width      uint16 // output width, same for all channels
	Thresholds [NumChannels]uint16
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	cfg := Settings{Width: 10}
	for i := range cfg.Thresholds {
		cfg.Thresholds[i] = 5
	}
	return cfg
}

// Configure programs the discriminator reachable through sess.
// All the registers are written, even after a failure; the first
// failure is returned.
func Configure(sess *vme.Session, cfg Settings) error {
	var err error
	write := func(off, v uint16) {
		e := sess.WriteRegister(off, v)
		if e != nil && err == nil {
			err = e
		}
	}

	write(regMask, cfg.Mask)
	write(regWidthLo, cfg.Width)
	write(regWidthHi, cfg.Width)
	for i, thr := range cfg.Thresholds {
		write(regThreshold+uint16(2*i), thr)
	}

	if err != nil {
		return fmt.Errorf("discr: could not program discriminator at 0x%08X: %w", sess.Base(), err)
	}
	return nil
}

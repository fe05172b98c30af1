// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package readout

import "fmt"

// Model describes the identified model of a QTP board.
type Model struct {
	Number   uint16 // model number (792, 775, 785, 862, 965, ...)
	Version  uint16 // version byte read from the configuration ROM
	Suffix   string // version suffix (AA, NC, ...)
	Channels int    // number of physical channels (16 or 32)
}

// Name returns the commercial name of the model (e.g. V792NC).
func (m Model) Name() string {
	return fmt.Sprintf("V%d%s", m.Number, m.Suffix)
}

// Layout returns the channel layout of the model.
func (m Model) Layout() Layout {
	return LayoutFor(m.Channels)
}

type variant struct {
	suffix string
	nch    int
}

var (
	qdc792 = map[uint16]variant{
		0x11: {"AA", 32},
		0x13: {"AC", 32},
		0xE1: {"NA", 16},
		0xE3: {"NC", 16},
	}

	models = map[uint16]map[uint16]variant{
		792: qdc792,
		775: qdc792,
		785: {
			0x11: {"AA", 32},
			0x12: {"Ab", 32},
			0x13: {"AC", 32},
			0x14: {"AD", 32},
			0x15: {"AE", 32},
			0x16: {"AF", 32},
			0x17: {"AG", 32},
			0x18: {"AH", 32},
			0x1B: {"AK", 32},
			0xE1: {"NA", 16},
			0xE2: {"NB", 16},
			0xE3: {"NC", 16},
			0xE4: {"ND", 16},
		},
		862: {
			0x11: {"AA", 32},
			0x13: {"AC", 32},
		},
		965: {
			0x1E: {"A", 16},
			0xE1: {" ", 32},
			0xE3: {" ", 32},
		},
	}
)

// Identify returns the model description for the provided model number
// and version byte.
// Unknown versions of known models report a "-" suffix, unknown models an
// empty one. Both are assumed to have 32 channels.
func Identify(model, version uint16) Model {
	m := Model{
		Number:   model,
		Version:  version,
		Channels: 32,
	}
	vs, ok := models[model]
	if !ok {
		return m
	}
	v, ok := vs[version]
	if !ok {
		m.Suffix = "-"
		return m
	}
	m.Suffix = v.suffix
	m.Channels = v.nch
	return m
}

// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package histo holds the per-channel histograms of the conversion values
// of a QTP board.
package histo // import "github.com/go-lpc/qtp/histo"

// NumBins is the number of bins of a channel histogram, one per value
// of the 12-bit conversion.
const NumBins = 4096

// Store holds one histogram and one hit counter per channel.
//
// Store is not safe for concurrent use: the acquisition loop owns it and
// hands copies (see Clone) to concurrent consumers.
type Store struct {
	tables [][NumBins]uint32
	hits   []uint64
}

// NewStore creates a new store for nch channels.
func NewStore(nch int) *Store {
	return &Store{
		tables: make([][NumBins]uint32, nch),
		hits:   make([]uint64, nch),
	}
}

// NumChannels returns the number of channels of the store.
func (s *Store) NumChannels() int { return len(s.tables) }

// Increment records value v for channel ch.
func (s *Store) Increment(ch int, v uint16) {
	s.tables[ch][v&(NumBins-1)]++
	s.hits[ch]++
}

// Hits returns the number of values recorded for channel ch since the
// last reset.
func (s *Store) Hits(ch int) uint64 {
	return s.hits[ch]
}

// Snapshot returns a copy of the histogram of channel ch.
func (s *Store) Snapshot(ch int) []uint32 {
	o := make([]uint32, NumBins)
	copy(o, s.tables[ch][:])
	return o
}

// Reset clears all the histograms and hit counters.
func (s *Store) Reset() {
	for i := range s.tables {
		s.tables[i] = [NumBins]uint32{}
		s.hits[i] = 0
	}
}

// Clone returns a point-in-time copy of the store.
func (s *Store) Clone() *Store {
	o := NewStore(len(s.tables))
	copy(o.tables, s.tables)
	copy(o.hits, s.hits)
	return o
}

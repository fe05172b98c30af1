// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vme

import (
	"fmt"
	"io"

	"github.com/go-lpc/qtp/internal/mmap"
)

func init() {
	Register("replay", replayDriver{})
}

type replayDriver struct{}

func (replayDriver) Open(link Link) (Bus, error) {
	return OpenReplay(link.Arg)
}

// Replay is a bus serving the content of a raw data dump as the output
// buffer of a board.
//
// Register reads return zero and register writes are ignored.
// Once the dump is exhausted, block transfers return no data.
type Replay struct {
	h   *mmap.Handle
	pos int64
}

// OpenReplay maps the named raw data dump for replay.
func OpenReplay(fname string) (*Replay, error) {
	h, err := mmap.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("vme: could not open replay file: %w", err)
	}
	return &Replay{h: h}, nil
}

// Done reports whether the whole dump has been served.
func (r *Replay) Done() bool {
	return r.pos >= int64(r.h.Len())
}

func (r *Replay) ReadCycle(addr uint32) (uint16, error) { return 0, nil }

func (r *Replay) WriteCycle(addr uint32, v uint16) error { return nil }

func (r *Replay) FIFOBLTRead(addr uint32, p []byte) (int, error) {
	if r.Done() {
		return 0, nil
	}
	p = p[:len(p)&^3]
	n, err := r.h.ReadAt(p, r.pos)
	if err != nil && err != io.EOF {
		return 0, err
	}
	// only serve whole words.
	n &^= 3
	if n == 0 {
		r.pos = int64(r.h.Len())
		return 0, nil
	}
	r.pos += int64(n)
	return n, nil
}

func (r *Replay) Close() error {
	return r.h.Close()
}

var (
	_ Bus = (*Replay)(nil)
)

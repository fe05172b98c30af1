// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vme

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Session gives access to the registers and to the output FIFO of a
// single board, identified by its base address, on an opened bus.
type Session struct {
	bus  Bus
	base uint32
	rlog io.Writer // run log of all the bus accesses, if any
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRunLog logs every register access and every block transfer to w.
func WithRunLog(w io.Writer) SessionOption {
	return func(s *Session) {
		s.rlog = w
	}
}

// NewSession creates a new session for the board at base on bus.
func NewSession(bus Bus, base uint32, opts ...SessionOption) *Session {
	s := &Session{
		bus:  bus,
		base: base,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Base returns the base address of the board.
func (s *Session) Base() uint32 { return s.base }

// At returns a session for the board at base, sharing the bus and the
// run log of s.
func (s *Session) At(base uint32) *Session {
	return &Session{
		bus:  s.bus,
		base: base,
		rlog: s.rlog,
	}
}

// ReadRegister reads the register at offset off of the board.
func (s *Session) ReadRegister(off uint16) (uint16, error) {
	addr := s.base + uint32(off)
	v, err := s.bus.ReadCycle(addr)
	s.logf("Reading register at address %08X; data=%04X; err=%v\n", addr, v, err)
	if err != nil {
		return v, &TransportError{Op: "register-read", Addr: addr, Err: err}
	}
	return v, nil
}

// WriteRegister writes v to the register at offset off of the board.
func (s *Session) WriteRegister(off, v uint16) error {
	addr := s.base + uint32(off)
	err := s.bus.WriteCycle(addr, v)
	s.logf("Writing register at address %08X; data=%04X; err=%v\n", addr, v, err)
	if err != nil {
		return &TransportError{Op: "register-write", Addr: addr, Err: err}
	}
	return nil
}

// ReadBlock performs one block transfer from the board output buffer
// into p and returns the number of bytes read.
func (s *Session) ReadBlock(p []byte) (int, error) {
	n, err := s.bus.FIFOBLTRead(s.base, p)
	if err != nil {
		s.logf("Read Data Block: err=%v\n", err)
		return 0, &TransportError{Op: "block-read", Addr: s.base, Err: err}
	}
	if s.rlog != nil && n > 0 {
		s.logf("Read Data Block: size = %d bytes\n", n)
		for i := 0; i+4 <= n; i += 4 {
			s.logf("%d: %08X\n", i/4, binary.LittleEndian.Uint32(p[i:]))
		}
	}
	return n, nil
}

// Close closes the underlying bus.
func (s *Session) Close() error {
	return s.bus.Close()
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.rlog == nil {
		return
	}
	fmt.Fprintf(s.rlog, format, args...)
}

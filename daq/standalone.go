// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-lpc/qtp/config"
	"github.com/go-lpc/qtp/discr"
	"github.com/go-lpc/qtp/histo"
	"github.com/go-lpc/qtp/readout"
	"github.com/go-lpc/qtp/vme"
)

// Standalone runs a complete acquisition of a QTP board, as configured
// by a configuration file.
type Standalone struct {
	cfg  config.Config
	run  int32
	opts []Option
	opt  options

	bus  vme.Bus
	rlog *os.File
	brd  *readout.Board
	hist *histo.Store
	sink *Sink
	sum  Summary
}

// NewStandalone creates a standalone acquisition for the given run number.
func NewStandalone(cfg config.Config, run int32, opts ...Option) *Standalone {
	return &Standalone{
		cfg:  cfg,
		run:  run,
		opts: opts,
		opt:  newOptions(opts),
	}
}

// RunStandalone initializes the board, runs the acquisition until stopped
// and releases all the resources.
func RunStandalone(cfg config.Config, run int32, opts ...Option) (Summary, error) {
	daq := NewStandalone(cfg, run, opts...)
	defer daq.Close()

	err := daq.Init()
	if err != nil {
		return Summary{}, err
	}

	err = daq.Run()
	if err != nil {
		return daq.Summary(), err
	}

	err = daq.Close()
	if err != nil {
		return daq.Summary(), err
	}
	return daq.Summary(), nil
}

// Board returns the board being read out.
func (daq *Standalone) Board() *readout.Board { return daq.brd }

// Hist returns the histograms of the acquisition.
func (daq *Standalone) Hist() *histo.Store { return daq.hist }

// Summary returns the statistics of the last run.
func (daq *Standalone) Summary() Summary { return daq.sum }

// Init opens the VME link, programs the discriminator and the QTP board,
// and creates the output files.
func (daq *Standalone) Init() error {
	var (
		msg = daq.opt.msg
		out = daq.cfg.Output
	)

	err := daq.cfg.Validate()
	if err != nil {
		return fmt.Errorf("daq: invalid configuration: %w", err)
	}

	err = os.MkdirAll(out.Dir, 0755)
	if err != nil {
		return fmt.Errorf("daq: could not create output directory %q: %w", out.Dir, err)
	}

	daq.bus = daq.opt.bus
	if daq.bus == nil {
		daq.bus, err = vme.Open(daq.cfg.Link)
		if err != nil {
			return fmt.Errorf("daq: could not open VME link: %w", err)
		}
	}
	msg.Printf("VME link %v opened", daq.cfg.Link)

	var sopts []vme.SessionOption
	if out.Log {
		fname := filepath.Join(out.Dir, out.Prefix+"_log.txt")
		daq.rlog, err = os.Create(fname)
		if err != nil {
			msg.Printf("can't open run log file %q: %+v", fname, err)
		} else {
			sopts = append(sopts, vme.WithRunLog(daq.rlog))
		}
	}
	sess := vme.NewSession(daq.bus, daq.cfg.QTPBase, sopts...)

	if daq.cfg.DiscrBase != 0 {
		err = discr.Configure(sess.At(daq.cfg.DiscrBase), daq.cfg.Discr)
		if err != nil {
			msg.Printf("could not program discriminator: %+v", err)
		} else {
			msg.Printf("discriminator at 0x%08X programmed", daq.cfg.DiscrBase)
		}
	}

	daq.brd = readout.NewBoard(sess)
	err = daq.brd.Reset()
	if err != nil {
		return fmt.Errorf("daq: could not reset QTP board: %w", err)
	}

	err = daq.brd.Identify()
	if err != nil {
		return fmt.Errorf("daq: could not identify QTP board: %w", err)
	}
	msg.Printf(
		"CAEN %s (serial=%d, firmware=%s) found at 0x%08X",
		daq.brd.Model().Name(), daq.brd.Serial(), daq.brd.Firmware(),
		daq.cfg.QTPBase,
	)

	err = daq.brd.Configure(daq.cfg.QTP)
	if err != nil {
		return fmt.Errorf("daq: could not configure QTP board: %w", err)
	}

	daq.hist = histo.NewStore(daq.brd.Model().Channels)
	daq.sink = OpenSink(msg, out, daq.run, daq.brd)
	return nil
}

// Run clears the board buffers and runs the acquisition loop until
// stopped.
func (daq *Standalone) Run() error {
	if daq.brd == nil {
		return fmt.Errorf("daq: acquisition not initialized")
	}

	err := daq.brd.ClearEventCounter()
	if err != nil {
		return fmt.Errorf("daq: could not clear event counter: %w", err)
	}
	err = daq.brd.ClearData()
	if err != nil {
		return fmt.Errorf("daq: could not clear board data: %w", err)
	}

	out := daq.cfg.Output
	opts := []Option{
		WithHistoFiles(out.Dir, out.Prefix, out.Histo),
		WithChannel(daq.cfg.Channel),
		WithHandler(daq.sink),
	}
	opts = append(opts, daq.opts...)

	daq.opt.msg.Printf("acquisition started (run=%d)", daq.run)
	loop := NewLoop(daq.brd, daq.hist, opts...)
	err = loop.Run()
	daq.sum = loop.Summary()
	if err != nil {
		return fmt.Errorf("daq: acquisition failed: %w", err)
	}
	daq.opt.msg.Printf(
		"acquisition stopped: %d events, %d bytes, %d frame errors",
		daq.sum.Events, daq.sum.Bytes, daq.sum.FrameErrors,
	)
	return nil
}

// Close flushes and closes the output files and the VME link.
// Close may be called multiple times.
func (daq *Standalone) Close() error {
	var err error
	if daq.sink != nil {
		e := daq.sink.Close()
		if e != nil && err == nil {
			err = e
		}
		daq.sink = nil
	}
	if daq.rlog != nil {
		e := daq.rlog.Close()
		if e != nil && err == nil {
			err = fmt.Errorf("daq: could not close run log: %w", e)
		}
		daq.rlog = nil
	}
	if daq.bus != nil {
		e := daq.bus.Close()
		if e != nil && err == nil {
			err = fmt.Errorf("daq: could not close VME link: %w", e)
		}
		daq.bus = nil
	}
	return err
}

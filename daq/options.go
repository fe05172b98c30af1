// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/qtp/vme"
)

// Option configures the acquisition.
type Option func(*options)

type options struct {
	msg *log.Logger

	flush time.Duration // statistics and display interval
	poll  time.Duration // command polling interval

	hdlrs []Handler
	cmds  CommandSource
	stop  <-chan os.Signal

	dir     string // directory of histogram files
	prefix  string // prefix of histogram files
	display bool   // write the display file of the selected channel
	save    bool   // periodic and final saving of all histograms
	channel int

	report func(Stats)
	stall  int // number of idle flush intervals before alerting
	alert  Alerter

	bus vme.Bus // bus to use instead of opening the configured link
	now func() time.Time
}

func newOptions(opts []Option) options {
	cfg := options{
		msg:   log.New(os.Stdout, "daq: ", 0),
		flush: 1000 * time.Millisecond,
		poll:  200 * time.Millisecond,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLogger sets the logger of the acquisition.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *options) {
		cfg.msg = msg
	}
}

// WithOutput redirects the messages of the acquisition to w.
func WithOutput(w io.Writer) Option {
	return func(cfg *options) {
		cfg.msg = log.New(w, "daq: ", 0)
	}
}

// WithFlushInterval sets the interval between two statistics reports.
func WithFlushInterval(d time.Duration) Option {
	return func(cfg *options) {
		cfg.flush = d
	}
}

// WithPollInterval sets the interval between two command polls.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *options) {
		cfg.poll = d
	}
}

// WithHandler adds a consumer of the acquired data.
func WithHandler(h Handler) Option {
	return func(cfg *options) {
		cfg.hdlrs = append(cfg.hdlrs, h)
	}
}

// WithCommands sets the source of operator commands.
func WithCommands(src CommandSource) Option {
	return func(cfg *options) {
		cfg.cmds = src
	}
}

// WithStop stops the acquisition when a signal is received on ch.
func WithStop(ch <-chan os.Signal) Option {
	return func(cfg *options) {
		cfg.stop = ch
	}
}

// WithHistoFiles writes the display file of the selected channel under
// dir at every flush. If save is true, all the histograms are also saved
// at every flush and at the end of the acquisition.
func WithHistoFiles(dir, prefix string, save bool) Option {
	return func(cfg *options) {
		cfg.dir = dir
		cfg.prefix = prefix
		cfg.display = true
		cfg.save = save
	}
}

// WithChannel sets the channel initially displayed.
func WithChannel(ch int) Option {
	return func(cfg *options) {
		cfg.channel = ch
	}
}

// WithReporter calls f with the statistics of every flush interval.
func WithReporter(f func(Stats)) Option {
	return func(cfg *options) {
		cfg.report = f
	}
}

// WithStallAlert sends an alert after n consecutive flush intervals
// without any data.
func WithStallAlert(n int, a Alerter) Option {
	return func(cfg *options) {
		cfg.stall = n
		cfg.alert = a
	}
}

// WithBus uses bus instead of opening the configured VME link.
func WithBus(bus vme.Bus) Option {
	return func(cfg *options) {
		cfg.bus = bus
	}
}

func withClock(now func() time.Time) Option {
	return func(cfg *options) {
		cfg.now = now
	}
}

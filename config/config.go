// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config reads the configuration file of a QTP acquisition.
//
// The file holds one keyword per line, followed by its values.
// Lines starting with '#' are comments. Unknown keywords are ignored.
//
//	# VME bridge
//	CONNECTION usbV4718 12345
//	QTP_BASE_ADDRESS 32100000
//	DISCR_BASE_ADDRESS 20000000
//	IPED 255
//	QTP_LLD -1 160
//	ENABLE_SUPPRESSION 0
//	ENABLE_LIST_FILE 1
package config // import "github.com/go-lpc/qtp/config"

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-lpc/qtp/discr"
	"github.com/go-lpc/qtp/readout"
	"github.com/go-lpc/qtp/vme"
)

// Error describes an invalid or incomplete configuration.
type Error struct {
	Key  string // configuration keyword
	Line int    // line number, 0 if the error is not tied to a line
	Msg  string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("config: line %d: %s: %s", e.Line, e.Key, e.Msg)
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Msg)
}

// Output describes the output files of a run.
type Output struct {
	Dir    string // directory of the output files
	Prefix string // prefix of the output file names

	List  bool // event list file
	Raw   bool // raw data dump
	Histo bool // periodic saving of histograms
	LCIO  bool // LCIO event file
	Log   bool // run log of all the bus accesses
}

// Config holds the configuration of a QTP acquisition.
type Config struct {
	Link      vme.Link
	QTPBase   uint32 // base address of the QTP board
	DiscrBase uint32 // base address of the discriminator, 0 if none

	QTP   readout.Settings
	Discr discr.Settings

	Output  Output
	Channel int // channel initially displayed
}

// Default returns the configuration used for keywords absent from a
// configuration file.
func Default() Config {
	return Config{
		Link:  vme.Link{Type: "usbV1718"},
		QTP:   readout.DefaultSettings(),
		Discr: discr.DefaultSettings(),
		Output: Output{
			Dir:    "./data",
			Prefix: "QTP",
		},
	}
}

// Load reads the named configuration file.
func Load(fname string) (Config, error) {
	f, err := os.Open(fname)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not open %q: %w", fname, err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return cfg, fmt.Errorf("config: could not parse %q: %w", fname, err)
	}
	return cfg, nil
}

// Parse reads a configuration from r.
func Parse(r io.Reader) (Config, error) {
	var (
		cfg  = Default()
		sc   = bufio.NewScanner(r)
		line = 0
	)
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		p := parser{key: fields[0], args: fields[1:], line: line}
		err := p.apply(&cfg)
		if err != nil {
			return cfg, err
		}
	}

	if err := sc.Err(); err != nil {
		return cfg, fmt.Errorf("config: could not scan configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration allows to read out a QTP board.
func (cfg Config) Validate() error {
	if cfg.QTPBase == 0 {
		return &Error{Key: "QTP_BASE_ADDRESS", Msg: "no base address setting found for the QTP board"}
	}
	return nil
}

type parser struct {
	key  string
	args []string
	line int
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &Error{Key: p.key, Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) arg(i int) (string, error) {
	if i >= len(p.args) {
		return "", p.errorf("missing value #%d", i+1)
	}
	return p.args[i], nil
}

func (p *parser) atoi(i int) (int, error) {
	s, err := p.arg(i)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, p.errorf("invalid integer %q", s)
	}
	return v, nil
}

func (p *parser) u16(i int) (uint16, error) {
	v, err := p.atoi(i)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 0xFFFF {
		return 0, p.errorf("value %d out of range", v)
	}
	return uint16(v), nil
}

func (p *parser) flag(i int) (bool, error) {
	v, err := p.atoi(i)
	return v != 0, err
}

func (p *parser) hex(i int, bitSize int) (uint64, error) {
	s, err := p.arg(i)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, bitSize)
	if err != nil {
		return 0, p.errorf("invalid hexadecimal value %q", s)
	}
	return v, nil
}

func (p *parser) apply(cfg *Config) error {
	var err error
	switch p.key {
	case "ENABLE_LIST_FILE":
		cfg.Output.List, err = p.flag(0)
	case "ENABLE_HISTO_FILES":
		cfg.Output.Histo, err = p.flag(0)
	case "ENABLE_RAW_DATA_FILE":
		cfg.Output.Raw, err = p.flag(0)
	case "ENABLE_LCIO_FILE":
		cfg.Output.LCIO, err = p.flag(0)
	case "ENABLE_LOG":
		cfg.Output.Log, err = p.flag(0)
	case "DATA_PATH":
		cfg.Output.Dir, err = p.arg(0)
	case "OUTPUT_PREFIX":
		cfg.Output.Prefix, err = p.arg(0)
	case "PLOT_CHANNEL":
		cfg.Channel, err = p.atoi(0)
		if err == nil && (cfg.Channel < 0 || cfg.Channel >= readout.MaxChannels) {
			err = p.errorf("invalid channel %d", cfg.Channel)
		}

	case "QTP_BASE_ADDRESS":
		var v uint64
		v, err = p.hex(0, 32)
		cfg.QTPBase = uint32(v)
	case "DISCR_BASE_ADDRESS":
		var v uint64
		v, err = p.hex(0, 32)
		cfg.DiscrBase = uint32(v)

	case "CONNECTION":
		cfg.Link, err = vme.ParseLink(p.args)
		if err != nil {
			err = p.errorf("%v", err)
		}

	case "IPED":
		cfg.QTP.Pedestal, err = p.u16(0)
	case "ENABLE_SUPPRESSION":
		cfg.QTP.Suppression, err = p.flag(0)
	case "QTP_LLD":
		err = p.table(cfg.QTP.LLD[:])

	case "DISCR_CHANNEL_MASK":
		var v uint64
		v, err = p.hex(0, 16)
		cfg.Discr.Mask = uint16(v)
	case "DISCR_OUTPUT_WIDTH":
		cfg.Discr.Width, err = p.u16(0)
	case "DISCR_THRESHOLD":
		err = p.table(cfg.Discr.Thresholds[:])
	}
	return err
}

// table parses a "channel value" pair into tbl.
// A negative channel sets all the entries, an out of range one is ignored.
func (p *parser) table(tbl []uint16) error {
	ch, err := p.atoi(0)
	if err != nil {
		return err
	}
	v, err := p.u16(1)
	if err != nil {
		return err
	}
	switch {
	case ch < 0:
		for i := range tbl {
			tbl[i] = v
		}
	case ch < len(tbl):
		tbl[ch] = v
	}
	return nil
}

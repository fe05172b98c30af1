// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-lpc/qtp/config"
	"github.com/go-lpc/qtp/readout"
	"go-hep.org/x/hep/lcio"
)

// LCIOCollection is the name of the LCIO collection holding the
// (channel, value) pairs of an event.
const LCIOCollection = "QTP_ADC"

// Sink writes the acquired data to output files:
//   - the event list, one line per event with the values of the present
//     channels in ascending channel order,
//   - the raw data dump, a verbatim copy of every transferred block,
//   - an LCIO file, one LCIO event per decoded event.
type Sink struct {
	list *bufio.Writer
	raw  *bufio.Writer
	lcio *lcio.Writer

	run   int32
	buf   []byte
	adc   lcio.GenericObject
	files []io.Closer
}

// NewSink creates a sink writing the event list to list and the raw data
// dump to raw. A nil writer disables the corresponding output.
func NewSink(list, raw io.Writer) *Sink {
	s := &Sink{
		buf: make([]byte, 0, 512),
		adc: lcio.GenericObject{
			Data: []lcio.GenericObjectData{{}},
		},
	}
	if list != nil {
		s.list = bufio.NewWriter(list)
	}
	if raw != nil {
		s.raw = bufio.NewWriter(raw)
	}
	return s
}

// Output file names.
func ListFile(dir, prefix string) string { return filepath.Join(dir, prefix+"_EventList.txt") }
func RawFile(dir, prefix string) string  { return filepath.Join(dir, prefix+"_RawData.dat") }
func LCIOFile(dir, prefix string, run int32) string {
	return filepath.Join(dir, fmt.Sprintf("%s_run%06d.slcio", prefix, run))
}

// OpenSink creates the output files enabled in out.
// An output file that can not be created is reported to msg and disabled.
func OpenSink(msg *log.Logger, out config.Output, run int32, brd *readout.Board) *Sink {
	s := NewSink(nil, nil)
	s.run = run

	create := func(fname, kind string) *os.File {
		f, err := os.Create(fname)
		if err != nil {
			msg.Printf("can't open %s file for writing: %+v", kind, err)
			return nil
		}
		s.files = append(s.files, f)
		return f
	}

	if out.List {
		if f := create(ListFile(out.Dir, out.Prefix), "list"); f != nil {
			s.list = bufio.NewWriter(f)
		}
	}
	if out.Raw {
		if f := create(RawFile(out.Dir, out.Prefix), "raw data"); f != nil {
			s.raw = bufio.NewWriter(f)
		}
	}
	if out.LCIO {
		err := s.OpenLCIO(
			LCIOFile(out.Dir, out.Prefix, run), run,
			brd.Model(), brd.Serial(), brd.Firmware(),
		)
		if err != nil {
			msg.Printf("can't open LCIO file for writing: %+v", err)
		}
	}
	return s
}

// OpenLCIO enables the LCIO output of the sink, writing the events of
// the given run to the named file.
func (s *Sink) OpenLCIO(fname string, run int32, model readout.Model, serial uint16, fw string) error {
	if s.lcio != nil {
		return fmt.Errorf("daq: LCIO output already opened")
	}

	w, err := lcio.Create(fname)
	if err != nil {
		return fmt.Errorf("daq: could not create LCIO file: %w", err)
	}

	s.run = run
	err = w.WriteRunHeader(&lcio.RunHeader{
		RunNumber: s.run,
		Detector:  "QTP",
		Descr:     model.Name(),
		Params: lcio.Params{
			Ints: map[string][]int32{
				"Channels": {int32(model.Channels)},
				"Serial":   {int32(serial)},
			},
			Strings: map[string][]string{
				"Model":    {model.Name()},
				"Firmware": {fw},
			},
		},
	})
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("daq: could not write LCIO run header: %w", err)
	}
	s.lcio = w
	return nil
}

// OnBlock appends a transferred block to the raw data dump.
func (s *Sink) OnBlock(raw []byte) error {
	if s.raw == nil {
		return nil
	}
	_, err := s.raw.Write(raw)
	if err != nil {
		return fmt.Errorf("daq: could not write raw data: %w", err)
	}
	return nil
}

// OnEvent writes a decoded event to the event list and LCIO outputs.
func (s *Sink) OnEvent(evt *readout.Event) error {
	if s.list != nil {
		s.buf = AppendEvent(s.buf[:0], evt)
		_, err := s.list.Write(s.buf)
		if err != nil {
			return fmt.Errorf("daq: could not write event list: %w", err)
		}
	}

	if s.lcio != nil {
		chs := evt.Channels()
		data := s.adc.Data[0].I32s[:0]
		for _, ch := range chs {
			data = append(data, int32(ch), int32(evt.Values[ch]))
		}
		s.adc.Data[0].I32s = data

		ev := lcio.Event{
			RunNumber:   s.run,
			EventNumber: int32(evt.ID),
			TimeStamp:   time.Now().UnixNano(),
			Detector:    "QTP",
		}
		ev.Add(LCIOCollection, &s.adc)
		err := s.lcio.WriteEvent(&ev)
		if err != nil {
			return fmt.Errorf("daq: could not write LCIO event: %w", err)
		}
	}
	return nil
}

// AppendEvent appends the event list line of evt to buf.
//
// A line reads "Event Num. <id>" followed, for each present channel in
// ascending order, by a space and the value right-aligned on 6 columns:
//
//	Event Num. 0    451    605
func AppendEvent(buf []byte, evt *readout.Event) []byte {
	buf = append(buf, "Event Num. "...)
	buf = strconv.AppendUint(buf, uint64(evt.ID), 10)
	for _, ch := range evt.Channels() {
		buf = append(buf, ' ')
		buf = appendPadded(buf, int(evt.Values[ch]), 6)
	}
	return append(buf, '\n')
}

func appendPadded(buf []byte, v, width int) []byte {
	var tmp [20]byte
	s := strconv.AppendInt(tmp[:0], int64(v), 10)
	for i := len(s); i < width; i++ {
		buf = append(buf, ' ')
	}
	return append(buf, s...)
}

// Flush flushes the buffered outputs.
func (s *Sink) Flush() error {
	for _, w := range []*bufio.Writer{s.list, s.raw} {
		if w == nil {
			continue
		}
		err := w.Flush()
		if err != nil {
			return fmt.Errorf("daq: could not flush output: %w", err)
		}
	}
	return nil
}

// Close flushes and closes all the outputs.
func (s *Sink) Close() error {
	err := s.Flush()

	if s.lcio != nil {
		e := s.lcio.Close()
		if e != nil && err == nil {
			err = fmt.Errorf("daq: could not close LCIO file: %w", e)
		}
		s.lcio = nil
	}

	for _, f := range s.files {
		e := f.Close()
		if e != nil && err == nil {
			err = fmt.Errorf("daq: could not close output file: %w", e)
		}
	}
	s.files = nil
	s.list = nil
	s.raw = nil
	return err
}

var (
	_ Handler = (*Sink)(nil)
)

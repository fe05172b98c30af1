// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-lpc/qtp/histo"
	"github.com/go-lpc/qtp/readout"
	"github.com/go-lpc/qtp/vme"
)

const base = 0x32100000

type access struct {
	off uint16
	v   uint16
}

// scripted is a fake V792N bus serving a fixed list of blocks.
type scripted struct {
	mu      sync.Mutex
	blocks  [][]byte
	empties int // number of empty transfers served
	writes  []access
}

func newScripted(blocks ...[]readout.Word) *scripted {
	bus := &scripted{}
	for _, blk := range blocks {
		raw := make([]byte, 4*len(blk))
		for i, w := range blk {
			binary.LittleEndian.PutUint32(raw[4*i:], uint32(w))
		}
		bus.blocks = append(bus.blocks, raw)
	}
	return bus
}

func (bus *scripted) ReadCycle(addr uint32) (uint16, error) {
	switch addr - base {
	case 0x1000:
		return 0x0905, nil
	case 0x803A:
		return 792 >> 8, nil
	case 0x803E:
		return 792 & 0xFF, nil
	case 0x8032:
		return 0xE3, nil
	case 0x8F06:
		return 42, nil
	}
	return 0, nil
}

func (bus *scripted) WriteCycle(addr uint32, v uint16) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.writes = append(bus.writes, access{uint16(addr - base), v})
	return nil
}

func (bus *scripted) FIFOBLTRead(addr uint32, p []byte) (int, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.blocks) == 0 {
		bus.empties++
		return 0, nil
	}
	n := copy(p, bus.blocks[0])
	bus.blocks = bus.blocks[1:]
	return n, nil
}

func (bus *scripted) Close() error { return nil }

func (bus *scripted) drained(n int) bool {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return bus.empties >= n
}

// cmdFunc adapts a function to a command source.
type cmdFunc func() (Command, bool)

func (f cmdFunc) Poll() (Command, bool) { return f() }

// quitWhen returns a command source sending a quit command once ok
// returns true.
func quitWhen(ok func() bool) cmdFunc {
	return func() (Command, bool) {
		if ok() {
			return Command{Kind: CmdQuit}, true
		}
		return Command{}, false
	}
}

// ticker returns a clock advancing by step at every call.
func ticker(step time.Duration) func() time.Time {
	var (
		mu  sync.Mutex
		now = time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func newTestBoard(t *testing.T, bus vme.Bus) *readout.Board {
	t.Helper()
	brd := readout.NewBoard(vme.NewSession(bus, base))
	err := brd.Identify()
	if err != nil {
		t.Fatalf("could not identify board: %+v", err)
	}
	return brd
}

func TestLoop(t *testing.T) {
	l16 := readout.Layout16
	bus := newScripted(
		[]readout.Word{
			readout.HeaderWord(3, 0, 2),
			l16.ChannelWord(1, 100),
			l16.ChannelWord(3, 200),
			readout.EOBWord(3, 7),
		},
		// stray channel word while waiting for a header.
		[]readout.Word{l16.ChannelWord(2, 300), readout.EOBWord(3, 0)},
		[]readout.Word{
			readout.HeaderWord(3, 0, 1),
			l16.ChannelWord(0, 50),
			readout.EOBWord(3, 8),
			readout.Word(readout.TagFiller),
		},
	)

	var (
		brd   = newTestBoard(t, bus)
		hist  = histo.NewStore(brd.Model().Channels)
		list  = new(bytes.Buffer)
		raw   = new(bytes.Buffer)
		sink  = NewSink(list, raw)
		msg   = new(bytes.Buffer)
		stats []Stats
	)
	bus.writes = nil

	loop := NewLoop(
		brd, hist,
		WithOutput(msg),
		WithHandler(sink),
		WithCommands(quitWhen(func() bool { return bus.drained(2) })),
		WithPollInterval(0),
		WithFlushInterval(time.Hour),
		WithReporter(func(st Stats) { stats = append(stats, st) }),
		withClock(ticker(time.Millisecond)),
	)

	err := loop.Run()
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}
	err = sink.Flush()
	if err != nil {
		t.Fatalf("could not flush sink: %+v", err)
	}

	sum := loop.Summary()
	if got, want := sum.Events, int64(2); got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}
	if got, want := sum.Bytes, int64(4*(4+2+4)); got != want {
		t.Fatalf("invalid number of bytes: got=%d, want=%d", got, want)
	}
	if got, want := sum.FrameErrors, int64(1); got != want {
		t.Fatalf("invalid number of frame errors: got=%d, want=%d", got, want)
	}
	if !sum.Stop.After(sum.Start) {
		t.Fatalf("invalid run duration: start=%v, stop=%v", sum.Start, sum.Stop)
	}
	if len(stats) != 0 {
		t.Fatalf("unexpected statistics report: %+v", stats)
	}

	if got, want := list.String(), "Event Num. 7    100    200\nEvent Num. 8     50\n"; got != want {
		t.Fatalf("invalid event list:\ngot= %q\nwant=%q", got, want)
	}
	if got, want := raw.Len(), int(sum.Bytes); got != want {
		t.Fatalf("invalid raw dump size: got=%d, want=%d", got, want)
	}

	for _, tc := range []struct {
		ch   int
		want uint64
	}{
		{0, 1}, {1, 1}, {2, 0}, {3, 1}, {4, 0},
	} {
		if got := hist.Hits(tc.ch); got != tc.want {
			t.Fatalf("invalid hits for channel %d: got=%d, want=%d", tc.ch, got, tc.want)
		}
	}

	want := []access{{0x1032, 0x4}, {0x1034, 0x4}}
	if got := bus.writes; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid resync writes:\ngot= %v\nwant=%v", got, want)
	}
	if msg.Len() != 0 {
		t.Fatalf("frame errors should be silent:\n%s", msg.String())
	}
}

func TestLoopCorruptedHeader(t *testing.T) {
	l16 := readout.Layout16
	bus := newScripted(
		// channel word corrupted into a header in the middle of an event.
		[]readout.Word{
			readout.HeaderWord(3, 0, 2),
			l16.ChannelWord(1, 100),
			readout.HeaderWord(3, 0, 2),
			l16.ChannelWord(2, 200),
			readout.EOBWord(3, 5),
		},
		[]readout.Word{
			readout.HeaderWord(3, 0, 1),
			l16.ChannelWord(0, 50),
			readout.EOBWord(3, 6),
		},
	)

	var (
		brd  = newTestBoard(t, bus)
		hist = histo.NewStore(brd.Model().Channels)
		list = new(bytes.Buffer)
		sink = NewSink(list, nil)
		msg  = new(bytes.Buffer)
	)
	bus.writes = nil

	loop := NewLoop(
		brd, hist,
		WithOutput(msg),
		WithHandler(sink),
		WithCommands(quitWhen(func() bool { return bus.drained(2) })),
		WithPollInterval(0),
		WithFlushInterval(time.Hour),
		withClock(ticker(time.Millisecond)),
	)

	err := loop.Run()
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}
	err = sink.Flush()
	if err != nil {
		t.Fatalf("could not flush sink: %+v", err)
	}

	sum := loop.Summary()
	if got, want := sum.FrameErrors, int64(1); got != want {
		t.Fatalf("invalid number of frame errors: got=%d, want=%d", got, want)
	}
	if got, want := sum.Bytes, int64(4*(5+3)); got != want {
		t.Fatalf("invalid number of bytes: got=%d, want=%d", got, want)
	}
	if got, want := list.String(), "Event Num. 6     50\n"; got != want {
		t.Fatalf("invalid event list:\ngot= %q\nwant=%q", got, want)
	}

	// the rest of the corrupted block is dropped.
	for _, tc := range []struct {
		ch   int
		want uint64
	}{
		{0, 1}, {1, 1}, {2, 0},
	} {
		if got := hist.Hits(tc.ch); got != tc.want {
			t.Fatalf("invalid hits for channel %d: got=%d, want=%d", tc.ch, got, tc.want)
		}
	}

	want := []access{{0x1032, 0x4}, {0x1034, 0x4}}
	if got := bus.writes; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid resync writes:\ngot= %v\nwant=%v", got, want)
	}
	if msg.Len() != 0 {
		t.Fatalf("frame errors should be silent:\n%s", msg.String())
	}
}

func TestLoopFlush(t *testing.T) {
	l16 := readout.Layout16
	bus := newScripted(
		[]readout.Word{
			readout.HeaderWord(3, 0, 1),
			l16.ChannelWord(5, 1000),
			readout.EOBWord(3, 1),
		},
	)

	var (
		brd   = newTestBoard(t, bus)
		hist  = histo.NewStore(brd.Model().Channels)
		dir   = t.TempDir()
		msg   = new(bytes.Buffer)
		stats []Stats
	)

	loop := NewLoop(
		brd, hist,
		WithOutput(msg),
		WithHistoFiles(dir, "run", true),
		WithChannel(5),
		WithCommands(quitWhen(func() bool { return bus.drained(20) })),
		WithPollInterval(0),
		WithFlushInterval(10*time.Millisecond),
		WithReporter(func(st Stats) { stats = append(stats, st) }),
		withClock(ticker(time.Millisecond)),
	)

	err := loop.Run()
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}

	if len(stats) == 0 {
		t.Fatalf("no statistics reported")
	}
	var (
		events int64
		nbytes int64
	)
	for _, st := range stats {
		if st.Elapsed != 10*time.Millisecond {
			t.Fatalf("invalid flush interval: %v", st.Elapsed)
		}
		if st.Channel != 5 {
			t.Fatalf("invalid displayed channel: %d", st.Channel)
		}
		events += st.Events
		nbytes += st.Bytes
	}
	if got, want := events, int64(1); got != want {
		t.Fatalf("invalid number of reported events: got=%d, want=%d", got, want)
	}
	if got, want := nbytes, int64(12); got != want {
		t.Fatalf("invalid number of reported bytes: got=%d, want=%d", got, want)
	}
	if got, want := stats[0].Lines()[0], "Acquired 1 events on channel 5"; got != want {
		t.Fatalf("invalid report: got=%q, want=%q", got, want)
	}
	if !strings.Contains(msg.String(), "Acquired 1 events on channel 5") {
		t.Fatalf("statistics not logged:\n%s", msg.String())
	}

	f, err := os.Open(filepath.Join(dir, "run_histo.txt"))
	if err != nil {
		t.Fatalf("could not open display file: %+v", err)
	}
	defer f.Close()
	counts, err := histo.ReadTable(f)
	if err != nil {
		t.Fatalf("could not read display file: %+v", err)
	}
	if got, want := counts[1000], uint32(1); got != want {
		t.Fatalf("invalid display bin: got=%d, want=%d", got, want)
	}

	for ch := 0; ch < hist.NumChannels(); ch++ {
		_, err := os.Stat(histo.FileName(dir, "run", ch))
		if err != nil {
			t.Fatalf("missing histogram file for channel %d: %+v", ch, err)
		}
	}
}

func TestLoopCommands(t *testing.T) {
	l16 := readout.Layout16
	bus := newScripted(
		[]readout.Word{
			readout.HeaderWord(3, 0, 1),
			l16.ChannelWord(2, 10),
			readout.EOBWord(3, 1),
		},
	)

	var (
		brd  = newTestBoard(t, bus)
		hist = histo.NewStore(brd.Model().Channels)
		dir  = t.TempDir()
		msg  = new(bytes.Buffer)
		cmds = make(Commands, 16)
	)

	loop := NewLoop(
		brd, hist,
		WithOutput(msg),
		WithCommands(cmds),
		WithPollInterval(0),
		WithFlushInterval(time.Hour),
		withClock(ticker(time.Millisecond)),
	)

	// the first poll happens before any data is read.
	cmds <- Command{Kind: CmdChannel, Channel: 99}
	cmds <- Command{Kind: CmdChannel, Channel: 7}
	cmds <- Command{Kind: CmdSave}
	cmds <- Command{Kind: CmdQuit}

	err := loop.Run()
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}
	if got, want := loop.Channel(), 7; got != want {
		t.Fatalf("invalid channel: got=%d, want=%d", got, want)
	}
	for _, want := range []string{
		"daq: invalid channel 99 (board has 16 channels)\n",
		"daq: no histogram output directory configured\n",
	} {
		if !strings.Contains(msg.String(), want) {
			t.Fatalf("missing message %q:\n%s", want, msg.String())
		}
	}

	loop = NewLoop(
		brd, hist,
		WithOutput(msg),
		WithHistoFiles(dir, "cmd", false),
		WithChannel(42),
		WithCommands(cmds),
		WithPollInterval(0),
		WithFlushInterval(time.Hour),
		withClock(ticker(time.Millisecond)),
	)
	if got, want := loop.Channel(), 0; got != want {
		t.Fatalf("invalid clamped channel: got=%d, want=%d", got, want)
	}

	cmds <- Command{Kind: CmdSave}
	cmds <- Command{Kind: CmdReset}
	cmds <- Command{Kind: CmdQuit}

	err = loop.Run()
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}

	if got := hist.Hits(2); got != 0 {
		t.Fatalf("histograms not reset: hits=%d", got)
	}

	f, err := os.Open(histo.FileName(dir, "cmd", 2))
	if err != nil {
		t.Fatalf("could not open saved histogram: %+v", err)
	}
	defer f.Close()
	counts, err := histo.ReadTable(f)
	if err != nil {
		t.Fatalf("could not read saved histogram: %+v", err)
	}
	if got, want := counts[10], uint32(1); got != want {
		t.Fatalf("invalid saved bin: got=%d, want=%d", got, want)
	}
}

func TestLoopStop(t *testing.T) {
	bus := newScripted()
	brd := newTestBoard(t, bus)

	stop := make(chan os.Signal, 1)
	stop <- os.Interrupt

	msg := new(bytes.Buffer)
	loop := NewLoop(
		brd, histo.NewStore(16),
		WithOutput(msg),
		WithStop(stop),
		WithPollInterval(0),
		withClock(ticker(time.Millisecond)),
	)
	err := loop.Run()
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}
	if got, want := msg.String(), "daq: stopping acquisition...\n"; got != want {
		t.Fatalf("invalid messages:\ngot= %q\nwant=%q", got, want)
	}
}

type alerts chan string

func (a alerts) Alert(subject, body string) error {
	a <- subject
	return nil
}

func TestLoopStallAlert(t *testing.T) {
	var (
		bus   = newScripted()
		brd   = newTestBoard(t, bus)
		alert = make(alerts, 16)
	)

	loop := NewLoop(
		brd, histo.NewStore(16),
		WithOutput(new(bytes.Buffer)),
		WithCommands(quitWhen(func() bool { return bus.drained(10) })),
		WithPollInterval(0),
		WithFlushInterval(time.Millisecond),
		WithStallAlert(3, alert),
		withClock(ticker(time.Millisecond)),
	)
	err := loop.Run()
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}

	select {
	case got := <-alert:
		if want := "[qtp] no data from board V792NC"; got != want {
			t.Fatalf("invalid alert subject: got=%q, want=%q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no stall alert sent")
	}

	select {
	case got := <-alert:
		t.Fatalf("unexpected second alert: %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

// slowAlert is an alerter blocking until release is closed.
type slowAlert struct {
	release chan struct{}
	mu      sync.Mutex
	sent    int
}

func (a *slowAlert) Alert(subject, body string) error {
	<-a.release
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent++
	return nil
}

func TestLoopWaitAlerts(t *testing.T) {
	for _, tc := range []struct {
		name    string
		timeout time.Duration
		delay   time.Duration
		sent    int
		msg     string
	}{
		{
			name:    "sent",
			timeout: 5 * time.Second,
			delay:   20 * time.Millisecond,
			sent:    1,
		},
		{
			name:    "timeout",
			timeout: 20 * time.Millisecond,
			delay:   time.Hour,
			sent:    0,
			msg:     "timeout waiting for stall alerts",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func(v time.Duration) { alertTimeout = v }(alertTimeout)
			alertTimeout = tc.timeout

			var (
				bus   = newScripted()
				brd   = newTestBoard(t, bus)
				msg   = new(bytes.Buffer)
				alert = &slowAlert{release: make(chan struct{})}
			)
			defer close(alert.release)

			timer := time.AfterFunc(tc.delay, func() { alert.release <- struct{}{} })
			defer timer.Stop()

			loop := NewLoop(
				brd, histo.NewStore(16),
				WithOutput(msg),
				WithCommands(quitWhen(func() bool { return bus.drained(10) })),
				WithPollInterval(0),
				WithFlushInterval(time.Millisecond),
				WithStallAlert(3, alert),
				withClock(ticker(time.Millisecond)),
			)
			err := loop.Run()
			if err != nil {
				t.Fatalf("could not run acquisition: %+v", err)
			}

			alert.mu.Lock()
			sent := alert.sent
			alert.mu.Unlock()
			if got, want := sent, tc.sent; got != want {
				t.Fatalf("invalid number of alerts sent at end of run: got=%d, want=%d", got, want)
			}
			if got, want := strings.Contains(msg.String(), "timeout waiting for stall alerts"), tc.msg != ""; got != want {
				t.Fatalf("invalid timeout report:\n%s", msg.String())
			}
		})
	}
}

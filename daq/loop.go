// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-lpc/qtp/histo"
	"github.com/go-lpc/qtp/readout"
)

// Loop is the acquisition loop of a QTP board.
//
// Each iteration reports statistics when the flush interval elapsed,
// polls operator commands when the poll interval elapsed, then decodes
// exactly one word of the board output, transferring a new block first
// if needed.
type Loop struct {
	cfg  options
	brd  *readout.Board
	rdr  *readout.BlockReader
	dec  *readout.Decoder
	hist *histo.Store

	quit bool
	herr bool // whether a handler error has already been reported
	terr bool // whether a transport error has been reported in this interval

	lastFlush time.Time
	lastPoll  time.Time
	idle      int // consecutive flush intervals without data

	cur Stats   // statistics of the current flush interval
	tot Summary // statistics of the whole run

	alerts sync.WaitGroup // stall alerts being sent
}

// alertTimeout bounds the time Run waits for pending stall alerts.
var alertTimeout = 10 * time.Second

// NewLoop creates an acquisition loop reading out brd and filling hist.
func NewLoop(brd *readout.Board, hist *histo.Store, opts ...Option) *Loop {
	l := &Loop{
		cfg:  newOptions(opts),
		brd:  brd,
		rdr:  readout.NewBlockReader(brd),
		hist: hist,
	}
	l.dec = readout.NewDecoder(brd.Model().Layout(), hist, l.onEvent)
	if l.cfg.channel < 0 || l.cfg.channel >= hist.NumChannels() {
		l.cfg.channel = 0
	}
	return l
}

// Channel returns the displayed channel.
func (l *Loop) Channel() int { return l.cfg.channel }

// Summary returns the statistics of the run.
func (l *Loop) Summary() Summary {
	sum := l.tot
	sum.Events += l.cur.Events
	sum.Bytes += l.cur.Bytes
	sum.FrameErrors += l.cur.FrameErrors
	return sum
}

// Run runs the acquisition until a quit command or a stop signal is
// received.
func (l *Loop) Run() error {
	now := l.cfg.now()
	l.tot = Summary{Start: now}
	l.cur = Stats{}
	l.lastFlush = now
	l.lastPoll = now
	l.quit = false

	for !l.quit {
		l.tick()
	}
	l.tot.Stop = l.cfg.now()
	l.waitAlerts()

	if l.cfg.save {
		err := l.saveAll()
		if err != nil {
			return fmt.Errorf("daq: could not save histograms at end of run: %w", err)
		}
		l.cfg.msg.Printf("saved histograms to output files")
	}
	return nil
}

func (l *Loop) tick() {
	now := l.cfg.now()
	if elapsed := now.Sub(l.lastFlush); elapsed >= l.cfg.flush {
		l.flush(elapsed)
		l.lastFlush = now
	}

	if now.Sub(l.lastPoll) > l.cfg.poll {
		l.poll()
		l.lastPoll = now
		if l.quit {
			return
		}
	}

	if l.rdr.NeedsRefill() {
		l.refill()
		if l.rdr.NeedsRefill() {
			// empty block, or block starting with fillers.
			return
		}
	}

	w := l.rdr.Next()
	err := l.dec.Feed(w)
	switch {
	case err != nil:
		l.resync()
	case w.Tag() == readout.TagHeader:
		l.cur.Events++
	}
}

func (l *Loop) refill() {
	_, n, err := l.rdr.Refill()
	if err != nil {
		if !l.terr {
			l.cfg.msg.Printf("could not read data block: %+v", err)
			l.terr = true
		}
		return
	}
	if n == 0 {
		return
	}
	l.cur.Bytes += int64(n)
	raw := l.rdr.Raw()
	for _, h := range l.cfg.hdlrs {
		l.handle(h.OnBlock(raw))
	}
}

// resync drops the current block, clears the board output buffer and
// waits for the next event header.
func (l *Loop) resync() {
	l.cur.FrameErrors++
	l.rdr.Discard()
	err := l.brd.ClearData()
	if err != nil {
		l.cfg.msg.Printf("could not clear board data: %+v", err)
	}
	l.dec.Reset()
}

func (l *Loop) onEvent(evt *readout.Event) {
	for _, h := range l.cfg.hdlrs {
		l.handle(h.OnEvent(evt))
	}
}

func (l *Loop) handle(err error) {
	if err == nil || l.herr {
		return
	}
	l.herr = true
	l.cfg.msg.Printf("could not handle acquired data: %+v", err)
}

func (l *Loop) poll() {
	select {
	case <-l.cfg.stop:
		l.cfg.msg.Printf("stopping acquisition...")
		l.quit = true
		return
	default:
	}

	if l.cfg.cmds == nil {
		return
	}
	cmd, ok := l.cfg.cmds.Poll()
	if !ok {
		return
	}

	switch cmd.Kind {
	case CmdReset:
		l.hist.Reset()
		l.cfg.msg.Printf("histograms reset")
	case CmdQuit:
		l.quit = true
	case CmdChannel:
		if cmd.Channel < 0 || cmd.Channel >= l.hist.NumChannels() {
			l.cfg.msg.Printf("invalid channel %d (board has %d channels)", cmd.Channel, l.hist.NumChannels())
			return
		}
		l.cfg.channel = cmd.Channel
	case CmdSave:
		if !l.cfg.display {
			l.cfg.msg.Printf("no histogram output directory configured")
			return
		}
		err := l.saveAll()
		if err != nil {
			l.cfg.msg.Printf("could not save histograms: %+v", err)
			return
		}
		l.cfg.msg.Printf("saved histograms to output files")
	}
}

func (l *Loop) flush(elapsed time.Duration) {
	st := l.cur
	st.Elapsed = elapsed
	st.Channel = l.cfg.channel
	st.Hits = l.hist.Hits(l.cfg.channel)

	l.cfg.msg.Printf("%s", strings.Join(st.Lines(), "\n"))
	if l.cfg.report != nil {
		l.cfg.report(st)
	}

	if l.cfg.display {
		err := l.hist.SaveChannel(l.displayFile(), l.cfg.channel)
		if err != nil {
			l.cfg.msg.Printf("could not write display file: %+v", err)
		}
	}
	if l.cfg.save {
		err := l.saveAll()
		if err != nil {
			l.cfg.msg.Printf("could not save histograms: %+v", err)
		}
	}

	l.checkStall(st)

	l.tot.Events += l.cur.Events
	l.tot.Bytes += l.cur.Bytes
	l.tot.FrameErrors += l.cur.FrameErrors
	l.cur = Stats{}
	l.terr = false
}

func (l *Loop) checkStall(st Stats) {
	if st.Bytes > 0 {
		l.idle = 0
		return
	}
	l.idle++
	if l.cfg.alert == nil || l.cfg.stall <= 0 || l.idle != l.cfg.stall {
		return
	}

	var (
		alert   = l.cfg.alert
		msg     = l.cfg.msg
		subject = fmt.Sprintf("[qtp] no data from board %s", l.brd.Model().Name())
		body    = fmt.Sprintf(
			"no data received from board %s (serial=%d) for %v.\nrun statistics: %+v\n",
			l.brd.Model().Name(), l.brd.Serial(),
			time.Duration(l.idle)*l.cfg.flush, l.Summary(),
		)
	)
	l.alerts.Add(1)
	go func() {
		defer l.alerts.Done()
		err := alert.Alert(subject, body)
		if err != nil {
			msg.Printf("could not send stall alert: %+v", err)
		}
	}()
}

func (l *Loop) waitAlerts() {
	done := make(chan struct{})
	go func() {
		l.alerts.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(alertTimeout):
		l.cfg.msg.Printf("timeout waiting for stall alerts")
	}
}

func (l *Loop) displayFile() string {
	return filepath.Join(l.cfg.dir, l.cfg.prefix+"_histo.txt")
}

func (l *Loop) saveAll() error {
	return l.hist.SaveAll(l.cfg.dir, l.cfg.prefix)
}

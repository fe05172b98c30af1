// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command qtp-srv starts a TDAQ server driving a CAEN QTP board.
//
// The configuration file is read from the /config command payload, or from
// the QTP_CONFIG environment variable (default: config.txt).
// Decoded events are published on the /events output.
package main // import "github.com/go-lpc/qtp/cmd/qtp-srv"

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/qtp"
	"github.com/go-lpc/qtp/config"
	"github.com/go-lpc/qtp/daq"
	_ "github.com/go-lpc/qtp/internal/qtpsim" // register the "sim" VME link
	"github.com/go-lpc/qtp/readout"
)

func main() {
	cmd := flags.New()

	fname := os.Getenv("QTP_CONFIG")
	if fname == "" {
		fname = "config.txt"
	}
	log.Print(qtp.Banner())
	dev := newServer(fname)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/events", dev.events)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type server struct {
	fname string
	cfg   config.Config
	msg   *log.Logger

	runnbr int32 // incremented at each /init
	ctl    runCtl
	dev    *daq.Standalone

	n    int // number of events published during the current run
	data chan []byte
}

func newServer(fname string) *server {
	return &server{
		fname: fname,
		cfg:   config.Default(),
		msg:   log.New(os.Stdout, "qtp-srv: ", 0),
		data:  make(chan []byte, 1024),
	}
}

func (srv *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	if len(req.Body) > 0 {
		srv.fname = string(req.Body)
	}

	cfg, err := config.Load(srv.fname)
	if err != nil {
		ctx.Msg.Errorf("could not load configuration %q: %+v", srv.fname, err)
		return fmt.Errorf("could not load configuration %q: %w", srv.fname, err)
	}

	err = cfg.Validate()
	if err != nil {
		ctx.Msg.Errorf("invalid configuration %q: %+v", srv.fname, err)
		return fmt.Errorf("invalid configuration %q: %w", srv.fname, err)
	}

	srv.cfg = cfg
	return nil
}

func (srv *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	srv.close(ctx)
	srv.runnbr++

	dev := daq.NewStandalone(
		srv.cfg, srv.runnbr,
		daq.WithLogger(srv.msg),
		daq.WithHandler(srv),
		daq.WithCommands(&srv.ctl),
	)
	err := dev.Init()
	if err != nil {
		_ = dev.Close()
		ctx.Msg.Errorf("could not initialize QTP board: %+v", err)
		return fmt.Errorf("could not initialize QTP board: %w", err)
	}
	srv.dev = dev
	srv.n = 0
	return nil
}

func (srv *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.close(ctx)
	srv.data = make(chan []byte, 1024)
	srv.n = 0
	return nil
}

func (srv *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if srv.dev == nil {
		return fmt.Errorf("QTP board not initialized")
	}
	return nil
}

func (srv *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n := srv.n
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	if srv.dev != nil {
		sum := srv.dev.Summary()
		ctx.Msg.Infof(
			"run %d: %d events, %d bytes, %d frame errors",
			srv.runnbr, sum.Events, sum.Bytes, sum.FrameErrors,
		)
	}
	return nil
}

func (srv *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	srv.close(ctx)
	return nil
}

func (srv *server) close(ctx tdaq.Context) {
	if srv.dev == nil {
		return
	}
	err := srv.dev.Close()
	if err != nil {
		ctx.Msg.Errorf("could not close QTP board: %+v", err)
	}
	srv.dev = nil
}

// OnBlock implements daq.Handler.
func (srv *server) OnBlock(raw []byte) error { return nil }

// OnEvent implements daq.Handler.
// Events are dropped when the output is not drained fast enough.
func (srv *server) OnEvent(evt *readout.Event) error {
	select {
	case srv.data <- encodeEvent(evt):
		srv.n++
	default:
	}
	return nil
}

func (srv *server) events(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.data:
		dst.Body = data
	}
	return nil
}

func (srv *server) run(ctx tdaq.Context) error {
	if srv.dev == nil {
		return fmt.Errorf("QTP board not initialized")
	}
	srv.ctl.start(ctx.Ctx)
	defer srv.ctl.start(nil)

	err := srv.dev.Run()
	if err != nil {
		ctx.Msg.Errorf("could not run acquisition: %+v", err)
		return fmt.Errorf("could not run acquisition: %w", err)
	}
	return nil
}

// encodeEvent encodes an event as the little-endian event ID, the
// channel mask and the values of the present channels.
func encodeEvent(evt *readout.Event) []byte {
	chs := evt.Channels()
	buf := make([]byte, 8+2*len(chs))
	binary.LittleEndian.PutUint32(buf[0:], evt.ID)
	binary.LittleEndian.PutUint32(buf[4:], evt.Mask)
	for i, ch := range chs {
		binary.LittleEndian.PutUint16(buf[8+2*i:], evt.Values[ch])
	}
	return buf
}

// runCtl stops the acquisition loop when the run context is done.
type runCtl struct {
	mu  sync.Mutex
	ctx context.Context
}

func (ctl *runCtl) start(ctx context.Context) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.ctx = ctx
}

// Poll implements daq.CommandSource.
func (ctl *runCtl) Poll() (daq.Command, bool) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.ctx == nil {
		return daq.Command{}, false
	}
	select {
	case <-ctl.ctx.Done():
		return daq.Command{Kind: daq.CmdQuit}, true
	default:
		return daq.Command{}, false
	}
}

var (
	_ daq.Handler       = (*server)(nil)
	_ daq.CommandSource = (*runCtl)(nil)
)

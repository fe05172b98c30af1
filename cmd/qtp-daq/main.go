// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command qtp-daq runs an interactive stand-alone acquisition of a CAEN
// QTP board.
//
// Usage: qtp-daq [options] [config.txt]
//
// Commands accepted at the prompt:
//
//	r      reset histograms
//	c N    display channel N
//	s      save histograms
//	q      quit
package main // import "github.com/go-lpc/qtp/cmd/qtp-daq"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-lpc/qtp"
	"github.com/go-lpc/qtp/config"
	"github.com/go-lpc/qtp/daq"
	"github.com/go-lpc/qtp/internal/alert"
	_ "github.com/go-lpc/qtp/internal/qtpsim" // register the "sim" VME link
	"github.com/go-lpc/qtp/rundb"
	"github.com/peterh/liner"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetPrefix("qtp-daq: ")
	log.SetFlags(0)

	var (
		runnbr = flag.Int("run", -1, "run number (default: next run from -db, or 0)")
		dbDSN  = flag.String("db", "", "run database DSN (e.g. user:pwd@tcp(host:3306)/qtp?parseTime=true)")
		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")
		stall  = flag.Int("alert", 0, "send a mail alert after N seconds without data (0: disabled)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `qtp-daq runs a stand-alone acquisition of a CAEN QTP board.

Usage: qtp-daq [options] [config.txt]

ex:
 $> qtp-daq ./config.txt
 $> qtp-daq -run=42 -db="qtp:s3cr3t@tcp(localhost:3306)/qtp?parseTime=true" ./config.txt

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	log.Print(qtp.Banner())

	fname := "config.txt"
	if flag.NArg() > 0 {
		fname = flag.Arg(0)
	}

	cfg, err := config.Load(fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	if *doMon {
		err := monitor(cfg.Output.Dir, *doFreq)
		if err != nil {
			log.Fatalf("could not start process monitoring: %+v", err)
		}
	}

	term := liner.NewLiner()
	term.SetCtrlCAborts(true)
	defer term.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	opts := []daq.Option{daq.WithStop(stop)}
	if *stall > 0 {
		mailer, err := alert.FromEnv()
		if err != nil {
			log.Printf("stall alerts disabled: %+v", err)
		} else {
			opts = append(opts, daq.WithStallAlert(*stall, mailer))
		}
	}

	err = run(cfg, int32(*runnbr), *dbDSN, term, opts...)
	if err != nil {
		_ = term.Close()
		log.Fatalf("could not run acquisition: %+v", err)
	}
}

// prompter reads operator command lines.
type prompter interface {
	Prompt(prompt string) (string, error)
}

func run(cfg config.Config, runnbr int32, dsn string, term prompter, opts ...daq.Option) error {
	var (
		ctx = context.Background()
		db  *rundb.DB
		rec rundb.Run
	)

	if dsn != "" {
		var err error
		db, err = rundb.Open(dsn)
		if err != nil {
			return fmt.Errorf("could not open run database: %w", err)
		}
		defer db.Close()

		if runnbr < 0 {
			last, err := db.LastRun(ctx)
			if err != nil {
				return fmt.Errorf("could not retrieve last run: %w", err)
			}
			runnbr = last.ID + 1
		}
	}
	if runnbr < 0 {
		runnbr = 0
	}

	cmds := make(daq.Commands, 1)
	opts = append([]daq.Option{daq.WithCommands(cmds)}, opts...)

	dev := daq.NewStandalone(cfg, runnbr, opts...)
	defer dev.Close()

	err := dev.Init()
	if err != nil {
		return fmt.Errorf("could not initialize acquisition: %w", err)
	}

	if db != nil {
		model := dev.Board().Model()
		rec, err = db.StartRun(ctx, rundb.Run{
			ID:       runnbr,
			Model:    model.Name(),
			Serial:   dev.Board().Serial(),
			Channels: model.Channels,
		})
		if err != nil {
			return fmt.Errorf("could not record run start: %w", err)
		}
		log.Printf("run %d started (session=%s)", runnbr, rec.Session)
	}

	var (
		grp  errgroup.Group
		done = make(chan struct{})
	)

	grp.Go(func() error {
		defer close(done)
		return dev.Run()
	})

	grp.Go(func() error {
		return prompt(term, cmds, done)
	})

	err = grp.Wait()
	if err != nil {
		return err
	}

	err = dev.Close()
	if err != nil {
		return fmt.Errorf("could not close acquisition: %w", err)
	}

	if db != nil {
		_, err = db.EndRun(ctx, rec, dev.Summary())
		if err != nil {
			return fmt.Errorf("could not record run end: %w", err)
		}
	}

	sum := dev.Summary()
	log.Printf(
		"run %d: %d events, %d bytes, %d frame errors in %v",
		runnbr, sum.Events, sum.Bytes, sum.FrameErrors,
		sum.Stop.Sub(sum.Start).Round(time.Millisecond),
	)
	return nil
}

// prompt forwards the operator commands to the acquisition until it is
// done. An aborted or closed prompt stops the acquisition.
func prompt(term prompter, cmds daq.Commands, done chan struct{}) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := term.Prompt("qtp> ")
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, liner.ErrPromptAborted) {
					log.Printf("could not read command: %+v", err)
				}
				return
			}
			if h, ok := term.(interface{ AppendHistory(string) }); ok && line != "" {
				h.AppendHistory(line)
			}
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
	}()

	send := func(cmd daq.Command) {
		select {
		case cmds <- cmd:
		case <-done:
		}
	}

	for {
		select {
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				send(daq.Command{Kind: daq.CmdQuit})
				<-done
				return nil
			}
			cmd, err := daq.ParseCommand(line)
			if err != nil {
				log.Printf("%+v", err)
				continue
			}
			if cmd.Kind == daq.CmdNone {
				continue
			}
			send(cmd)
		}
	}
}

func monitor(dir string, freq time.Duration) error {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return fmt.Errorf("could not monitor pid=%d: %w", os.Getpid(), err)
	}

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("could not create pmon output directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "qtp-daq-pmon.log"))
	if err != nil {
		return fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		defer f.Close()
		err := p.Run()
		if err != nil {
			log.Printf("could not run process monitoring: %+v", err)
		}
	}()
	return nil
}

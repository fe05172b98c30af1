// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command qtp-dump decodes and displays the content of a QTP raw data file.
package main // import "github.com/go-lpc/qtp/cmd/qtp-dump"

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/go-lpc/qtp"
	"github.com/go-lpc/qtp/daq"
	"github.com/go-lpc/qtp/histo"
	"github.com/go-lpc/qtp/readout"
	"github.com/go-lpc/qtp/vme"
)

func main() {
	log.SetPrefix("qtp-dump: ")
	log.SetFlags(0)

	var (
		model = flag.Int("model", 792, "model number of the board that produced the data")
		vers  = flag.String("version", "0xE3", "version code of the board that produced the data")
		hdir  = flag.String("histo", "", "directory where to save histograms")
		yoda  = flag.String("yoda", "", "path to a YODA file where to save histograms")
		oname = flag.String("lcio", "", "path to an LCIO file where to convert events")
		run   = flag.Int("run", 0, "run number of the LCIO file")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `qtp-dump decodes and displays the content of a QTP raw data file.

Usage: qtp-dump [options] file.dat

ex:
 $> qtp-dump ./data/QTP_RawData.dat
 $> qtp-dump -model=785 -version=0x11 -histo=./histos ./data/QTP_RawData.dat
 $> qtp-dump -lcio=out.slcio -run=42 ./data/QTP_RawData.dat

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()
	log.Print(qtp.Banner())

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing input raw data file")
	}

	v, err := strconv.ParseUint(*vers, 0, 16)
	if err != nil {
		log.Fatalf("invalid version code %q: %+v", *vers, err)
	}

	err = process(os.Stdout, flag.Arg(0), dumpOptions{
		model: readout.Identify(uint16(*model), uint16(v)),
		hdir:  *hdir,
		yoda:  *yoda,
		lcio:  *oname,
		run:   int32(*run),
	})
	if err != nil {
		log.Fatalf("could not dump file: %+v", err)
	}
}

type dumpOptions struct {
	model readout.Model
	hdir  string // directory of histogram files
	yoda  string // YODA histogram file
	lcio  string // LCIO output file
	run   int32
}

func process(w io.Writer, fname string, opts dumpOptions) error {
	bus, err := vme.OpenReplay(fname)
	if err != nil {
		return fmt.Errorf("could not open raw data file: %w", err)
	}
	defer bus.Close()

	var (
		out  = bufio.NewWriter(w)
		sink = daq.NewSink(out, nil)
		hist = histo.NewStore(opts.model.Channels)
		sess = vme.NewSession(bus, 0)
		rdr  = readout.NewBlockReader(sess)

		nevts  int
		nerrs  int
		hdlerr error
	)
	defer sink.Close()

	if opts.lcio != "" {
		err = sink.OpenLCIO(opts.lcio, opts.run, opts.model, 0, "")
		if err != nil {
			return fmt.Errorf("could not create LCIO file: %w", err)
		}
	}

	dec := readout.NewDecoder(opts.model.Layout(), hist, func(evt *readout.Event) {
		nevts++
		if err := sink.OnEvent(evt); err != nil && hdlerr == nil {
			hdlerr = err
		}
	})

	for {
		if !rdr.HasBuffered() {
			n, _, err := rdr.Refill()
			if err != nil {
				return fmt.Errorf("could not read raw data: %w", err)
			}
			if n == 0 {
				break
			}
		}

		// transfers are concatenated in the raw data file: the fillers
		// terminating a transfer are followed by the next one.
		word := rdr.Next()
		if word.Tag() == readout.TagFiller {
			continue
		}

		err := dec.Feed(word)
		if err != nil {
			var ferr *readout.FrameError
			if !errors.As(err, &ferr) {
				return err
			}
			nerrs++
			log.Printf("%+v", ferr)
			dec.Reset()
		}
		if hdlerr != nil {
			return fmt.Errorf("could not write event: %w", hdlerr)
		}
	}

	err = sink.Close()
	if err != nil {
		return fmt.Errorf("could not close outputs: %w", err)
	}

	if dec.State() != readout.AwaitingHeader {
		log.Printf("raw data file ends in the middle of an event (state=%v)", dec.State())
	}
	log.Printf("decoded %d events (%d frame errors)", nevts, nerrs)

	if opts.hdir != "" {
		err = os.MkdirAll(opts.hdir, 0755)
		if err != nil {
			return fmt.Errorf("could not create histogram directory: %w", err)
		}
		err = hist.SaveAll(opts.hdir, "QTP")
		if err != nil {
			return fmt.Errorf("could not save histograms: %w", err)
		}
	}

	if opts.yoda != "" {
		f, err := os.Create(opts.yoda)
		if err != nil {
			return fmt.Errorf("could not create YODA file: %w", err)
		}
		defer f.Close()

		err = hist.WriteYODA(f, "qtp")
		if err != nil {
			return fmt.Errorf("could not write YODA file: %w", err)
		}

		err = f.Close()
		if err != nil {
			return fmt.Errorf("could not close YODA file: %w", err)
		}
	}

	return nil
}

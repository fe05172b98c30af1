// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package histo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go-hep.org/x/hep/hbook"
	"golang.org/x/sync/errgroup"
)

// FileName returns the name of the histogram file of channel ch.
func FileName(dir, prefix string, ch int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_Histo_%d.txt", prefix, ch))
}

// WriteTable writes counts as one decimal value per line.
func WriteTable(w io.Writer, counts []uint32) error {
	wbuf := bufio.NewWriter(w)
	for _, v := range counts {
		wbuf.WriteString(strconv.FormatUint(uint64(v), 10))
		wbuf.WriteByte('\n')
	}
	err := wbuf.Flush()
	if err != nil {
		return fmt.Errorf("histo: could not write table: %w", err)
	}
	return nil
}

// ReadTable reads a table written by WriteTable.
func ReadTable(r io.Reader) ([]uint32, error) {
	var (
		sc     = bufio.NewScanner(r)
		counts = make([]uint32, 0, NumBins)
	)
	for sc.Scan() {
		txt := strings.TrimSpace(sc.Text())
		if txt == "" {
			continue
		}
		v, err := strconv.ParseUint(txt, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("histo: could not parse line %d: %w", len(counts)+1, err)
		}
		counts = append(counts, uint32(v))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("histo: could not read table: %w", err)
	}
	return counts, nil
}

func writeFile(fname string, counts []uint32) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("histo: could not create %q: %w", fname, err)
	}
	defer f.Close()

	err = WriteTable(f, counts)
	if err != nil {
		return fmt.Errorf("histo: could not save %q: %w", fname, err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("histo: could not close %q: %w", fname, err)
	}
	return nil
}

// SaveChannel writes the histogram of channel ch to fname.
func (s *Store) SaveChannel(fname string, ch int) error {
	return writeFile(fname, s.tables[ch][:])
}

// SaveAll writes the histograms of all channels, one file per channel,
// under dir.
//
// SaveAll works on a copy of the store taken when it is called, so the
// store may be modified while the files are written.
func (s *Store) SaveAll(dir, prefix string) error {
	snap := s.Clone()

	var grp errgroup.Group
	for i := range snap.tables {
		ch := i
		grp.Go(func() error {
			return writeFile(FileName(dir, prefix, ch), snap.tables[ch][:])
		})
	}

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("histo: could not save histograms: %w", err)
	}
	return nil
}

// H1D returns the histogram of channel ch as a hbook histogram.
func (s *Store) H1D(prefix string, ch int) *hbook.H1D {
	h := hbook.NewH1D(NumBins, 0, NumBins)
	name := fmt.Sprintf("%s_ch%02d", prefix, ch)
	h.Annotation()["name"] = name
	h.Annotation()["path"] = "/" + name
	h.Annotation()["title"] = fmt.Sprintf("%s channel %d", prefix, ch)
	for i, n := range s.tables[ch] {
		if n == 0 {
			continue
		}
		h.Fill(float64(i)+0.5, float64(n))
	}
	return h
}

// WriteYODA writes the histograms of all channels in the YODA format.
func (s *Store) WriteYODA(w io.Writer, prefix string) error {
	for ch := range s.tables {
		raw, err := s.H1D(prefix, ch).MarshalYODA()
		if err != nil {
			return fmt.Errorf("histo: could not marshal channel %d to YODA: %w", ch, err)
		}
		_, err = w.Write(raw)
		if err != nil {
			return fmt.Errorf("histo: could not write channel %d to YODA: %w", ch, err)
		}
	}
	return nil
}

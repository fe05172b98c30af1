// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package histo

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestStore(t *testing.T) {
	s := NewStore(16)
	if got, want := s.NumChannels(), 16; got != want {
		t.Fatalf("invalid nch: got=%d, want=%d", got, want)
	}

	fills := []struct {
		ch int
		v  uint16
	}{
		{0, 451}, {7, 605}, {0, 451}, {15, 4095}, {7, 0},
	}
	for _, f := range fills {
		s.Increment(f.ch, f.v)
	}

	// conservation: hits equal the sum of each table.
	total := uint64(0)
	for ch := 0; ch < s.NumChannels(); ch++ {
		sum := uint64(0)
		for _, n := range s.Snapshot(ch) {
			sum += uint64(n)
		}
		if got, want := sum, s.Hits(ch); got != want {
			t.Fatalf("ch=%d: invalid table sum: got=%d, want=%d", ch, got, want)
		}
		total += sum
	}
	if got, want := total, uint64(len(fills)); got != want {
		t.Fatalf("invalid total: got=%d, want=%d", got, want)
	}
	if got, want := s.Snapshot(0)[451], uint32(2); got != want {
		t.Fatalf("invalid bin content: got=%d, want=%d", got, want)
	}

	snap := s.Snapshot(7)
	clone := s.Clone()
	s.Increment(7, 605)
	if got, want := snap[605], uint32(1); got != want {
		t.Fatalf("snapshot modified: got=%d, want=%d", got, want)
	}
	if got, want := clone.Hits(7), uint64(2); got != want {
		t.Fatalf("clone modified: got=%d, want=%d", got, want)
	}
	if got, want := s.Hits(7), uint64(3); got != want {
		t.Fatalf("invalid hits: got=%d, want=%d", got, want)
	}

	s.Reset()
	for ch := 0; ch < s.NumChannels(); ch++ {
		if s.Hits(ch) != 0 {
			t.Fatalf("ch=%d: hits not reset", ch)
		}
		for i, n := range s.Snapshot(ch) {
			if n != 0 {
				t.Fatalf("ch=%d: bin %d not reset", ch, i)
			}
		}
	}
	if got, want := clone.Hits(0), uint64(2); got != want {
		t.Fatalf("clone reset: got=%d, want=%d", got, want)
	}
}

func TestTable(t *testing.T) {
	s := NewStore(2)
	s.Increment(1, 3)
	s.Increment(1, 3)
	s.Increment(1, 4095)

	buf := new(bytes.Buffer)
	err := WriteTable(buf, s.Snapshot(1))
	if err != nil {
		t.Fatalf("could not write table: %+v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if got, want := len(lines), NumBins; got != want {
		t.Fatalf("invalid number of lines: got=%d, want=%d", got, want)
	}
	if got, want := lines[3], "2"; got != want {
		t.Fatalf("invalid line: got=%q, want=%q", got, want)
	}
	if got, want := lines[4095], "1"; got != want {
		t.Fatalf("invalid line: got=%q, want=%q", got, want)
	}

	counts, err := ReadTable(buf)
	if err != nil {
		t.Fatalf("could not read table: %+v", err)
	}
	if got, want := len(counts), NumBins; got != want {
		t.Fatalf("invalid table size: got=%d, want=%d", got, want)
	}
	if counts[3] != 2 || counts[4095] != 1 || counts[0] != 0 {
		t.Fatalf("invalid table content")
	}

	_, err = ReadTable(strings.NewReader("1\nxx\n"))
	if got, want := err.Error(), `histo: could not parse line 2: strconv.ParseUint: parsing "xx": invalid syntax`; got != want {
		t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
	}
}

func TestSave(t *testing.T) {
	tmp := t.TempDir()

	s := NewStore(16)
	for ch := 0; ch < 16; ch++ {
		for i := 0; i <= ch; i++ {
			s.Increment(ch, uint16(100+ch))
		}
	}

	err := s.SaveAll(tmp, "qtp")
	if err != nil {
		t.Fatalf("could not save histograms: %+v", err)
	}

	for ch := 0; ch < 16; ch++ {
		f, err := os.Open(FileName(tmp, "qtp", ch))
		if err != nil {
			t.Fatalf("could not open histogram file: %+v", err)
		}
		counts, err := ReadTable(f)
		f.Close()
		if err != nil {
			t.Fatalf("could not read histogram file: %+v", err)
		}
		if got, want := counts[100+ch], uint32(ch+1); got != want {
			t.Fatalf("ch=%d: invalid content: got=%d, want=%d", ch, got, want)
		}
	}

	fname := tmp + "/qtp_histo.txt"
	err = s.SaveChannel(fname, 3)
	if err != nil {
		t.Fatalf("could not save channel: %+v", err)
	}
	raw, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read display file: %+v", err)
	}
	counts, err := ReadTable(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("could not parse display file: %+v", err)
	}
	if got, want := counts[103], uint32(4); got != want {
		t.Fatalf("invalid display content: got=%d, want=%d", got, want)
	}

	err = s.SaveAll(tmp+"/not-there", "qtp")
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestYODA(t *testing.T) {
	s := NewStore(2)
	s.Increment(0, 10)
	s.Increment(0, 10)
	s.Increment(1, 20)

	h := s.H1D("qtp", 0)
	if got, want := h.Entries(), int64(1); got != want {
		t.Fatalf("invalid entries: got=%d, want=%d", got, want)
	}
	if got, want := h.SumW(), 2.0; got != want {
		t.Fatalf("invalid sum-w: got=%v, want=%v", got, want)
	}

	buf := new(bytes.Buffer)
	err := s.WriteYODA(buf, "qtp")
	if err != nil {
		t.Fatalf("could not write YODA: %+v", err)
	}
	for _, name := range []string{"qtp_ch00", "qtp_ch01"} {
		if !strings.Contains(buf.String(), name) {
			t.Fatalf("missing histogram %q in YODA output", name)
		}
	}
}

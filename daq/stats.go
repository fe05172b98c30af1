// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"time"
)

// Stats holds the acquisition statistics of one flush interval.
type Stats struct {
	Elapsed     time.Duration
	Events      int64 // number of event headers decoded
	Bytes       int64 // number of bytes transferred
	FrameErrors int64 // number of resynchronizations

	Channel int    // displayed channel
	Hits    uint64 // number of values recorded on the displayed channel
}

func (st Stats) ms() float64 {
	return float64(st.Elapsed) / float64(time.Millisecond)
}

// Rate returns the trigger rate, in events per millisecond (kHz).
func (st Stats) Rate() float64 {
	ms := st.ms()
	if ms <= 0 {
		return 0
	}
	return float64(st.Events) / ms
}

// Throughput returns the readout rate, in bytes per millisecond.
func (st Stats) Throughput() float64 {
	ms := st.ms()
	if ms <= 0 {
		return 0
	}
	return float64(st.Bytes) / ms
}

// Lines returns the human readable report of the statistics.
func (st Stats) Lines() []string {
	lines := []string{
		fmt.Sprintf("Acquired %d events on channel %d", st.Hits, st.Channel),
	}
	switch rate := st.Rate(); {
	case st.Events > 1000:
		lines = append(lines, fmt.Sprintf("Trigger Rate = %.2f KHz", rate))
	default:
		lines = append(lines, fmt.Sprintf("Trigger Rate = %.2f Hz", rate*1000))
	}

	const (
		kB = 1024
		MB = 1024 * 1024
	)
	bps := st.Throughput() * 1000
	switch {
	case st.Bytes > MB:
		lines = append(lines, fmt.Sprintf("Readout Rate = %.2f MB/s", bps/MB))
	default:
		lines = append(lines, fmt.Sprintf("Readout Rate = %.2f KB/s", bps/kB))
	}
	if st.FrameErrors > 0 {
		lines = append(lines, fmt.Sprintf("Frame errors = %d", st.FrameErrors))
	}
	return lines
}

// Summary holds the statistics of a whole run.
type Summary struct {
	Start       time.Time
	Stop        time.Time
	Events      int64
	Bytes       int64
	FrameErrors int64
}

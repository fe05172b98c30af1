// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq runs the data acquisition of a QTP board: it polls the board
// output buffer, decodes events, fills histograms, writes output files and
// reacts to operator commands.
package daq // import "github.com/go-lpc/qtp/daq"

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-lpc/qtp/readout"
)

// Handler consumes the data produced by the acquisition loop.
type Handler interface {
	// OnBlock is called with the raw bytes of each block transfer.
	OnBlock(raw []byte) error
	// OnEvent is called with each decoded event.
	// The event is only valid for the duration of the call.
	OnEvent(evt *readout.Event) error
}

// CmdKind is the kind of an operator command.
type CmdKind uint8

const (
	CmdNone    CmdKind = iota
	CmdReset           // reset histograms and hit counters
	CmdQuit            // stop the acquisition
	CmdChannel         // select the displayed channel
	CmdSave            // save histograms
)

func (k CmdKind) String() string {
	switch k {
	case CmdNone:
		return "none"
	case CmdReset:
		return "reset"
	case CmdQuit:
		return "quit"
	case CmdChannel:
		return "channel"
	case CmdSave:
		return "save"
	}
	return fmt.Sprintf("CmdKind(%d)", uint8(k))
}

// Command is an operator command.
type Command struct {
	Kind    CmdKind
	Channel int // new displayed channel, for CmdChannel
}

// ParseCommand parses an interactive command line:
//
//	r      reset histograms and hit counters
//	q      quit
//	s      save histograms
//	c N    display channel N
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{Kind: CmdNone}, nil
	}
	switch fields[0] {
	case "r", "reset":
		return Command{Kind: CmdReset}, nil
	case "q", "quit":
		return Command{Kind: CmdQuit}, nil
	case "s", "save":
		return Command{Kind: CmdSave}, nil
	case "c", "channel":
		if len(fields) < 2 {
			return Command{}, fmt.Errorf("daq: missing channel number")
		}
		ch, err := strconv.Atoi(fields[1])
		if err != nil {
			return Command{}, fmt.Errorf("daq: invalid channel number %q: %w", fields[1], err)
		}
		return Command{Kind: CmdChannel, Channel: ch}, nil
	}
	return Command{}, fmt.Errorf("daq: unknown command %q", fields[0])
}

// CommandSource provides operator commands to the acquisition loop.
type CommandSource interface {
	// Poll returns the next pending command, if any. Poll must not block.
	Poll() (Command, bool)
}

// Commands is a channel based command source.
type Commands chan Command

// Poll implements CommandSource.
func (c Commands) Poll() (Command, bool) {
	select {
	case cmd, ok := <-c:
		return cmd, ok
	default:
		return Command{}, false
	}
}

// Alerter sends alerts about the acquisition.
type Alerter interface {
	Alert(subject, body string) error
}

var (
	_ CommandSource = (Commands)(nil)
)

// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vme holds types to access VME boards through a VME bridge.
//
// Bridges are provided by drivers registered under the name of the link
// type they handle, much like database/sql drivers.
package vme // import "github.com/go-lpc/qtp/vme"

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Bus is a handle to an opened VME bridge.
//
// All register cycles are A32/D16.
type Bus interface {
	// ReadCycle reads the 16-bit register at the provided address.
	ReadCycle(addr uint32) (uint16, error)
	// WriteCycle writes the 16-bit register at the provided address.
	WriteCycle(addr uint32, v uint16) error
	// FIFOBLTRead performs one MBLT block transfer from the FIFO at addr
	// into p and returns the number of bytes transferred.
	// A bus error terminating a transfer that moved data is not an error.
	FIFOBLTRead(addr uint32, p []byte) (int, error)

	Close() error
}

// Driver opens VME bridges for a link type.
type Driver interface {
	Open(link Link) (Bus, error)
}

// Link describes how to reach a VME bridge.
type Link struct {
	Type string // bridge type (usbV1718, ethV4718, sim, replay, ...)
	Arg  string // link argument (PID, IP address, seed, file name), if any
}

func (link Link) String() string {
	if link.Arg == "" {
		return link.Type
	}
	return link.Type + " " + link.Arg
}

// PID returns the link argument as a USB/optical-link product ID.
func (link Link) PID() (int, error) {
	if link.Arg == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(link.Arg)
	if err != nil {
		return 0, fmt.Errorf("vme: invalid PID %q for link %q: %w", link.Arg, link.Type, err)
	}
	return v, nil
}

// linkArgs lists the known link types and whether they take an argument.
var linkArgs = map[string]bool{
	"usbV1718": false,
	"cpiV2718": false,
	"usbV3718": false,
	"pciV3718": false,
	"pciV4718": false,
	"usbV4718": true,
	"ethV4718": true,
	"usbA4818": true,
	"sim":      false,
	"replay":   true,
}

// ParseLink parses the fields of a CONNECTION configuration line
// (without the keyword).
func ParseLink(fields []string) (Link, error) {
	if len(fields) == 0 {
		return Link{}, fmt.Errorf("vme: missing link type")
	}
	var (
		link    = Link{Type: fields[0]}
		arg, ok = linkArgs[link.Type]
	)
	if !ok {
		return link, fmt.Errorf("vme: unknown link type %q", link.Type)
	}
	switch {
	case arg && len(fields) < 2:
		return link, fmt.Errorf("vme: link type %q needs an argument", link.Type)
	case len(fields) > 1:
		link.Arg = strings.Join(fields[1:], " ")
	}
	return link, nil
}

var drivers = struct {
	sync.RWMutex
	db map[string]Driver
}{
	db: make(map[string]Driver),
}

// Register makes a VME bridge driver available for the provided link type.
// Register panics if it is called twice with the same name or if drv is nil.
func Register(name string, drv Driver) {
	drivers.Lock()
	defer drivers.Unlock()

	if drv == nil {
		panic("vme: nil driver")
	}
	if _, dup := drivers.db[name]; dup {
		panic("vme: Register called twice for driver " + name)
	}
	drivers.db[name] = drv
}

// Drivers returns the sorted list of registered link types.
func Drivers() []string {
	drivers.RLock()
	defer drivers.RUnlock()

	names := make([]string, 0, len(drivers.db))
	for name := range drivers.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the VME bridge described by link.
func Open(link Link) (Bus, error) {
	drivers.RLock()
	drv, ok := drivers.db[link.Type]
	drivers.RUnlock()

	if !ok {
		return nil, fmt.Errorf("vme: no driver for link type %q (forgotten import?)", link.Type)
	}

	bus, err := drv.Open(link)
	if err != nil {
		return nil, fmt.Errorf("vme: could not open link %q: %w", link, err)
	}
	return bus, nil
}

// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vme

import "fmt"

// TransportError describes a failed bus access.
type TransportError struct {
	Op   string // register-read, register-write or block-read
	Addr uint32
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("vme: %s at 0x%08X failed: %+v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package qtp holds code for the data acquisition of CAEN QTP boards
// (V792/V862/V965 QDCs, V775 TDCs and V785 peak ADCs) read out over VME.
//
// The readout engine lives in the readout/ sub-package, the acquisition loop
// and its outputs in daq/, the histograms in histo/ and the VME transport
// layer in vme/.
package qtp // import "github.com/go-lpc/qtp"

import (
	"fmt"
	"runtime/debug"
)

const root = "github.com/go-lpc/qtp"

// Version returns the version of the qtp module and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

// Banner returns the version line logged by the commands at start-up.
func Banner() string {
	b, _ := debug.ReadBuildInfo()
	return bannerOf(b)
}

func bannerOf(b *debug.BuildInfo) string {
	vers, _ := versionOf(b)
	if vers == "" {
		vers = "(devel)"
	}
	return "qtp module " + vers
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	// commands of this module.
	if b.Main.Path == root && b.Main.Version != "" && b.Main.Version != "(devel)" {
		return b.Main.Version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}

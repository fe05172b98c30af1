// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qtp

import (
	"runtime/debug"
	"testing"
)

func TestVersion(t *testing.T) {
	for _, tc := range []struct {
		name string
		info *debug.BuildInfo
		vers string
		sum  string
	}{
		{
			name: "nil",
		},
		{
			name: "no-dep",
			info: &debug.BuildInfo{},
		},
		{
			name: "main",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "github.com/go-lpc/qtp", Version: "v0.4.1", Sum: "h1:zzz"},
			},
			vers: "v0.4.1",
			sum:  "h1:zzz",
		},
		{
			name: "main-devel",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "github.com/go-lpc/qtp", Version: "(devel)"},
			},
		},
		{
			name: "dep",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{Path: "github.com/go-daq/tdaq", Version: "v0.14.2"},
					{Path: "github.com/go-lpc/qtp", Version: "v0.3.0", Sum: "h1:xxx"},
				},
			},
			vers: "v0.3.0",
			sum:  "h1:xxx",
		},
		{
			name: "replace-path",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path:    "github.com/go-lpc/qtp",
						Version: "v0.3.0",
						Replace: &debug.Module{Path: "../qtp", Sum: "h1:yyy"},
					},
				},
			},
			vers: "../qtp",
			sum:  "h1:yyy",
		},
		{
			name: "replace-local",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path:    "github.com/go-lpc/qtp",
						Version: "v0.3.0",
						Replace: &debug.Module{},
					},
				},
			},
			vers: "v0.3.0*",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			vers, sum := versionOf(tc.info)
			if got, want := vers, tc.vers; got != want {
				t.Fatalf("invalid version: got=%q, want=%q", got, want)
			}
			if got, want := sum, tc.sum; got != want {
				t.Fatalf("invalid sum: got=%q, want=%q", got, want)
			}
		})
	}
}

func TestBanner(t *testing.T) {
	for _, tc := range []struct {
		name string
		info *debug.BuildInfo
		want string
	}{
		{
			name: "no-info",
			want: "qtp module (devel)",
		},
		{
			name: "main",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "github.com/go-lpc/qtp", Version: "v0.4.1"},
			},
			want: "qtp module v0.4.1",
		},
		{
			name: "dep",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "example.org/crate"},
				Deps: []*debug.Module{
					{Path: "github.com/go-lpc/qtp", Version: "v0.3.0"},
				},
			},
			want: "qtp module v0.3.0",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got, want := bannerOf(tc.info), tc.want; got != want {
				t.Fatalf("invalid banner: got=%q, want=%q", got, want)
			}
		})
	}
}

// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default target to run when none is specified.
var Default = Build

var cmds = []string{"qtp-daq", "qtp-dump", "qtp-srv"}

// Build builds all the commands under ./bin.
func Build() error {
	for _, name := range cmds {
		mg.Deps(mg.F(buildCmd, name))
	}
	fmt.Println("Compilation finished")
	return nil
}

func buildCmd(name string) error {
	fmt.Printf("Building %s executable...\n", name)
	return sh.RunWith(
		map[string]string{"CGO_ENABLED": "0"},
		"go", "build", "-o", filepath.Join("bin", name), "./cmd/"+name,
	)
}

// Test runs all the tests of the module.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Clean removes the build artifacts.
func Clean() error {
	return os.RemoveAll("bin")
}

//go:build unix
// +build unix

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

var terminationSignals = []os.Signal{os.Interrupt, unix.SIGTERM, unix.SIGHUP}

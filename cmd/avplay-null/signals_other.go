//go:build !unix
// +build !unix

package main

import (
	"os"
)

var terminationSignals = []os.Signal{os.Interrupt}

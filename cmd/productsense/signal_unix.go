//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals trigger a graceful shutdown. Process managers such as
// systemd and kubernetes stop the server with SIGTERM.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

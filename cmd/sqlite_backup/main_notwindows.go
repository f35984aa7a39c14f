//go:build !windows

package main

import (
	"os"
	"syscall"
)

const defaultConfigPath = "/etc/sqlite-backup.yml"

var notifySignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

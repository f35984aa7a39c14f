//go:build windows

package main

import (
	"os"
)

const defaultConfigPath = `C:\sqlite-backup\sqlite-backup.yml`

var notifySignals = []os.Signal{os.Interrupt}

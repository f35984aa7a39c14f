//go:build !aix && !darwin && !dragonfly && !freebsd && !linux && !netbsd && !openbsd && !solaris

package internal

import (
	"os"
)

// Stat returns the change-detection fields for the file at path. Only size,
// modification time and mode are available on this platform.
func Stat(path string) (FileStat, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return FileStat{}, err
	}
	return FileStat{
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Mode:    uint32(fi.Mode()),
	}, nil
}

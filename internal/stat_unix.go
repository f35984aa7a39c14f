//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package internal

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Stat returns the change-detection fields for the file at path.
func Stat(path string) (FileStat, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return FileStat{}, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return FileStat{
		Size:    st.Size,
		ModTime: time.Unix(st.Mtim.Unix()),
		Mode:    uint32(st.Mode),
		Inode:   uint64(st.Ino),
		Dev:     uint64(st.Dev),
		Ctime:   time.Unix(st.Ctim.Unix()),
	}, nil
}

package internal

import (
	"time"
)

// FileStat holds the fields used to detect that a file changed between two
// observations. Fields a platform cannot report are left zero.
type FileStat struct {
	Size    int64
	ModTime time.Time
	Mode    uint32
	Inode   uint64
	Dev     uint64
	Ctime   time.Time
}

// Equal returns true if both observations describe the same file state.
func (s FileStat) Equal(other FileStat) bool {
	return s.Size == other.Size &&
		s.ModTime.Equal(other.ModTime) &&
		s.Mode == other.Mode &&
		s.Inode == other.Inode &&
		s.Dev == other.Dev &&
		s.Ctime.Equal(other.Ctime)
}

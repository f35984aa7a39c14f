package sqlitebackup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/benbjohnson/sqlite-backup/sqlite"
)

// FileSet is the ordered list of files making up one logical database: the
// main file first, followed by whichever sidecars existed at resolution time
// in sqlite.SidecarSuffixes order (-wal, -shm, -journal).
type FileSet []string

// Main returns the path of the main database file.
func (s FileSet) Main() string { return s[0] }

// Sidecars returns the sidecar paths, excluding the main file.
func (s FileSet) Sidecars() []string { return s[1:] }

// ResolveFileSet returns the FileSet for the database at path. Paths are
// made absolute. The set is recomputed on every call since sidecars appear
// and disappear while the owning process runs.
func ResolveFileSet(path string) (FileSet, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	if fi, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	} else if err != nil {
		return nil, err
	} else if fi.IsDir() {
		return nil, fmt.Errorf("source database is a directory: %s", path)
	}

	set := FileSet{path}
	for _, suffix := range sqlite.SidecarSuffixes {
		fi, err := os.Stat(path + suffix)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		} else if !fi.Mode().IsRegular() {
			continue
		}
		set = append(set, path+suffix)
	}
	return set, nil
}

package sqlitebackup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/benbjohnson/sqlite-backup/sqlite"
)

// ResolveDestination returns the file a backup of src into dst will create.
//
// If dst is an existing directory, the file takes the source's base name
// inside it. If dst does not exist it is used as the file name and its
// parent directory must exist. Neither the resolved file nor any of its
// sidecars may exist yet.
func ResolveDestination(src, dst string) (string, error) {
	dst, err := filepath.Abs(dst)
	if err != nil {
		return "", err
	}

	fi, err := os.Stat(dst)
	switch {
	case errors.Is(err, os.ErrNotExist):
		dir := filepath.Dir(dst)
		if fi, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrDestinationDirNotFound, dir)
		} else if err != nil {
			return "", err
		} else if !fi.IsDir() {
			return "", fmt.Errorf("destination parent is not a directory: %s", dir)
		}
		if err := checkSidecarsAbsent(dst); err != nil {
			return "", err
		}
		return dst, nil

	case err != nil:
		return "", err

	case fi.IsDir():
		target := filepath.Join(dst, filepath.Base(src))
		if _, err := os.Lstat(target); err == nil {
			return "", fmt.Errorf("%w: %s", ErrDestinationExists, target)
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		if err := checkSidecarsAbsent(target); err != nil {
			return "", err
		}
		return target, nil

	case fi.Mode().IsRegular():
		return "", fmt.Errorf("%w: %s", ErrDestinationExists, dst)

	default:
		return "", fmt.Errorf("destination is not a directory or a file: %s", dst)
	}
}

// checkSidecarsAbsent returns ErrDestinationExists if a sidecar of path is
// present. SQLite would treat a stale journal or WAL as part of the new file.
func checkSidecarsAbsent(path string) error {
	for _, suffix := range sqlite.SidecarSuffixes {
		if _, err := os.Lstat(path + suffix); err == nil {
			return fmt.Errorf("%w: %s", ErrDestinationExists, path+suffix)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

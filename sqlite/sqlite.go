package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
)

// Sidecar suffixes appended to the main database path.
const (
	WALSuffix     = "-wal"
	SHMSuffix     = "-shm"
	JournalSuffix = "-journal"
)

// SidecarSuffixes lists every sidecar suffix in resolution order.
var SidecarSuffixes = []string{WALSuffix, SHMSuffix, JournalSuffix}

// IsSidecarPath returns true if path ends with one of SidecarSuffixes.
func IsSidecarPath(path string) bool {
	for _, suffix := range SidecarSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// FileURI returns a "file:" URI for path with the given query parameters.
// Characters that SQLite treats specially in URI paths are escaped.
func FileURI(path string, params url.Values) string {
	var buf strings.Builder
	buf.WriteString("file:")
	for _, ch := range path {
		switch ch {
		case '%', '?', '#':
			fmt.Fprintf(&buf, "%%%02X", ch)
		default:
			buf.WriteRune(ch)
		}
	}
	if len(params) > 0 {
		buf.WriteByte('?')
		buf.WriteString(params.Encode())
	}
	return buf.String()
}

// CheckpointResult holds the row returned by PRAGMA wal_checkpoint.
type CheckpointResult struct {
	Busy         bool // checkpoint could not complete
	Log          int  // frames in the WAL, -1 if not in WAL mode
	Checkpointed int  // frames checkpointed, -1 if not in WAL mode
}

// CheckpointTruncate copies all WAL frames into the database file and
// truncates the WAL to zero bytes.
func CheckpointTruncate(ctx context.Context, db *sql.DB) (CheckpointResult, error) {
	var busy int
	var r CheckpointResult
	if err := db.QueryRowContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE);`).Scan(&busy, &r.Log, &r.Checkpointed); err != nil {
		return r, err
	}
	r.Busy = busy != 0
	return r, nil
}

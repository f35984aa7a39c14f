package sqlitebackup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/benbjohnson/sqlite-backup/internal"
)

// Export uploads the finished backup at path to client under its base name.
// It refuses to replace a file that already exists at the remote location.
// If the upload fails, the remote name is deleted again.
func Export(ctx context.Context, client ExportClient, path string) error {
	name := filepath.Base(path)

	if exists, err := client.Exists(ctx, name); err != nil {
		return fmt.Errorf("check export %s: %w", name, err)
	} else if exists {
		return fmt.Errorf("%w: %s", ErrExportExists, name)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rc := internal.NewReadCounter(f)
	if err := client.WriteFile(ctx, name, rc); err != nil {
		// Backends that stream directly to the target can leave a partial object.
		if e := client.DeleteFile(ctx, name); e != nil {
			return fmt.Errorf("export %s: %w (cleanup: %v)", name, err, e)
		}
		return fmt.Errorf("export %s: %w", name, err)
	}

	internal.ExportOperationTotalCounterVec.WithLabelValues(client.Type(), "PUT").Inc()
	internal.ExportOperationBytesCounterVec.WithLabelValues(client.Type(), "PUT").Add(float64(rc.N()))
	return nil
}

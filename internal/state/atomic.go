// Package state implements the on-disk coordination layout: scope locks,
// pid metadata, the scheduler run-lock, the update log, and the derived
// active-pid registry. Every write is write-temp-then-rename within the
// target directory, and every read path tolerates missing files.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWrite writes content to path via a temp file in the same directory
// followed by a rename, creating parent directories lazily. Readers never
// observe a partial file.
func AtomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".codex-teams-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

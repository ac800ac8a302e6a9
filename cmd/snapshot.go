package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/luma/numlink/storage"
)

// loadSnapshot seeds store from a file written by saveSnapshot. A missing
// file leaves the store empty.
func loadSnapshot(store storage.Store, path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read snapshot: %w", err)
	}

	if err := store.Restore(raw); err != nil {
		return false, fmt.Errorf("restore snapshot %s: %w", path, err)
	}

	return true, nil
}

// saveSnapshot writes the store to path, replacing the old snapshot only
// once the new one is complete.
func saveSnapshot(store storage.Store, path string) error {
	backup, err := store.Backup()
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, backup, 0640); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	return os.Rename(tmp, path)
}

// Package persist implements crash-safe writes for the run's output files:
// atomic replace for JSON snapshots, append-then-dedupe for the compact
// metrics ledger that is the sole source of truth for resume position.
package persist

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// AtomicWriteFile writes data to a temp file beside path and renames it into
// place, so a reader never observes a partially written file and a crash
// mid-write leaves the original (or nothing) rather than a corrupt file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, filepath.Base(path)+"."+uuid.NewString()+".tmp")

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

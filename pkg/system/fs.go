package system

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// AppFs is the filesystem every config and baseline read or write goes
// through. Tests swap it for afero.NewMemMapFs().
var AppFs afero.Fs = afero.NewOsFs()

// Exists reports whether path exists on AppFs.
func Exists(path string) (bool, error) {
	return afero.Exists(AppFs, path)
}

// WriteFileAtomic writes data to a sibling temp file and renames it over
// path, creating parent directories as needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := AppFs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()[:8]))
	if err := afero.WriteFile(AppFs, tmp, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := AppFs.Rename(tmp, path); err != nil {
		_ = AppFs.Remove(tmp)
		return fmt.Errorf("failed to rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

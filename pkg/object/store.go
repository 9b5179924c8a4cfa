package object

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile writes a twist file atomically: the atoms are written to a temp
// file in the same directory and then renamed into place.
func WriteFile(path string, a *Atoms) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("twist file write mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("twist file write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := a.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("twist file write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("twist file write close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("twist file write rename: %w", err)
	}
	return nil
}

// WriteFileIn writes a under dir using the conventional name of its focus
// and returns the path.
func WriteFileIn(dir string, a *Atoms) (string, error) {
	if a.Focus().IsNull() {
		return "", fmt.Errorf("twist file write: atoms have no focus")
	}
	path := filepath.Join(dir, FileName(a.Focus()))
	return path, WriteFile(path, a)
}

// ReadFile reads and verifies a twist file.
func (r *Registry) ReadFile(path string) (*Atoms, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("twist file read %s: %w", path, err)
	}
	defer f.Close()
	a, err := r.ReadAtoms(f)
	if err != nil {
		return nil, fmt.Errorf("twist file read %s: %w", path, err)
	}
	return a, nil
}

// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Package fsutil contains small filesystem helpers shared by the packages
// that write config and state files.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path via a temp file and rename so readers
// never observe a torn file. When backup is true and the target exists, the
// previous content is kept at path+".bak" first.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, backup bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	if backup {
		prev, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := os.WriteFile(path+".bak", prev, perm); err != nil {
				return fmt.Errorf("write backup: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
			// nothing to back up
		default:
			return fmt.Errorf("read existing file: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

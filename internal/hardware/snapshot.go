// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package hardware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pgkeeper/pgkeeper/internal/model"
)

// SnapshotFile is the name of the JSON snapshot kept in the state
// directory. It is overwritten on each run and read back on the next.
const SnapshotFile = "hardware_specs.json"

// SaveSnapshot writes the spec to <stateDir>/hardware_specs.json. The write
// is atomic (temp file + rename) so a crash never leaves a torn snapshot.
func SaveSnapshot(stateDir string, spec model.HardwareSpec) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(stateDir, SnapshotFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot reads the previous snapshot. ok is false when no snapshot
// exists yet (the first run).
func LoadSnapshot(stateDir string) (spec model.HardwareSpec, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(stateDir, SnapshotFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return spec, false, nil
		}
		return spec, false, err
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return spec, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return spec, true, nil
}

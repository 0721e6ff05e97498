// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package health

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/pgkeeper/pgkeeper/internal/fsutil"
)

// StateFile is the name of the recovery-state snapshot under the state dir.
const StateFile = "disaster_recovery_state.json"

// loadState restores per-unit recovery state from StatePath. A missing
// file is a fresh start, not an error.
func (w *Watcher) loadState() error {
	if w.StatePath == "" {
		return nil
	}
	data, err := os.ReadFile(w.StatePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	states := make(map[string]*unitState)
	if err := json.Unmarshal(data, &states); err != nil {
		return err
	}
	w.states = states
	return nil
}

// saveState persists per-unit recovery state to StatePath.
func (w *Watcher) saveState() error {
	if w.StatePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(w.states, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(w.StatePath, data, 0o644, false)
}

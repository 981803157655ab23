// Package roster maps chats to the staff member responsible for them. The
// mapping is maintained out-of-band and dropped in as a JSON file; a poll job
// refreshes it on an interval.
package roster

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Directory resolves the responsible id for a conversation.
type Directory interface {
	// ResponsibleFor returns the responsible id for a chat and whether one is
	// assigned.
	ResponsibleFor(chatID string) (string, bool)
}

// FileDirectory is a Directory backed by a JSON object file mapping chat id
// to responsible id.
type FileDirectory struct {
	mu      sync.RWMutex
	path    string
	mapping map[string]string
	logger  *slog.Logger
}

// NewFileDirectory loads the mapping file. A missing file is not an error —
// the directory starts empty and fills in on the next refresh.
func NewFileDirectory(path string, logger *slog.Logger) *FileDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	d := &FileDirectory{path: path, mapping: map[string]string{}, logger: logger}
	if err := d.Refresh(); err != nil {
		logger.Warn("roster: initial load failed", "path", path, "error", err)
	}
	return d
}

// Refresh re-reads the mapping file. On failure the previous mapping stays in
// effect.
func (d *FileDirectory) Refresh() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("roster: read: %w", err)
	}
	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return fmt.Errorf("roster: parse: %w", err)
	}

	d.mu.Lock()
	d.mapping = mapping
	d.mu.Unlock()

	d.logger.Info("roster refreshed", "chats", len(mapping))
	return nil
}

// ResponsibleFor implements Directory.
func (d *FileDirectory) ResponsibleFor(chatID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.mapping[chatID]
	return id, ok && id != ""
}

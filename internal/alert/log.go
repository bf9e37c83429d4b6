// Package alert persists intrusion events: a cooldown-gated trigger
// path, aggregate counters, evidence images, and a bounded on-disk
// history served by the API.
package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vigilcam/ids-server/pkg/types"
)

// maxLogEntries bounds the persisted history; the oldest records are
// evicted once the bound is exceeded.
const maxLogEntries = 100

// ErrNotFound is returned when a record id is absent from the log.
var ErrNotFound = errors.New("alert not found")

// Log is the bounded, newest-first alert history backed by a JSON file.
// The file is rewritten whole on every mutation, so all access funnels
// through one mutex: the detection loop appends while API handlers
// list and delete concurrently.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog opens (or initializes) the alert history at path.
func NewLog(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create alert log dir: %w", err)
		}
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("initialize alert log: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat alert log: %w", err)
	}
	return &Log{path: path}, nil
}

// Path returns the backing file path.
func (l *Log) Path() string { return l.path }

func (l *Log) read() ([]types.AlertRecord, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read alert log: %w", err)
	}
	var records []types.AlertRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse alert log: %w", err)
	}
	return records, nil
}

func (l *Log) write(records []types.AlertRecord) error {
	if records == nil {
		records = []types.AlertRecord{}
	}
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode alert log: %w", err)
	}
	if err := os.WriteFile(l.path, raw, 0o644); err != nil {
		return fmt.Errorf("write alert log: %w", err)
	}
	return nil
}

// Append inserts the record at the head and truncates the history to
// the most recent entries.
func (l *Log) Append(rec types.AlertRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.read()
	if err != nil {
		return err
	}
	records = append([]types.AlertRecord{rec}, records...)
	if len(records) > maxLogEntries {
		records = records[:maxLogEntries]
	}
	return l.write(records)
}

// List returns records newest first, honoring skip and limit.
func (l *Log) List(limit, skip int) ([]types.AlertRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.read()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})

	if skip < 0 {
		skip = 0
	}
	if skip >= len(records) {
		return []types.AlertRecord{}, nil
	}
	records = records[skip:]
	if limit >= 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}

// Latest returns the most recent record, or nil when the log is empty.
func (l *Log) Latest() (*types.AlertRecord, error) {
	records, err := l.List(1, 0)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Delete removes one record by id. Returns ErrNotFound when absent.
func (l *Log) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.read()
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, r := range records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(records) {
		return ErrNotFound
	}
	return l.write(kept)
}

// Clear removes every record.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(nil)
}

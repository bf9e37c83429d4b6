package alert

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vigilcam/ids-server/pkg/types"
)

// Evidence writes the frame that triggered an alert to the detection
// image directory. Filenames embed the intrusion type and a one-second
// timestamp; the cooldown keeps triggers far enough apart that the
// names stay unique.
type Evidence struct {
	mu           sync.RWMutex
	dir          string
	savedCount   uint64
	bytesWritten uint64
	lastFile     string
	lastSaved    time.Time
}

// EvidenceStatus is a point-in-time snapshot of the store.
type EvidenceStatus struct {
	Directory    string `json:"directory"`
	SavedCount   uint64 `json:"saved_count"`
	BytesWritten uint64 `json:"bytes_written"`
	LastFile     string `json:"last_file"`
	LastSavedAt  string `json:"last_saved_at"`
}

// NewEvidence opens (creating if needed) the evidence directory.
func NewEvidence(dir string) (*Evidence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &Evidence{dir: dir}, nil
}

// Dir returns the evidence directory.
func (e *Evidence) Dir() string { return e.dir }

// Save writes the frame's JPEG bytes under an intrusion-typed,
// timestamped filename and returns the path relative to the store.
func (e *Evidence) Save(frame *types.Frame, intrusion types.IntrusionType, ts time.Time) (string, error) {
	if frame == nil || len(frame.Data) == 0 {
		return "", fmt.Errorf("no frame data to save")
	}

	filename := fmt.Sprintf("%s_%s.jpg", intrusion, ts.Format(types.EvidenceTimeFormat))
	path := filepath.Join(e.dir, filename)

	if err := os.WriteFile(path, frame.Data, 0o644); err != nil {
		return "", fmt.Errorf("write evidence image: %w", err)
	}

	e.mu.Lock()
	e.savedCount++
	e.bytesWritten += uint64(len(frame.Data))
	e.lastFile = filename
	e.lastSaved = ts
	e.mu.Unlock()

	return path, nil
}

// Status returns a snapshot of the store's counters.
func (e *Evidence) Status() EvidenceStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := EvidenceStatus{
		Directory:    e.dir,
		SavedCount:   e.savedCount,
		BytesWritten: e.bytesWritten,
		LastFile:     e.lastFile,
	}
	if !e.lastSaved.IsZero() {
		status.LastSavedAt = e.lastSaved.Format(types.AlertTimeFormat)
	}
	return status
}

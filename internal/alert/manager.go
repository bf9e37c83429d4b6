package alert

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilcam/ids-server/internal/config"
	"github.com/vigilcam/ids-server/internal/logger"
	"github.com/vigilcam/ids-server/pkg/types"
)

const moduleName = "Alert"

// Manager gates alert emission behind a single cooldown timer shared by
// all intrusion types, keeps aggregate counters, and fans a triggered
// alert out to its side effects: evidence image, persisted log entry,
// console line, and sound.
type Manager struct {
	mu        sync.Mutex
	cooldown  time.Duration
	lastAlert time.Time
	total     int
	byType    map[string]int

	log      *Log
	evidence *Evidence
	sound    bool
	console  bool

	now func() time.Time
}

// NewManager wires a manager from the alert configuration. The evidence
// store is only opened when image saving is enabled.
func NewManager(cfg config.AlertConfig, cooldownSeconds int, log *Log) (*Manager, error) {
	m := &Manager{
		cooldown: time.Duration(cooldownSeconds) * time.Second,
		byType:   make(map[string]int),
		log:      log,
		sound:    cfg.Sound,
		console:  cfg.ConsoleLog,
		now:      time.Now,
	}
	if cfg.SaveVideo {
		// Video capture was never implemented upstream of this flag.
		logger.Warn(moduleName, "alerts.save_video is not supported, ignoring")
	}
	if cfg.SaveImage {
		evidence, err := NewEvidence(cfg.SavePath)
		if err != nil {
			return nil, err
		}
		m.evidence = evidence
	}
	return m, nil
}

// Evidence returns the evidence store, or nil when image saving is off.
func (m *Manager) Evidence() *Evidence { return m.evidence }

// Trigger emits one alert for the given detections unless the cooldown
// since the previous alert has not yet elapsed. Side-effect failures
// (evidence save, log write) are logged and do not suppress the alert.
func (m *Manager) Trigger(frame *types.Frame, detections []types.Detection, intrusion types.IntrusionType) bool {
	m.mu.Lock()
	now := m.now()
	if !m.lastAlert.IsZero() && now.Sub(m.lastAlert) < m.cooldown {
		m.mu.Unlock()
		return false
	}
	m.lastAlert = now
	m.total++
	m.byType[string(intrusion)]++
	m.mu.Unlock()

	var imagePath *string
	if m.evidence != nil {
		path, err := m.evidence.Save(frame, intrusion, now)
		if err != nil {
			logger.Error(moduleName, "evidence save failed: %v", err)
		} else {
			imagePath = &path
		}
	}

	record := types.AlertRecord{
		ID:             uuid.NewString(),
		Timestamp:      now.Format(types.AlertTimeFormat),
		IntrusionType:  intrusion,
		DetectionCount: len(detections),
		ImagePath:      imagePath,
		Detections:     make([]types.AlertDetection, len(detections)),
	}
	for i, d := range detections {
		record.Detections[i] = types.AlertDetection{
			ClassName:  d.ClassName,
			Confidence: d.Confidence,
		}
	}
	if err := m.log.Append(record); err != nil {
		logger.Error(moduleName, "alert log write failed: %v", err)
	}

	if m.console {
		logger.Warn(moduleName, "INTRUSION [%s]: %d object(s) in perimeter", intrusion, len(detections))
	}
	if m.sound {
		// Terminal bell; best effort.
		_, _ = os.Stdout.WriteString("\a")
	}
	return true
}

// Statistics returns a snapshot of the counters.
func (m *Manager) Statistics() types.AlertStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := make(map[string]int, len(m.byType))
	for k, v := range m.byType {
		byType[k] = v
	}
	stats := types.AlertStats{
		TotalAlerts:  m.total,
		AlertsByType: byType,
		LastAlert:    "None",
	}
	if !m.lastAlert.IsZero() {
		stats.LastAlert = m.lastAlert.Format(types.AlertTimeFormat)
	}
	return stats
}

// Reset zeroes the counters and the cooldown timer. The persisted log
// is left untouched.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = 0
	m.byType = make(map[string]int)
	m.lastAlert = time.Time{}
}

package alert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vigilcam/ids-server/internal/config"
	"github.com/vigilcam/ids-server/pkg/types"
)

func testLog(t *testing.T) *Log {
	t.Helper()
	l, err := NewLog(filepath.Join(t.TempDir(), "alerts.json"))
	if err != nil {
		t.Fatalf("create log: %v", err)
	}
	return l
}

func record(id string, ts time.Time) types.AlertRecord {
	return types.AlertRecord{
		ID:             id,
		Timestamp:      ts.Format(types.AlertTimeFormat),
		IntrusionType:  types.IntrusionHuman,
		DetectionCount: 1,
		Detections:     []types.AlertDetection{{ClassName: "person", Confidence: 0.9}},
	}
}

func TestLogBoundAndOrder(t *testing.T) {
	l := testLog(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i <= maxLogEntries; i++ {
		if err := l.Append(record(fmt.Sprintf("rec-%03d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records, err := l.List(-1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != maxLogEntries {
		t.Fatalf("expected %d records after overflow, got %d", maxLogEntries, len(records))
	}
	if records[0].ID != fmt.Sprintf("rec-%03d", maxLogEntries) {
		t.Fatalf("expected newest record first, got %s", records[0].ID)
	}
	for _, r := range records {
		if r.ID == "rec-000" {
			t.Fatalf("oldest record should have been evicted")
		}
	}
}

func TestLogListPagination(t *testing.T) {
	l := testLog(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := l.Append(record(fmt.Sprintf("rec-%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	records, err := l.List(2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 || records[0].ID != "rec-3" || records[1].ID != "rec-2" {
		t.Fatalf("unexpected page: %+v", records)
	}

	records, err = l.List(10, 99)
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty page past end, got %d records", len(records))
	}
}

func TestLogLatestAndDelete(t *testing.T) {
	l := testLog(t)

	latest, err := l.Latest()
	if err != nil {
		t.Fatalf("latest on empty log: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil latest on empty log, got %+v", latest)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := l.Append(record(fmt.Sprintf("rec-%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	latest, err = l.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.ID != "rec-2" {
		t.Fatalf("expected rec-2 as latest, got %+v", latest)
	}

	if err := l.Delete("rec-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := l.Delete("rec-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	if err := l.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	records, err := l.List(-1, 0)
	if err != nil {
		t.Fatalf("list after clear: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty log after clear, got %d records", len(records))
	}
}

func testManager(t *testing.T, cooldownSeconds int, saveImage bool) (*Manager, *time.Time) {
	t.Helper()
	cfg := config.AlertConfig{
		SaveImage: saveImage,
		SavePath:  filepath.Join(t.TempDir(), "detections"),
	}
	m, err := NewManager(cfg, cooldownSeconds, testLog(t))
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func personDetections() []types.Detection {
	return []types.Detection{{
		ClassName:  "person",
		Confidence: 0.92,
		Box:        [4]int{10, 10, 60, 120},
		Center:     [2]int{35, 65},
	}}
}

func TestTriggerCooldown(t *testing.T) {
	m, now := testManager(t, 30, false)
	frame := &types.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Width: 2, Height: 2}

	if !m.Trigger(frame, personDetections(), types.IntrusionHuman) {
		t.Fatalf("first trigger should fire")
	}
	*now = now.Add(10 * time.Second)
	if m.Trigger(frame, personDetections(), types.IntrusionHuman) {
		t.Fatalf("trigger inside cooldown should be suppressed")
	}
	*now = now.Add(21 * time.Second) // t=31s from the first alert
	if !m.Trigger(frame, personDetections(), types.IntrusionAnimal) {
		t.Fatalf("trigger after cooldown should fire")
	}

	stats := m.Statistics()
	if stats.TotalAlerts != 2 {
		t.Fatalf("expected 2 alerts total, got %d", stats.TotalAlerts)
	}
	if stats.AlertsByType["human"] != 1 || stats.AlertsByType["animal"] != 1 {
		t.Fatalf("unexpected per-type counts: %v", stats.AlertsByType)
	}
	if stats.LastAlert == "None" {
		t.Fatalf("expected last alert timestamp to be set")
	}

	records, err := m.log.List(-1, 0)
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 persisted records, got %d", len(records))
	}
	if records[0].IntrusionType != types.IntrusionAnimal {
		t.Fatalf("expected newest record first, got %s", records[0].IntrusionType)
	}
	if records[0].Detections[0].ClassName != "person" {
		t.Fatalf("expected detection class persisted, got %+v", records[0].Detections)
	}
}

func TestTriggerCooldownSharedAcrossTypes(t *testing.T) {
	m, now := testManager(t, 30, false)
	frame := &types.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}}

	if !m.Trigger(frame, personDetections(), types.IntrusionHuman) {
		t.Fatalf("first trigger should fire")
	}
	*now = now.Add(time.Second)
	// A different intrusion type does not get its own cooldown window.
	if m.Trigger(frame, personDetections(), types.IntrusionAnimal) {
		t.Fatalf("second type inside the shared cooldown should be suppressed")
	}
}

func TestTriggerSavesEvidence(t *testing.T) {
	m, _ := testManager(t, 0, true)
	frame := &types.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Width: 2, Height: 2}

	if !m.Trigger(frame, personDetections(), types.IntrusionHuman) {
		t.Fatalf("trigger should fire")
	}

	latest, err := m.log.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ImagePath == nil {
		t.Fatalf("expected evidence image path on record")
	}
	name := filepath.Base(*latest.ImagePath)
	if !strings.HasPrefix(name, "human_") || !strings.HasSuffix(name, ".jpg") {
		t.Fatalf("unexpected evidence filename %q", name)
	}
	if _, err := os.Stat(*latest.ImagePath); err != nil {
		t.Fatalf("evidence file missing: %v", err)
	}

	status := m.Evidence().Status()
	if status.SavedCount != 1 || status.LastFile != name {
		t.Fatalf("unexpected evidence status: %+v", status)
	}
}

func TestResetKeepsLog(t *testing.T) {
	m, now := testManager(t, 30, false)
	frame := &types.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}}

	if !m.Trigger(frame, personDetections(), types.IntrusionHuman) {
		t.Fatalf("trigger should fire")
	}
	m.Reset()

	stats := m.Statistics()
	if stats.TotalAlerts != 0 || len(stats.AlertsByType) != 0 || stats.LastAlert != "None" {
		t.Fatalf("expected zeroed statistics after reset, got %+v", stats)
	}

	records, err := m.log.List(-1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("reset must not touch the persisted log, got %d records", len(records))
	}

	// Reset also clears the cooldown timer: the next trigger fires.
	*now = now.Add(time.Second)
	if !m.Trigger(frame, personDetections(), types.IntrusionHuman) {
		t.Fatalf("trigger after reset should fire")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
camera:
  url: "http://camera.local/video"
`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := m.Snapshot()

	if cfg.Camera.URL != "http://camera.local/video" {
		t.Fatalf("unexpected camera url %q", cfg.Camera.URL)
	}
	if cfg.Camera.Width != 1280 || cfg.Camera.Height != 720 {
		t.Fatalf("default resolution not applied: %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Detection.FrameSkip != 2 || cfg.Detection.AlertCooldown != 30 {
		t.Fatalf("default detection settings not applied: %+v", cfg.Detection)
	}
	if len(cfg.Detection.PerimeterZone) != 4 {
		t.Fatalf("default perimeter zone not applied: %v", cfg.Detection.PerimeterZone)
	}
	if cfg.Model.ConfidenceThreshold != 0.5 {
		t.Fatalf("default confidence not applied: %g", cfg.Model.ConfidenceThreshold)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty camera url", `
camera:
  url: ""
`},
		{"confidence out of range", `
camera:
  url: "http://cam/video"
model:
  confidence_threshold: 1.5
`},
		{"zero frame skip", `
camera:
  url: "http://cam/video"
detection:
  frame_skip: 0
`},
		{"negative cooldown", `
camera:
  url: "http://cam/video"
detection:
  alert_cooldown: -1
`},
		{"degenerate perimeter", `
camera:
  url: "http://cam/video"
detection:
  enable_perimeter: true
  perimeter_zone: [[0, 0], [1, 1]]
`},
	}
	for _, tc := range cases {
		if _, err := Load(writeConfig(t, tc.raw)); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestSourceRefAcceptsDeviceIndex(t *testing.T) {
	m, err := Load(writeConfig(t, `
camera:
  url: 2
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	idx, ok := m.Snapshot().Camera.URL.DeviceIndex()
	if !ok || idx != 2 {
		t.Fatalf("expected device index 2, got %d (ok=%v)", idx, ok)
	}
}

func TestUpdatePerimeterPersists(t *testing.T) {
	path := writeConfig(t, `
camera:
  url: "http://cam/video"
`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	zone := []NormPoint{{0, 0}, {0.5, 0}, {0.5, 1}, {0, 1}}
	if err := m.UpdatePerimeter(zone, true); err != nil {
		t.Fatalf("update perimeter: %v", err)
	}

	// The file round-trips through Save: reload and compare.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := reloaded.Snapshot().Detection.PerimeterZone
	if len(got) != 4 || got[1] != (NormPoint{0.5, 0}) {
		t.Fatalf("perimeter not persisted: %v", got)
	}
	if !reloaded.Snapshot().Detection.EnablePerimeter {
		t.Fatalf("enable flag not persisted")
	}
}

func TestUpdateCameraRejectsInvalid(t *testing.T) {
	m, err := Load(writeConfig(t, `
camera:
  url: "http://cam/video"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := m.UpdateCamera(CameraConfig{URL: ""}); err == nil {
		t.Fatalf("expected validation error for empty url")
	}
	// The rejected update must not leak into the snapshot.
	if m.Snapshot().Camera.URL == "" {
		t.Fatalf("invalid update mutated the config")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m, err := Load(writeConfig(t, `
camera:
  url: "http://cam/video"
detection:
  target_classes: ["person", "dog"]
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	snap := m.Snapshot()
	snap.Detection.TargetClasses[0] = "mutated"
	if m.Snapshot().Detection.TargetClasses[0] != "person" {
		t.Fatalf("snapshot shares state with the manager")
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// SourceRef identifies a camera source: an HTTP URL or a bare numeric
// device index. YAML and JSON may carry it as either a string or an int.
type SourceRef string

func (s SourceRef) String() string { return string(s) }

// DeviceIndex reports whether the ref is a bare device index and its value.
func (s SourceRef) DeviceIndex() (int, bool) {
	n, err := strconv.Atoi(string(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *SourceRef) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err == nil {
		*s = SourceRef(str)
		return nil
	}
	var n int
	if err := value.Decode(&n); err == nil {
		*s = SourceRef(strconv.Itoa(n))
		return nil
	}
	return fmt.Errorf("camera url must be a string or a device index")
}

func (s *SourceRef) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = SourceRef(str)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*s = SourceRef(strconv.Itoa(n))
		return nil
	}
	return fmt.Errorf("camera url must be a string or a device index")
}

// NormPoint is a perimeter vertex in normalized [0,1] frame coordinates.
type NormPoint [2]float64

func (p *NormPoint) UnmarshalYAML(value *yaml.Node) error {
	var v []float64
	if err := value.Decode(&v); err != nil {
		return err
	}
	if len(v) != 2 {
		return fmt.Errorf("perimeter point needs 2 coordinates, got %d", len(v))
	}
	p[0], p[1] = v[0], v[1]
	return nil
}

func (p *NormPoint) UnmarshalJSON(b []byte) error {
	var v []float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if len(v) != 2 {
		return fmt.Errorf("perimeter point needs 2 coordinates, got %d", len(v))
	}
	p[0], p[1] = v[0], v[1]
	return nil
}

// CameraConfig selects and shapes the frame source.
type CameraConfig struct {
	URL    SourceRef `yaml:"url" json:"url"`
	Width  int       `yaml:"width" json:"width"`
	Height int       `yaml:"height" json:"height"`
	FPS    int       `yaml:"fps" json:"fps"`
}

// ModelConfig points at the inference server and its thresholds.
type ModelConfig struct {
	Endpoint            string  `yaml:"endpoint" json:"endpoint"`
	Weights             string  `yaml:"weights" json:"weights"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
	IOUThreshold        float64 `yaml:"iou_threshold" json:"iou_threshold"`
	Device              string  `yaml:"device" json:"device"`
}

// DetectionConfig tunes the detection loop and perimeter filtering.
type DetectionConfig struct {
	TargetClasses    []string    `yaml:"target_classes" json:"target_classes"`
	PerimeterZone    []NormPoint `yaml:"perimeter_zone" json:"perimeter_zone"`
	EnablePerimeter  bool        `yaml:"enable_perimeter" json:"enable_perimeter"`
	AlertCooldown    int         `yaml:"alert_cooldown" json:"alert_cooldown"`
	MinDetectionSize float64     `yaml:"min_detection_size" json:"min_detection_size"`
	FrameSkip        int         `yaml:"frame_skip" json:"frame_skip"`
	UseHalfPrecision bool        `yaml:"use_half_precision" json:"use_half_precision"`
	InferenceSize    int         `yaml:"inference_size" json:"inference_size"`
}

// AlertConfig controls alert side effects.
type AlertConfig struct {
	Sound      bool   `yaml:"sound" json:"sound"`
	SaveImage  bool   `yaml:"save_image" json:"save_image"`
	SaveVideo  bool   `yaml:"save_video" json:"save_video"`
	ConsoleLog bool   `yaml:"console_log" json:"console_log"`
	SavePath   string `yaml:"save_path" json:"save_path"`
}

// DisplayConfig controls overlay rendering on published frames.
type DisplayConfig struct {
	DrawBoxes      bool `yaml:"draw_boxes" json:"draw_boxes"`
	DrawConfidence bool `yaml:"draw_confidence" json:"draw_confidence"`
}

// LoggingConfig selects log verbosity and the rotating log file.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// ServerConfig holds the HTTP listeners and persistence paths.
type ServerConfig struct {
	Addr        string `yaml:"addr" json:"addr"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	AlertLog    string `yaml:"alert_log" json:"alert_log"`
}

// Config is the full configuration tree.
type Config struct {
	Camera    CameraConfig    `yaml:"camera" json:"camera"`
	Model     ModelConfig     `yaml:"model" json:"model"`
	Detection DetectionConfig `yaml:"detection" json:"detection"`
	Alerts    AlertConfig     `yaml:"alerts" json:"alerts"`
	Display   DisplayConfig   `yaml:"display" json:"display"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// Default returns the configuration used when keys are absent from the
// YAML file.
func Default() Config {
	return Config{
		Camera: CameraConfig{
			URL:    "0",
			Width:  1280,
			Height: 720,
			FPS:    30,
		},
		Model: ModelConfig{
			Endpoint:            "http://127.0.0.1:8555",
			Weights:             "models/yolov8n.pt",
			ConfidenceThreshold: 0.5,
			IOUThreshold:        0.45,
			Device:              "cpu",
		},
		Detection: DetectionConfig{
			TargetClasses:    []string{"person"},
			PerimeterZone:    []NormPoint{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
			EnablePerimeter:  true,
			AlertCooldown:    30,
			MinDetectionSize: 0,
			FrameSkip:        2,
			UseHalfPrecision: false,
			InferenceSize:    416,
		},
		Alerts: AlertConfig{
			Sound:      true,
			SaveImage:  true,
			SaveVideo:  false,
			ConsoleLog: true,
			SavePath:   "data/detections",
		},
		Display: DisplayConfig{
			DrawBoxes:      true,
			DrawConfidence: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "logs/ids.log",
		},
		Server: ServerConfig{
			Addr:        ":8000",
			MetricsAddr: ":9090",
			AlertLog:    "data/alerts.json",
		},
	}
}

// Validate rejects values the detection loop cannot run with.
func (c *Config) Validate() error {
	if c.Camera.URL == "" {
		return fmt.Errorf("camera.url is required")
	}
	if c.Model.ConfidenceThreshold < 0 || c.Model.ConfidenceThreshold > 1 {
		return fmt.Errorf("model.confidence_threshold must be within [0,1], got %g", c.Model.ConfidenceThreshold)
	}
	if c.Detection.FrameSkip < 1 {
		return fmt.Errorf("detection.frame_skip must be >= 1, got %d", c.Detection.FrameSkip)
	}
	if c.Detection.AlertCooldown < 0 {
		return fmt.Errorf("detection.alert_cooldown must be >= 0, got %d", c.Detection.AlertCooldown)
	}
	if c.Detection.MinDetectionSize < 0 || c.Detection.MinDetectionSize > 1 {
		return fmt.Errorf("detection.min_detection_size must be within [0,1], got %g", c.Detection.MinDetectionSize)
	}
	if c.Detection.InferenceSize < 1 {
		return fmt.Errorf("detection.inference_size must be >= 1, got %d", c.Detection.InferenceSize)
	}
	if c.Detection.EnablePerimeter && len(c.Detection.PerimeterZone) < 3 {
		return fmt.Errorf("detection.perimeter_zone needs at least 3 points, got %d", len(c.Detection.PerimeterZone))
	}
	return nil
}

// Manager owns the configuration file: it serves snapshots to readers and
// persists section updates coming from the API.
type Manager struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

// Load reads and validates the YAML configuration at path. Missing keys
// fall back to Default values; a missing file is an error.
func Load(path string) (*Manager, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &Manager{path: path, cfg: cfg}, nil
}

// Snapshot returns a deep copy of the current configuration.
func (m *Manager) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.clone()
}

// Path returns the backing file path.
func (m *Manager) Path() string {
	return m.path
}

// UpdateCamera replaces the camera section and persists the file.
func (m *Manager) UpdateCamera(c CameraConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cfg.clone()
	next.Camera = c
	if err := next.Validate(); err != nil {
		return err
	}
	if err := save(m.path, &next); err != nil {
		return err
	}
	m.cfg = next
	return nil
}

// UpdateDetection replaces the detection section and persists the file.
func (m *Manager) UpdateDetection(d DetectionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cfg.clone()
	next.Detection = d
	if err := next.Validate(); err != nil {
		return err
	}
	if err := save(m.path, &next); err != nil {
		return err
	}
	m.cfg = next
	return nil
}

// UpdatePerimeter replaces the perimeter zone and its enable flag,
// persisting the file.
func (m *Manager) UpdatePerimeter(zone []NormPoint, enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cfg.clone()
	next.Detection.PerimeterZone = append([]NormPoint(nil), zone...)
	next.Detection.EnablePerimeter = enable
	if err := next.Validate(); err != nil {
		return err
	}
	if err := save(m.path, &next); err != nil {
		return err
	}
	m.cfg = next
	return nil
}

func (c *Config) clone() Config {
	out := *c
	out.Detection.TargetClasses = append([]string(nil), c.Detection.TargetClasses...)
	out.Detection.PerimeterZone = append([]NormPoint(nil), c.Detection.PerimeterZone...)
	return out
}

func save(path string, cfg *Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

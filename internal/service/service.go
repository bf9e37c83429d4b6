// Package service runs the detection loop: it pulls frames from the
// camera, runs inference with frame skipping, filters detections by the
// perimeter zone, drives the alert manager, and publishes a lock-guarded
// snapshot of the latest frame, detections, and stats for the API.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vigilcam/ids-server/internal/camera"
	"github.com/vigilcam/ids-server/internal/config"
	"github.com/vigilcam/ids-server/internal/detector"
	"github.com/vigilcam/ids-server/internal/geometry"
	"github.com/vigilcam/ids-server/internal/logger"
	"github.com/vigilcam/ids-server/internal/metrics"
	"github.com/vigilcam/ids-server/internal/overlay"
	"github.com/vigilcam/ids-server/pkg/types"
)

const moduleName = "Service"

const (
	// readRetryDelay is the pause after a failed frame read.
	readRetryDelay = 100 * time.Millisecond
	// stopTimeout bounds the wait for the loop goroutine on Stop.
	stopTimeout = 3 * time.Second
	// fpsWindowTicks is how many ticks pass between FPS recomputations.
	fpsWindowTicks = 30
)

// FrameSource supplies frames. camera.Camera is the production
// implementation; tests inject fakes.
type FrameSource interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (*types.Frame, error)
	Release() error
	Resolution() (int, int)
}

// Detector runs object detection on a frame.
type Detector interface {
	Healthcheck(ctx context.Context) error
	Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error)
}

// Alerter receives perimeter intrusions from the loop.
type Alerter interface {
	Trigger(frame *types.Frame, detections []types.Detection, intrusion types.IntrusionType) bool
	Statistics() types.AlertStats
}

type state int

const (
	stateStopped state = iota
	stateStarting
	stateRunning
	stateStopping
)

// Option overrides a collaborator, mainly for tests.
type Option func(*Service)

// WithSource injects the frame source used on every Start.
func WithSource(src FrameSource) Option {
	return func(s *Service) { s.injSource = src }
}

// WithDetector injects the detector used on every Start.
func WithDetector(det Detector) Option {
	return func(s *Service) { s.injDetector = det }
}

// WithMetrics injects a shared metrics instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service is the detection service. One background goroutine runs the
// tick loop; all other methods are safe to call from API handlers.
type Service struct {
	cfgm   *config.Manager
	alerts Alerter

	injSource   FrameSource
	injDetector Detector
	metrics     *metrics.Metrics

	mu              sync.Mutex
	state           state
	cameraConnected bool

	latestFrame      *types.Frame
	latestDetections []types.Detection
	latestStats      types.Stats

	zone        []config.NormPoint
	zoneEnabled bool
	perimeter   *geometry.Perimeter

	source FrameSource
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a stopped service. Camera and detector are constructed
// from the configuration snapshot taken at each Start, so config
// updates apply on the next start.
func New(cfgm *config.Manager, alerts Alerter, opts ...Option) *Service {
	s := &Service{
		cfgm:   cfgm,
		alerts: alerts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

// Start connects the camera, checks the inference server, derives the
// perimeter from the source resolution, and launches the tick loop.
// A failed start releases anything acquired and leaves the service
// stopped. Starting an already running service is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.state != stateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = stateStarting
	s.mu.Unlock()

	cfg := s.cfgm.Snapshot()

	source := s.injSource
	if source == nil {
		source = camera.New(cfg.Camera)
	}
	det := s.injDetector
	if det == nil {
		det = detector.NewRemote(cfg.Model, cfg.Detection)
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := source.Connect(ctx); err != nil {
		cancel()
		s.setStopped()
		return fmt.Errorf("connect camera: %w", err)
	}
	if err := det.Healthcheck(ctx); err != nil {
		_ = source.Release()
		cancel()
		s.setStopped()
		return fmt.Errorf("inference server: %w", err)
	}

	width, height := source.Resolution()
	var perim *geometry.Perimeter
	if cfg.Detection.EnablePerimeter {
		perim = geometry.FromNormalized(zonePoints(cfg.Detection.PerimeterZone), width, height)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.state = stateRunning
	s.cameraConnected = true
	s.source = source
	s.cancel = cancel
	s.done = done
	s.zone = append([]config.NormPoint(nil), cfg.Detection.PerimeterZone...)
	s.zoneEnabled = cfg.Detection.EnablePerimeter
	s.perimeter = perim
	s.mu.Unlock()

	s.metrics.SetRunning(true)
	s.metrics.SetCameraConnected(true)
	logger.Info(moduleName, "detection loop started (%dx%d, frame skip %d)", width, height, cfg.Detection.FrameSkip)

	go s.run(ctx, source, det, cfg, done)
	return nil
}

// Stop signals the loop, waits up to stopTimeout for it to exit, then
// releases the camera and clears the published snapshot regardless.
// Stopping a service that is not running is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.state = stateStopping
	cancel, done, source := s.cancel, s.done, s.source
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		logger.Warn(moduleName, "detection loop did not exit within %v, releasing camera anyway", stopTimeout)
	}

	if err := source.Release(); err != nil {
		logger.Warn(moduleName, "camera release: %v", err)
	}

	s.mu.Lock()
	s.state = stateStopped
	s.cameraConnected = false
	s.source = nil
	s.cancel = nil
	s.done = nil
	s.latestFrame = nil
	s.latestDetections = nil
	s.latestStats = types.Stats{}
	s.perimeter = nil
	s.mu.Unlock()

	s.metrics.SetRunning(false)
	s.metrics.SetCameraConnected(false)
	logger.Info(moduleName, "detection service stopped")
}

// IsRunning reports whether the tick loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// CameraConnected reports whether the camera is held open.
func (s *Service) CameraConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameraConnected
}

// LatestFrame returns a copy of the most recent display frame, or nil
// when no frame has been published.
func (s *Service) LatestFrame() *types.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestFrame.Clone()
}

// LatestDetections returns a copy of the perimeter-filtered detections
// from the most recent tick.
func (s *Service) LatestDetections() []types.Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Detection(nil), s.latestDetections...)
}

// LatestStats returns the most recent stats snapshot. Zero when the
// service is not running.
func (s *Service) LatestStats() types.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestStats
}

// AlertStatistics returns the alert manager's counters.
func (s *Service) AlertStatistics() types.AlertStats {
	return s.alerts.Statistics()
}

// SetPerimeter hot-applies a new perimeter zone to a running loop by
// unsetting the derived pixel polygon; the loop recomputes it from the
// next frame's size. No effect while stopped (Start reads the config).
func (s *Service) SetPerimeter(zone []config.NormPoint, enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zone = append([]config.NormPoint(nil), zone...)
	s.zoneEnabled = enable
	s.perimeter = nil
}

func (s *Service) setStopped() {
	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()
}

// currentPerimeter returns the active pixel polygon, deriving it from
// the frame size when a zone is configured but pixels are unset.
func (s *Service) currentPerimeter(width, height int) *geometry.Perimeter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perimeter == nil && s.zoneEnabled && len(s.zone) >= 3 {
		s.perimeter = geometry.FromNormalized(zonePoints(s.zone), width, height)
	}
	if !s.zoneEnabled {
		return nil
	}
	return s.perimeter
}

func (s *Service) run(ctx context.Context, source FrameSource, det Detector, cfg config.Config, done chan struct{}) {
	defer close(done)

	skip := cfg.Detection.FrameSkip
	if skip < 1 {
		skip = 1
	}
	opts := overlay.Options{
		DrawBoxes:      cfg.Display.DrawBoxes,
		DrawConfidence: cfg.Display.DrawConfidence,
	}

	var (
		tick         int
		lastRaw      []types.Detection
		lastFiltered []types.Detection
		fps          float64
		windowStart  = time.Now()
		windowTicks  int
	)

	for ctx.Err() == nil {
		tickStart := time.Now()

		frame, err := source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.ReadErrors.Add(1)
			logger.Warn(moduleName, "frame read failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}
		s.metrics.FramesRead.Add(1)

		perim := s.currentPerimeter(frame.Width, frame.Height)

		// Inference runs every skip-th tick; the ticks between reuse the
		// last computed raw/filtered pair verbatim.
		if tick%skip == 0 {
			raw, derr := det.Detect(ctx, frame)
			if derr != nil {
				if ctx.Err() != nil {
					return
				}
				s.metrics.InferenceErrors.Add(1)
				logger.Warn(moduleName, "inference failed: %v", derr)
			} else {
				s.metrics.InferenceRuns.Add(1)
				lastRaw = raw
				lastFiltered = perim.Filter(raw)
				s.metrics.DetectionsTotal.Add(uint64(len(lastRaw)))
				s.metrics.InPerimeter.Add(uint64(len(lastFiltered)))
				s.metrics.OutsidePerimeter.Add(uint64(len(lastRaw) - len(lastFiltered)))
			}
		}
		tick++

		if len(lastFiltered) > 0 {
			intrusion := detector.Classify(lastFiltered)
			if s.alerts.Trigger(frame, lastFiltered, intrusion) {
				s.metrics.AlertsTriggered.Add(1)
			} else {
				s.metrics.AlertsSuppressed.Add(1)
			}
		}

		windowTicks++
		if windowTicks >= fpsWindowTicks {
			if elapsed := time.Since(windowStart).Seconds(); elapsed > 0 {
				fps = float64(windowTicks) / elapsed
			}
			windowStart = time.Now()
			windowTicks = 0
		}
		detectionFPS := fps / float64(skip)

		stats := types.Stats{
			FPS:              fps,
			DetectionFPS:     detectionFPS,
			DetectionCount:   len(lastRaw),
			InPerimeter:      len(lastFiltered),
			OutsidePerimeter: len(lastRaw) - len(lastFiltered),
		}

		display := frame
		if opts.DrawBoxes || perim != nil {
			if data, oerr := overlay.Render(frame, lastRaw, perim, stats, opts); oerr != nil {
				logger.Debug(moduleName, "overlay render failed: %v", oerr)
			} else {
				display = &types.Frame{
					Data:      data,
					Width:     frame.Width,
					Height:    frame.Height,
					Seq:       frame.Seq,
					Timestamp: frame.Timestamp,
				}
			}
		}

		s.metrics.SetRates(fps, detectionFPS)
		s.metrics.UpdateTickLatency(time.Since(tickStart))
		s.publish(display, lastFiltered, stats)
	}
}

// publish replaces the latest snapshot triple. The lock is never held
// across capture or inference.
func (s *Service) publish(frame *types.Frame, detections []types.Detection, stats types.Stats) {
	detCopy := append([]types.Detection(nil), detections...)
	s.mu.Lock()
	s.latestFrame = frame
	s.latestDetections = detCopy
	s.latestStats = stats
	s.mu.Unlock()
}

func zonePoints(zone []config.NormPoint) [][2]float64 {
	pts := make([][2]float64, len(zone))
	for i, p := range zone {
		pts[i] = [2]float64(p)
	}
	return pts
}

// Package webapi maps the HTTP API onto the detection service's
// accessors: health, detection control, alert history, stats, config
// updates, and the live MJPEG and WebSocket feeds.
package webapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vigilcam/ids-server/internal/alert"
	"github.com/vigilcam/ids-server/internal/config"
	"github.com/vigilcam/ids-server/internal/logger"
	"github.com/vigilcam/ids-server/pkg/types"
)

const moduleName = "WebAPI"

const apiVersion = "1.0.0"

// DetectionService is the boundary contract the API layer consumes.
// service.Service is the production implementation.
type DetectionService interface {
	Start() error
	Stop()
	IsRunning() bool
	CameraConnected() bool
	LatestFrame() *types.Frame
	LatestDetections() []types.Detection
	LatestStats() types.Stats
	AlertStatistics() types.AlertStats
	SetPerimeter(zone []config.NormPoint, enable bool)
}

// Server serves the intrusion detection HTTP API.
type Server struct {
	svc         DetectionService
	cfgm        *config.Manager
	alerts      *alert.Log
	evidenceDir string
	broadcaster *FrameBroadcaster
}

// NewServer wires the API over the service, the config manager, and the
// alert history. evidenceDir is served read-only under /detections/.
func NewServer(svc DetectionService, cfgm *config.Manager, alerts *alert.Log, evidenceDir string) *Server {
	broadcaster := NewFrameBroadcaster(svc, 100*time.Millisecond)
	broadcaster.Start()

	return &Server{
		svc:         svc,
		cfgm:        cfgm,
		alerts:      alerts,
		evidenceDir: evidenceDir,
		broadcaster: broadcaster,
	}
}

// Close stops the background broadcaster.
func (s *Server) Close() {
	s.broadcaster.Stop()
}

// Handler exposes the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/detection/start", s.handleDetectionStart)
	mux.HandleFunc("/api/detection/stop", s.handleDetectionStop)
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/api/alerts/", s.handleAlertByID)
	mux.HandleFunc("/api/stats/system", s.handleSystemStats)
	mux.HandleFunc("/api/stats/alerts", s.handleAlertStats)
	mux.HandleFunc("/api/stats/detections", s.handleDetectionStats)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/config/camera", s.handleConfigCamera)
	mux.HandleFunc("/api/config/detection", s.handleConfigDetection)
	mux.HandleFunc("/api/config/perimeter", s.handleConfigPerimeter)
	mux.HandleFunc("/api/live/stream", s.handleLiveStream)
	mux.HandleFunc("/api/live/ws", s.handleLiveWS)
	mux.Handle("/detections/", http.StripPrefix("/detections/", http.FileServer(http.Dir(s.evidenceDir))))

	return corsMiddleware(mux)
}

// corsMiddleware allows any origin, matching the original API surface.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{
		"message": "Intrusion Detection System API",
		"version": apiVersion,
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":            "ok",
		"detection_running": s.svc.IsRunning(),
		"camera_connected":  s.svc.CameraConnected(),
	})
}

func (s *Server) handleDetectionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.svc.IsRunning() {
		writeJSON(w, map[string]any{"message": "detection already running"})
		return
	}
	if err := s.svc.Start(); err != nil {
		logger.Error(moduleName, "detection start failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"message": "detection started"})
}

func (s *Server) handleDetectionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.svc.IsRunning() {
		writeJSON(w, map[string]any{"message": "detection not running"})
		return
	}
	s.svc.Stop()
	writeJSON(w, map[string]any{"message": "detection stopped"})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := queryInt(r, "limit", 50)
		skip := queryInt(r, "skip", 0)
		records, err := s.alerts.List(limit, skip)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"alerts": records, "count": len(records)})
	case http.MethodDelete:
		if err := s.alerts.Clear(); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"message": "all alerts cleared"})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAlertByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/alerts/")
	if rest == "" || strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}

	if rest == "latest" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		latest, err := s.alerts.Latest()
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
			return
		}
		if latest == nil {
			writeJSONWithStatus(w, map[string]any{"error": "no alerts"}, http.StatusNotFound)
			return
		}
		writeJSON(w, latest)
		return
	}

	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.alerts.Delete(rest); err != nil {
		if errors.Is(err, alert.ErrNotFound) {
			writeJSONWithStatus(w, map[string]any{"error": "alert not found"}, http.StatusNotFound)
			return
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"message": fmt.Sprintf("alert %s deleted", rest)})
}

func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"running": s.svc.IsRunning(),
		"stats":   s.svc.LatestStats(),
	})
}

func (s *Server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.svc.AlertStatistics())
}

func (s *Server) handleDetectionStats(w http.ResponseWriter, r *http.Request) {
	detections := s.svc.LatestDetections()
	writeJSON(w, map[string]any{
		"detections": detections,
		"count":      len(detections),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.cfgm.Snapshot())
}

// Camera settings apply on the next detection start.
func (s *Server) handleConfigCamera(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var section config.CameraConfig
	if err := json.NewDecoder(r.Body).Decode(&section); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid camera config: " + err.Error()}, http.StatusBadRequest)
		return
	}
	if err := s.cfgm.UpdateCamera(section); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"message": "camera config updated, restart detection to apply",
		"camera":  s.cfgm.Snapshot().Camera,
	})
}

func (s *Server) handleConfigDetection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var section config.DetectionConfig
	if err := json.NewDecoder(r.Body).Decode(&section); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid detection config: " + err.Error()}, http.StatusBadRequest)
		return
	}
	if err := s.cfgm.UpdateDetection(section); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"message":   "detection config updated, restart detection to apply",
		"detection": s.cfgm.Snapshot().Detection,
	})
}

// The perimeter zone is the one hot-applied setting: the derived pixel
// polygon is unset on the running service and re-derived next tick.
func (s *Server) handleConfigPerimeter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		PerimeterZone   []config.NormPoint `json:"perimeter_zone"`
		EnablePerimeter bool               `json:"enable_perimeter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid perimeter config: " + err.Error()}, http.StatusBadRequest)
		return
	}
	if err := s.cfgm.UpdatePerimeter(body.PerimeterZone, body.EnablePerimeter); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	s.svc.SetPerimeter(body.PerimeterZone, body.EnablePerimeter)
	writeJSON(w, map[string]any{"message": "perimeter updated"})
}

func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamMJPEG(w, frameCh)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}

package webapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vigilcam/ids-server/internal/alert"
	"github.com/vigilcam/ids-server/internal/config"
	"github.com/vigilcam/ids-server/pkg/types"
)

type fakeService struct {
	mu         sync.Mutex
	running    bool
	connected  bool
	startErr   error
	frame      *types.Frame
	detections []types.Detection
	stats      types.Stats
	alertStats types.AlertStats
	lastZone   []config.NormPoint
	lastEnable bool
	zoneSet    bool
}

func (f *fakeService) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	f.connected = true
	return nil
}

func (f *fakeService) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.connected = false
}

func (f *fakeService) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeService) CameraConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeService) LatestFrame() *types.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame.Clone()
}

func (f *fakeService) LatestDetections() []types.Detection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Detection(nil), f.detections...)
}

func (f *fakeService) LatestStats() types.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeService) AlertStatistics() types.AlertStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alertStats
}

func (f *fakeService) SetPerimeter(zone []config.NormPoint, enable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zoneSet = true
	f.lastZone = append([]config.NormPoint(nil), zone...)
	f.lastEnable = enable
}

func testConfigManager(t *testing.T) *config.Manager {
	t.Helper()
	raw := `
camera:
  url: "http://camera.local/video"
model:
  endpoint: "http://inference.local"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	m, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return m
}

func testAlertLog(t *testing.T) *alert.Log {
	t.Helper()
	l, err := alert.NewLog(filepath.Join(t.TempDir(), "alerts.json"))
	if err != nil {
		t.Fatalf("create alert log: %v", err)
	}
	return l
}

func newTestServer(t *testing.T, svc *fakeService) (*httptest.Server, *alert.Log, *config.Manager) {
	t.Helper()
	cfgm := testConfigManager(t)
	log := testAlertLog(t)
	api := NewServer(svc, cfgm, log, t.TempDir())
	t.Cleanup(api.Close)
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)
	return ts, log, cfgm
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode response %q: %v", body, err)
	}
	return payload
}

func do(t *testing.T, method, url string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, raw
}

func TestIndexAndHealth(t *testing.T) {
	svc := &fakeService{running: true, connected: true}
	ts, _, _ := newTestServer(t, svc)

	resp, body := do(t, http.MethodGet, ts.URL+"/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index status %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if payload["message"] == "" || payload["version"] != apiVersion {
		t.Fatalf("unexpected banner: %v", payload)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}
	payload = decodeJSONMap(t, body)
	if payload["detection_running"] != true || payload["camera_connected"] != true {
		t.Fatalf("unexpected health payload: %v", payload)
	}
}

func TestDetectionStartStop(t *testing.T) {
	svc := &fakeService{}
	ts, _, _ := newTestServer(t, svc)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/detection/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", resp.StatusCode, body)
	}
	if !svc.IsRunning() {
		t.Fatalf("service should be running after start")
	}

	// Second start is an idempotent message.
	resp, body = do(t, http.MethodPost, ts.URL+"/api/detection/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second start status %d", resp.StatusCode)
	}
	if msg := decodeJSONMap(t, body)["message"]; msg != "detection already running" {
		t.Fatalf("unexpected message %q", msg)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/detection/stop", nil)
	if resp.StatusCode != http.StatusOK || svc.IsRunning() {
		t.Fatalf("stop failed: status %d, running %v", resp.StatusCode, svc.IsRunning())
	}

	resp, body = do(t, http.MethodPost, ts.URL+"/api/detection/stop", nil)
	if msg := decodeJSONMap(t, body)["message"]; msg != "detection not running" {
		t.Fatalf("unexpected message %q", msg)
	}

	// Method guard.
	resp, _ = do(t, http.MethodGet, ts.URL+"/api/detection/start", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET start, got %d", resp.StatusCode)
	}
}

func TestDetectionStartFailure(t *testing.T) {
	svc := &fakeService{startErr: fmt.Errorf("connect camera: no route")}
	ts, _, _ := newTestServer(t, svc)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/detection/start", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 on failed start, got %d", resp.StatusCode)
	}
	if msg := decodeJSONMap(t, body)["error"]; !strings.Contains(msg.(string), "no route") {
		t.Fatalf("expected error detail, got %v", msg)
	}
}

func seedAlerts(t *testing.T, log *alert.Log, n int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		err := log.Append(types.AlertRecord{
			ID:             fmt.Sprintf("alert-%d", i),
			Timestamp:      base.Add(time.Duration(i) * time.Minute).Format(types.AlertTimeFormat),
			IntrusionType:  types.IntrusionHuman,
			DetectionCount: 1,
		})
		if err != nil {
			t.Fatalf("seed alert: %v", err)
		}
	}
}

func TestAlertRoutes(t *testing.T) {
	svc := &fakeService{}
	ts, log, _ := newTestServer(t, svc)
	seedAlerts(t, log, 5)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/alerts?limit=2&skip=1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if payload["count"] != float64(2) {
		t.Fatalf("expected 2 alerts in page, got %v", payload["count"])
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/api/alerts/latest", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("latest status %d", resp.StatusCode)
	}
	if id := decodeJSONMap(t, body)["id"]; id != "alert-4" {
		t.Fatalf("expected alert-4 as latest, got %v", id)
	}

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/alerts/alert-2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/alerts/alert-2", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 deleting missing alert, got %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/alerts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status %d", resp.StatusCode)
	}
	resp, body = do(t, http.MethodGet, ts.URL+"/api/alerts", nil)
	if payload := decodeJSONMap(t, body); payload["count"] != float64(0) {
		t.Fatalf("expected empty log after clear, got %v", payload["count"])
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/alerts/latest", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 latest on empty log, got %d", resp.StatusCode)
	}
}

func TestStatsRoutes(t *testing.T) {
	svc := &fakeService{
		running: true,
		stats: types.Stats{
			FPS:              24,
			DetectionFPS:     12,
			DetectionCount:   3,
			InPerimeter:      2,
			OutsidePerimeter: 1,
		},
		detections: []types.Detection{
			{ClassName: "person", Confidence: 0.9, Box: [4]int{1, 2, 3, 4}, Center: [2]int{2, 3}},
		},
		alertStats: types.AlertStats{
			TotalAlerts:  4,
			AlertsByType: map[string]int{"human": 4},
			LastAlert:    "2026-03-01 12:00:00",
		},
	}
	ts, _, _ := newTestServer(t, svc)

	_, body := do(t, http.MethodGet, ts.URL+"/api/stats/system", nil)
	payload := decodeJSONMap(t, body)
	if payload["running"] != true {
		t.Fatalf("expected running=true, got %v", payload)
	}
	stats := payload["stats"].(map[string]any)
	if stats["detection_count"] != float64(3) || stats["in_perimeter"] != float64(2) {
		t.Fatalf("unexpected stats: %v", stats)
	}

	_, body = do(t, http.MethodGet, ts.URL+"/api/stats/alerts", nil)
	payload = decodeJSONMap(t, body)
	if payload["total_alerts"] != float64(4) {
		t.Fatalf("unexpected alert stats: %v", payload)
	}

	_, body = do(t, http.MethodGet, ts.URL+"/api/stats/detections", nil)
	payload = decodeJSONMap(t, body)
	if payload["count"] != float64(1) {
		t.Fatalf("unexpected detection stats: %v", payload)
	}
}

func TestConfigRoutes(t *testing.T) {
	svc := &fakeService{}
	ts, _, cfgm := newTestServer(t, svc)

	_, body := do(t, http.MethodGet, ts.URL+"/api/config", nil)
	payload := decodeJSONMap(t, body)
	if payload["camera"].(map[string]any)["url"] != "http://camera.local/video" {
		t.Fatalf("unexpected config payload: %v", payload)
	}

	update, _ := json.Marshal(config.CameraConfig{URL: "http://other.local/cam", Width: 640, Height: 480, FPS: 15})
	resp, _ := do(t, http.MethodPut, ts.URL+"/api/config/camera", update)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("camera update status %d", resp.StatusCode)
	}
	if got := cfgm.Snapshot().Camera.URL.String(); got != "http://other.local/cam" {
		t.Fatalf("camera update not persisted, got %q", got)
	}

	resp, _ = do(t, http.MethodPut, ts.URL+"/api/config/camera", []byte(`{"url": ""}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid camera config, got %d", resp.StatusCode)
	}
}

func TestPerimeterUpdateHotApplies(t *testing.T) {
	svc := &fakeService{running: true}
	ts, _, cfgm := newTestServer(t, svc)

	update := []byte(`{"perimeter_zone": [[0,0],[0.5,0],[0.5,1],[0,1]], "enable_perimeter": true}`)
	resp, body := do(t, http.MethodPut, ts.URL+"/api/config/perimeter", update)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("perimeter update status %d: %s", resp.StatusCode, body)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if !svc.zoneSet || !svc.lastEnable || len(svc.lastZone) != 4 {
		t.Fatalf("perimeter not hot-applied: set=%v enable=%v zone=%v", svc.zoneSet, svc.lastEnable, svc.lastZone)
	}
	if got := cfgm.Snapshot().Detection.PerimeterZone; len(got) != 4 || got[1] != (config.NormPoint{0.5, 0}) {
		t.Fatalf("perimeter not persisted: %v", got)
	}
}

func TestLiveWebSocketNotRunning(t *testing.T) {
	svc := &fakeService{}
	ts, _, _ := newTestServer(t, svc)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/live/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var payload map[string]any
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read websocket payload: %v", err)
	}
	if payload["status"] != "not_running" {
		t.Fatalf("expected not_running status, got %v", payload)
	}
}

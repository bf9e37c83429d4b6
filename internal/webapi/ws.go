package webapi

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vigilcam/ids-server/internal/logger"
)

const (
	wsFrameInterval = 100 * time.Millisecond
	wsWriteTimeout  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is open to any origin, same as the HTTP routes.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLiveWS pushes the live feed over a WebSocket: base64 JPEG frame
// plus stats and detections as JSON at roughly 10 frames per second.
func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug(moduleName, "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: the feed is one-way, but reads must be drained
	// to notice the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsFrameInterval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
		}

		payload := map[string]any{
			"timestamp": time.Now().Format(time.RFC3339),
		}
		if !s.svc.IsRunning() {
			payload["status"] = "not_running"
		} else {
			frame := s.svc.LatestFrame()
			if frame == nil || frame.Seq == lastSeq {
				continue
			}
			lastSeq = frame.Seq
			payload["status"] = "running"
			payload["frame"] = base64.StdEncoding.EncodeToString(frame.Data)
			payload["stats"] = s.svc.LatestStats()
			payload["detections"] = s.svc.LatestDetections()
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(payload); err != nil {
			logger.Debug(moduleName, "websocket client disconnected: %v", err)
			return
		}
	}
}

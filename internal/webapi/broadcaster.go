package webapi

import (
	"sync"
	"time"

	"github.com/vigilcam/ids-server/internal/logger"
)

// FrameBroadcaster fans the service's latest display frame out to the
// MJPEG clients. It polls the published snapshot at the stream rate and
// skips work entirely while no client is connected.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	svc     DetectionService
	period  time.Duration
	stop    chan struct{}
	stopped bool
	lastSeq uint64
}

// NewFrameBroadcaster creates a broadcaster polling at the given rate.
func NewFrameBroadcaster(svc DetectionService, period time.Duration) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
		svc:     svc,
		period:  period,
		stop:    make(chan struct{}),
	}
}

// Subscribe adds a client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	fb.clients[id] = ch

	logger.Debug(moduleName, "stream client #%d subscribed (total: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug(moduleName, "stream client #%d unsubscribed (remaining: %d)", id, len(fb.clients))
	}
}

// Start begins the polling loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	if !fb.stopped {
		close(fb.stop)
		fb.stopped = true
	}
	fb.mu.Unlock()
}

func (fb *FrameBroadcaster) run() {
	ticker := time.NewTicker(fb.period)
	defer ticker.Stop()

	for {
		select {
		case <-fb.stop:
			return
		case <-ticker.C:
		}

		fb.mu.Lock()
		clientCount := len(fb.clients)
		fb.mu.Unlock()
		if clientCount == 0 {
			continue
		}

		frame := fb.svc.LatestFrame()
		if frame == nil || frame.Seq == fb.lastSeq {
			continue
		}
		fb.lastSeq = frame.Seq
		fb.broadcast(frame.Data)
	}
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// Package camera supplies frames from HTTP camera streams, single-image
// snapshot endpoints, and local capture devices behind one pull-based
// interface.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/vigilcam/ids-server/internal/config"
	"github.com/vigilcam/ids-server/internal/logger"
	"github.com/vigilcam/ids-server/pkg/types"
)

const moduleName = "Camera"

// transport is one way of pulling encoded frames from a source. The
// variant is chosen once at connect time and fixed for the connection.
type transport interface {
	open(ctx context.Context) error
	next(ctx context.Context) ([]byte, error)
	close() error
}

// Camera manages the frame source for a configured camera address.
// It is intended for a single reader; calls are not safe for concurrent
// use from multiple goroutines.
type Camera struct {
	url    string
	width  int
	height int
	fps    int

	transport transport
	connected bool
	resW      int
	resH      int
	seq       uint64
}

// New builds an unconnected camera for the configured source.
func New(cfg config.CameraConfig) *Camera {
	return &Camera{
		url:    cfg.URL.String(),
		width:  cfg.Width,
		height: cfg.Height,
		fps:    cfg.FPS,
	}
}

// IsSnapshotURL reports whether the address names a single-image endpoint.
func IsSnapshotURL(url string) bool {
	return strings.Contains(url, "shot.jpg") || strings.Contains(url, "snapshot")
}

// deviceIndex interprets the address as a bare local device index.
func deviceIndex(url string) (int, bool) {
	n, err := strconv.Atoi(url)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Connect probes the configured address, picks a transport, and verifies
// that one frame can be retrieved. Stream sources that yield no frame
// fall back to snapshot fetching before Connect gives up.
func (c *Camera) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	t, w, h, err := c.selectTransport(ctx)
	if err != nil {
		return err
	}

	c.transport = t
	c.resW, c.resH = w, h
	c.connected = true
	logger.Info(moduleName, "connected to %s (%dx%d)", c.url, w, h)
	return nil
}

func (c *Camera) selectTransport(ctx context.Context) (transport, int, int, error) {
	if idx, ok := deviceIndex(c.url); ok {
		logger.Info(moduleName, "opening local device %d", idx)
		return probe(ctx, newDeviceStream(idx, c.width, c.height, c.fps))
	}

	if !strings.HasPrefix(c.url, "http") {
		return nil, 0, 0, fmt.Errorf("unsupported camera url %q", c.url)
	}

	if IsSnapshotURL(c.url) {
		logger.Info(moduleName, "using snapshot mode for %s", c.url)
		return probe(ctx, newSnapshotFetcher(c.url))
	}

	logger.Info(moduleName, "opening stream %s", c.url)
	t, w, h, err := probe(ctx, newMJPEGStream(c.url))
	if err == nil {
		return t, w, h, nil
	}

	logger.Warn(moduleName, "stream yielded no frame (%v), falling back to snapshot mode", err)
	return probe(ctx, newSnapshotFetcher(c.url))
}

// probe opens the transport and pulls one frame to verify the source is
// live, recording the decoded resolution. The probe frame is discarded.
func probe(ctx context.Context, t transport) (transport, int, int, error) {
	if err := t.open(ctx); err != nil {
		return nil, 0, 0, err
	}
	data, err := t.next(ctx)
	if err != nil {
		_ = t.close()
		return nil, 0, 0, fmt.Errorf("probe frame: %w", err)
	}
	imgCfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		_ = t.close()
		return nil, 0, 0, fmt.Errorf("decode probe frame: %w", err)
	}
	return t, imgCfg.Width, imgCfg.Height, nil
}

// Read pulls the next frame from the active transport. Errors are
// recoverable: the caller pauses briefly and retries on the next tick.
func (c *Camera) Read(ctx context.Context) (*types.Frame, error) {
	if !c.connected || c.transport == nil {
		return nil, fmt.Errorf("camera not connected")
	}

	data, err := c.transport.next(ctx)
	if err != nil {
		return nil, err
	}

	imgCfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	c.seq++
	return &types.Frame{
		Data:      data,
		Width:     imgCfg.Width,
		Height:    imgCfg.Height,
		Seq:       c.seq,
		Timestamp: time.Now(),
	}, nil
}

// Release closes the active transport. Safe to call when not connected.
func (c *Camera) Release() error {
	c.connected = false
	if c.transport == nil {
		return nil
	}
	err := c.transport.close()
	c.transport = nil
	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	logger.Info(moduleName, "released %s", c.url)
	return nil
}

// Resolution returns the source resolution observed at connect time, or
// zeros when not connected.
func (c *Camera) Resolution() (int, int) {
	if !c.connected {
		return 0, 0
	}
	return c.resW, c.resH
}

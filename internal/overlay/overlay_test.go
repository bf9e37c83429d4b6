package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/vigilcam/ids-server/internal/geometry"
	"github.com/vigilcam/ids-server/pkg/types"
)

func testFrame(t *testing.T, width, height int) *types.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return &types.Frame{Data: buf.Bytes(), Width: width, Height: height}
}

func TestRenderProducesDecodableJPEG(t *testing.T) {
	frame := testFrame(t, 320, 240)
	perim := geometry.FromNormalized([][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}, 320, 240)
	detections := []types.Detection{
		{ClassName: "person", Confidence: 0.91, Box: [4]int{40, 40, 120, 200}, Center: [2]int{80, 120}},
		{ClassName: "dog", Confidence: 0.77, Box: [4]int{150, 100, 260, 220}, Center: [2]int{205, 160}},
	}
	stats := types.Stats{FPS: 12.5, DetectionCount: 2, InPerimeter: 2}

	data, err := Render(frame, detections, perim, stats, Options{DrawBoxes: true, DrawConfidence: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode rendered frame: %v", err)
	}
	if cfg.Width != 320 || cfg.Height != 240 {
		t.Fatalf("rendered frame is %dx%d, want 320x240", cfg.Width, cfg.Height)
	}

	// The input frame must stay untouched.
	if !bytes.Equal(frame.Data, testFrame(t, 320, 240).Data) {
		t.Fatalf("render modified the source frame")
	}
}

func TestRenderWithoutPerimeterOrBoxes(t *testing.T) {
	frame := testFrame(t, 160, 120)
	data, err := Render(frame, nil, nil, types.Stats{FPS: 5}, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
		t.Fatalf("decode rendered frame: %v", err)
	}
}

func TestRenderRejectsGarbage(t *testing.T) {
	frame := &types.Frame{Data: []byte("not a jpeg"), Width: 10, Height: 10}
	if _, err := Render(frame, nil, nil, types.Stats{}, Options{}); err == nil {
		t.Fatalf("expected error for undecodable frame")
	}
}

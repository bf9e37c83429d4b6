package webapi

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/vigilcam/ids-server/internal/logger"
)

func blankJPEG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))

	// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	barWidth := 640 / len(colors)
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			barIndex := x / barWidth
			if barIndex >= len(colors) {
				barIndex = len(colors) - 1
			}
			img.Set(x, y, colors[barIndex])
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// streamMJPEG writes frames from the channel as a
// multipart/x-mixed-replace stream, sending a placeholder frame when no
// camera frame arrives for 5 seconds so the connection stays alive.
func streamMJPEG(w http.ResponseWriter, frameCh <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	blank, err := blankJPEG()
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	for {
		var jpegData []byte
		select {
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			jpegData = data
			if jpegData == nil {
				jpegData = blank
			}
		case <-time.After(5 * time.Second):
			jpegData = blank
		}

		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			logger.Debug(moduleName, "MJPEG client disconnected: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug(moduleName, "MJPEG client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug(moduleName, "MJPEG client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()
	}
}

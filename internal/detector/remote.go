package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/vigilcam/ids-server/internal/config"
	"github.com/vigilcam/ids-server/internal/logger"
	"github.com/vigilcam/ids-server/pkg/types"
)

const moduleName = "Detector"

const inferenceTimeout = 10 * time.Second

// Remote runs object detection by posting frames to an external YOLO
// inference server and filtering the scored boxes it returns.
type Remote struct {
	endpoint      string
	client        *http.Client
	confidence    float64
	iou           float64
	targets       map[string]struct{}
	minSize       float64
	inferenceSize int
}

// NewRemote builds a detector client from the model and detection
// configuration sections.
func NewRemote(model config.ModelConfig, det config.DetectionConfig) *Remote {
	targets := make(map[string]struct{}, len(det.TargetClasses))
	for _, c := range det.TargetClasses {
		targets[c] = struct{}{}
	}
	return &Remote{
		endpoint:      model.Endpoint,
		client:        &http.Client{Timeout: inferenceTimeout},
		confidence:    model.ConfidenceThreshold,
		iou:           model.IOUThreshold,
		targets:       targets,
		minSize:       det.MinDetectionSize,
		inferenceSize: det.InferenceSize,
	}
}

// wireDetection is the inference server's per-box response entry. Box
// coordinates arrive as floats in the posted image's pixel space.
type wireDetection struct {
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"bbox"`
}

// Healthcheck verifies the inference server is reachable and ready.
func (r *Remote) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference server unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Detect posts the frame to the inference server and returns detections
// that pass the confidence threshold, the class allow-list, and the
// minimum size filter. Coordinates are mapped back to the source frame.
func (r *Remote) Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	payload, sentW, sentH := frame.Data, frame.Width, frame.Height
	if r.inferenceSize > 0 && max(frame.Width, frame.Height) > r.inferenceSize {
		scaled, w, h, err := downscaleJPEG(frame.Data, r.inferenceSize)
		if err != nil {
			logger.Debug(moduleName, "downscale failed, sending full frame: %v", err)
		} else {
			payload, sentW, sentH = scaled, w, h
		}
	}

	wire, err := r.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	// Scale factors back to source frame coordinates.
	sx := float64(frame.Width) / float64(sentW)
	sy := float64(frame.Height) / float64(sentH)
	frameArea := float64(frame.Width * frame.Height)

	detections := make([]types.Detection, 0, len(wire))
	for _, w := range wire {
		if w.Confidence < r.confidence {
			continue
		}
		if _, ok := r.targets[w.ClassName]; !ok {
			continue
		}
		if len(w.Box) < 4 {
			continue
		}

		x1 := int(w.Box[0] * sx)
		y1 := int(w.Box[1] * sy)
		x2 := int(w.Box[2] * sx)
		y2 := int(w.Box[3] * sy)

		if r.minSize > 0 && frameArea > 0 {
			if float64((x2-x1)*(y2-y1))/frameArea < r.minSize {
				continue
			}
		}

		detections = append(detections, types.Detection{
			ClassName:  w.ClassName,
			Confidence: w.Confidence,
			Box:        [4]int{x1, y1, x2, y2},
			Center:     [2]int{(x1 + x2) / 2, (y1 + y2) / 2},
		})
	}
	return detections, nil
}

func (r *Remote) post(ctx context.Context, payload []byte) ([]wireDetection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("write frame payload: %w", err)
	}
	_ = writer.WriteField("min_confidence", strconv.FormatFloat(r.confidence, 'f', -1, 64))
	_ = writer.WriteField("iou_threshold", strconv.FormatFloat(r.iou, 'f', -1, 64))
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/detect", body)
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("inference failed with status %d", resp.StatusCode)
	}

	var result struct {
		Detections []wireDetection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	return result.Detections, nil
}

// downscaleJPEG shrinks the image so its longest side is maxDim pixels,
// preserving aspect ratio. Returns the re-encoded JPEG and its size.
func downscaleJPEG(data []byte, maxDim int) ([]byte, int, int, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode frame: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	scale := float64(maxDim) / float64(max(w, h))
	dstW := int(float64(w) * scale)
	dstH := int(float64(h) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode scaled frame: %w", err)
	}
	return buf.Bytes(), dstW, dstH, nil
}

package camera

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

// mjpegStream pulls frames from a multipart/x-mixed-replace HTTP stream,
// the format served by IP webcam apps. A dropped connection surfaces as
// a read error; the following read reopens the same stream.
type mjpegStream struct {
	url    string
	client *http.Client
	resp   *http.Response
	parts  *multipart.Reader
}

func newMJPEGStream(url string) *mjpegStream {
	// No client timeout: the response body is a long-lived stream.
	return &mjpegStream{url: url, client: &http.Client{}}
}

func (s *mjpegStream) open(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		_ = resp.Body.Close()
		return fmt.Errorf("not a multipart stream: %q", resp.Header.Get("Content-Type"))
	}

	s.resp = resp
	s.parts = multipart.NewReader(resp.Body, params["boundary"])
	return nil
}

func (s *mjpegStream) next(ctx context.Context) ([]byte, error) {
	if s.parts == nil {
		if err := s.open(ctx); err != nil {
			return nil, err
		}
	}

	part, err := s.parts.NextPart()
	if err != nil {
		s.drop()
		return nil, fmt.Errorf("stream interrupted: %w", err)
	}

	data, err := io.ReadAll(part)
	_ = part.Close()
	if err != nil {
		s.drop()
		return nil, fmt.Errorf("read stream part: %w", err)
	}
	return data, nil
}

func (s *mjpegStream) drop() {
	if s.resp != nil {
		_ = s.resp.Body.Close()
	}
	s.resp = nil
	s.parts = nil
}

func (s *mjpegStream) close() error {
	s.drop()
	return nil
}

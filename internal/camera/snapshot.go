package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	snapshotAttempts = 3
	snapshotBackoff  = 100 * time.Millisecond
	snapshotTimeout  = 5 * time.Second
)

// snapshotFetcher issues one HTTP GET per frame against a single-image
// endpoint, retrying with exponential backoff before reporting failure.
type snapshotFetcher struct {
	url    string
	client *http.Client
}

func newSnapshotFetcher(url string) *snapshotFetcher {
	return &snapshotFetcher{
		url:    url,
		client: &http.Client{Timeout: snapshotTimeout},
	}
}

func (s *snapshotFetcher) open(ctx context.Context) error { return nil }

func (s *snapshotFetcher) next(ctx context.Context) ([]byte, error) {
	var lastErr error
	backoff := snapshotBackoff

	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		data, err := s.fetch(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("snapshot failed after %d attempts: %w", snapshotAttempts, lastErr)
}

func (s *snapshotFetcher) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("snapshot returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	return data, nil
}

func (s *snapshotFetcher) close() error { return nil }

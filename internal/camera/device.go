package camera

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// Local devices are read by spawning ffmpeg against the v4l2 device and
// parsing the MJPEG image stream it writes to stdout.
var (
	jpegSOI = []byte{0xFF, 0xD8, 0xFF}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxPendingBytes bounds the reassembly buffer; past it the stream is
// resynced to the most recent start marker.
const maxPendingBytes = 8 << 20

type deviceStream struct {
	index  int
	width  int
	height int
	fps    int

	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  bytes.Buffer
	pending []byte
	chunk   []byte
}

func newDeviceStream(index, width, height, fps int) *deviceStream {
	return &deviceStream{
		index:  index,
		width:  width,
		height: height,
		fps:    fps,
		chunk:  make([]byte, 32*1024),
	}
}

func (s *deviceStream) open(ctx context.Context) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg binary not found: %w", err)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}
	if s.width > 0 && s.height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", s.width, s.height))
	}
	if s.fps > 0 {
		args = append(args, "-framerate", strconv.Itoa(s.fps))
	}
	args = append(args,
		"-i", fmt.Sprintf("/dev/video%d", s.index),
		"-c:v", "mjpeg",
		"-q:v", "4",
		"-f", "image2pipe",
		"-",
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stderr = &s.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.stdout = stdout
	return nil
}

func (s *deviceStream) next(ctx context.Context) ([]byte, error) {
	if s.stdout == nil {
		return nil, fmt.Errorf("device stream not open")
	}

	for {
		if frame := s.extractFrame(); frame != nil {
			return frame, nil
		}

		n, err := s.stdout.Read(s.chunk)
		if n > 0 {
			s.pending = append(s.pending, s.chunk[:n]...)
		}
		if err != nil {
			if msg := bytes.TrimSpace(s.stderr.Bytes()); len(msg) > 0 {
				return nil, fmt.Errorf("device stream: %w: %s", err, msg)
			}
			return nil, fmt.Errorf("device stream: %w", err)
		}

		if len(s.pending) > maxPendingBytes {
			if start := bytes.LastIndex(s.pending, jpegSOI); start > 0 {
				s.pending = s.pending[:copy(s.pending, s.pending[start:])]
			} else {
				s.pending = s.pending[:0]
			}
		}
	}
}

// extractFrame cuts one complete JPEG out of the pending buffer, or
// returns nil when no full frame has arrived yet.
func (s *deviceStream) extractFrame() []byte {
	start := bytes.Index(s.pending, jpegSOI)
	if start < 0 {
		// Keep the tail bytes in case a marker is split across reads.
		if len(s.pending) > len(jpegSOI) {
			keep := len(s.pending) - len(jpegSOI)
			s.pending = s.pending[:copy(s.pending, s.pending[keep:])]
		}
		return nil
	}
	if start > 0 {
		s.pending = s.pending[:copy(s.pending, s.pending[start:])]
	}

	end := bytes.Index(s.pending[len(jpegSOI):], jpegEOI)
	if end < 0 {
		return nil
	}

	frameLen := len(jpegSOI) + end + len(jpegEOI)
	frame := make([]byte, frameLen)
	copy(frame, s.pending[:frameLen])
	s.pending = s.pending[:copy(s.pending, s.pending[frameLen:])]
	return frame
}

func (s *deviceStream) close() error {
	if s.cmd == nil {
		return nil
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	// Wait reports the kill signal; nothing useful to surface.
	_ = s.cmd.Wait()
	s.cmd = nil
	s.stdout = nil
	s.pending = nil
	return nil
}

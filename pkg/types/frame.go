package types

import "time"

// Frame is a single captured camera image. Pixels are carried as encoded
// JPEG so the frame can flow to the detector, the live feeds, and the
// evidence store without recompression.
type Frame struct {
	Data      []byte    // JPEG bytes
	Width     int       // Frame width in pixels
	Height    int       // Frame height in pixels
	Seq       uint64    // Sequential frame number for this connection
	Timestamp time.Time // Frame capture timestamp
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	c := *f
	c.Data = data
	return &c
}

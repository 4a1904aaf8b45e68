package serial

import (
	"fmt"
	"io"
	"sync"
)

// Writer serializes outbound traffic to the device: short newline-terminated
// commands and paced playback payload chunks. Both share one mutex because
// the link is half-duplex from the host's perspective — a command must
// never be interleaved mid-chunk with playback bytes (SPEC_FULL.md §4.1,
// §5).
type Writer struct {
	mu  sync.Mutex
	dst io.Writer
}

// NewWriter constructs a Writer over dst.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{dst: dst}
}

// SendCommand writes one of the Cmd* newline-terminated strings.
func (w *Writer) SendCommand(cmd string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := io.WriteString(w.dst, cmd); err != nil {
		return fmt.Errorf("serial: send command %q: %w", cmd, err)
	}
	return nil
}

// WriteChunk writes one playback payload chunk, no larger than
// PlaybackChunkBytes. Callers are responsible for splitting a full
// synthesis chunk into PlaybackChunkBytes-sized pieces and pacing calls so
// the device's receive buffer is not overrun (SPEC_FULL.md §4.1, §4.5).
func (w *Writer) WriteChunk(payload []byte) error {
	if len(payload) > PlaybackChunkBytes {
		return fmt.Errorf("serial: chunk of %d bytes exceeds %d byte limit", len(payload), PlaybackChunkBytes)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.dst.Write(payload); err != nil {
		return fmt.Errorf("serial: write chunk: %w", err)
	}
	return nil
}

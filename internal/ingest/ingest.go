package ingest

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

// Ingest consumes inbound PCM payloads and maintains the RollingBuffer's
// monotonic sample index (SPEC_FULL.md §4.2).
type Ingest struct {
	buffer *RollingBuffer
	logger *slog.Logger
}

// New constructs an Ingest writing into buffer.
func New(buffer *RollingBuffer, logger *slog.Logger) *Ingest {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingest{buffer: buffer, logger: logger}
}

// Buffer returns the underlying RollingBuffer.
func (i *Ingest) Buffer() *RollingBuffer { return i.buffer }

// AcceptFrame appends one frame's PCM payload, advancing the buffer's
// highest index by payload_bytes/2. An odd payload byte count is a framing
// error per SPEC_FULL.md §4.2.
func (i *Ingest) AcceptFrame(payload []byte) (pressure bool, err error) {
	if len(payload)%2 != 0 {
		return false, fmt.Errorf("ingest: framing_error: odd payload length %d", len(payload))
	}

	samples := make([]int16, len(payload)/2)
	for idx := range samples {
		samples[idx] = int16(binary.LittleEndian.Uint16(payload[idx*2:]))
	}

	pressure = i.buffer.Append(samples)
	if pressure {
		i.logger.Warn("sustained buffer_pressure on frame ingest", "highest", i.buffer.Highest())
	}
	return pressure, nil
}

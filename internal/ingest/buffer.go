// Package ingest appends inbound PCM payloads into a bounded rolling
// buffer keyed by a monotonic absolute sample index.
package ingest

import (
	"fmt"
	"log/slog"
)

// RollingBuffer is a bounded FIFO of 16-bit mono PCM samples with absolute
// sample indices monotonic since session start (never wrapped).
//
// Single-writer (Ingest), single-reader-at-a-time (the Segmenter during its
// own classification pass, the controller during segment-slice freezing —
// these phases are mutually exclusive in the state machine, see
// SPEC_FULL.md §5 / §9).
type RollingBuffer struct {
	capacity int // samples

	samples []int16
	// base is the absolute sample index of samples[0].
	base int
	// highest is the absolute index one past the last sample appended.
	highest int

	// liveFloor is the lowest absolute index currently covered by an active
	// segment or the segmenter's look-back window; samples below it may be
	// evicted, samples at or above it must not be.
	liveFloor int

	logger *slog.Logger
}

// NewRollingBuffer constructs a buffer with the given sample capacity.
func NewRollingBuffer(capacity int, logger *slog.Logger) *RollingBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RollingBuffer{
		capacity: capacity,
		logger:   logger,
	}
}

// Highest returns the highest absolute sample index delivered so far.
func (b *RollingBuffer) Highest() int { return b.highest }

// Base returns the absolute sample index of the oldest retained sample.
func (b *RollingBuffer) Base() int { return b.base }

// SetLiveFloor records the lowest absolute index that must not be evicted,
// because it is covered by an active Segment or the Segmenter's look-back
// window (pre-roll). Passing the current Highest() releases all holds.
func (b *RollingBuffer) SetLiveFloor(index int) {
	b.liveFloor = index
}

// Append adds pcm samples (already decoded to int16) at the buffer's
// current highest index and evicts old samples that are no longer live.
// Returns true if eviction was constrained by liveFloor (buffer pressure).
func (b *RollingBuffer) Append(pcm []int16) (pressure bool) {
	b.samples = append(b.samples, pcm...)
	b.highest += len(pcm)

	overflow := len(b.samples) - b.capacity
	if overflow <= 0 {
		return false
	}

	evictable := b.liveFloor - b.base
	if evictable < 0 {
		evictable = 0
	}

	evict := overflow
	if evict > evictable {
		evict = evictable
		pressure = true
		if evict < overflow {
			b.logger.Warn("buffer_pressure",
				"capacity", b.capacity,
				"size", len(b.samples),
				"live_floor", b.liveFloor,
				"base", b.base,
			)
		}
	}

	if evict > 0 {
		b.samples = b.samples[evict:]
		b.base += evict
	}

	return pressure
}

// Window returns a copy of the samples in [start, end), or an error if the
// range is not (or no longer) fully resident in the buffer.
func (b *RollingBuffer) Window(start, end int) ([]int16, error) {
	if end <= start {
		return nil, fmt.Errorf("ingest: window end %d must exceed start %d", end, start)
	}
	if start < b.base {
		return nil, fmt.Errorf("ingest: window start %d precedes retained base %d", start, b.base)
	}
	if end > b.highest {
		return nil, fmt.Errorf("ingest: window end %d exceeds highest delivered index %d", end, b.highest)
	}

	lo := start - b.base
	hi := end - b.base
	out := make([]int16, hi-lo)
	copy(out, b.samples[lo:hi])
	return out, nil
}

// Len returns the number of samples currently resident.
func (b *RollingBuffer) Len() int { return len(b.samples) }

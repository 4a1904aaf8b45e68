package app

import (
	"log/slog"

	"github.com/joeyverbeke/gradi-mediation/internal/ingest"
	"github.com/joeyverbeke/gradi-mediation/internal/segment"
	"github.com/joeyverbeke/gradi-mediation/internal/serial"
	"github.com/joeyverbeke/gradi-mediation/internal/session"
)

// enqueuer is the subset of *session.Controller the reader bridge needs,
// narrowed so bridge_test.go can exercise it against a fake.
type enqueuer interface {
	Enqueue(session.Event)
}

// readerBridge adapts the serial reader's line/frame callbacks into
// controller events: every inbound frame is appended to the rolling
// buffer and fed to the segmenter, and every segment the segmenter
// completes is surfaced as a SegmentStart immediately followed by a
// SegmentEnd, since the segmenter itself exposes only completed,
// already-filtered segments (SPEC_FULL.md §4.2, §4.3).
type readerBridge struct {
	ingest    *ingest.Ingest
	segmenter *segment.Segmenter
	buffer    *ingest.RollingBuffer
	controller enqueuer
	logger    *slog.Logger
}

func newReaderBridge(ingestor *ingest.Ingest, segmenter *segment.Segmenter, buffer *ingest.RollingBuffer, controller enqueuer, logger *slog.Logger) *readerBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &readerBridge{ingest: ingestor, segmenter: segmenter, buffer: buffer, controller: controller, logger: logger}
}

func (b *readerBridge) onFrame(frame serial.AudioFrame) {
	if _, err := b.ingest.AcceptFrame(frame.PCM); err != nil {
		b.logger.Warn("dropping malformed audio frame", "error", err.Error())
		return
	}

	segments, err := b.segmenter.Feed(b.buffer.Highest())
	if err != nil {
		b.logger.Warn("segmenter feed failed", "error", err.Error())
		return
	}

	for _, seg := range segments {
		b.controller.Enqueue(session.Event{Kind: session.KindSegmentStart})
		b.controller.Enqueue(session.Event{Kind: session.KindSegmentEnd, Segment: seg})
	}
}

func (b *readerBridge) onLine(line string) {
	b.controller.Enqueue(session.Event{Kind: session.KindDeviceLine, Line: line})
	if line == serial.LinePlaybackDone {
		b.controller.Enqueue(session.Event{Kind: session.KindPlaybackAck})
	}
}

func (b *readerBridge) onFraming(reason string) {
	b.logger.Warn("serial framing resynchronized", "reason", reason)
}

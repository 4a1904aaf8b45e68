package session

import (
	"time"

	"github.com/joeyverbeke/gradi-mediation/internal/segment"
)

// Kind identifies an Event variant (SPEC_FULL.md §3 "Event").
type Kind string

const (
	KindFrameArrived   Kind = "frame_arrived"
	KindSegmentStart   Kind = "segment_start"
	KindSegmentEnd     Kind = "segment_end"
	KindStageCompleted Kind = "stage_completed"
	KindStageFailed    Kind = "stage_failed"
	KindPlaybackAck    Kind = "playback_ack"
	KindDeviceLine     Kind = "device_line"
	KindTimeout        Kind = "timeout"
	KindOperatorReset  Kind = "operator_reset"
	KindShutdown       Kind = "shutdown"

	// kindGuardElapsed is not part of the spec's Event catalogue, which
	// lists only externally-raised variants; it is the controller's own
	// internal guard-timer completion, armed and consumed entirely within
	// Cleanup/ErrorTimeout (SPEC_FULL.md §4.6).
	kindGuardElapsed Kind = "guard_elapsed"
)

// Stage names a pipeline stage or watchdog, used by StageCompleted,
// StageFailed and Timeout events.
type Stage string

const (
	StageCapture    Stage = "capture"
	StageRecognize  Stage = "recognize"
	StageRewrite    Stage = "rewrite"
	StageFirstChunk Stage = "first_chunk"
	StagePlayback   Stage = "playback"
)

// Event is a tagged record placed on the controller's single-consumer
// event queue (SPEC_FULL.md §3). Only the fields relevant to Kind are
// populated; the rest are zero.
type Event struct {
	Kind Kind
	At   time.Time

	Segment     segment.Segment
	Stage       Stage
	Text        string
	RawMetadata map[string]any
	FailureKind string // e.g. "recognizer_failed", "recognizer_timed_out"
	Line        string

	// wdToken ties a Timeout/guard-elapsed event to the watchdog generation
	// that armed it, so a watchdog that fires after its stage already
	// completed is silently ignored instead of aborting a later stage.
	wdToken int
}

package session

import "time"

// Outcome is a cycle's terminal classification (SPEC_FULL.md §3).
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeFailed    Outcome = "failed"
)

// Cycle records one full Idle-to-Idle traversal for telemetry and the
// transition log (SPEC_FULL.md §3).
type Cycle struct {
	ID                string
	StartedAt         time.Time
	Outcome           Outcome
	SegmentDurationS  float64
	TranscriptLen     int
	SynthesizedBytes  int64
	RecognizeLatency  time.Duration
	RewriteLatency    time.Duration
	SynthesizeLatency time.Duration
	PlaybackLatency   time.Duration
	FailureKind       string
}

// Package config resolves, parses, validates, and defaults the controller's
// runtime configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by the
// controller process.
type Config struct {
	Device        DeviceConfig
	VAD           VADConfig
	Watchdogs     WatchdogConfig
	Session       SessionConfig
	Log           LogConfig
	Telemetry     TelemetryConfig
	IPC           IPCConfig
	Collaborators CollaboratorsConfig
}

// DeviceConfig identifies the serial link to the microcontroller audio bridge.
type DeviceConfig struct {
	Path string
	Baud int
}

// VADConfig controls segmenter hysteresis and acceptance thresholds.
type VADConfig struct {
	Aggressiveness     int
	SubFrameMS         int
	StartTriggerFrames int
	StopTriggerFrames  int
	MinGapFrames       int
	PreRollMS          int
	PostRollMS         int
	MinSegmentDuration float64
	MinSegmentMeanAbs  float64
}

// WatchdogConfig controls per-stage deadlines and the post-playback guard
// delay, all in milliseconds in the on-disk JSONC representation.
type WatchdogConfig struct {
	CaptureMS    int
	RecognizeMS  int
	RewriteMS    int
	FirstChunkMS int
	PlaybackMS   int
	GuardDelayMS int
}

// Durations converts the millisecond fields to time.Duration, as consumed
// by session.Config.
func (w WatchdogConfig) Durations() (capture, recognize, rewrite, firstChunk, playback, guardDelay time.Duration) {
	return time.Duration(w.CaptureMS) * time.Millisecond,
		time.Duration(w.RecognizeMS) * time.Millisecond,
		time.Duration(w.RewriteMS) * time.Millisecond,
		time.Duration(w.FirstChunkMS) * time.Millisecond,
		time.Duration(w.PlaybackMS) * time.Millisecond,
		time.Duration(w.GuardDelayMS) * time.Millisecond
}

// SessionConfig controls session-level policy, including the two
// configuration choices spec.md leaves open (presence gating, transcript
// retention).
type SessionConfig struct {
	MaxCycles                 int
	SuppressCaptureWhenAbsent bool
	TranscriptRetentionDir    string
}

// LogConfig controls the console fan-out level and quieting.
type LogConfig struct {
	Level string
	Quiet bool
}

// TelemetryConfig controls optional tracing and metrics exporters.
type TelemetryConfig struct {
	OTLPEndpoint string
	MetricsAddr  string
}

// IPCConfig controls the single-instance control-socket location.
type IPCConfig struct {
	SocketPath string
}

// CollaboratorsConfig addresses the three external gRPC collaborators
// (SPEC_FULL.md §1 "treated as external collaborators, defined only by
// the interface the core consumes"). Each endpoint is optional; an empty
// endpoint means that stage cannot run and "run" fails fast at startup.
type CollaboratorsConfig struct {
	RecognizerAddr  string
	RewriterAddr    string
	SynthesizerAddr string
	DialTimeoutMS   int
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Device.Path) == "" {
		return nil, fmt.Errorf("device.path must not be empty")
	}
	if cfg.Device.Baud <= 0 {
		return nil, fmt.Errorf("device.baud must be > 0")
	}

	if cfg.VAD.Aggressiveness < 0 || cfg.VAD.Aggressiveness > 3 {
		return nil, fmt.Errorf("vad.aggressiveness must be between 0 and 3")
	}
	if cfg.VAD.SubFrameMS <= 0 {
		return nil, fmt.Errorf("vad.sub_frame_ms must be > 0")
	}
	if cfg.VAD.StartTriggerFrames <= 0 {
		return nil, fmt.Errorf("vad.start_trigger_frames must be > 0")
	}
	if cfg.VAD.StopTriggerFrames <= 0 {
		return nil, fmt.Errorf("vad.stop_trigger_frames must be > 0")
	}
	if cfg.VAD.MinGapFrames < 0 {
		return nil, fmt.Errorf("vad.min_gap_frames must be >= 0")
	}
	if cfg.VAD.PreRollMS < 0 {
		return nil, fmt.Errorf("vad.pre_roll_ms must be >= 0")
	}
	if cfg.VAD.PostRollMS < 0 {
		return nil, fmt.Errorf("vad.post_roll_ms must be >= 0")
	}
	if cfg.VAD.MinSegmentDuration < 0 {
		return nil, fmt.Errorf("vad.min_segment_duration must be >= 0")
	}
	if cfg.VAD.MinSegmentMeanAbs < 0 {
		return nil, fmt.Errorf("vad.min_segment_mean_abs must be >= 0")
	}

	if cfg.Watchdogs.CaptureMS <= 0 {
		return nil, fmt.Errorf("watchdogs.capture_ms must be > 0")
	}
	if cfg.Watchdogs.RecognizeMS <= 0 {
		return nil, fmt.Errorf("watchdogs.recognize_ms must be > 0")
	}
	if cfg.Watchdogs.RewriteMS <= 0 {
		return nil, fmt.Errorf("watchdogs.rewrite_ms must be > 0")
	}
	if cfg.Watchdogs.FirstChunkMS <= 0 {
		return nil, fmt.Errorf("watchdogs.first_chunk_ms must be > 0")
	}
	if cfg.Watchdogs.PlaybackMS <= 0 {
		return nil, fmt.Errorf("watchdogs.playback_ms must be > 0")
	}
	if cfg.Watchdogs.GuardDelayMS < 0 {
		return nil, fmt.Errorf("watchdogs.guard_delay_ms must be >= 0")
	}

	if cfg.Session.MaxCycles < 0 {
		return nil, fmt.Errorf("session.max_cycles must be >= 0 (0 = unlimited)")
	}

	level := strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if level == "" {
		return nil, fmt.Errorf("log.level must not be empty")
	}
	if !validLogLevels[level] {
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if cfg.Telemetry.MetricsAddr != "" && !strings.Contains(cfg.Telemetry.MetricsAddr, ":") {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("telemetry.metrics_addr %q has no port; binding may fail", cfg.Telemetry.MetricsAddr)})
	}

	if cfg.Collaborators.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("collaborators.dial_timeout_ms must be > 0")
	}
	collaboratorAddrs := []struct{ name, addr string }{
		{"recognizer_addr", cfg.Collaborators.RecognizerAddr},
		{"rewriter_addr", cfg.Collaborators.RewriterAddr},
		{"synthesizer_addr", cfg.Collaborators.SynthesizerAddr},
	}
	for _, c := range collaboratorAddrs {
		if c.addr == "" {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("collaborators.%s is empty; run will fail until it is configured", c.name)})
		}
	}

	return warnings, nil
}

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsDefaults(t *testing.T) {
	_, err := Validate(Default())
	require.NoError(t, err)
}

func TestValidateRejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty device path", mutate: func(c *Config) { c.Device.Path = "" }, wantErr: "device.path"},
		{name: "zero baud", mutate: func(c *Config) { c.Device.Baud = 0 }, wantErr: "device.baud"},
		{name: "out of range aggressiveness", mutate: func(c *Config) { c.VAD.Aggressiveness = 4 }, wantErr: "aggressiveness"},
		{name: "zero sub frame ms", mutate: func(c *Config) { c.VAD.SubFrameMS = 0 }, wantErr: "sub_frame_ms"},
		{name: "zero start trigger frames", mutate: func(c *Config) { c.VAD.StartTriggerFrames = 0 }, wantErr: "start_trigger_frames"},
		{name: "negative min gap frames", mutate: func(c *Config) { c.VAD.MinGapFrames = -1 }, wantErr: "min_gap_frames"},
		{name: "zero capture watchdog", mutate: func(c *Config) { c.Watchdogs.CaptureMS = 0 }, wantErr: "capture_ms"},
		{name: "negative guard delay", mutate: func(c *Config) { c.Watchdogs.GuardDelayMS = -1 }, wantErr: "guard_delay_ms"},
		{name: "negative max cycles", mutate: func(c *Config) { c.Session.MaxCycles = -1 }, wantErr: "max_cycles"},
		{name: "empty log level", mutate: func(c *Config) { c.Log.Level = "" }, wantErr: "log.level"},
		{name: "invalid log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantErr: "log.level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)

			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateWarnsOnPortlessMetricsAddr(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.MetricsAddr = "localhost"
	cfg.Collaborators.RecognizerAddr = "localhost:9000"
	cfg.Collaborators.RewriterAddr = "localhost:9001"
	cfg.Collaborators.SynthesizerAddr = "localhost:9002"

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "metrics_addr")
}

func TestValidateWarnsOnEmptyCollaboratorAddrs(t *testing.T) {
	warnings, err := Validate(Default())
	require.NoError(t, err)
	require.Len(t, warnings, 3)
	require.Contains(t, warnings[0].Message, "recognizer_addr")
	require.Contains(t, warnings[1].Message, "rewriter_addr")
	require.Contains(t, warnings[2].Message, "synthesizer_addr")
}

func TestValidateRejectsNonPositiveDialTimeout(t *testing.T) {
	cfg := Default()
	cfg.Collaborators.DialTimeoutMS = 0

	_, err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "dial_timeout_ms")
}

package config

// Default returns the canonical runtime configuration used when no file is
// present, mirroring the numeric defaults called out in spec.md §4.2-§4.5.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Path: "/dev/ttyACM0",
			Baud: 921600,
		},
		VAD: VADConfig{
			Aggressiveness:     2,
			SubFrameMS:         20,
			StartTriggerFrames: 3,
			StopTriggerFrames:  20,
			MinGapFrames:       3,
			PreRollMS:          200,
			PostRollMS:         200,
			MinSegmentDuration: 0.2,
			MinSegmentMeanAbs:  400,
		},
		Watchdogs: WatchdogConfig{
			CaptureMS:    30000,
			RecognizeMS:  15000,
			RewriteMS:    20000,
			FirstChunkMS: 5000,
			PlaybackMS:   20000,
			GuardDelayMS: 200,
		},
		Session: SessionConfig{
			MaxCycles:                 0,
			SuppressCaptureWhenAbsent: false,
			TranscriptRetentionDir:    "",
		},
		Log: LogConfig{
			Level: "info",
			Quiet: false,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "",
			MetricsAddr:  "",
		},
		IPC: IPCConfig{
			SocketPath: "",
		},
		Collaborators: CollaboratorsConfig{
			RecognizerAddr:  "",
			RewriterAddr:    "",
			SynthesizerAddr: "",
			DialTimeoutMS:   3000,
		},
	}
}

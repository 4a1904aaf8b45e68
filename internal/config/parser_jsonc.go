package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Device        *jsoncDevice        `json:"device"`
	VAD           *jsoncVAD           `json:"vad"`
	Watchdogs     *jsoncWatchdogs     `json:"watchdogs"`
	Session       *jsoncSession       `json:"session"`
	Log           *jsoncLog           `json:"log"`
	Telemetry     *jsoncTelemetry     `json:"telemetry"`
	IPC           *jsoncIPC           `json:"ipc"`
	Collaborators *jsoncCollaborators `json:"collaborators"`
}

type jsoncDevice struct {
	Path *string `json:"path"`
	Baud *int    `json:"baud"`
}

type jsoncVAD struct {
	Aggressiveness     *int     `json:"aggressiveness"`
	SubFrameMS         *int     `json:"sub_frame_ms"`
	StartTriggerFrames *int     `json:"start_trigger_frames"`
	StopTriggerFrames  *int     `json:"stop_trigger_frames"`
	MinGapFrames       *int     `json:"min_gap_frames"`
	PreRollMS          *int     `json:"pre_roll_ms"`
	PostRollMS         *int     `json:"post_roll_ms"`
	MinSegmentDuration *float64 `json:"min_segment_duration"`
	MinSegmentMeanAbs  *float64 `json:"min_segment_mean_abs"`
}

type jsoncWatchdogs struct {
	CaptureMS    *int `json:"capture_ms"`
	RecognizeMS  *int `json:"recognize_ms"`
	RewriteMS    *int `json:"rewrite_ms"`
	FirstChunkMS *int `json:"first_chunk_ms"`
	PlaybackMS   *int `json:"playback_ms"`
	GuardDelayMS *int `json:"guard_delay_ms"`
}

type jsoncSession struct {
	MaxCycles                 *int    `json:"max_cycles"`
	SuppressCaptureWhenAbsent *bool   `json:"suppress_capture_when_absent"`
	TranscriptRetentionDir    *string `json:"transcript_retention_dir"`
}

type jsoncLog struct {
	Level *string `json:"level"`
	Quiet *bool   `json:"quiet"`
}

type jsoncTelemetry struct {
	OTLPEndpoint *string `json:"otlp_endpoint"`
	MetricsAddr  *string `json:"metrics_addr"`
}

type jsoncIPC struct {
	SocketPath *string `json:"socket_path"`
}

type jsoncCollaborators struct {
	RecognizerAddr  *string `json:"recognizer_addr"`
	RewriterAddr    *string `json:"rewriter_addr"`
	SynthesizerAddr *string `json:"synthesizer_addr"`
	DialTimeoutMS   *int    `json:"dial_timeout_ms"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.Device != nil {
		if payload.Device.Path != nil {
			cfg.Device.Path = strings.TrimSpace(*payload.Device.Path)
		}
		if payload.Device.Baud != nil {
			cfg.Device.Baud = *payload.Device.Baud
		}
	}

	if payload.VAD != nil {
		v := payload.VAD
		if v.Aggressiveness != nil {
			cfg.VAD.Aggressiveness = *v.Aggressiveness
		}
		if v.SubFrameMS != nil {
			cfg.VAD.SubFrameMS = *v.SubFrameMS
		}
		if v.StartTriggerFrames != nil {
			cfg.VAD.StartTriggerFrames = *v.StartTriggerFrames
		}
		if v.StopTriggerFrames != nil {
			cfg.VAD.StopTriggerFrames = *v.StopTriggerFrames
		}
		if v.MinGapFrames != nil {
			cfg.VAD.MinGapFrames = *v.MinGapFrames
		}
		if v.PreRollMS != nil {
			cfg.VAD.PreRollMS = *v.PreRollMS
		}
		if v.PostRollMS != nil {
			cfg.VAD.PostRollMS = *v.PostRollMS
		}
		if v.MinSegmentDuration != nil {
			cfg.VAD.MinSegmentDuration = *v.MinSegmentDuration
		}
		if v.MinSegmentMeanAbs != nil {
			cfg.VAD.MinSegmentMeanAbs = *v.MinSegmentMeanAbs
		}
	}

	if payload.Watchdogs != nil {
		w := payload.Watchdogs
		if w.CaptureMS != nil {
			cfg.Watchdogs.CaptureMS = *w.CaptureMS
		}
		if w.RecognizeMS != nil {
			cfg.Watchdogs.RecognizeMS = *w.RecognizeMS
		}
		if w.RewriteMS != nil {
			cfg.Watchdogs.RewriteMS = *w.RewriteMS
		}
		if w.FirstChunkMS != nil {
			cfg.Watchdogs.FirstChunkMS = *w.FirstChunkMS
		}
		if w.PlaybackMS != nil {
			cfg.Watchdogs.PlaybackMS = *w.PlaybackMS
		}
		if w.GuardDelayMS != nil {
			cfg.Watchdogs.GuardDelayMS = *w.GuardDelayMS
		}
	}

	if payload.Session != nil {
		s := payload.Session
		if s.MaxCycles != nil {
			cfg.Session.MaxCycles = *s.MaxCycles
		}
		if s.SuppressCaptureWhenAbsent != nil {
			cfg.Session.SuppressCaptureWhenAbsent = *s.SuppressCaptureWhenAbsent
		}
		if s.TranscriptRetentionDir != nil {
			cfg.Session.TranscriptRetentionDir = strings.TrimSpace(*s.TranscriptRetentionDir)
		}
	}

	if payload.Log != nil {
		if payload.Log.Level != nil {
			cfg.Log.Level = strings.ToLower(strings.TrimSpace(*payload.Log.Level))
		}
		if payload.Log.Quiet != nil {
			cfg.Log.Quiet = *payload.Log.Quiet
		}
	}

	if payload.Telemetry != nil {
		if payload.Telemetry.OTLPEndpoint != nil {
			cfg.Telemetry.OTLPEndpoint = strings.TrimSpace(*payload.Telemetry.OTLPEndpoint)
		}
		if payload.Telemetry.MetricsAddr != nil {
			cfg.Telemetry.MetricsAddr = strings.TrimSpace(*payload.Telemetry.MetricsAddr)
		}
	}

	if payload.IPC != nil && payload.IPC.SocketPath != nil {
		cfg.IPC.SocketPath = strings.TrimSpace(*payload.IPC.SocketPath)
	}

	if payload.Collaborators != nil {
		c := payload.Collaborators
		if c.RecognizerAddr != nil {
			cfg.Collaborators.RecognizerAddr = strings.TrimSpace(*c.RecognizerAddr)
		}
		if c.RewriterAddr != nil {
			cfg.Collaborators.RewriterAddr = strings.TrimSpace(*c.RewriterAddr)
		}
		if c.SynthesizerAddr != nil {
			cfg.Collaborators.SynthesizerAddr = strings.TrimSpace(*c.SynthesizerAddr)
		}
		if c.DialTimeoutMS != nil {
			cfg.Collaborators.DialTimeoutMS = *c.DialTimeoutMS
		}
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

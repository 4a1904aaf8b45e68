// Package transitionlog persists one JSON line per session state
// transition (SPEC_FULL.md §6 "Persisted per-transition state"), in the
// same append-only file idiom as internal/logging.New.
package transitionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joeyverbeke/gradi-mediation/internal/fsm"
	"github.com/joeyverbeke/gradi-mediation/internal/ledger"
	"github.com/joeyverbeke/gradi-mediation/internal/session"
)

// record is the on-disk shape, exactly the fields spec.md §6 specifies:
// {ts, session, cycle, state, event, resources:{mic,spk}, latency_ms?, size?, error?}.
type record struct {
	Ts        time.Time      `json:"ts"`
	Session   string         `json:"session"`
	Cycle     string         `json:"cycle,omitempty"`
	State     fsm.State      `json:"state"`
	Event     fsm.Event      `json:"event"`
	Resources resourcesField `json:"resources"`
	LatencyMs *int64         `json:"latency_ms,omitempty"`
	Size      *int64         `json:"size,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type resourcesField struct {
	Mic ledger.State `json:"mic"`
	Spk ledger.State `json:"spk"`
}

// Writer appends one JSON object per Log call to an append-only file. It
// is safe for concurrent use, though the session controller only ever
// calls Log from its own event-loop goroutine.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

var _ session.TransitionLogger = (*Writer)(nil)

// Open creates (or appends to) the transition log file at path, creating
// parent directories as needed.
func Open(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("transitionlog: create dir for %q: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("transitionlog: open %q: %w", path, err)
	}

	return &Writer{f: f, enc: json.NewEncoder(f)}, nil
}

// Log writes one transition record as a JSON line.
func (w *Writer) Log(r session.TransitionRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := record{
		Ts:      r.At,
		Session: r.Session,
		Cycle:   r.Cycle,
		State:   r.State,
		Event:   r.Event,
		Resources: resourcesField{
			Mic: r.Mic,
			Spk: r.Spk,
		},
		LatencyMs: r.LatencyMs,
		Size:      r.Size,
		Error:     r.Error,
	}

	_ = w.enc.Encode(rec)
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// ResolvePath generalizes internal/logging's resolveLogPath from a fixed
// filename to one transition log file per session identifier, under the
// same XDG state directory.
func ResolvePath(sessionID string) (string, error) {
	name := strings.TrimSpace(sessionID)
	if name == "" {
		name = "session"
	}
	filename := fmt.Sprintf("%s.transitions.jsonl", name)

	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "gradi-mediation", filename), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("transitionlog: resolve state dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "gradi-mediation", filename), nil
}

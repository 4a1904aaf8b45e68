package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeyverbeke/gradi-mediation/internal/fsm"
	"github.com/joeyverbeke/gradi-mediation/internal/pipeline"
	"github.com/joeyverbeke/gradi-mediation/internal/segment"
	"github.com/joeyverbeke/gradi-mediation/internal/serial"
)

func fixedWindow(pcm []int16) segment.WindowFunc {
	return func(start, end int) ([]int16, error) {
		if start < 0 || end > len(pcm) || start > end {
			return nil, errors.New("window: out of range")
		}
		return pcm[start:end], nil
	}
}

type fakeLogger struct {
	mu      sync.Mutex
	records []TransitionRecord
}

func (f *fakeLogger) Log(r TransitionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
}

type stubRecognizer struct {
	text string
	err  error
	wait time.Duration
}

func (s stubRecognizer) Recognize(ctx context.Context, pcm []byte, sampleRate int) (string, map[string]any, error) {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
	return s.text, nil, s.err
}

type stubRewriter struct {
	text string
	err  error
}

func (s stubRewriter) Rewrite(ctx context.Context, text string) (string, map[string]any, error) {
	return s.text, nil, s.err
}

type stubStream struct {
	chunks []pipeline.Chunk
	idx    int
}

func (s *stubStream) Next(ctx context.Context) (pipeline.Chunk, bool, error) {
	if s.idx >= len(s.chunks) {
		return pipeline.Chunk{}, false, nil
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, true, nil
}

func (s *stubStream) Close() error { return nil }

type stubSynthesizer struct {
	chunks []pipeline.Chunk
	err    error
}

func (s stubSynthesizer) Synthesize(ctx context.Context, text string) (pipeline.SynthesisStream, error) {
	if s.err != nil {
		return nil, s.err
	}
	cp := make([]pipeline.Chunk, len(s.chunks))
	copy(cp, s.chunks)
	return &stubStream{chunks: cp}, nil
}

func sampleChunk(n int) pipeline.Chunk {
	return pipeline.Chunk{PCM: make([]byte, n), SampleRate: 16000, Bits: 16, Channels: 1, ReceivedAt: time.Now()}
}

// nopConn is an in-process io.ReadWriteCloser that discards every write, so
// the real *serial.Writer behind the test controller succeeds on
// SendCommand/WriteChunk; outbound traffic is not recorded.
type nopConn struct{}

func (nopConn) Read(p []byte) (int, error)  { select {} }
func (nopConn) Write(p []byte) (int, error) { return len(p), nil }
func (nopConn) Close() error                { return nil }

func newTestController(t *testing.T, rec pipeline.Recognizer, rew pipeline.Rewriter, syn pipeline.Synthesizer, pcm []int16) (*Controller, *fakeLogger) {
	t.Helper()
	w := serial.NewWriter(nopConn{})
	fl := &fakeLogger{}
	cfg := DefaultConfig()
	cfg.SessionID = "test"
	cfg.RecognizeWatchdog = 200 * time.Millisecond
	cfg.RewriteWatchdog = 200 * time.Millisecond
	cfg.FirstChunkWatchdog = 200 * time.Millisecond
	cfg.PlaybackWatchdog = 200 * time.Millisecond
	cfg.GuardDelay = 10 * time.Millisecond
	cfg.CaptureWatchdog = 500 * time.Millisecond

	ctrl := New(cfg, w, fixedWindow(pcm), rec, rew, syn, fl, nil)
	return ctrl, fl
}

// TestHappyPathCompletesOneCycle exercises scenario 1 of the end-to-end
// table: segment -> recognize -> rewrite -> synthesize -> playback ->
// cleanup -> idle, with both resources released at the end.
func TestHappyPathCompletesOneCycle(t *testing.T) {
	pcm := make([]int16, 16000)
	rec := stubRecognizer{text: "hello there"}
	rew := stubRewriter{text: "Hello there."}
	syn := stubSynthesizer{chunks: []pipeline.Chunk{sampleChunk(320), sampleChunk(320)}}

	ctrl, fl := newTestController(t, rec, rew, syn, pcm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.Enqueue(Event{Kind: KindSegmentStart})
	ctrl.Enqueue(Event{Kind: KindSegmentEnd, Segment: segment.Segment{Start: 0, End: 16000}})

	deadline := time.After(2 * time.Second)
	for ctrl.State() != fsm.StatePlayingBack {
		select {
		case <-deadline:
			t.Fatalf("playback did not start, state=%s", ctrl.State())
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}
	// The device's PLAYBACK_DONE line, as the reader bridge enqueues it.
	ctrl.Enqueue(Event{Kind: KindPlaybackAck})

	for {
		select {
		case <-deadline:
			t.Fatalf("cycle did not complete, state=%s", ctrl.State())
		default:
		}
		if ctrl.State() == fsm.StateIdle && ctrl.cycleCount == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if ctrl.ledger.Mic() != "available" {
		t.Errorf("mic not released: %s", ctrl.ledger.Mic())
	}
	if ctrl.ledger.Spk() != "available" {
		t.Errorf("spk not released: %s", ctrl.ledger.Spk())
	}
	if len(fl.records) == 0 {
		t.Error("expected transition records to be logged")
	}
	fl.mu.Lock()
	for _, r := range fl.records {
		if r.State == fsm.StateErrorTimeout {
			t.Errorf("happy path passed through error_timeout: %+v", r)
		}
	}
	fl.mu.Unlock()
}

// TestSubThresholdSegmentReturnsToIdleWithoutCallingCollaborators covers
// scenario 2: a segment shorter than MinSegmentDuration is rejected before
// any collaborator is invoked, and mic is released immediately.
func TestSubThresholdSegmentReturnsToIdleWithoutCallingCollaborators(t *testing.T) {
	called := false
	rec := pipeline.RecognizeFunc(func(ctx context.Context, pcm []byte, sampleRate int) (string, map[string]any, error) {
		called = true
		return "unexpected", nil, nil
	})
	pcm := make([]int16, 1600)
	ctrl, _ := newTestController(t, rec, stubRewriter{}, stubSynthesizer{}, pcm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.Enqueue(Event{Kind: KindSegmentStart})
	// 0.05s segment, below the 0.2s default minimum.
	ctrl.Enqueue(Event{Kind: KindSegmentEnd, Segment: segment.Segment{Start: 0, End: 800}})

	deadline := time.After(1 * time.Second)
	for ctrl.State() != fsm.StateIdle {
		select {
		case <-deadline:
			t.Fatalf("did not return to idle, state=%s", ctrl.State())
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}

	if called {
		t.Error("recognizer must not be called for a rejected segment")
	}
	if ctrl.ledger.Mic() != "available" {
		t.Errorf("mic not released after rejection: %s", ctrl.ledger.Mic())
	}
}

// TestRecognizerTimeoutEntersErrorTimeoutAndRecovers covers scenario 3: a
// hung recognizer trips the watchdog, the controller enters ErrorTimeout,
// issues the best-effort PAUSE/END/RESUME sequence, and returns to Idle.
func TestRecognizerTimeoutEntersErrorTimeoutAndRecovers(t *testing.T) {
	rec := stubRecognizer{wait: 10 * time.Second} // never returns within the watchdog
	pcm := make([]int16, 16000)
	ctrl, _ := newTestController(t, rec, stubRewriter{}, stubSynthesizer{}, pcm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.Enqueue(Event{Kind: KindSegmentStart})
	ctrl.Enqueue(Event{Kind: KindSegmentEnd, Segment: segment.Segment{Start: 0, End: 16000}})

	deadline := time.After(2 * time.Second)
	var sawErrorTimeout bool
	for {
		select {
		case <-deadline:
			t.Fatalf("did not recover to idle, state=%s", ctrl.State())
		default:
		}
		if ctrl.State() == fsm.StateErrorTimeout {
			sawErrorTimeout = true
		}
		if ctrl.State() == fsm.StateIdle && ctrl.cycleCount == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !sawErrorTimeout {
		t.Error("expected controller to pass through ErrorTimeout")
	}
	if ctrl.ledger.Mic() != "available" || ctrl.ledger.Spk() != "available" {
		t.Error("resources not released after error recovery")
	}
}

// TestEmptyRewriteRetriesOnceThenFallsBackToOriginalText covers scenario 4.
func TestEmptyRewriteRetriesOnceThenFallsBackToOriginalText(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	rew := pipeline.RewriteFunc(func(ctx context.Context, text string) (string, map[string]any, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return "", nil, nil
	})
	pcm := make([]int16, 16000)
	rec := stubRecognizer{text: "some words"}
	syn := stubSynthesizer{chunks: []pipeline.Chunk{sampleChunk(160)}}
	ctrl, _ := newTestController(t, rec, rew, syn, pcm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.Enqueue(Event{Kind: KindSegmentStart})
	ctrl.Enqueue(Event{Kind: KindSegmentEnd, Segment: segment.Segment{Start: 0, End: 16000}})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("cycle did not complete, state=%s", ctrl.State())
		default:
		}
		if ctrl.State() == fsm.StateIdle && ctrl.cycleCount == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 2 {
		t.Errorf("expected exactly one retry (2 attempts), got %d", got)
	}
}

// TestMissingPlaybackAckEntersErrorTimeout covers scenario 5: the device
// never sends its completion line, so the playback watchdog fires.
func TestMissingPlaybackAckEntersErrorTimeout(t *testing.T) {
	pcm := make([]int16, 16000)
	rec := stubRecognizer{text: "hi"}
	rew := stubRewriter{text: "Hi."}
	syn := stubSynthesizer{chunks: []pipeline.Chunk{sampleChunk(160)}}
	ctrl, _ := newTestController(t, rec, rew, syn, pcm)
	ctrl.cfg.PlaybackWatchdog = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.Enqueue(Event{Kind: KindSegmentStart})
	ctrl.Enqueue(Event{Kind: KindSegmentEnd, Segment: segment.Segment{Start: 0, End: 16000}})
	// No PlaybackAck is ever enqueued.

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("did not recover to idle, state=%s", ctrl.State())
		default:
		}
		if ctrl.State() == fsm.StateIdle && ctrl.cycleCount == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestStaleWatchdogIsIgnoredAfterStageCompletes is the P6 regression: a
// Timeout event tagged with an old wdToken must not abort a stage that has
// already moved on.
func TestStaleWatchdogIsIgnoredAfterStageCompletes(t *testing.T) {
	pcm := make([]int16, 16000)
	ctrl, _ := newTestController(t, stubRecognizer{text: "x"}, stubRewriter{text: "x"}, stubSynthesizer{chunks: []pipeline.Chunk{sampleChunk(16)}}, pcm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.Enqueue(Event{Kind: KindSegmentStart})
	ctrl.Enqueue(Event{Kind: KindSegmentEnd, Segment: segment.Segment{Start: 0, End: 16000}})

	time.Sleep(20 * time.Millisecond)
	// Inject a stale capture-stage timeout with token 0 (already superseded).
	ctrl.Enqueue(Event{Kind: KindTimeout, Stage: StageCapture, wdToken: 0})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("cycle stalled, state=%s", ctrl.State())
		default:
		}
		if ctrl.State() == fsm.StateIdle && ctrl.cycleCount == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestSecondSegmentStartIsIgnoredWhileCycleActive covers P2: cycles are
// strictly serialized, so a SegmentStart that arrives while not Idle is a
// no-op rather than interrupting the in-flight cycle.
func TestSecondSegmentStartIsIgnoredWhileCycleActive(t *testing.T) {
	pcm := make([]int16, 32000)
	ctrl, _ := newTestController(t, stubRecognizer{wait: 300 * time.Millisecond, text: "ok"}, stubRewriter{text: "ok"}, stubSynthesizer{chunks: []pipeline.Chunk{sampleChunk(16)}}, pcm)
	ctrl.cfg.RecognizeWatchdog = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.Enqueue(Event{Kind: KindSegmentStart})
	ctrl.Enqueue(Event{Kind: KindSegmentEnd, Segment: segment.Segment{Start: 0, End: 16000}})
	time.Sleep(20 * time.Millisecond)
	if ctrl.State() != fsm.StateRecognizing {
		t.Fatalf("expected Recognizing, got %s", ctrl.State())
	}

	// A second SegmentStart while busy must be ignored (Idle-only guard).
	ctrl.Enqueue(Event{Kind: KindSegmentStart})
	time.Sleep(20 * time.Millisecond)
	if ctrl.State() != fsm.StateRecognizing {
		t.Fatalf("second SegmentStart disrupted the active cycle: now %s", ctrl.State())
	}
}

// TestOperatorResetAbortsActiveCycleAndReturnsToIdle covers the IPC
// "reset" command: fired mid-cycle it must cancel the outstanding stage,
// release both ledger resources, and settle back in Idle once the guard
// delay elapses.
func TestOperatorResetAbortsActiveCycleAndReturnsToIdle(t *testing.T) {
	pcm := make([]int16, 32000)
	ctrl, fl := newTestController(t, stubRecognizer{wait: time.Second, text: "ok"}, stubRewriter{text: "ok"}, stubSynthesizer{chunks: []pipeline.Chunk{sampleChunk(16)}}, pcm)
	ctrl.cfg.RecognizeWatchdog = 2 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.Enqueue(Event{Kind: KindSegmentStart})
	ctrl.Enqueue(Event{Kind: KindSegmentEnd, Segment: segment.Segment{Start: 0, End: 16000}})

	deadline := time.After(time.Second)
	for ctrl.State() != fsm.StateRecognizing {
		select {
		case <-deadline:
			t.Fatalf("never entered Recognizing, state=%s", ctrl.State())
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctrl.Enqueue(Event{Kind: KindOperatorReset})

	deadline = time.After(time.Second)
	for ctrl.State() != fsm.StateIdle {
		select {
		case <-deadline:
			t.Fatalf("operator reset did not return to idle, state=%s", ctrl.State())
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}

	if ctrl.ledger.Mic() != "available" {
		t.Errorf("mic not released after operator reset: %s", ctrl.ledger.Mic())
	}
	if ctrl.ledger.Spk() != "available" {
		t.Errorf("spk not released after operator reset: %s", ctrl.ledger.Spk())
	}
	if len(fl.records) == 0 {
		t.Error("expected transition records to be logged for the reset path")
	}
}

// TestOperatorResetWhileIdleIsANoOp covers the other branch: resetting an
// already-idle controller must not synthesize a spurious ErrorTimeout cycle.
func TestOperatorResetWhileIdleIsANoOp(t *testing.T) {
	pcm := make([]int16, 16000)
	ctrl, fl := newTestController(t, stubRecognizer{text: "ok"}, stubRewriter{text: "ok"}, stubSynthesizer{chunks: []pipeline.Chunk{sampleChunk(16)}}, pcm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	ctrl.Enqueue(Event{Kind: KindOperatorReset})
	time.Sleep(20 * time.Millisecond)

	if ctrl.State() != fsm.StateIdle {
		t.Fatalf("expected idle to remain idle, got %s", ctrl.State())
	}
	if len(fl.records) != 0 {
		t.Errorf("expected no transition records for a no-op reset, got %d", len(fl.records))
	}
}

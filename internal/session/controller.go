// Package session implements the authoritative session state machine and
// device I/O multiplexer: the resource-ownership ledger, the
// single-consumer event queue, cross-stage watchdogs, cancellation, and
// the cycle counter (SPEC_FULL.md §4.6, §5).
package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joeyverbeke/gradi-mediation/internal/fsm"
	"github.com/joeyverbeke/gradi-mediation/internal/ledger"
	"github.com/joeyverbeke/gradi-mediation/internal/pipeline"
	"github.com/joeyverbeke/gradi-mediation/internal/playback"
	"github.com/joeyverbeke/gradi-mediation/internal/segment"
	"github.com/joeyverbeke/gradi-mediation/internal/serial"
)

// TransitionLogger persists one record per state transition
// (SPEC_FULL.md §6). Defined here, at the consumer, so the concrete
// transitionlog writer has no dependency on session.
type TransitionLogger interface {
	Log(record TransitionRecord)
}

// TransitionRecord is one line of the persisted per-session transition log.
type TransitionRecord struct {
	At        time.Time
	Session   string
	Cycle     string
	State     fsm.State
	Event     fsm.Event
	Mic       ledger.State
	Spk       ledger.State
	LatencyMs *int64
	Size      *int64
	Error     string
}

// Config bundles everything Controller needs beyond its collaborators
// (SPEC_FULL.md §6: "a configuration record containing... the VAD
// parameters, the per-stage watchdogs, the playback guard delay, the
// maximum cycle count, and the log sink").
type Config struct {
	SessionID string
	MaxCycles int // 0 = unlimited

	CaptureWatchdog    time.Duration
	RecognizeWatchdog  time.Duration
	RewriteWatchdog    time.Duration
	FirstChunkWatchdog time.Duration
	PlaybackWatchdog   time.Duration
	GuardDelay         time.Duration

	MinSegmentDuration float64
	MinSegmentMeanAbs  float64

	// SuppressCaptureWhenAbsent resolves the presence-sensor open question
	// (SPEC_FULL.md §9): when true, SegmentStart is rejected while the
	// device's most recent presence line was PRESENCE OFF.
	SuppressCaptureWhenAbsent bool

	// TranscriptRetentionDir resolves the second open question (SPEC_FULL.md
	// §9): when non-empty, each cycle's recognized and rewritten text is
	// written to "<cycle-id>.txt" under this directory. Empty disables
	// retention entirely.
	TranscriptRetentionDir string
}

// DefaultConfig returns the documented defaults (SPEC_FULL.md §4.3, §4.4,
// §4.5). CaptureWatchdog has no numeric default in the spec text; 30s is
// a generous ceiling chosen so a stuck segmenter is still caught well
// before an operator would notice anything beyond a dropped utterance.
func DefaultConfig() Config {
	return Config{
		CaptureWatchdog:    30 * time.Second,
		RecognizeWatchdog:  15 * time.Second,
		RewriteWatchdog:    20 * time.Second,
		FirstChunkWatchdog: 5 * time.Second,
		PlaybackWatchdog:   20 * time.Second,
		GuardDelay:         200 * time.Millisecond,
		MinSegmentDuration: 0.2,
	}
}

// Controller owns the fsm state, the resource ledger, the event queue and
// the collaborators it dispatches to. It is not safe for concurrent use
// beyond Enqueue; all state mutation happens on the Run goroutine
// (SPEC_FULL.md §4.6 "Event queue").
type Controller struct {
	cfg    Config
	logger *slog.Logger
	txlog  TransitionLogger

	writer     *serial.Writer
	window     segment.WindowFunc
	recognizer pipeline.Recognizer
	rewriter   pipeline.Rewriter
	synth      pipeline.Synthesizer

	events chan Event

	state      fsm.State
	ledger     *ledger.Ledger
	cycleCount int
	cycle      *Cycle

	// Per-cycle working state.
	activeSegment  segment.Segment
	transcript     string
	rewritten      string
	rewriteRetried bool
	synthStream    pipeline.SynthesisStream
	firstChunk     pipeline.Chunk
	ackSink        chan struct{}

	presenceOn bool

	wdToken  int
	wdCancel context.CancelFunc
}

// New constructs a Controller. writer is the sole owner of outbound serial
// traffic; window resolves absolute sample ranges still resident in the
// rolling buffer.
func New(cfg Config, writer *serial.Writer, window segment.WindowFunc, recognizer pipeline.Recognizer, rewriter pipeline.Rewriter, synth pipeline.Synthesizer, txlog TransitionLogger, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:        cfg,
		logger:     logger,
		txlog:      txlog,
		writer:     writer,
		window:     window,
		recognizer: recognizer,
		rewriter:   rewriter,
		synth:      synth,
		events:     make(chan Event, 64),
		state:      fsm.StateIdle,
		ledger:     ledger.New(),
		presenceOn: true,
	}
}

// Enqueue places an event on the controller's single-consumer queue. Safe
// to call from any goroutine (serial reader, playback ack watcher,
// operator IPC).
func (c *Controller) Enqueue(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	c.events <- ev
}

// State reports the controller's current fsm state.
func (c *Controller) State() fsm.State { return c.state }

// Run drains the event queue until ctx is cancelled, a Shutdown event is
// processed, the controller is back in Idle after its Config.MaxCycles-th
// cycle (when MaxCycles is non-zero), or a resource_invariant_violated
// error surfaces — the latter
// is non-recoverable and must propagate to the caller, which aborts the
// process after flushing logs (SPEC_FULL.md §7).
func (c *Controller) Run(ctx context.Context) error {
	_ = c.writer.SendCommand(serial.CmdResume)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			if ev.Kind == KindShutdown {
				return nil
			}
			if err := c.handle(ctx, ev); err != nil {
				return err
			}
			if c.cfg.MaxCycles > 0 && c.cycleCount >= c.cfg.MaxCycles && c.state == fsm.StateIdle {
				return nil
			}
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev Event) error {
	if ev.Kind == KindDeviceLine {
		c.trackPresence(ev.Line)
	}

	if ev.Kind == KindOperatorReset && c.state != fsm.StateIdle {
		c.failCycle("operator_reset")
		return c.enterErrorTimeout(ctx)
	}

	switch c.state {
	case fsm.StateIdle:
		return c.handleIdle(ctx, ev)
	case fsm.StateCapturing:
		return c.handleCapturing(ctx, ev)
	case fsm.StateRecognizing:
		return c.handleRecognizing(ctx, ev)
	case fsm.StateRewriting:
		return c.handleRewriting(ctx, ev)
	case fsm.StateSynthesizing:
		return c.handleSynthesizing(ctx, ev)
	case fsm.StatePlayingBack:
		return c.handlePlayingBack(ctx, ev)
	case fsm.StateCleanup:
		return c.handleCleanup(ctx, ev)
	case fsm.StateErrorTimeout:
		return c.handleErrorTimeoutWait(ctx, ev)
	default:
		return fmt.Errorf("session: unknown state %q", c.state)
	}
}

func (c *Controller) trackPresence(line string) {
	switch line {
	case serial.LinePresenceOn:
		c.presenceOn = true
	case serial.LinePresenceOff:
		c.presenceOn = false
	}
}

// --- Idle ---

func (c *Controller) handleIdle(ctx context.Context, ev Event) error {
	if ev.Kind != KindSegmentStart {
		return nil
	}

	if c.cfg.SuppressCaptureWhenAbsent && !c.presenceOn {
		return nil
	}
	if c.ledger.Mic() != ledger.Available {
		return nil
	}

	c.ledger.Set(ledger.Mic, ledger.OwnedByController)
	c.cycle = &Cycle{ID: fmt.Sprintf("%s-%d", c.cfg.SessionID, c.cycleCount+1), StartedAt: time.Now()}
	c.rewriteRetried = false

	return c.transition(fsm.EventSegmentStart, func() error {
		if err := c.ledger.CheckEnterCapturing(); err != nil {
			return err
		}
		c.armWatchdog(ctx, StageCapture, c.cfg.CaptureWatchdog)
		return nil
	})
}

// --- Capturing ---

func (c *Controller) handleCapturing(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindSegmentEnd:
		return c.handleSegmentEnd(ctx, ev)
	case KindTimeout:
		if !c.watchdogCurrent(ev) || ev.Stage != StageCapture {
			return nil
		}
		c.failCycle("capture_timed_out")
		return c.enterErrorTimeout(ctx)
	default:
		return nil
	}
}

func (c *Controller) handleSegmentEnd(ctx context.Context, ev Event) error {
	seg := ev.Segment
	accepted := seg.End > seg.Start && seg.Duration() >= c.cfg.MinSegmentDuration
	if accepted && c.cfg.MinSegmentMeanAbs > 0 {
		samples, err := c.window(seg.Start, seg.End)
		if err != nil || meanAbs(samples) < c.cfg.MinSegmentMeanAbs {
			accepted = false
		}
	}

	if !accepted {
		c.disarmWatchdog()
		c.ledger.Set(ledger.Mic, ledger.Available)
		c.logger.Info("segment_rejected", "start", seg.Start, "end", seg.End)
		c.cycle = nil
		return c.transition(fsm.EventSegmentRejected, nil)
	}

	c.activeSegment = seg
	c.cycle.SegmentDurationS = seg.Duration()

	return c.transition(fsm.EventSegmentAccepted, func() error {
		c.disarmWatchdog()
		c.armWatchdog(ctx, StageRecognize, c.cfg.RecognizeWatchdog)
		go c.runRecognize(ctx)
		return nil
	})
}

func (c *Controller) runRecognize(ctx context.Context) {
	samples, err := c.window(c.activeSegment.Start, c.activeSegment.End)
	if err != nil {
		c.Enqueue(Event{Kind: KindStageFailed, Stage: StageRecognize, FailureKind: "recognizer_failed"})
		return
	}
	pcm := int16ToLEBytes(samples)

	started := time.Now()
	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		text string
		meta map[string]any
	}
	r, err := pipeline.RunStage(ctx, c.cfg.RecognizeWatchdog, func() (result, error) {
		text, meta, err := c.recognizer.Recognize(stageCtx, pcm, 16000)
		return result{text: text, meta: meta}, err
	})

	if err != nil {
		kind := "recognizer_failed"
		if isTimeout(err) {
			kind = "recognizer_timed_out"
		}
		c.Enqueue(Event{Kind: KindStageFailed, Stage: StageRecognize, FailureKind: kind})
		return
	}

	c.cycle.RecognizeLatency = time.Since(started)
	c.Enqueue(Event{Kind: KindStageCompleted, Stage: StageRecognize, Text: r.text, RawMetadata: r.meta})
}

// --- Recognizing ---

func (c *Controller) handleRecognizing(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindStageCompleted:
		if ev.Stage != StageRecognize {
			return nil
		}
		c.disarmWatchdog()
		c.cycle.TranscriptLen = len(ev.Text)

		if ev.Text == "" {
			c.ledger.Set(ledger.Mic, ledger.Available)
			c.logger.Info("empty transcript, short-circuiting to cleanup")
			return c.transition(fsm.EventRecognizeEmpty, func() error {
				c.armWatchdog(ctx, "", c.cfg.GuardDelay)
				return nil
			})
		}

		c.transcript = ev.Text
		return c.transition(fsm.EventRecognizeText, func() error {
			c.armWatchdog(ctx, StageRewrite, c.cfg.RewriteWatchdog)
			go c.runRewrite(ctx, c.transcript)
			return nil
		})

	case KindStageFailed:
		if ev.Stage != StageRecognize {
			return nil
		}
		c.failCycle(ev.FailureKind)
		return c.enterErrorTimeout(ctx)

	case KindTimeout:
		if !c.watchdogCurrent(ev) || ev.Stage != StageRecognize {
			return nil
		}
		c.failCycle("recognizer_timed_out")
		return c.enterErrorTimeout(ctx)

	default:
		return nil
	}
}

func (c *Controller) runRewrite(ctx context.Context, text string) {
	if text == "" {
		c.Enqueue(Event{Kind: KindStageCompleted, Stage: StageRewrite, Text: ""})
		return
	}

	started := time.Now()
	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		text string
		meta map[string]any
	}
	r, err := pipeline.RunStage(ctx, c.cfg.RewriteWatchdog, func() (result, error) {
		rewritten, meta, err := c.rewriter.Rewrite(stageCtx, text)
		return result{text: rewritten, meta: meta}, err
	})

	if err != nil {
		kind := "rewriter_failed"
		if isTimeout(err) {
			kind = "rewriter_timed_out"
		}
		c.Enqueue(Event{Kind: KindStageFailed, Stage: StageRewrite, FailureKind: kind})
		return
	}

	c.cycle.RewriteLatency += time.Since(started)
	c.Enqueue(Event{Kind: KindStageCompleted, Stage: StageRewrite, Text: r.text, RawMetadata: r.meta})
}

// --- Rewriting ---

func (c *Controller) handleRewriting(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindStageCompleted:
		if ev.Stage != StageRewrite {
			return nil
		}

		if ev.Text == "" {
			if !c.rewriteRetried {
				c.rewriteRetried = true
				return c.transition(fsm.EventRewriteRetry, func() error {
					go c.runRewrite(ctx, c.transcript)
					return nil
				})
			}
			c.rewritten = c.transcript
			c.retainTranscript()
			return c.transition(fsm.EventRewriteFallback, func() error {
				c.disarmWatchdog()
				c.armWatchdog(ctx, StageFirstChunk, c.cfg.FirstChunkWatchdog)
				go c.runSynthesize(ctx, c.rewritten)
				return nil
			})
		}

		c.rewritten = ev.Text
		c.retainTranscript()
		return c.transition(fsm.EventRewriteText, func() error {
			c.disarmWatchdog()
			c.armWatchdog(ctx, StageFirstChunk, c.cfg.FirstChunkWatchdog)
			go c.runSynthesize(ctx, c.rewritten)
			return nil
		})

	case KindStageFailed:
		if ev.Stage != StageRewrite {
			return nil
		}
		c.failCycle(ev.FailureKind)
		return c.enterErrorTimeout(ctx)

	case KindTimeout:
		if !c.watchdogCurrent(ev) || ev.Stage != StageRewrite {
			return nil
		}
		c.failCycle("rewriter_timed_out")
		return c.enterErrorTimeout(ctx)

	default:
		return nil
	}
}

func (c *Controller) runSynthesize(ctx context.Context, text string) {
	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := pipeline.RunStage(ctx, c.cfg.FirstChunkWatchdog, func() (pipeline.SynthesisStream, error) {
		return c.synth.Synthesize(stageCtx, text)
	})
	if err != nil {
		c.Enqueue(Event{Kind: KindStageFailed, Stage: StageFirstChunk, FailureKind: "synthesis_first_chunk_timed_out"})
		return
	}

	chunk, err := playback.PullFirstChunk(ctx, c.cfg.FirstChunkWatchdog, stream)
	if err != nil {
		_ = stream.Close()
		c.Enqueue(Event{Kind: KindStageFailed, Stage: StageFirstChunk, FailureKind: "synthesis_first_chunk_timed_out"})
		return
	}

	c.synthStream = stream
	c.firstChunk = chunk
	c.Enqueue(Event{Kind: KindStageCompleted, Stage: StageFirstChunk})
}

// --- Synthesizing ---

func (c *Controller) handleSynthesizing(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindStageCompleted:
		if ev.Stage != StageFirstChunk {
			return nil
		}
		c.disarmWatchdog()

		return c.transition(fsm.EventFirstChunk, func() error {
			if err := c.ledger.CheckEnterPlayingBack(); err != nil {
				return err
			}
			c.ledger.Set(ledger.Spk, ledger.OwnedByDevice)
			go c.runPlayback(ctx)
			return nil
		})

	case KindStageFailed:
		if ev.Stage != StageFirstChunk {
			return nil
		}
		c.failCycle(ev.FailureKind)
		return c.enterErrorTimeout(ctx)

	case KindTimeout:
		if !c.watchdogCurrent(ev) || ev.Stage != StageFirstChunk {
			return nil
		}
		c.failCycle("synthesis_first_chunk_timed_out")
		return c.enterErrorTimeout(ctx)

	default:
		return nil
	}
}

func (c *Controller) runPlayback(ctx context.Context) {
	params := playback.Params{
		FirstChunkTimeout: c.cfg.FirstChunkWatchdog,
		PlaybackTimeout:   c.cfg.PlaybackWatchdog,
		GuardDelay:        c.cfg.GuardDelay,
	}

	ackCh := make(chan struct{}, 1)
	waitAck := func(ctx context.Context) error {
		select {
		case <-ackCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.ackSink = ackCh

	pump := playback.New(c.writer, c.logger)
	started := time.Now()
	out := pump.Run(ctx, params, c.firstChunk, c.synthStream, waitAck)
	c.cycle.SynthesizeLatency = out.FirstChunkAt.Sub(started)
	c.cycle.SynthesizedBytes = out.BytesWritten
	c.cycle.PlaybackLatency = time.Since(out.FirstChunkAt)
	_ = c.synthStream.Close()

	if out.SynthesisErr != nil {
		c.Enqueue(Event{Kind: KindStageFailed, Stage: StagePlayback, FailureKind: "synthesis_interrupted"})
		return
	}
	if out.WatchdogFired {
		c.Enqueue(Event{Kind: KindTimeout, Stage: StagePlayback})
		return
	}
	c.Enqueue(Event{Kind: KindPlaybackAck})
}

// --- PlayingBack ---

func (c *Controller) handlePlayingBack(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindPlaybackAck:
		select {
		case c.ackSink <- struct{}{}:
		default:
		}
		c.ledger.Set(ledger.Spk, ledger.Available)
		return c.transition(fsm.EventPlaybackAck, func() error {
			c.armWatchdog(ctx, "", c.cfg.GuardDelay)
			return nil
		})

	case KindTimeout:
		if ev.Stage != StagePlayback {
			return nil
		}
		_ = c.writer.SendCommand(serial.CmdEnd)
		c.ledger.Set(ledger.Spk, ledger.Available)
		c.failCycle("playback_timed_out")
		return c.enterErrorTimeout(ctx)

	case KindStageFailed:
		if ev.Stage != StagePlayback {
			return nil
		}
		c.ledger.Set(ledger.Spk, ledger.Available)
		c.failCycle(ev.FailureKind)
		return c.enterErrorTimeout(ctx)

	default:
		return nil
	}
}

// --- Cleanup ---

func (c *Controller) handleCleanup(ctx context.Context, ev Event) error {
	if ev.Kind != kindGuardElapsed || !c.watchdogCurrent(ev) {
		return nil
	}

	return c.transition(fsm.EventGuardElapsed, func() error {
		c.ledger.Set(ledger.Mic, ledger.Available)
		if err := c.ledger.CheckEnterIdle(); err != nil {
			return err
		}
		_ = c.writer.SendCommand(serial.CmdResume)
		c.cycleCount++
		if c.cycle.Outcome == "" {
			c.cycle.Outcome = OutcomeCompleted
		}
		c.resetCycleState()
		return nil
	})
}

// --- ErrorTimeout ---

// enterErrorTimeout performs the ErrorTimeout entry action (cancel
// outstanding work, best-effort PAUSE/END/RESUME, release both
// resources) before transitioning the fsm (SPEC_FULL.md §4.6 "ErrorTimeout
// | entry").
func (c *Controller) enterErrorTimeout(ctx context.Context) error {
	c.disarmWatchdog()

	_ = c.writer.SendCommand(serial.CmdPause)
	_ = c.writer.SendCommand(serial.CmdEnd)
	_ = c.writer.SendCommand(serial.CmdResume)

	c.ledger.Set(ledger.Mic, ledger.Available)
	c.ledger.Set(ledger.Spk, ledger.Available)

	c.logger.Error("error_timeout", "cause", c.cycle.FailureKind)

	return c.transition(fsm.EventFail, func() error {
		c.armWatchdog(ctx, "", c.cfg.GuardDelay)
		return nil
	})
}

func (c *Controller) handleErrorTimeoutWait(ctx context.Context, ev Event) error {
	if ev.Kind != kindGuardElapsed || !c.watchdogCurrent(ev) {
		return nil
	}

	return c.transition(fsm.EventGuardElapsed, func() error {
		if err := c.ledger.CheckEnterIdle(); err != nil {
			return err
		}
		c.cycleCount++
		c.resetCycleState()
		return nil
	})
}

func (c *Controller) failCycle(kind string) {
	if c.cycle != nil {
		c.cycle.Outcome = OutcomeFailed
		c.cycle.FailureKind = kind
	}
}

func (c *Controller) resetCycleState() {
	c.activeSegment = segment.Segment{}
	c.transcript = ""
	c.rewritten = ""
	c.rewriteRetried = false
	c.synthStream = nil
	c.firstChunk = pipeline.Chunk{}
	c.cycle = nil
	c.ackSink = nil
}

// --- Watchdogs ---

// armWatchdog starts a timer that enqueues a Timeout (or, for the empty
// stage name, a guard-elapsed) event after d, tagged with the current
// watchdog generation so a stale firing after the stage already completed
// is ignored (SPEC_FULL.md §8 P6).
func (c *Controller) armWatchdog(ctx context.Context, stage Stage, d time.Duration) {
	c.disarmWatchdog()

	c.wdToken++
	token := c.wdToken
	wdCtx, cancel := context.WithCancel(ctx)
	c.wdCancel = cancel

	kind := KindTimeout
	if stage == "" {
		kind = kindGuardElapsed
	}

	if d <= 0 {
		if kind == kindGuardElapsed {
			go c.Enqueue(Event{Kind: kind, wdToken: token})
		}
		return
	}

	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-wdCtx.Done():
			return
		case <-timer.C:
			c.Enqueue(Event{Kind: kind, Stage: stage, wdToken: token})
		}
	}()
}

func (c *Controller) disarmWatchdog() {
	if c.wdCancel != nil {
		c.wdCancel()
		c.wdCancel = nil
	}
}

func (c *Controller) watchdogCurrent(ev Event) bool {
	return ev.wdToken == c.wdToken
}

// --- fsm glue ---

// transition invokes action (if non-nil) then applies the fsm transition,
// logging the result. Invariant violations returned by action are
// programming errors and propagate unchanged (SPEC_FULL.md §7).
func (c *Controller) transition(event fsm.Event, action func() error) error {
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.logger.Warn("rejected transition", "state", c.state, "event", event, "error", err)
		return nil
	}

	if action != nil {
		if err := action(); err != nil {
			if _, ok := err.(*ledger.ErrInvariantViolated); ok {
				return err
			}
			c.logger.Error("transition action failed", "state", c.state, "event", event, "error", err)
		}
	}

	c.state = next
	c.logTransition(event)
	return nil
}

func (c *Controller) logTransition(event fsm.Event) {
	if c.txlog == nil {
		return
	}
	cycleID := ""
	if c.cycle != nil {
		cycleID = c.cycle.ID
	}
	c.txlog.Log(TransitionRecord{
		At:      time.Now(),
		Session: c.cfg.SessionID,
		Cycle:   cycleID,
		State:   c.state,
		Event:   event,
		Mic:     c.ledger.Mic(),
		Spk:     c.ledger.Spk(),
	})
}

// retainTranscript writes the current cycle's recognized and rewritten
// text to TranscriptRetentionDir, resolving the second open question
// (SPEC_FULL.md §9). A no-op when retention is disabled or no cycle is
// active; failures are logged and otherwise ignored since retention is a
// best-effort diagnostic aid, never load-bearing for the state machine.
func (c *Controller) retainTranscript() {
	if c.cfg.TranscriptRetentionDir == "" || c.cycle == nil {
		return
	}

	if err := os.MkdirAll(c.cfg.TranscriptRetentionDir, 0o700); err != nil {
		c.logger.Warn("retain transcript: create dir", "error", err.Error())
		return
	}

	path := filepath.Join(c.cfg.TranscriptRetentionDir, c.cycle.ID+".txt")
	contents := fmt.Sprintf("recognized:\n%s\n\nrewritten:\n%s\n", c.transcript, c.rewritten)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		c.logger.Warn("retain transcript: write file", "path", path, "error", err.Error())
	}
}

func meanAbs(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		if s < 0 {
			sum += float64(-s)
		} else {
			sum += float64(s)
		}
	}
	return sum / float64(len(samples))
}

func int16ToLEBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func isTimeout(err error) bool {
	return errors.Is(err, pipeline.ErrStageTimeout) || errors.Is(err, context.DeadlineExceeded)
}

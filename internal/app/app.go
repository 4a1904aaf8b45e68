// Package app wires the CLI commands to the rest of the module: config
// loading, logging, the serial transport, the ingest/segment pipeline, the
// external collaborator adapters, the session controller, transition
// logging, telemetry, and the single-instance IPC control socket.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/joeyverbeke/gradi-mediation/internal/cli"
	"github.com/joeyverbeke/gradi-mediation/internal/collab"
	"github.com/joeyverbeke/gradi-mediation/internal/config"
	"github.com/joeyverbeke/gradi-mediation/internal/doctor"
	"github.com/joeyverbeke/gradi-mediation/internal/ingest"
	"github.com/joeyverbeke/gradi-mediation/internal/ipc"
	"github.com/joeyverbeke/gradi-mediation/internal/logging"
	"github.com/joeyverbeke/gradi-mediation/internal/segment"
	"github.com/joeyverbeke/gradi-mediation/internal/serial"
	"github.com/joeyverbeke/gradi-mediation/internal/session"
	"github.com/joeyverbeke/gradi-mediation/internal/telemetry"
	"github.com/joeyverbeke/gradi-mediation/internal/transitionlog"
	"github.com/joeyverbeke/gradi-mediation/internal/version"

	"github.com/prometheus/client_golang/prometheus"
)

// bufferCapacitySeconds bounds the rolling buffer's retained history: long
// enough to cover pre-roll plus the longest plausible segment, short
// enough that a stalled pipeline cannot grow memory unbounded.
const bufferCapacitySeconds = 30
const sampleRate = 16000

// Runner holds process-level dependencies used by command handlers.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Execute is the package entrypoint used by cmd/gradi-mediation/main.go.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

// Execute parses CLI arguments, loads config/logging, and dispatches a command.
func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("gradi-mediation"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("gradi-mediation"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	quiet := parsed.Command == cli.CommandStatus || parsed.Command == cli.CommandReset || parsed.Command == cli.CommandShutdown
	level, _ := logLevel(cfgLoaded.Config.Log.Level)
	logRuntime, err := logging.New(logging.Options{Level: level, Quiet: quiet || cfgLoaded.Config.Log.Quiet})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		if !quiet {
			fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		}
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandStatus:
		return r.commandStatus(ctx, cfgLoaded.Config)
	case cli.CommandReset:
		return r.forwardOrFail(ctx, cfgLoaded.Config, "reset")
	case cli.CommandShutdown:
		return r.forwardOrFail(ctx, cfgLoaded.Config, "shutdown")
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func logLevel(name string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(name))
	if err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// commandStatus queries the active owner (if any) and prints session state.
func (r Runner) commandStatus(ctx context.Context, cfg config.Config) int {
	socketPath, err := ipc.RuntimeSocketPath(cfg.IPC.SocketPath)
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, "status")
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

// forwardOrFail forwards a command to the active owner and fails when no owner exists.
func (r Runner) forwardOrFail(ctx context.Context, cfg config.Config, command string) int {
	socketPath, err := ipc.RuntimeSocketPath(cfg.IPC.SocketPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active session\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandRun acquires the single-instance control socket, dials the three
// external collaborators, wires the serial transport through the ingest
// and segment stages into the session controller, and blocks until
// shutdown or ctx cancellation (SPEC_FULL.md §5).
func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath(cfg.IPC.SocketPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	recognizerConn, rewriterConn, synthConn, err := dialCollaborators(ctx, cfg.Collaborators, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer recognizerConn.Close()
	defer rewriterConn.Close()
	defer synthConn.Close()

	devConn, err := serial.Open(cfg.Device.Path, cfg.Device.Baud)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer devConn.Close()

	writer := serial.NewWriter(devConn)
	buffer := ingest.NewRollingBuffer(bufferCapacitySeconds*sampleRate, logger)
	ingestor := ingest.New(buffer, logger)

	segParams := segment.Params{
		SubFrameDurationMs: cfg.VAD.SubFrameMS,
		StartTriggerFrames: cfg.VAD.StartTriggerFrames,
		StopTriggerFrames:  cfg.VAD.StopTriggerFrames,
		MinGapFrames:       cfg.VAD.MinGapFrames,
		PreRollMs:          cfg.VAD.PreRollMS,
		PostRollMs:         cfg.VAD.PostRollMS,
		MinSegmentDuration: cfg.VAD.MinSegmentDuration,
		MinSegmentMeanAbs:  cfg.VAD.MinSegmentMeanAbs,
	}
	classifier := segment.EnergyClassifier{Threshold: aggressivenessThreshold(cfg.VAD.Aggressiveness)}
	segmenter := segment.New(segParams, classifier, buffer.Window, logger)

	sessionID := fmt.Sprintf("session-%d", os.Getpid())

	txlogPath, err := transitionlog.ResolvePath(sessionID)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	txlog, err := transitionlog.Open(txlogPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer txlog.Close()

	capture, recognize, rewrite, firstChunk, playback, guardDelay := cfg.Watchdogs.Durations()
	sessionCfg := session.Config{
		SessionID:                 sessionID,
		MaxCycles:                 cfg.Session.MaxCycles,
		CaptureWatchdog:           capture,
		RecognizeWatchdog:         recognize,
		RewriteWatchdog:           rewrite,
		FirstChunkWatchdog:        firstChunk,
		PlaybackWatchdog:          playback,
		GuardDelay:                guardDelay,
		MinSegmentDuration:        cfg.VAD.MinSegmentDuration,
		MinSegmentMeanAbs:         cfg.VAD.MinSegmentMeanAbs,
		SuppressCaptureWhenAbsent: cfg.Session.SuppressCaptureWhenAbsent,
		TranscriptRetentionDir:    cfg.Session.TranscriptRetentionDir,
	}

	recognizer := collab.NewRecognizer(recognizerConn, "")
	rewriter := collab.NewRewriter(rewriterConn, "")
	synth := collab.NewSynthesizer(synthConn, "")

	controller := session.New(sessionCfg, writer, buffer.Window, recognizer, rewriter, synth, txlog, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge := newReaderBridge(ingestor, segmenter, buffer, controller, logger)
	reader := serial.NewReader(devConn, bridge.onLine, bridge.onFrame, bridge.onFraming, logger)

	readerErrCh := make(chan error, 1)
	go func() { readerErrCh <- reader.Run() }()

	ipcErrCh := make(chan error, 1)
	go func() { ipcErrCh <- ipc.Serve(runCtx, listener, newIPCHandler(controller)) }()

	tracer, err := telemetry.NewTracer(ctx, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Warn("telemetry tracer disabled", "error", err.Error())
		tracer = telemetry.NoopTracer()
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	metricsErrCh := make(chan error, 1)
	if cfg.Telemetry.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		telemetry.NewMetrics(reg)
		go func() { metricsErrCh <- telemetry.Serve(runCtx, cfg.Telemetry.MetricsAddr, reg) }()
	}

	controllerErr := controller.Run(runCtx)
	cancel()
	_ = devConn.Close()

	if err := <-ipcErrCh; err != nil {
		logger.Error("ipc server failed", "error", err.Error())
	}
	if err := <-readerErrCh; err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("serial reader exited", "error", err.Error())
	}
	select {
	case err := <-metricsErrCh:
		if err != nil {
			logger.Error("metrics server failed", "error", err.Error())
		}
	default:
	}

	if controllerErr != nil && !errors.Is(controllerErr, context.Canceled) {
		fmt.Fprintf(r.Stderr, "error: %v\n", controllerErr)
		logger.Error("controller exited with error", "error", controllerErr.Error())
		return 1
	}

	logger.Info("command complete", "command", "run")
	return 0
}

// dialCollaborators dials the recognizer, rewriter, and synthesizer
// endpoints. Any already-opened connection is closed before returning an
// error, so a caller never leaks a partial set of dials.
func dialCollaborators(ctx context.Context, cfg config.CollaboratorsConfig, logger *slog.Logger) (recognizer, rewriter, synth *grpc.ClientConn, err error) {
	timeout := time.Duration(cfg.DialTimeoutMS) * time.Millisecond

	recognizer, err = collab.Dial(ctx, cfg.RecognizerAddr, timeout)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dial recognizer: %w", err)
	}
	rewriter, err = collab.Dial(ctx, cfg.RewriterAddr, timeout)
	if err != nil {
		_ = recognizer.Close()
		return nil, nil, nil, fmt.Errorf("dial rewriter: %w", err)
	}
	synth, err = collab.Dial(ctx, cfg.SynthesizerAddr, timeout)
	if err != nil {
		_ = recognizer.Close()
		_ = rewriter.Close()
		return nil, nil, nil, fmt.Errorf("dial synthesizer: %w", err)
	}

	logger.Info("collaborators dialed",
		"recognizer_addr", cfg.RecognizerAddr,
		"rewriter_addr", cfg.RewriterAddr,
		"synthesizer_addr", cfg.SynthesizerAddr,
	)
	return recognizer, rewriter, synth, nil
}

// aggressivenessThreshold maps the 0-3 WebRTC-VAD-style aggressiveness
// knob onto the energy classifier's mean-absolute-amplitude threshold:
// higher aggressiveness requires louder audio before classifying a
// sub-frame as voiced, trading sensitivity for fewer false starts.
func aggressivenessThreshold(aggressiveness int) float64 {
	switch aggressiveness {
	case 0:
		return 150
	case 1:
		return 250
	case 3:
		return 550
	default:
		return 350
	}
}

// tryForward attempts to send a command to an existing owner and classifies outcome.
//
// handled=false means there was no active owner to handle the request.
func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

// isSocketMissing reports whether forwarding failed because the owner socket is absent.
func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

// isConnectionRefused reports whether forwarding failed because no owner is listening.
func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Package playback drives one playback job over the serial link: it pauses
// mic forwarding, streams a synthesis stream to the device in paced
// chunks, sends the terminator, and waits for the device's out-of-band
// completion line (SPEC_FULL.md §4.5). The guard delay and the RESUME that
// follow are sent by the session controller, not by this package.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joeyverbeke/gradi-mediation/internal/pipeline"
	"github.com/joeyverbeke/gradi-mediation/internal/serial"
)

// CommandSender is the subset of *serial.Writer the pump needs. Defined as
// an interface so tests can substitute a recording fake without a real
// device.
type CommandSender interface {
	SendCommand(cmd string) error
	WriteChunk(payload []byte) error
}

// AckWaiter blocks until a PlaybackAck event (the device's PLAYBACK_DONE
// line) arrives, or ctx is done. The session controller supplies this,
// since PlaybackAck arrives on its event queue, not on the pump's own call
// stack (SPEC_FULL.md §5).
type AckWaiter func(ctx context.Context) error

// Outcome reports how a playback job ended, for the controller to decide
// which fsm.Event to submit.
type Outcome struct {
	BytesWritten  int64
	FirstChunkAt  time.Time
	SynthesisErr  error // set on synthesis_interrupted
	WatchdogFired bool  // set on playback_timed_out
}

// Params configures one playback job (SPEC_FULL.md §4.5).
type Params struct {
	FirstChunkTimeout time.Duration // default 5s
	PlaybackTimeout   time.Duration // default 20s
	GuardDelay        time.Duration // default >=200ms
}

// Pump runs one playback job. It is constructed fresh per cycle by the
// session controller, which already holds the serial writer for the
// duration of the job (SPEC_FULL.md §5: "Playback Pump holds the writer
// for the duration of a playback job").
type Pump struct {
	sender CommandSender
	logger *slog.Logger
}

// New constructs a Pump writing through sender.
func New(sender CommandSender, logger *slog.Logger) *Pump {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pump{sender: sender, logger: logger}
}

// PullFirstChunk retrieves the first chunk of stream, bounded by
// FirstChunkTimeout. It sends no commands to the device — per spec.md
// §4.5 step 1, the format is derived "from the first chunk" before PAUSE
// is ever issued, so the session controller calls this while still
// logically in Synthesizing and only calls Run once it has a chunk in
// hand.
func PullFirstChunk(ctx context.Context, timeout time.Duration, stream pipeline.SynthesisStream) (pipeline.Chunk, error) {
	firstCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chunk, ok, err := stream.Next(firstCtx)
	if err != nil {
		return pipeline.Chunk{}, fmt.Errorf("synthesis_first_chunk_timed_out: %w", err)
	}
	if !ok {
		return pipeline.Chunk{}, fmt.Errorf("synthesis_first_chunk_timed_out: stream closed before first chunk")
	}
	return chunk, nil
}

// Run executes the playback job from an already-pulled first chunk
// through completion, per spec.md §4.5 steps 1-6. Because the synthesis
// stream is a lazy pull iterator with no upfront length, Run sends PAUSE,
// then buffers the entire stream so the true sample count is known before
// the header line goes out, then sends START, the buffered chunks
// (paced), and END, and waits for PlaybackAck. The guard delay and
// RESUME (step 7) are the session controller's Cleanup-state
// responsibility, armed as a timer that fires a GuardElapsed event rather
// than a blocking sleep here (SPEC_FULL.md §4.6). waitAck is called once
// the terminator has been sent. Run always returns an Outcome even on
// failure paths, since the controller needs BytesWritten/timing for its
// cycle telemetry regardless of outcome.
func (p *Pump) Run(ctx context.Context, params Params, first pipeline.Chunk, stream pipeline.SynthesisStream, waitAck AckWaiter) Outcome {
	var out Outcome
	out.FirstChunkAt = first.ReceivedAt

	if err := p.sender.SendCommand(serial.CmdPause); err != nil {
		out.SynthesisErr = fmt.Errorf("playback: send PAUSE: %w", err)
		return out
	}

	format := first
	chunk := first
	var buffered [][]byte
	var totalBytes int

	for {
		if chunk.SampleRate != format.SampleRate || chunk.Bits != format.Bits || chunk.Channels != format.Channels {
			out.SynthesisErr = fmt.Errorf("synthesis_interrupted: chunk format changed mid-stream")
			_ = p.sender.SendCommand(serial.CmdEnd)
			return out
		}

		buffered = append(buffered, chunk.PCM)
		totalBytes += len(chunk.PCM)

		nextCtx, nextCancel := context.WithTimeout(ctx, params.PlaybackTimeout)
		nextChunk, ok, err := stream.Next(nextCtx)
		nextCancel()
		if err != nil {
			out.SynthesisErr = fmt.Errorf("synthesis_interrupted: %w", err)
			_ = p.sender.SendCommand(serial.CmdEnd)
			return out
		}
		if !ok {
			break
		}
		chunk = nextChunk
	}

	sampleCount := 0
	if bytesPerSample := (format.Bits / 8) * format.Channels; bytesPerSample > 0 {
		sampleCount = totalBytes / bytesPerSample
	}

	startCmd := fmt.Sprintf("START %d %d %d %d\n", format.SampleRate, format.Channels, format.Bits, sampleCount)
	if err := p.sender.SendCommand(startCmd); err != nil {
		out.SynthesisErr = fmt.Errorf("playback: send START: %w", err)
		_ = p.sender.SendCommand(serial.CmdEnd)
		return out
	}

	for _, payload := range buffered {
		if err := p.writeChunkPaced(payload); err != nil {
			out.SynthesisErr = fmt.Errorf("synthesis_interrupted: %w", err)
			_ = p.sender.SendCommand(serial.CmdEnd)
			return out
		}
		out.BytesWritten += int64(len(payload))
	}

	if err := p.sender.SendCommand(serial.CmdEnd); err != nil {
		out.SynthesisErr = fmt.Errorf("playback: send END: %w", err)
		return out
	}

	ackCtx, ackCancel := context.WithTimeout(ctx, params.PlaybackTimeout)
	ackErr := waitAck(ackCtx)
	ackCancel()
	if ackErr != nil {
		out.WatchdogFired = true
		p.logger.Warn("playback_timed_out", "bytes_written", out.BytesWritten)
		return out
	}

	return out
}

// writeChunkPaced splits payload into serial.PlaybackChunkBytes pieces so
// the device's receive buffer is never overrun in a single write
// (SPEC_FULL.md §4.1).
func (p *Pump) writeChunkPaced(payload []byte) error {
	for len(payload) > 0 {
		n := len(payload)
		if n > serial.PlaybackChunkBytes {
			n = serial.PlaybackChunkBytes
		}
		if err := p.sender.WriteChunk(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}

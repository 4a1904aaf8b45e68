package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeyverbeke/gradi-mediation/internal/pipeline"
	"github.com/joeyverbeke/gradi-mediation/internal/serial"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	commands []string
	chunks   [][]byte
	failCmd  string
}

func (s *recordingSender) SendCommand(cmd string) error {
	s.commands = append(s.commands, cmd)
	if s.failCmd != "" && cmd == s.failCmd {
		return errors.New("send failed")
	}
	return nil
}

func (s *recordingSender) WriteChunk(payload []byte) error {
	s.chunks = append(s.chunks, append([]byte(nil), payload...))
	return nil
}

type fakeStream struct {
	chunks []pipeline.Chunk
	idx    int
	err    error
}

func (s *fakeStream) Next(context.Context) (pipeline.Chunk, bool, error) {
	if s.err != nil {
		return pipeline.Chunk{}, false, s.err
	}
	if s.idx >= len(s.chunks) {
		return pipeline.Chunk{}, false, nil
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, true, nil
}

func (s *fakeStream) Close() error { return nil }

func ackImmediately(context.Context) error { return nil }

func TestPullFirstChunkReturnsFirstChunk(t *testing.T) {
	stream := &fakeStream{chunks: []pipeline.Chunk{{PCM: []byte{1, 2}, SampleRate: 16000, Bits: 16, Channels: 1}}}

	chunk, err := PullFirstChunk(context.Background(), time.Second, stream)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, chunk.PCM)
}

func TestPullFirstChunkTimesOutWhenStreamClosed(t *testing.T) {
	stream := &fakeStream{}

	_, err := PullFirstChunk(context.Background(), time.Second, stream)
	require.Error(t, err)
	require.Contains(t, err.Error(), "synthesis_first_chunk_timed_out")
}

func TestRunSendsPauseStartChunksEndAndWaitsAck(t *testing.T) {
	sender := &recordingSender{}
	first := pipeline.Chunk{PCM: []byte{1, 2, 3, 4}, SampleRate: 16000, Bits: 16, Channels: 1}
	stream := &fakeStream{}

	out := (&Pump{sender: sender}).Run(context.Background(), Params{PlaybackTimeout: time.Second}, first, stream, ackImmediately)

	require.NoError(t, out.SynthesisErr)
	require.False(t, out.WatchdogFired)
	require.Equal(t, int64(4), out.BytesWritten)
	require.Equal(t, serial.CmdPause, sender.commands[0])
	require.Equal(t, "START 16000 1 16 2\n", sender.commands[1])
	require.Equal(t, serial.CmdEnd, sender.commands[len(sender.commands)-1])
}

func TestRunPacesChunksAcrossMultiplePlaybackChunkBytesWrites(t *testing.T) {
	sender := &recordingSender{}
	payload := make([]byte, serial.PlaybackChunkBytes+10)
	first := pipeline.Chunk{PCM: payload, SampleRate: 16000, Bits: 16, Channels: 1}
	stream := &fakeStream{}

	out := New(sender, nil).Run(context.Background(), Params{PlaybackTimeout: time.Second}, first, stream, ackImmediately)

	require.NoError(t, out.SynthesisErr)
	require.Len(t, sender.chunks, 2)
	require.Len(t, sender.chunks[0], serial.PlaybackChunkBytes)
	require.Len(t, sender.chunks[1], 10)
}

func TestRunFormatChangeMidStreamIsSynthesisInterrupted(t *testing.T) {
	sender := &recordingSender{}
	first := pipeline.Chunk{PCM: []byte{1, 2}, SampleRate: 16000, Bits: 16, Channels: 1}
	stream := &fakeStream{chunks: []pipeline.Chunk{{PCM: []byte{3, 4}, SampleRate: 8000, Bits: 16, Channels: 1}}}

	out := New(sender, nil).Run(context.Background(), Params{PlaybackTimeout: time.Second}, first, stream, ackImmediately)

	require.Error(t, out.SynthesisErr)
	require.Contains(t, out.SynthesisErr.Error(), "synthesis_interrupted")
	require.Equal(t, serial.CmdEnd, sender.commands[len(sender.commands)-1])
}

func TestRunStreamErrorMidPlaybackIsSynthesisInterrupted(t *testing.T) {
	sender := &recordingSender{}
	first := pipeline.Chunk{PCM: []byte{1, 2}, SampleRate: 16000, Bits: 16, Channels: 1}
	stream := &fakeStream{err: errors.New("boom")}

	out := New(sender, nil).Run(context.Background(), Params{PlaybackTimeout: time.Second}, first, stream, ackImmediately)

	require.Error(t, out.SynthesisErr)
	require.Contains(t, out.SynthesisErr.Error(), "synthesis_interrupted")
}

func TestRunAckTimeoutSetsWatchdogFired(t *testing.T) {
	sender := &recordingSender{}
	first := pipeline.Chunk{PCM: []byte{1, 2}, SampleRate: 16000, Bits: 16, Channels: 1}
	stream := &fakeStream{}

	slowAck := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	out := New(sender, nil).Run(context.Background(), Params{PlaybackTimeout: 10 * time.Millisecond}, first, stream, slowAck)

	require.True(t, out.WatchdogFired)
}

func TestRunSendPauseFailureReturnsEarly(t *testing.T) {
	sender := &recordingSender{failCmd: serial.CmdPause}
	first := pipeline.Chunk{PCM: []byte{1, 2}, SampleRate: 16000, Bits: 16, Channels: 1}
	stream := &fakeStream{}

	out := New(sender, nil).Run(context.Background(), Params{PlaybackTimeout: time.Second}, first, stream, ackImmediately)

	require.Error(t, out.SynthesisErr)
	require.Contains(t, out.SynthesisErr.Error(), "send PAUSE")
	require.Len(t, sender.commands, 1)
}

package collab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"

	"github.com/joeyverbeke/gradi-mediation/internal/pipeline"
)

// Synthesizer adapts a gRPC collaborator endpoint to pipeline.Synthesizer
// (SPEC_FULL.md §6 "Synthesizer adapter interface"). The server-streamed
// response models the spec's lazy finite sequence of audio chunks
// directly; no buffering of the full utterance is required.
type Synthesizer struct {
	conn   *grpc.ClientConn
	method string
}

// NewSynthesizer wraps conn. method defaults to
// "/gradi.mediation.Synthesizer/Synthesize" when empty.
func NewSynthesizer(conn *grpc.ClientConn, method string) *Synthesizer {
	if method == "" {
		method = "/gradi.mediation.Synthesizer/Synthesize"
	}
	return &Synthesizer{conn: conn, method: method}
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

type synthesizeChunkWire struct {
	PCM        []byte `json:"pcm"`
	SampleRate int    `json:"sample_rate"`
	Bits       int    `json:"bits"`
	Channels   int    `json:"channels"`
}

// Synthesize implements pipeline.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (pipeline.SynthesisStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	stream, err := s.conn.NewStream(
		streamCtx,
		&grpc.StreamDesc{StreamName: "Synthesize", ServerStreams: true},
		s.method,
		grpc.CallContentSubtype(codecName),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("collab: open synthesize stream: %w", err)
	}

	if err := stream.SendMsg(&synthesizeRequest{Text: text}); err != nil {
		cancel()
		return nil, fmt.Errorf("collab: send synthesize request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("collab: close synthesize send: %w", err)
	}

	return &synthesisStream{stream: stream, cancel: cancel}, nil
}

// synthesisStream implements pipeline.SynthesisStream over one open
// server-streaming call.
type synthesisStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
}

func (s *synthesisStream) Next(ctx context.Context) (pipeline.Chunk, bool, error) {
	var chunk synthesizeChunkWire
	if err := s.stream.RecvMsg(&chunk); err != nil {
		if errors.Is(err, io.EOF) {
			return pipeline.Chunk{}, false, nil
		}
		return pipeline.Chunk{}, false, fmt.Errorf("collab: receive synthesis chunk: %w", err)
	}

	return pipeline.Chunk{
		PCM:        chunk.PCM,
		SampleRate: chunk.SampleRate,
		Bits:       chunk.Bits,
		Channels:   chunk.Channels,
		ReceivedAt: time.Now(),
	}, true, nil
}

func (s *synthesisStream) Close() error {
	s.cancel()
	return nil
}

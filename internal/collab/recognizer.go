package collab

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// Recognizer adapts a gRPC collaborator endpoint to pipeline.Recognizer
// (SPEC_FULL.md §6 "Recognizer adapter interface").
type Recognizer struct {
	conn   *grpc.ClientConn
	method string
}

// NewRecognizer wraps conn. method defaults to
// "/gradi.mediation.Recognizer/Recognize" when empty.
func NewRecognizer(conn *grpc.ClientConn, method string) *Recognizer {
	if method == "" {
		method = "/gradi.mediation.Recognizer/Recognize"
	}
	return &Recognizer{conn: conn, method: method}
}

type recognizeRequest struct {
	PCM             []byte `json:"pcm"`
	SampleRateHertz int    `json:"sample_rate_hertz"`
}

type recognizeResponse struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Recognize implements pipeline.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, sampleRate int) (string, map[string]any, error) {
	req := recognizeRequest{PCM: pcm, SampleRateHertz: sampleRate}
	var resp recognizeResponse
	if err := r.conn.Invoke(ctx, r.method, &req, &resp, grpc.CallContentSubtype(codecName)); err != nil {
		return "", nil, fmt.Errorf("collab: recognize: %w", err)
	}
	return resp.Text, resp.Metadata, nil
}

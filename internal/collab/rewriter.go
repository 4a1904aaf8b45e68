package collab

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// Rewriter adapts a gRPC collaborator endpoint to pipeline.Rewriter
// (SPEC_FULL.md §6 "Rewriter adapter interface").
type Rewriter struct {
	conn   *grpc.ClientConn
	method string
}

// NewRewriter wraps conn. method defaults to
// "/gradi.mediation.Rewriter/Rewrite" when empty.
func NewRewriter(conn *grpc.ClientConn, method string) *Rewriter {
	if method == "" {
		method = "/gradi.mediation.Rewriter/Rewrite"
	}
	return &Rewriter{conn: conn, method: method}
}

type rewriteRequest struct {
	Text string `json:"text"`
}

type rewriteResponse struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Rewrite implements pipeline.Rewriter.
func (r *Rewriter) Rewrite(ctx context.Context, text string) (string, map[string]any, error) {
	req := rewriteRequest{Text: text}
	var resp rewriteResponse
	if err := r.conn.Invoke(ctx, r.method, &req, &resp, grpc.CallContentSubtype(codecName)); err != nil {
		return "", nil, fmt.Errorf("collab: rewrite: %w", err)
	}
	return resp.Text, resp.Metadata, nil
}

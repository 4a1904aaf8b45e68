package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial establishes a plaintext gRPC connection to a collaborator endpoint
// and blocks until it reports Ready or ctx/timeout expires. Adapted from
// the teacher's Riva DialStream readiness wait, generalized from one
// specific ASR endpoint to any collaborator address.
func Dial(ctx context.Context, endpoint string, dialTimeout time.Duration) (*grpc.ClientConn, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("collab: endpoint is empty")
	}
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial collaborator grpc %q: %w", endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for collaborator grpc readiness: %w", err)
	}

	return conn, nil
}

// waitForReady blocks until conn enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}

package status

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	grpcstatus "google.golang.org/grpc/status"
)

// State is the download state of one service as seen by a client.
type State string

const (
	StateDone    State = "done"
	StatePending State = "pending"
	StateUnknown State = "unknown"
)

// Client queries a running supervisor's status server.
type Client struct {
	conn *grpc.ClientConn
	hc   healthpb.HealthClient
}

// NewClient creates a client targeting the given gRPC address. No connection
// is made until the first call.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn, hc: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Running reports whether the supervisor's overall service is SERVING.
func (c *Client) Running(ctx context.Context) (bool, error) {
	st, err := c.State(ctx, "")
	if err != nil {
		return false, err
	}
	return st == StateDone, nil
}

// State returns the state of one configuration file. Files the supervisor
// never registered report StateUnknown without an error.
func (c *Client) State(ctx context.Context, path string) (State, error) {
	resp, err := c.hc.Check(ctx, &healthpb.HealthCheckRequest{Service: path})
	if err != nil {
		if grpcstatus.Code(err) == codes.NotFound {
			return StateUnknown, nil
		}
		return StateUnknown, fmt.Errorf("checking %q: %w", path, err)
	}

	return stateOf(resp.GetStatus()), nil
}

// Watch streams the state of one configuration file to fn until ctx is
// cancelled or the server goes away. The first call reports the current
// state. It returns ctx.Err() on cancellation and the stream error otherwise.
func (c *Client) Watch(ctx context.Context, path string, fn func(State)) error {
	stream, err := c.hc.Watch(ctx, &healthpb.HealthCheckRequest{Service: path})
	if err != nil {
		return fmt.Errorf("watching %q: %w", path, err)
	}
	for {
		resp, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("watching %q: stream closed by server", path)
			}
			return fmt.Errorf("watching %q: %w", path, err)
		}
		fn(stateOf(resp.GetStatus()))
	}
}

func stateOf(st healthpb.HealthCheckResponse_ServingStatus) State {
	switch st {
	case healthpb.HealthCheckResponse_SERVING:
		return StateDone
	case healthpb.HealthCheckResponse_NOT_SERVING:
		return StatePending
	default:
		return StateUnknown
	}
}

package rpc

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/optisat/internal/stopping"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region client-struct
// Client drives runs on a remote StoppingService.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewClient connects to a StoppingService at addr.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn uses an existing connection, which the caller closes.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// #endregion constructor

// #region close
// Close shuts down a connection opened by NewClient.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

// #region start-run
// StartRun opens a run and returns its ID.
func (c *Client) StartRun(ctx context.Context, req StartRunRequest) (string, error) {
	resp, err := c.invoke(ctx, methodStartRun, encodeStartRun(req))
	if err != nil {
		return "", fmt.Errorf("start run rpc: %w", err)
	}
	return getString(resp, "run_id"), nil
}

// #endregion start-run

// #region evaluate
// Evaluate sends one snapshot and returns the engine's decision.
func (c *Client) Evaluate(ctx context.Context, runID string, snap stopping.Snapshot) (stopping.Decision, error) {
	resp, err := c.invoke(ctx, methodEvaluate, encodeEvaluate(runID, snap))
	if err != nil {
		return stopping.Decision{}, fmt.Errorf("evaluate rpc: %w", err)
	}
	return decodeDecision(resp), nil
}

// #endregion evaluate

// #region status
// Status returns the run's current counters.
func (c *Client) Status(ctx context.Context, runID string) (RunStatus, error) {
	resp, err := c.invoke(ctx, methodGetStatus, runIDRequest(runID))
	if err != nil {
		return RunStatus{}, fmt.Errorf("get status rpc: %w", err)
	}
	return decodeStatus(resp), nil
}

// EndRun closes the run on the server.
func (c *Client) EndRun(ctx context.Context, runID string) (EndRunResult, error) {
	resp, err := c.invoke(ctx, methodEndRun, runIDRequest(runID))
	if err != nil {
		return EndRunResult{}, fmt.Errorf("end run rpc: %w", err)
	}
	return decodeEndRun(resp), nil
}

// #endregion status

package ipc

import (
	"context"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 2 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// call issues method and waits for the reply or ctx.
func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	pending := c.client.Go(serviceName+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-pending.Done:
		return done.Error
	}
}

// Process asks the daemon to queue a job. A rejected request is returned as
// a *Fault.
func (c *Client) Process(ctx context.Context, req ProcessRequest) (*Job, error) {
	var resp ProcessResponse
	if err := c.call(ctx, "Process", req, &resp); err != nil {
		return nil, err
	}
	if resp.Fault != nil {
		return nil, resp.Fault
	}
	return resp.Job, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, "Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunSweep runs one maintenance sweep in the daemon.
func (c *Client) RunSweep(ctx context.Context, name string) (*SweepResponse, error) {
	var resp SweepResponse
	if err := c.call(ctx, "RunSweep", SweepRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	if resp.Fault != nil {
		return &resp, resp.Fault
	}
	return &resp, nil
}

// RecentErrors returns the daemon's most recent handled errors.
func (c *Client) RecentErrors(ctx context.Context, limit int) ([]ErrorEntry, error) {
	var resp RecentErrorsResponse
	if err := c.call(ctx, "RecentErrors", RecentErrorsRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Errors, nil
}

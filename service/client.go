package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// Client calls the management API of a running service
type Client struct {
	rpc *rpc.Client
}

func Dial(ctx context.Context, endpoint string) (*Client, error) {
	c, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return &Client{rpc: c}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	if err := c.rpc.CallContext(ctx, result, RPCNamespace+"_"+method, args...); err != nil {
		return fmt.Errorf("%s_%s: %w", RPCNamespace, method, err)
	}
	return nil
}

func (c *Client) Start(ctx context.Context) error {
	return c.call(ctx, nil, "start")
}

func (c *Client) StartFiltered(ctx context.Context, includes, excludes []string, reportsPath string) error {
	return c.call(ctx, nil, "startFiltered", nonNil(includes), nonNil(excludes), reportsPath)
}

func (c *Client) StartTests(ctx context.Context, ids []string, reportsPath string) error {
	return c.call(ctx, nil, "startTests", nonNil(ids), reportsPath)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.call(ctx, nil, "stop")
}

func (c *Client) Dispose(ctx context.Context) error {
	return c.call(ctx, nil, "dispose")
}

func (c *Client) IsRunning(ctx context.Context) (bool, error) {
	var running bool
	err := c.call(ctx, &running, "isRunning")
	return running, err
}

func (c *Client) IsStopped(ctx context.Context) (bool, error) {
	var stopped bool
	err := c.call(ctx, &stopped, "isStopped")
	return stopped, err
}

func (c *Client) TestCount(ctx context.Context) (int, error) {
	var n int
	err := c.call(ctx, &n, "testCount")
	return n, err
}

func (c *Client) TestIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.call(ctx, &ids, "testIds")
	return ids, err
}

func (c *Client) State(ctx context.Context) (string, error) {
	var state string
	err := c.call(ctx, &state, "state")
	return state, err
}

// nonNil keeps an absent list from being sent as null
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

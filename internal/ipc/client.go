package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
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

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("WorldBackup.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunCycle runs one backup cycle in the daemon and waits for its outcome.
func (c *Client) RunCycle() (*RunCycleResponse, error) {
	var resp RunCycleResponse
	if err := c.client.Call("WorldBackup.RunCycle", RunCycleRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Prune applies or previews retention in the daemon.
func (c *Client) Prune(dryRun bool) (*PruneResponse, error) {
	var resp PruneResponse
	if err := c.client.Call("WorldBackup.Prune", PruneRequest{DryRun: dryRun}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns the daemon's catalog.
func (c *Client) List() (*ListResponse, error) {
	var resp ListResponse
	if err := c.client.Call("WorldBackup.List", ListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("WorldBackup.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

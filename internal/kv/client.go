package kv

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"
)

var _ Backend = (*Client)(nil)

// Client implements Backend over the kv-server Unix socket.
type Client struct {
	socketPath  string
	dialTimeout time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, dialTimeout: 500 * time.Millisecond}
}

func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	var resp Response
	err = json.NewEncoder(conn).Encode(req)
	if err == nil {
		err = json.NewDecoder(conn).Decode(&resp)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if !resp.OK {
		kind := ErrUnavailable
		if resp.Code == CodeInvalidArgument {
			kind = ErrInvalidArgument
		}
		return nil, &Error{Op: req.Op, Key: req.Key, Kind: kind, Err: errors.New(resp.Error)}
	}
	return &resp, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: opGet, Key: key})
	if err != nil || !resp.Found {
		return nil, err
	}
	return resp.Value, nil
}

func (c *Client) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: opGetMany, Keys: keys})
	if err != nil {
		return nil, err
	}
	if len(resp.Values) != len(keys) || len(resp.Present) != len(keys) {
		return nil, errors.New("kv: malformed mget response")
	}
	out := make([][]byte, len(keys))
	for i, v := range resp.Values {
		if resp.Present[i] {
			out[i] = v
		}
	}
	return out, nil
}

func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.roundTrip(ctx, &Request{Op: opSet, Key: key, Value: value})
	return err
}

func (c *Client) PutMany(ctx context.Context, entries []Entry) error {
	_, err := c.roundTrip(ctx, &Request{Op: opSetMany, Entries: entries})
	return err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.roundTrip(ctx, &Request{Op: opDelete, Key: key})
	return err
}

func (c *Client) DeleteMany(ctx context.Context, keys []string) error {
	_, err := c.roundTrip(ctx, &Request{Op: opDeleteMany, Keys: keys})
	return err
}

func (c *Client) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: opScan, Prefix: prefix})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Close is a no-op; connections are per call.
func (c *Client) Close() error { return nil }

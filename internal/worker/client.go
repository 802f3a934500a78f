package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Client sends requests to a Worker and matches responses back to callers by
// correlation id. Many callers may issue requests concurrently; responses may
// arrive in any order.
type Client struct {
	in  chan<- Request
	out <-chan Response

	mu      sync.Mutex
	pending map[string]chan Response
}

// NewClient wires a Client to the worker's channels. Route must be running
// for Do to complete.
func NewClient(in chan<- Request, out <-chan Response) *Client {
	return &Client{in: in, out: out, pending: make(map[string]chan Response)}
}

// Route consumes responses and delivers each to the caller waiting on its id.
// Responses with no waiter are dropped. Route returns when ctx is cancelled
// or the response channel closes; it then fails every pending caller.
func (c *Client) Route(ctx context.Context) {
	defer c.failPending("worker: response router stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-c.out:
			if !ok {
				return
			}
			c.mu.Lock()
			ch := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- resp
			}
		}
	}
}

func (c *Client) failPending(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- Response{ID: id, Error: msg}
		delete(c.pending, id)
	}
}

// Do sends one typed request and blocks until its response arrives or ctx is
// cancelled. The response payload is returned raw; a non-empty Error field
// becomes a Go error.
func (c *Client) Do(ctx context.Context, reqType string, args any) (json.RawMessage, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("worker: encode %s request: %w", reqType, err)
	}
	return c.DoRaw(ctx, Request{ID: uuid.NewString(), Type: reqType, Payload: payload})
}

// DoRaw sends a pre-built request. The request ID must be unique among
// in-flight requests.
func (c *Client) DoRaw(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ch := make(chan Response, 1)
	c.mu.Lock()
	if _, dup := c.pending[req.ID]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("worker: duplicate request id %q", req.ID)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	select {
	case c.in <- req:
	case <-ctx.Done():
		c.abandon(req.ID)
		return nil, ctx.Err()
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("%s", resp.Error)
		}
		return resp.Payload, nil
	case <-ctx.Done():
		c.abandon(req.ID)
		return nil, ctx.Err()
	}
}

func (c *Client) abandon(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

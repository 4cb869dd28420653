// Package mock provides an in-memory test double for the chat.Client
// interface.
//
// Configure the response fields before use; every call is recorded for
// later assertions.
package mock

import (
	"context"
	"sync"

	"github.com/emberfield/waystone/internal/chat"
)

// Client is a mock implementation of chat.Client.
type Client struct {
	mu sync.Mutex

	// ReplyText is returned from Reply when ReplyErr is nil.
	ReplyText string

	// ReplyErr, if non-nil, is returned from Reply.
	ReplyErr error

	// Calls records every request passed to Reply, in order.
	Calls []chat.Request
}

// Reply records the request and returns the configured response.
func (c *Client) Reply(_ context.Context, req chat.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, req)
	if c.ReplyErr != nil {
		return "", c.ReplyErr
	}
	return c.ReplyText, nil
}

// CallCount reports how many times Reply was invoked. Thread-safe.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}

// Ensure Client implements chat.Client at compile time.
var _ chat.Client = (*Client)(nil)

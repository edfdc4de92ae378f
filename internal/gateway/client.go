package gateway

import (
	"sync"

	"github.com/lumachat/gateway/internal/proto"
)

// Client is one live transport session as seen by the core. UserID and
// UserName are set exactly once, by the registry at authentication time,
// before any other event is dispatched for the connection.
type Client struct {
	ID       string
	UserID   string
	UserName string
	Events   chan *proto.Outbound

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient constructs a client with an initialized event channel.
func NewClient(id string) *Client {
	return &Client{
		ID:     id,
		Events: make(chan *proto.Outbound, 32),
		done:   make(chan struct{}),
	}
}

// Done is closed when the server asks the connection's write loop to
// shut the session down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close signals the write loop to end the session. Safe to call more
// than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Send queues an event for the connection's write loop. Returns false if
// the buffer is full; slow consumers drop rather than block the core.
func (c *Client) Send(ev *proto.Outbound) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

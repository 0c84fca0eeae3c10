package hub

import "github.com/google/uuid"

// DefaultSendBuffer is the outbound queue length of a client.
const DefaultSendBuffer = 256

// Client is one live session attached to the hub. It carries no identity
// beyond its lifetime; the user name travels with each event.
type Client struct {
	id   string
	addr string
	send chan []byte

	// owned by the hub loop
	typing map[string]struct{}
	closed bool
}

// NewClient creates a client with a buffered outbound queue.
func NewClient(addr string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		id:     uuid.NewString(),
		addr:   addr,
		send:   make(chan []byte, buffer),
		typing: make(map[string]struct{}),
	}
}

func (c *Client) ID() string   { return c.id }
func (c *Client) Addr() string { return c.addr }

// Send returns the outbound queue. The hub closes it when the client is
// deregistered or the hub stops.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// Package netconn is the thin client library censoratectl (and any
// other user-facing tool) uses to talk to the daemon over its Unix
// domain socket: one connection, one request, one reply (spec §6.1).
package netconn

import (
	"fmt"
	"net"

	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/transport"
)

// Client is a single-use connection to the daemon's user socket.
type Client struct {
	conn *transport.Conn
}

// Dial opens a new connection to the daemon's user-facing socket at
// socketPath.
func Dial(socketPath string) (*Client, error) {
	raw, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("netconn: dial %s: %w", socketPath, err)
	}
	return &Client{conn: transport.NewConn("cli", raw)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Request sends one user request and blocks for its terminal reply.
// timeoutMillis, if nonzero, becomes the WorkFlow's deadline budget; the
// Commander applies its own default when it is zero.
func (c *Client) Request(u event.UserEvent, timeoutMillis uint32) (event.UserEvent, error) {
	req := event.New(event.AddrUser(), event.AddrCommander(), u, event.PluginNoneEvent()).
		WithTimeout(timeoutMillis)
	if err := c.conn.Send(req); err != nil {
		return event.UserEvent{}, fmt.Errorf("netconn: send request: %w", err)
	}
	reply, err := c.conn.Recv()
	if err != nil {
		return event.UserEvent{}, fmt.Errorf("netconn: read reply: %w", err)
	}
	if reply.UserEvent().IsErr() {
		return event.UserEvent{}, reply.UserEvent().Err
	}
	return reply.UserEvent(), nil
}

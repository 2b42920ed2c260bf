package pluginconn

import (
	"net"

	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/role"
	"github.com/nispor/censorate/internal/transport"
)

// StubPlugin is an in-process fake plugin connection for tests: it
// dials (via net.Pipe, so no real socket is needed), performs the
// handshake, and lets the test script canned replies without a real
// plugin binary (spec §8's recommended test harness).
type StubPlugin struct {
	conn *transport.Conn
}

// DialStubPlugin wraps clientSide (normally the client half of a
// net.Pipe whose other half is handed to an Acceptor in a goroutine) and
// sends the handshake declaring info.
func DialStubPlugin(clientSide net.Conn, info role.Info) (*StubPlugin, error) {
	c := transport.NewConn(info.Name, clientSide)
	handshake := event.New(event.AddrUnicast(info.Name), event.AddrCommander(),
		event.None(), event.PluginQueryPluginInfoReplyEvent(info))
	if err := c.Send(handshake); err != nil {
		return nil, err
	}
	return &StubPlugin{conn: c}, nil
}

// Next blocks for the next request the daemon sends this plugin.
func (s *StubPlugin) Next() (event.Event, error) {
	return s.conn.Recv()
}

// Reply sends req's reply carrying the given PluginEvent, addressed
// back to the Commander with the plugin's own Unicast address as Src
// so the Switch's reply routing can identify which plugin answered.
func (s *StubPlugin) Reply(req event.Event, name string, p event.PluginEvent) error {
	return s.conn.Send(req.Reply(event.AddrUnicast(name), event.None(), p))
}

// ReplyError sends an Error reply for req.
func (s *StubPlugin) ReplyError(req event.Event, name string, u event.UserEvent) error {
	return s.conn.Send(req.Reply(event.AddrUnicast(name), u, event.PluginNoneEvent()))
}

func (s *StubPlugin) Close() error { return s.conn.Close() }

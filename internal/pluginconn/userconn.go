package pluginconn

import (
	"context"
	"log/slog"
	"net"

	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/switchboard"
	"github.com/nispor/censorate/internal/transport"
)

// UserAcceptor serves the one-request-per-connection protocol the CLI
// and any other user client speaks: connect, send exactly one
// Commander-addressed request, block for the matching terminal reply,
// write it back, close (spec §6.1).
type UserAcceptor struct {
	listener    net.Listener
	sw          *switchboard.Switch
	toCommander chan<- event.Event
	logger      *slog.Logger
}

func NewUserAcceptor(listener net.Listener, sw *switchboard.Switch, toCommander chan<- event.Event, logger *slog.Logger) *UserAcceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserAcceptor{listener: listener, sw: sw, toCommander: toCommander, logger: logger}
}

func (a *UserAcceptor) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.listener.Close()
	}()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go a.handle(conn)
	}
}

func (a *UserAcceptor) handle(raw net.Conn) {
	defer raw.Close()
	c := transport.NewConn(raw.RemoteAddr().String(), raw)

	req, err := c.Recv()
	if err != nil {
		a.logger.Warn("pluginconn: user request read failed", "error", err)
		return
	}

	wait := a.sw.AwaitUser(req.ID())
	a.toCommander <- req

	reply, ok := <-wait
	if !ok {
		a.logger.Warn("pluginconn: user wait channel closed without a reply", "id", req.ID())
		return
	}
	if err := c.Send(reply); err != nil {
		a.logger.Warn("pluginconn: writing user reply failed", "error", err)
	}
}

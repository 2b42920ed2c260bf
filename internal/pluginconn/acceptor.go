// Package pluginconn accepts plugin connections on the daemon's Unix
// domain socket, performs the handshake that registers a plugin's
// declared roles, and relays frames between the wire and the Switch
// (spec §6.2).
package pluginconn

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/switchboard"
	"github.com/nispor/censorate/internal/transport"
)

// Acceptor owns a listener dedicated to plugin connections and wires
// each accepted connection into the Switch.
type Acceptor struct {
	listener net.Listener
	sw       *switchboard.Switch
	logger   *slog.Logger
}

func NewAcceptor(listener net.Listener, sw *switchboard.Switch, logger *slog.Logger) *Acceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acceptor{listener: listener, sw: sw, logger: logger}
}

// Serve accepts connections until ctx is canceled or the listener is
// closed.
func (a *Acceptor) Serve(ctx context.Context) error {
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
		go a.handle(ctx, conn)
	}
}

// handle performs the plugin handshake -- the first frame must be a
// QueryPluginInfoReply carrying the plugin's declared name and roles --
// then relays every subsequent frame to the Switch's Commander-bound
// channel until the connection closes.
func (a *Acceptor) handle(ctx context.Context, raw net.Conn) {
	c := transport.NewConn(raw.RemoteAddr().String(), raw)
	defer c.Close()

	handshake, err := c.Recv()
	if err != nil {
		a.logger.Warn("pluginconn: handshake read failed", "error", err)
		return
	}
	if handshake.PluginEvent().Tag != event.PluginQueryPluginInfoReply {
		a.logger.Warn("pluginconn: first frame was not a handshake", "tag", handshake.PluginEvent().Tag.String())
		return
	}
	info := handshake.PluginEvent().PluginInfo
	if info.Name == "" {
		a.logger.Warn("pluginconn: handshake carried no plugin name")
		return
	}
	c.Rename(info.Name)
	a.sw.AttachPlugin(c, info)
	a.logger.Info("pluginconn: plugin connected", "name", info.Name, "roles", info.Roles)

	defer func() {
		a.sw.DetachPlugin(info.Name)
		a.logger.Info("pluginconn: plugin disconnected", "name", info.Name)
	}()

	for {
		evt, err := c.Recv()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.logger.Warn("pluginconn: connection read error", "name", info.Name, "error", err)
			}
			return
		}
		a.sw.Route(evt)
		if ctx.Err() != nil {
			return
		}
	}
}

// Package switchboard implements the Switch: the fan-out/fan-in router
// that resolves an Event's Address into concrete deliveries -- one or
// more plugin connections, the Commander's inbound channel, or a
// blocked user-connection wait -- per spec §5.
package switchboard

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nispor/censorate/internal/censerr"
	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/role"
)

// PluginLink is the Switch's view of one connected plugin: just enough
// to deliver an Event, named so the Switch never needs to know whether
// the link is a real Unix-socket connection or an in-process test stub.
type PluginLink interface {
	Name() string
	Send(event.Event) error
}

// Switch owns no WorkFlow state; it only resolves addresses to
// deliveries (Design Note 9.2: "the Switch knows nothing about
// workflows").
type Switch struct {
	mu       sync.RWMutex
	links    map[string]PluginLink
	registry *role.Registry

	toCommander chan<- event.Event

	userMu    sync.Mutex
	userWaits map[uuid.UUID]chan event.Event

	logger *slog.Logger
}

func New(registry *role.Registry, toCommander chan<- event.Event, logger *slog.Logger) *Switch {
	if logger == nil {
		logger = slog.Default()
	}
	return &Switch{
		links:       make(map[string]PluginLink),
		registry:    registry,
		toCommander: toCommander,
		userWaits:   make(map[uuid.UUID]chan event.Event),
		logger:      logger,
	}
}

// AttachPlugin registers a connected plugin's link and its declared
// roles, making it a target for future Unicast/Group/AllPlugins/Dhcp
// deliveries.
func (s *Switch) AttachPlugin(link PluginLink, info role.Info) *role.PluginRoles {
	s.mu.Lock()
	s.links[info.Name] = link
	s.mu.Unlock()
	return s.registry.Register(info)
}

// DetachPlugin removes a disconnected plugin, e.g. after its connection
// closes or errors.
func (s *Switch) DetachPlugin(name string) *role.PluginRoles {
	s.mu.Lock()
	delete(s.links, name)
	s.mu.Unlock()
	return s.registry.Unregister(name)
}

func (s *Switch) lookup(name string) (PluginLink, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[name]
	return link, ok
}

// AwaitUser registers a wait for the terminal reply of the workflow
// identified by id, returning the channel it will arrive on. The
// caller (a user-connection acceptor) must eventually read exactly one
// value or call CancelUserWait to release it.
func (s *Switch) AwaitUser(id uuid.UUID) <-chan event.Event {
	ch := make(chan event.Event, 1)
	s.userMu.Lock()
	s.userWaits[id] = ch
	s.userMu.Unlock()
	return ch
}

// CancelUserWait releases a wait registered via AwaitUser without
// requiring a reply to ever arrive (e.g. the client connection closed
// early).
func (s *Switch) CancelUserWait(id uuid.UUID) {
	s.userMu.Lock()
	delete(s.userWaits, id)
	s.userMu.Unlock()
}

// Route delivers evt according to its Dst, honoring any PostponeMillis
// by rescheduling delivery instead of sending immediately (spec §4.3:
// "a postponed request is re-enqueued after its delay, not sent now").
func (s *Switch) Route(evt event.Event) {
	if d := evt.PostponeMillis(); d > 0 {
		delay := time.Duration(d) * time.Millisecond
		time.AfterFunc(delay, func() {
			s.deliver(evt.WithPostpone(0))
		})
		return
	}
	s.deliver(evt)
}

func (s *Switch) deliver(evt event.Event) {
	switch evt.Dst().Tag {
	case event.AddrTagCommander, event.AddrTagDaemon:
		s.toCommander <- evt
	case event.AddrTagUser:
		s.deliverUser(evt)
	case event.AddrTagUnicast:
		s.deliverUnicast(evt)
	case event.AddrTagGroup:
		s.deliverGroup(evt)
	case event.AddrTagAllPlugins:
		s.deliverAll(evt)
	case event.AddrTagDhcp:
		s.deliverDhcp(evt)
	default:
		s.logger.Warn("switch: event with unroutable destination", "event", evt.String())
	}
}

func (s *Switch) deliverUser(evt event.Event) {
	s.userMu.Lock()
	ch, ok := s.userWaits[evt.ID()]
	if ok {
		delete(s.userWaits, evt.ID())
	}
	s.userMu.Unlock()
	if !ok {
		s.logger.Warn("switch: user reply for unregistered wait", "id", evt.ID())
		return
	}
	ch <- evt
}

func (s *Switch) deliverUnicast(evt event.Event) {
	link, ok := s.lookup(evt.Dst().Name)
	if !ok {
		s.bounce(evt, censerr.NewError(censerr.ErrKindPluginNotFound, "plugin %q not connected", evt.Dst().Name))
		return
	}
	s.sendOrBounce(link, evt)
}

func (s *Switch) deliverGroup(evt event.Event) {
	members := s.registry.Snapshot().RoleMembers(evt.Dst().Role)
	for _, name := range members {
		if link, ok := s.lookup(name); ok {
			s.sendOrBounce(link, evt)
		}
	}
}

func (s *Switch) deliverAll(evt event.Event) {
	for _, name := range s.registry.Snapshot().AllPluginNames() {
		if link, ok := s.lookup(name); ok {
			s.sendOrBounce(link, evt)
		}
	}
}

func (s *Switch) deliverDhcp(evt event.Event) {
	name, ok := s.registry.Snapshot().DhcpPlugin()
	if !ok {
		s.bounce(evt, censerr.NewError(censerr.ErrKindPluginNotFound, "no dhcp plugin registered"))
		return
	}
	link, ok := s.lookup(name)
	if !ok {
		s.bounce(evt, censerr.NewError(censerr.ErrKindPluginNotFound, "dhcp plugin %q not connected", name))
		return
	}
	s.sendOrBounce(link, evt)
}

func (s *Switch) sendOrBounce(link PluginLink, evt event.Event) {
	if err := link.Send(evt); err != nil {
		s.bounce(evt, censerr.WrapError(censerr.ErrKindPluginFailure, err, "send to plugin %q failed", link.Name()))
	}
}

// bounce turns an undeliverable request into an Error reply addressed
// back to the Commander, carrying the same uuid so the waiting
// WorkFlow's AbsorbReply sees it like any other plugin-reported
// failure.
func (s *Switch) bounce(evt event.Event, err *censerr.Error) {
	s.toCommander <- evt.Reply(evt.Dst(), event.ErrorUser(err), event.PluginNoneEvent())
}

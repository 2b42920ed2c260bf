package switchboard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nispor/censorate/internal/censerr"
	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/netstate"
	"github.com/nispor/censorate/internal/role"
)

// fakeLink records every event sent to it, optionally failing Send to
// exercise the bounce path.
type fakeLink struct {
	name string

	mu   sync.Mutex
	got  []event.Event
	fail bool
}

func (f *fakeLink) Name() string { return f.name }

func (f *fakeLink) Send(evt event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assertErr
	}
	f.got = append(f.got, evt)
	return nil
}

func (f *fakeLink) received() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Event, len(f.got))
	copy(out, f.got)
	return out
}

var assertErr = censerr.NewError(censerr.ErrKindPluginFailure, "send failed")

func newTestSwitch(t *testing.T) (*Switch, chan event.Event) {
	t.Helper()
	toCommander := make(chan event.Event, 16)
	reg := role.NewRegistry()
	return New(reg, toCommander, nil), toCommander
}

func TestUnicastDeliversToNamedPlugin(t *testing.T) {
	sw, _ := newTestSwitch(t)
	link := &fakeLink{name: "p1"}
	sw.AttachPlugin(link, role.Info{Name: "p1", Roles: []role.Role{role.QueryAndApply}})

	evt := event.New(event.AddrCommander(), event.AddrUnicast("p1"), event.None(), event.PluginQueryPluginInfoEvent())
	sw.Route(evt)

	require.Len(t, link.received(), 1)
}

func TestUnicastUnknownPluginBounces(t *testing.T) {
	sw, toCommander := newTestSwitch(t)

	evt := event.New(event.AddrCommander(), event.AddrUnicast("ghost"), event.None(), event.PluginQueryPluginInfoEvent())
	sw.Route(evt)

	select {
	case bounced := <-toCommander:
		require.True(t, bounced.UserEvent().IsErr())
		assert.Equal(t, censerr.ErrKindPluginNotFound, bounced.UserEvent().Err.Kind)
		assert.Equal(t, evt.ID(), bounced.ID())
	case <-time.After(time.Second):
		t.Fatal("expected a bounced Error reply to the Commander")
	}
}

func TestGroupFansOutToRoleMembersOnly(t *testing.T) {
	sw, _ := newTestSwitch(t)
	qa := &fakeLink{name: "qa1"}
	mon := &fakeLink{name: "mon1"}
	sw.AttachPlugin(qa, role.Info{Name: "qa1", Roles: []role.Role{role.QueryAndApply}})
	sw.AttachPlugin(mon, role.Info{Name: "mon1", Roles: []role.Role{role.Monitor}})

	evt := event.New(event.AddrCommander(), event.AddrGroup(role.QueryAndApply), event.None(), event.PluginQueryNetStateEvent(netstate.Running()))
	sw.Route(evt)

	assert.Len(t, qa.received(), 1)
	assert.Len(t, mon.received(), 0)
}

func TestAllPluginsFansOutToEveryConnectedPlugin(t *testing.T) {
	sw, _ := newTestSwitch(t)
	a := &fakeLink{name: "a"}
	b := &fakeLink{name: "b"}
	sw.AttachPlugin(a, role.Info{Name: "a", Roles: []role.Role{role.QueryAndApply}})
	sw.AttachPlugin(b, role.Info{Name: "b", Roles: []role.Role{role.Monitor}})

	sw.Route(event.New(event.AddrCommander(), event.AddrAllPlugins(), event.None(), event.PluginQueryPluginInfoEvent()))

	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
}

func TestDhcpShorthandTargetsSingleResponsiblePlugin(t *testing.T) {
	sw, _ := newTestSwitch(t)
	dhcp := &fakeLink{name: "dhcp1"}
	sw.AttachPlugin(dhcp, role.Info{Name: "dhcp1", Roles: []role.Role{role.Dhcp}})

	sw.Route(event.New(event.AddrCommander(), event.AddrDhcp(), event.None(), event.PluginApplyDhcpConfigEvent(nil)))

	assert.Len(t, dhcp.received(), 1)
}

func TestDhcpShorthandWithNoDhcpPluginBounces(t *testing.T) {
	sw, toCommander := newTestSwitch(t)
	evt := event.New(event.AddrCommander(), event.AddrDhcp(), event.None(), event.PluginApplyDhcpConfigEvent(nil))
	sw.Route(evt)

	select {
	case bounced := <-toCommander:
		assert.Equal(t, censerr.ErrKindPluginNotFound, bounced.UserEvent().Err.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected bounce")
	}
}

func TestPostponeDelaysDeliveryButPreservesUUID(t *testing.T) {
	sw, _ := newTestSwitch(t)
	link := &fakeLink{name: "p1"}
	sw.AttachPlugin(link, role.Info{Name: "p1", Roles: []role.Role{role.QueryAndApply}})

	evt := event.New(event.AddrCommander(), event.AddrUnicast("p1"), event.None(), event.PluginQueryPluginInfoEvent()).
		WithPostpone(50)
	sw.Route(evt)

	assert.Len(t, link.received(), 0, "postponed event must not be delivered immediately")

	require.Eventually(t, func() bool {
		return len(link.received()) == 1
	}, time.Second, 5*time.Millisecond)

	got := link.received()[0]
	assert.Equal(t, evt.ID(), got.ID())
	assert.Equal(t, uint32(0), got.PostponeMillis(), "delivered copy carries no further postpone")
}

func TestUserReplyDeliveredToAwaitingCaller(t *testing.T) {
	sw, _ := newTestSwitch(t)
	req := event.New(event.AddrUser(), event.AddrCommander(), event.QueryPluginInfo(), event.PluginNoneEvent())

	wait := sw.AwaitUser(req.ID())

	reply := req.Reply(event.AddrCommander(), event.QueryPluginInfoReply(nil), event.PluginNoneEvent())
	sw.Route(reply)

	select {
	case got := <-wait:
		assert.Equal(t, req.ID(), got.ID())
	case <-time.After(time.Second):
		t.Fatal("expected reply on the registered user wait channel")
	}
}

func TestCancelUserWaitReleasesWithoutReply(t *testing.T) {
	sw, _ := newTestSwitch(t)
	req := event.New(event.AddrUser(), event.AddrCommander(), event.QueryPluginInfo(), event.PluginNoneEvent())
	sw.AwaitUser(req.ID())
	sw.CancelUserWait(req.ID())

	// A late reply with no registered wait must not panic or block.
	late := req.Reply(event.AddrCommander(), event.QueryPluginInfoReply(nil), event.PluginNoneEvent())
	sw.Route(late)
}

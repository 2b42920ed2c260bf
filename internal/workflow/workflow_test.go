package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nispor/censorate/internal/censerr"
	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/netstate"
	"github.com/nispor/censorate/internal/role"
)

// pump drives wf exactly the way Commander.advanceOne does: build every
// request a ready task emits until the workflow blocks on a reply or
// finishes, returning the outgoing requests in emission order.
func pump(t *testing.T, wf *WorkFlow) []event.Event {
	t.Helper()
	var sent []event.Event
	for !wf.Done() && !wf.AwaitingReply() {
		evt, err := wf.BuildNextRequest()
		if err == ErrSkipTask {
			continue
		}
		require.NoError(t, err)
		sent = append(sent, evt)
	}
	return sent
}

func newRegistry(infos ...role.Info) *role.PluginRoles {
	return role.NewPluginRoles(1, infos)
}

// --- S1: QueryPluginInfo with 3 plugins -------------------------------------

func TestQueryPluginInfoThreePlugins(t *testing.T) {
	roles := newRegistry(
		role.Info{Name: "p1", Roles: []role.Role{role.QueryAndApply}},
		role.Info{Name: "p2", Roles: []role.Role{role.Dhcp}},
		role.Info{Name: "p3", Roles: []role.Role{role.Monitor}},
	)
	origin := event.New(event.AddrUser(), event.AddrCommander(), event.QueryPluginInfo(), event.PluginNoneEvent())
	wf := NewQueryPluginInfo(origin, roles)

	sent := pump(t, wf)
	require.Len(t, sent, 1, "exactly one AllPlugins fan-out event")
	assert.Equal(t, event.AddrTagAllPlugins, sent[0].Dst().Tag)

	for i, name := range []string{"p1", "p2", "p3"} {
		reply := sent[0].Reply(event.AddrUnicast(name), event.None(), event.PluginQueryPluginInfoReplyEvent(role.Info{Name: name}))
		done, err := wf.AbsorbReply(reply)
		require.NoError(t, err)
		if i < 2 {
			assert.False(t, done)
		} else {
			assert.True(t, done)
		}
	}

	term := wf.Terminal()
	require.Equal(t, event.UserQueryPluginInfoReply, term.UserEvent().Tag)
	got := map[string]bool{}
	for _, info := range term.UserEvent().PluginInfos {
		got[info.Name] = true
	}
	assert.Equal(t, map[string]bool{"p1": true, "p2": true, "p3": true}, got)
}

// --- S2: ApplyNetState, one QA plugin, no Dhcp plugin -----------------------

func TestApplyNetStateSingleRoundSuccess(t *testing.T) {
	roles := newRegistry(role.Info{Name: "qa1", Roles: []role.Role{role.QueryAndApply}})

	desired := netstate.NetworkState{
		Interfaces: netstate.InterfaceMap{
			"eth0": {
				Name: "eth0", State: netstate.IfaceUp,
				IPv4: &netstate.IPConfig{Enabled: true, Addresses: []string{"10.0.0.1/24"}},
			},
		},
	}
	origin := event.New(event.AddrUser(), event.AddrCommander(),
		event.ApplyNetState(desired, netstate.ApplyOption{}), event.PluginNoneEvent())
	wf := NewApplyNetState(origin, roles)

	// Step 1: query current state.
	sent := pump(t, wf)
	require.Len(t, sent, 1)
	assert.Equal(t, event.PluginQueryNetState, sent[0].PluginEvent().Tag)

	currentEmpty := netstate.NetworkState{Interfaces: netstate.InterfaceMap{}}
	absorb(t, wf, sent[0], "qa1", event.PluginQueryNetStateReplyEvent(currentEmpty, 0))

	// Step 2: no Dhcp plugin registered -> dhcp task is skipped, lands
	// straight on apply_netstate.
	sent = pump(t, wf)
	require.Len(t, sent, 1)
	assert.Equal(t, event.PluginApplyNetState, sent[0].PluginEvent().Tag)
	absorb(t, wf, sent[0], "qa1", event.PluginApplyNetStateReplyEvent())

	// Step 3: verify re-queries and this time matches desired.
	sent = pump(t, wf)
	require.Len(t, sent, 1)
	assert.Equal(t, event.PluginQueryNetState, sent[0].PluginEvent().Tag)
	absorb(t, wf, sent[0], "qa1", event.PluginQueryNetStateReplyEvent(desired, 0))

	pump(t, wf)
	require.True(t, wf.Done())
	_, failed := wf.Failed()
	assert.False(t, failed)

	term := wf.Terminal()
	assert.Equal(t, event.UserApplyNetStateReply, term.UserEvent().Tag)
}

// --- S3: verification fails once, then succeeds; exactly two ApplyNetState
// events are emitted total. ---------------------------------------------------

func TestApplyNetStateRetriesOnVerificationErrorThenSucceeds(t *testing.T) {
	roles := newRegistry(role.Info{Name: "qa1", Roles: []role.Role{role.QueryAndApply}})

	desired := netstate.NetworkState{
		Interfaces: netstate.InterfaceMap{
			"eth0": {Name: "eth0", State: netstate.IfaceUp},
		},
		Routes: []netstate.Route{{Destination: "0.0.0.0/0", NextHopAddr: "10.0.0.254", NextHopIface: "eth0"}},
	}
	origin := event.New(event.AddrUser(), event.AddrCommander(),
		event.ApplyNetState(desired, netstate.ApplyOption{}), event.PluginNoneEvent())
	wf := NewApplyNetState(origin, roles)

	applyCount := 0

	sent := pump(t, wf)
	absorb(t, wf, sent[0], "qa1", event.PluginQueryNetStateReplyEvent(netstate.NetworkState{Interfaces: netstate.InterfaceMap{}}, 0))

	sent = pump(t, wf)
	require.Len(t, sent, 1)
	assert.Equal(t, event.PluginApplyNetState, sent[0].PluginEvent().Tag)
	applyCount++
	absorb(t, wf, sent[0], "qa1", event.PluginApplyNetStateReplyEvent())

	// First verify: interface is up, but the route is missing.
	sent = pump(t, wf)
	require.Len(t, sent, 1)
	assert.Equal(t, event.PluginQueryNetState, sent[0].PluginEvent().Tag)
	stateNoRoute := netstate.NetworkState{
		Interfaces: netstate.InterfaceMap{"eth0": {Name: "eth0", State: netstate.IfaceUp}},
	}
	absorb(t, wf, sent[0], "qa1", event.PluginQueryNetStateReplyEvent(stateNoRoute, 0))

	// Expand schedules a postponed re-apply followed by a fresh verify.
	sent = pump(t, wf)
	require.Len(t, sent, 1, "retry re-sends apply_netstate")
	assert.Equal(t, event.PluginApplyNetState, sent[0].PluginEvent().Tag)
	assert.Greater(t, sent[0].PostponeMillis(), uint32(0), "retry honors backoff via postpone")
	applyCount++
	absorb(t, wf, sent[0], "qa1", event.PluginApplyNetStateReplyEvent())

	sent = pump(t, wf)
	require.Len(t, sent, 1)
	assert.Equal(t, event.PluginQueryNetState, sent[0].PluginEvent().Tag)
	absorb(t, wf, sent[0], "qa1", event.PluginQueryNetStateReplyEvent(desired, 0))

	pump(t, wf)
	require.True(t, wf.Done())
	_, failed := wf.Failed()
	require.False(t, failed)
	assert.Equal(t, 2, applyCount, "exactly two ApplyNetState events were emitted")
}

// --- S4: deadline exceeded --------------------------------------------------

func TestApplyNetStateDeadlineExceededFailsTimeout(t *testing.T) {
	roles := newRegistry(role.Info{Name: "qa1", Roles: []role.Role{role.QueryAndApply}})
	desired := netstate.NetworkState{Interfaces: netstate.InterfaceMap{"eth0": {Name: "eth0", State: netstate.IfaceUp}}}
	origin := event.New(event.AddrUser(), event.AddrCommander(),
		event.ApplyNetState(desired, netstate.ApplyOption{}), event.PluginNoneEvent())
	wf := NewApplyNetState(origin, roles)
	wf.Deadline = time.Now().Add(-1 * time.Millisecond)

	if !wf.Done() && wf.Expired(time.Now()) {
		wf.Fail(censerr.NewError(censerr.ErrKindTimeout, "workflow deadline exceeded"))
	}

	require.True(t, wf.Done())
	err, failed := wf.Failed()
	require.True(t, failed)
	assert.Equal(t, censerr.ErrKindTimeout, err.Kind)

	term := wf.Terminal()
	assert.True(t, term.UserEvent().IsErr())
	assert.Equal(t, wf.ID, term.ID())
}

// --- At-most-one terminal reply invariant -----------------------------------

func TestTerminalIsIdempotentAndPreservesOriginUUID(t *testing.T) {
	roles := newRegistry()
	origin := event.New(event.AddrUser(), event.AddrCommander(), event.QueryPluginInfo(), event.PluginNoneEvent())
	wf := NewQueryPluginInfo(origin, roles)

	pump(t, wf) // zero plugins -> ErrSkipTask advances straight to Done
	require.True(t, wf.Done())

	first := wf.Terminal()
	second := wf.Terminal()
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, origin.ID(), first.ID())
	assert.Equal(t, event.AddrUser(), first.Dst())
}

// absorb builds a reply Event correlated to wf's uuid (mirroring what the
// Switch routes back) and feeds it through AbsorbReply, failing the test on
// error.
func absorb(t *testing.T, wf *WorkFlow, req event.Event, from string, reply event.PluginEvent) {
	t.Helper()
	r := req.Reply(event.AddrUnicast(from), event.None(), reply)
	_, err := wf.AbsorbReply(r)
	require.NoError(t, err)
}

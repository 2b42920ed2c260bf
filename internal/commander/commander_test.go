package commander

import (
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nispor/censorate/internal/commander/mocks"
	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/netstate"
	"github.com/nispor/censorate/internal/role"
)

func newTestCommander(t *testing.T) (*Commander, chan event.Event, chan event.Event) {
	t.Helper()
	inbound := make(chan event.Event, 16)
	outbound := make(chan event.Event, 16)
	reg := role.NewRegistry()
	c := New(inbound, outbound, reg, WithTickInterval(time.Hour))
	return c, inbound, outbound
}

func recvOrFail(t *testing.T, ch chan event.Event) event.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

func TestQueryPluginInfoEndToEnd(t *testing.T) {
	c, _, outbound := newTestCommander(t)
	c.registry.Register(role.Info{Name: "p1", Roles: []role.Role{role.QueryAndApply}})
	c.registry.Register(role.Info{Name: "p2", Roles: []role.Role{role.Dhcp}})
	c.registry.Register(role.Info{Name: "p3", Roles: []role.Role{role.Monitor}})

	req := event.New(event.AddrUser(), event.AddrCommander(), event.QueryPluginInfo(), event.PluginNoneEvent())
	c.handleInbound(req)
	c.AdvanceQueue()

	fanout := recvOrFail(t, outbound)
	assert.Equal(t, event.AddrTagAllPlugins, fanout.Dst().Tag)

	for _, name := range []string{"p1", "p2", "p3"} {
		reply := fanout.Reply(event.AddrUnicast(name), event.None(), event.PluginQueryPluginInfoReplyEvent(role.Info{Name: name}))
		c.handleInbound(reply)
	}
	c.AdvanceQueue()

	term := recvOrFail(t, outbound)
	assert.Equal(t, event.AddrUser(), term.Dst())
	assert.Equal(t, req.ID(), term.ID())
	assert.Equal(t, event.UserQueryPluginInfoReply, term.UserEvent().Tag)
	assert.Len(t, term.UserEvent().PluginInfos, 3)

	assert.Equal(t, 0, c.Depth(), "workflow is retired after its terminal reply is emitted")
}

func TestUnknownReplyIsLoggedAndDropped(t *testing.T) {
	c, _, outbound := newTestCommander(t)

	stray := event.New(event.AddrUnicast("ghost"), event.AddrCommander(), event.None(), event.PluginQueryPluginInfoReplyEvent(role.Info{Name: "ghost"}))
	c.handleInbound(stray)
	c.AdvanceQueue()

	select {
	case evt := <-outbound:
		t.Fatalf("expected no outgoing event for an unmatched reply, got %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWorkflowExpiresAtDeadlineWithTimeoutError(t *testing.T) {
	c, _, outbound := newTestCommander(t)
	// A registered plugin never replies to the initial query_netstate
	// request, so the workflow sits AwaitingReply until its deadline fires.
	c.registry.Register(role.Info{Name: "qa1", Roles: []role.Role{role.QueryAndApply}})

	desired := netstate.NetworkState{Interfaces: netstate.InterfaceMap{"eth0": {Name: "eth0", State: netstate.IfaceUp}}}
	req := event.New(event.AddrUser(), event.AddrCommander(),
		event.ApplyNetState(desired, netstate.ApplyOption{}), event.PluginNoneEvent()).
		WithTimeout(20)
	c.handleInbound(req)
	c.AdvanceQueue() // emits the first query_netstate request; workflow now awaits a reply that never comes

	recvOrFail(t, outbound) // drain the query_netstate request

	time.Sleep(40 * time.Millisecond)
	c.AdvanceQueue()

	term := recvOrFail(t, outbound)
	assert.Equal(t, req.ID(), term.ID())
	require.True(t, term.UserEvent().IsErr())
	assert.Equal(t, "timeout", term.UserEvent().Err.Kind.String())
	assert.Equal(t, 0, c.Depth())
}

func TestGotDhcpLeaseSpawnsIndependentWorkflow(t *testing.T) {
	c, _, outbound := newTestCommander(t)
	c.registry.Register(role.Info{Name: "qa1", Roles: []role.Role{role.QueryAndApply}})
	c.registry.Register(role.Info{Name: "applier", Roles: []role.Role{role.ApplyDhcpLease}})

	// Start a QueryNetState workflow (A) that is left awaiting its reply.
	queryReq := event.New(event.AddrUser(), event.AddrCommander(), event.QueryNetState(netstate.Running()), event.PluginNoneEvent())
	c.handleInbound(queryReq)
	c.AdvanceQueue()
	queryFanout := recvOrFail(t, outbound)

	// An unrelated DHCP lease arrives mid-flight; it must spawn workflow B
	// and complete independently of A.
	leaseEvt := event.New(event.AddrUnicast("dhcp1"), event.AddrCommander(), event.None(),
		event.PluginGotDhcpLeaseEvent(netstate.DhcpLease{Family: netstate.DhcpV4, Interface: "eth0", Address: "192.0.2.5/24", LeaseTime: time.Hour}))
	c.handleInbound(leaseEvt)
	c.AdvanceQueue()

	leaseFanout := recvOrFail(t, outbound)
	assert.Equal(t, event.PluginApplyDhcpLease, leaseFanout.PluginEvent().Tag)
	assert.NotEqual(t, queryFanout.ID(), leaseFanout.ID(), "workflow B has its own uuid, independent of A")

	leaseReply := leaseFanout.Reply(event.AddrUnicast("applier"), event.None(), event.PluginApplyDhcpLeaseReplyEvent())
	c.handleInbound(leaseReply)
	c.AdvanceQueue()

	// B's terminal event is still emitted onto outbound (its dst is Daemon,
	// not User, but the Commander does not filter terminal delivery by
	// destination); drain it before touching A so the two workflows' replies
	// cannot be mistaken for one another.
	bTerm := recvOrFail(t, outbound)
	assert.Equal(t, leaseFanout.ID(), bTerm.ID())
	assert.NotEqual(t, queryReq.ID(), bTerm.ID())
	assert.Equal(t, 1, c.Depth(), "only workflow A remains live")

	queryReply := queryFanout.Reply(event.AddrUnicast("qa1"), event.None(), event.PluginQueryNetStateReplyEvent(netstate.NetworkState{}, 0))
	c.handleInbound(queryReply)
	c.AdvanceQueue()

	term := recvOrFail(t, outbound)
	assert.Equal(t, queryReq.ID(), term.ID())
	assert.Equal(t, 0, c.Depth())
}

func TestCompletedWorkflowIsAudited(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	audit := mocks.NewMockAuditRecorder(ctrl)
	audit.EXPECT().
		Record(gomock.Any(), gomock.Any(), "workflow_started", gomock.Any()).
		Return(nil).
		Times(1)
	audit.EXPECT().
		Record(gomock.Any(), gomock.Any(), "workflow_completed", gomock.Any()).
		Return(nil).
		Times(1)

	inbound := make(chan event.Event, 16)
	outbound := make(chan event.Event, 16)
	reg := role.NewRegistry()
	c := New(inbound, outbound, reg, WithTickInterval(time.Hour), WithAudit(audit))

	req := event.New(event.AddrUser(), event.AddrCommander(), event.QueryPluginInfo(), event.PluginNoneEvent())
	c.handleInbound(req)
	c.AdvanceQueue() // zero plugins registered: workflow completes immediately

	recvOrFail(t, outbound)
}

func TestAtMostOneTerminalReplyPerWorkflow(t *testing.T) {
	c, _, outbound := newTestCommander(t)
	req := event.New(event.AddrUser(), event.AddrCommander(), event.QueryPluginInfo(), event.PluginNoneEvent())
	c.handleInbound(req)
	c.AdvanceQueue() // zero plugins registered: skip straight to terminal

	term := recvOrFail(t, outbound)
	assert.Equal(t, req.ID(), term.ID())

	// Further ticks must not re-emit anything for the now-retired workflow.
	c.AdvanceQueue()
	c.AdvanceQueue()
	select {
	case evt := <-outbound:
		t.Fatalf("expected no further events for a retired workflow, got %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

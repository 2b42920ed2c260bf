// Package commander implements the Commander: the single-threaded actor
// that owns the WorkFlowQueue and drives every live WorkFlow forward on
// each wake-up, per spec §4.1. It holds only channels to the Switch --
// never direct handles to plugin connections (Design Note 9.2).
package commander

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nispor/censorate/internal/censerr"
	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/events"
	"github.com/nispor/censorate/internal/role"
	"github.com/nispor/censorate/internal/workflow"
)

//go:generate mockgen -destination=mocks/mock_audit.go -package=mocks github.com/nispor/censorate/internal/commander AuditRecorder

// AuditRecorder persists workflow lifecycle entries; internal/storage's
// Audit satisfies this without the Commander importing it directly.
type AuditRecorder interface {
	Record(ctx context.Context, workflowID, kind, detail string) error
}

// DefaultTickInterval is the Commander's periodic wake-up period (§4.1:
// "every 5 s").
const DefaultTickInterval = 5 * time.Second

// Commander owns the WorkFlowQueue exclusively; no other goroutine may
// read or write c.workflows (spec §3 "Ownership").
type Commander struct {
	inbound  <-chan event.Event
	outbound chan<- event.Event
	registry *role.Registry
	logger   *slog.Logger
	hub      *events.Hub
	audit    AuditRecorder
	tick     time.Duration

	workflows map[uuid.UUID]*workflow.WorkFlow
}

// Option configures optional Commander behavior.
type Option func(*Commander)

func WithLogger(l *slog.Logger) Option {
	return func(c *Commander) { c.logger = l }
}

// WithLogHub attaches a log fan-out the Commander publishes workflow
// lifecycle events to, instead of routing them as Commander-destined
// Events through the Switch (Design Note 9.4).
func WithLogHub(h *events.Hub) Option {
	return func(c *Commander) { c.hub = h }
}

func WithTickInterval(d time.Duration) Option {
	return func(c *Commander) { c.tick = d }
}

// WithAudit attaches a persistent audit log the Commander records every
// workflow start/completion/failure into.
func WithAudit(a AuditRecorder) Option {
	return func(c *Commander) { c.audit = a }
}

// New constructs a Commander. inbound is the channel the Switch delivers
// Commander-addressed Events on; outbound is the channel the Commander
// emits plugin/user-addressed Events to, for the Switch to route.
func New(inbound <-chan event.Event, outbound chan<- event.Event, registry *role.Registry, opts ...Option) *Commander {
	c := &Commander{
		inbound:   inbound,
		outbound:  outbound,
		registry:  registry,
		logger:    slog.Default(),
		tick:      DefaultTickInterval,
		workflows: make(map[uuid.UUID]*workflow.WorkFlow),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run blocks, alternating between the periodic tick and inbound events,
// calling AdvanceQueue on every wake-up, until ctx is canceled.
func (c *Commander) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.inbound:
			if !ok {
				return
			}
			c.handleInbound(evt)
			c.AdvanceQueue()
		case <-ticker.C:
			c.AdvanceQueue()
		}
	}
}

// Depth reports the number of live workflows, for introspection.
func (c *Commander) Depth() int {
	return len(c.workflows)
}

// handleInbound classifies one Event per spec §4.1 and either absorbs it
// into an existing WorkFlow, starts a new one, or drops it with a log
// line. A panic while handling one event is contained so the Commander's
// loop keeps running (spec: "Errors ... are logged but do not kill the
// loop").
func (c *Commander) handleInbound(evt event.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("commander: panic handling inbound event", "recover", r, "event", evt.String())
		}
	}()

	switch {
	case evt.IsPluginOriented() && evt.PluginEvent().Tag == event.PluginGotDhcpLease:
		c.onGotDhcpLease(evt)
	case evt.UserEvent().IsErr():
		c.absorbReply(evt)
	case evt.IsPluginOriented() && evt.PluginEvent().Tag.IsReply():
		c.absorbReply(evt)
	case evt.IsUserOriented():
		c.dispatchUser(evt)
	default:
		c.logger.Warn("commander: dropping unroutable event", "event", evt.String())
	}
}

func (c *Commander) onGotDhcpLease(evt event.Event) {
	lease := evt.PluginEvent().DhcpLease
	if lease == nil {
		c.logger.Error("commander: got_dhcp_lease event carries no lease")
		return
	}
	origin := event.New(event.AddrDaemon(), event.AddrCommander(), event.None(), event.PluginNoneEvent())
	wf := workflow.NewApplyDhcpLease(origin, c.registry.Snapshot(), *lease)
	c.start(wf)
}

// dispatchUser maps a user-kind event to its workflow factory (§4.2).
func (c *Commander) dispatchUser(evt event.Event) {
	roles := c.registry.Snapshot()
	var wf *workflow.WorkFlow

	switch evt.UserEvent().Tag {
	case event.UserQueryPluginInfo:
		wf = workflow.NewQueryPluginInfo(evt, roles)
	case event.UserQueryLogLevel:
		wf = workflow.NewQueryLogLevel(evt, roles)
	case event.UserChangeLogLevel:
		wf = workflow.NewChangeLogLevel(evt, evt.UserEvent().LogLevel)
	case event.UserQuit:
		wf = workflow.NewQuit(evt)
	case event.UserQueryNetState:
		wf = workflow.NewQueryNetState(evt, roles)
	case event.UserApplyNetState:
		wf = workflow.NewApplyNetState(evt, roles)
	case event.UserQueryCommits:
		wf = workflow.NewQueryCommits(evt, roles)
	default:
		c.logger.Warn("commander: no factory for user event", "tag", evt.UserEvent().Tag.String())
		c.send(evt.Reply(event.AddrCommander(),
			event.ErrorUser(censerr.NewError(censerr.ErrKindInvalidArgument, "unsupported request %s", evt.UserEvent().Tag)),
			event.PluginNoneEvent()))
		return
	}
	c.start(wf)
}

func (c *Commander) start(wf *workflow.WorkFlow) {
	c.workflows[wf.ID] = wf
	c.publish("workflow_started", wf)
}

// absorbReply delivers one reply Event to the WorkFlow whose uuid
// matches; a reply with no matching workflow is logged and dropped
// (spec §4.1: "if none matches, log and drop"). A reply is absorbed by
// at most one workflow and never re-dispatched (spec §3 invariant).
func (c *Commander) absorbReply(evt event.Event) {
	wf, ok := c.workflows[evt.ID()]
	if !ok {
		c.logger.Warn("commander: reply for unknown workflow", "id", evt.ID())
		return
	}
	if _, err := wf.AbsorbReply(evt); err != nil {
		wf.Fail(asCensErr(err))
	}
}

func asCensErr(err error) *censerr.Error {
	if ce, ok := err.(*censerr.Error); ok {
		return ce
	}
	return censerr.WrapError(censerr.ErrKindBug, err, "workflow task failed")
}

// AdvanceQueue walks every live WorkFlow, executing any task whose
// prerequisites are already met, emitting outgoing events, expiring
// deadlines, and retiring terminated workflows. Exported so tests and
// the daemon's startup path can drive it directly without waiting on a
// tick.
func (c *Commander) AdvanceQueue() {
	now := time.Now()
	for id, wf := range c.workflows {
		c.advanceOne(id, wf, now)
	}
}

func (c *Commander) advanceOne(id uuid.UUID, wf *workflow.WorkFlow, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("commander: panic advancing workflow", "id", id, "recover", r)
			wf.Fail(censerr.NewError(censerr.ErrKindBug, "internal panic: %v", r))
		}
	}()

	if !wf.Done() && wf.Expired(now) {
		wf.Fail(censerr.NewError(censerr.ErrKindTimeout, "workflow deadline exceeded"))
	}

	for !wf.Done() && !wf.AwaitingReply() {
		evt, err := wf.BuildNextRequest()
		if err == workflow.ErrSkipTask {
			continue
		}
		if err != nil {
			wf.Fail(asCensErr(err))
			break
		}
		c.send(evt)
	}

	if wf.Done() {
		c.send(wf.Terminal())
		if _, failed := wf.Failed(); failed {
			c.publish("workflow_failed", wf)
		} else {
			c.publish("workflow_completed", wf)
		}
		delete(c.workflows, id)
	}
}

func (c *Commander) send(evt event.Event) {
	c.outbound <- evt
}

type workflowLog struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func (c *Commander) publish(kind string, wf *workflow.WorkFlow) {
	if c.hub != nil {
		c.hub.Publish(kind, workflowLog{ID: wf.ID.String(), State: wf.State().String()})
	}
	if c.audit != nil {
		detail := ""
		if err, failed := wf.Failed(); failed {
			detail = err.Error()
		}
		if err := c.audit.Record(context.Background(), wf.ID.String(), kind, detail); err != nil {
			c.logger.Warn("commander: audit record failed", "error", err)
		}
	}
}

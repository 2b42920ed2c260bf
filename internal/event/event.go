package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Event is the single message type that flows through the Commander,
// the Switch, and the wire protocol. Exactly one of UserEvent or
// PluginEvent carries meaningful content for a given Tag; the other
// stays at its None zero value. Events are constructed once via New
// and never mutated afterward.
type Event struct {
	id uuid.UUID

	src Address
	dst Address

	userEvent   UserEvent
	pluginEvent PluginEvent

	timeoutMillis   uint32
	postponeMillis  uint32
}

// New builds an Event addressed from src to dst. Pass event.None() or
// event.PluginNoneEvent() for whichever half does not apply.
func New(src, dst Address, u UserEvent, p PluginEvent) Event {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the system clock/entropy source is
		// broken; fall back to a random v4 so callers never need to
		// handle an error from a pure constructor.
		id = uuid.New()
	}
	return Event{id: id, src: src, dst: dst, userEvent: u, pluginEvent: p}
}

// Reply builds a new Event carrying the given reply halves, addressed
// back to the original Src with the original ID preserved -- the
// pattern every workflow factory and the Commander's absorb-reply path
// use to correlate a response with its originating request.
func (e Event) Reply(from Address, u UserEvent, p PluginEvent) Event {
	return Event{id: e.id, src: from, dst: e.src, userEvent: u, pluginEvent: p}
}

func (e Event) ID() uuid.UUID            { return e.id }
func (e Event) Src() Address             { return e.src }
func (e Event) Dst() Address             { return e.dst }
func (e Event) UserEvent() UserEvent     { return e.userEvent }
func (e Event) PluginEvent() PluginEvent { return e.pluginEvent }
func (e Event) TimeoutMillis() uint32    { return e.timeoutMillis }
func (e Event) PostponeMillis() uint32   { return e.postponeMillis }

// WithTimeout returns a copy of e carrying the given per-workflow-task
// timeout, in milliseconds.
func (e Event) WithTimeout(millis uint32) Event {
	e.timeoutMillis = millis
	return e
}

// WithPostpone returns a copy of e carrying the given postpone delay:
// the Switch re-enqueues the event after this many milliseconds instead
// of dispatching it immediately.
func (e Event) WithPostpone(millis uint32) Event {
	e.postponeMillis = millis
	return e
}

// WithID returns a copy of e correlated to id instead of whatever id it
// was constructed with. WorkFlow.BuildNextRequest uses this to stamp
// every per-task request it emits with the WorkFlow's own correlation
// id, so that any reply the Switch routes back (which always preserves
// the request's id via Reply) can be matched back to the WorkFlow that
// is waiting for it, regardless of how many tasks that WorkFlow runs
// through over its lifetime.
func (e Event) WithID(id uuid.UUID) Event {
	e.id = id
	return e
}

func (e Event) IsUserOriented() bool {
	return e.userEvent.Tag != UserNone
}

func (e Event) IsPluginOriented() bool {
	return e.pluginEvent.Tag != PluginNone
}

func (e Event) String() string {
	return fmt.Sprintf("Event{id=%s src=%s dst=%s user=%s plugin=%s}",
		e.id, e.src, e.dst, e.userEvent.Tag, e.pluginEvent.Tag)
}

// wireEvent is the JSON projection of Event used by the length-prefixed
// frame codec in internal/transport. Event's own fields stay
// unexported so every other package is forced through the typed
// accessors and constructors above.
type wireEvent struct {
	ID     string      `json:"id"`
	Src    wireAddress `json:"src"`
	Dst    wireAddress `json:"dst"`
	User   UserEvent   `json:"user"`
	Plugin PluginEvent `json:"plugin"`

	TimeoutMillis  uint32 `json:"timeout_millis,omitempty"`
	PostponeMillis uint32 `json:"postpone_millis,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	srcWire, err := e.src.toWire()
	if err != nil {
		return nil, fmt.Errorf("event: marshal src: %w", err)
	}
	dstWire, err := e.dst.toWire()
	if err != nil {
		return nil, fmt.Errorf("event: marshal dst: %w", err)
	}
	return json.Marshal(wireEvent{
		ID:             e.id.String(),
		Src:            srcWire,
		Dst:            dstWire,
		User:           e.userEvent,
		Plugin:         e.pluginEvent,
		TimeoutMillis:  e.timeoutMillis,
		PostponeMillis: e.postponeMillis,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("event: decode: %w", err)
	}
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return fmt.Errorf("event: decode id: %w", err)
	}
	src, err := addressFromWire(w.Src)
	if err != nil {
		return fmt.Errorf("event: decode src: %w", err)
	}
	dst, err := addressFromWire(w.Dst)
	if err != nil {
		return fmt.Errorf("event: decode dst: %w", err)
	}
	e.id = id
	e.src = src
	e.dst = dst
	e.userEvent = w.User
	e.pluginEvent = w.Plugin
	e.timeoutMillis = w.TimeoutMillis
	e.postponeMillis = w.PostponeMillis
	return nil
}

// Package workflow implements the WorkFlow state machine: an ordered
// list of Tasks the Commander drives one at a time, threading results
// through a ShareData scratchpad until a terminal reply is produced.
package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/nispor/censorate/internal/censerr"
	"github.com/nispor/censorate/internal/event"
)

// ShareData is the scratchpad a WorkFlow's Tasks read from and write
// to. It lets a later Task (e.g. "apply") consume the result of an
// earlier one (e.g. "query current state") without the two Tasks
// knowing about each other directly. Keys are chosen by the workflow
// factory that builds the Tasks -- usually the producing Task's index,
// but a stable named key (e.g. "merged") where a dynamically generated
// continuation (see Task.Expand) needs to find a value independent of
// where it lands in the slice.
type ShareData map[any]any

// State is the WorkFlow's coarse lifecycle stage, used for logging and
// introspection; the authoritative progress is the cursor and Tasks
// slice, State just names the externally-visible phase.
type State int

const (
	Pending State = iota
	Running
	AwaitingReplies
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case AwaitingReplies:
		return "awaiting_replies"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrSkipTask is returned by a Task's BuildRequest when it determines
// there is nobody to send the request to (e.g. a Group(role) fan-out
// with zero registered members). The WorkFlow advances past the task
// without emitting an event or waiting for any reply.
var ErrSkipTask = &workflowError{"workflow: task has no recipients, skipped"}

// Task is a single step of a WorkFlow. BuildRequest produces the
// PluginEvent to send and the Address to send it to; AbsorbReply is
// called once for every reply the Switch delivers back for that
// request (a Task addressed to AllPlugins or a Group expects more than
// one reply) and reports whether the task is now satisfied.
type Task struct {
	Name string

	// BuildRequest renders the outgoing plugin event for this task from
	// whatever earlier tasks left in sd. Returning ErrSkipTask causes the
	// WorkFlow to advance past this task immediately.
	BuildRequest func(sd ShareData) (event.PluginEvent, event.Address, error)

	// AbsorbReply folds one reply into sd. done reports whether this
	// task has received everything it is waiting for.
	AbsorbReply func(sd ShareData, reply event.Event) (done bool, err error)

	// WantReplies is the number of replies this task waits for before
	// AbsorbReply's done is authoritative. Zero means exactly one.
	WantReplies int

	// FireAndForget marks a task whose request expects no reply at all
	// (e.g. a log-level change broadcast): the cursor advances as soon
	// as the request is built.
	FireAndForget bool

	TimeoutMillis uint32

	// PostponeMillis delays the Switch's delivery of this task's request,
	// used by retry continuations the verification loop injects via
	// Expand so the re-apply waits out its backoff window.
	PostponeMillis uint32

	// Expand runs once a task completes (all expected replies absorbed)
	// and may return additional Tasks to splice in immediately after it
	// -- the mechanism the verification retry loop uses to re-run
	// apply+verify without violating "tasks never re-execute": each
	// retry is a freshly generated Task, not a replay of this one.
	Expand func(sd ShareData) ([]Task, error)
}

// WorkFlow is a stateful, cursor-driven sequence of Tasks kept alive
// in the Commander's WorkFlowQueue between the request that started it
// and the terminal reply it eventually produces.
type WorkFlow struct {
	ID uuid.UUID

	// Origin is the Event (from User or a plugin) that started this
	// workflow; its Src is where BuildTerminal's reply is ultimately
	// addressed.
	Origin event.Event

	// Deadline is the wall-clock point past which the Commander fails
	// this WorkFlow with Timeout instead of advancing it further.
	Deadline time.Time

	Tasks []Task
	Data  ShareData

	cursor        int
	gotReplies    int
	awaitingReply bool
	failure       *censerr.Error
	BuildTerminal func(sd ShareData) (event.UserEvent, event.PluginEvent)
}

// New constructs a WorkFlow ready to run its first task. The origin
// event's TimeoutMillis is the requested budget; defaultMillis is substituted when
// the origin asked for none (timeout clamped to a default per spec §3).
func New(origin event.Event, defaultMillis uint32, tasks []Task, buildTerminal func(ShareData) (event.UserEvent, event.PluginEvent)) *WorkFlow {
	millis := origin.TimeoutMillis()
	if millis == 0 {
		millis = defaultMillis
	}
	return &WorkFlow{
		ID:            origin.ID(),
		Origin:        origin,
		Deadline:      time.Now().Add(time.Duration(millis) * time.Millisecond),
		Tasks:         tasks,
		Data:          ShareData{},
		BuildTerminal: buildTerminal,
	}
}

// Done reports whether every task has been completed or the workflow has
// failed outright.
func (w *WorkFlow) Done() bool {
	return w.failure != nil || w.cursor >= len(w.Tasks)
}

// Failed reports whether the workflow terminated with an error, and the
// error, if so.
func (w *WorkFlow) Failed() (*censerr.Error, bool) {
	return w.failure, w.failure != nil
}

// Fail forces the WorkFlow to its terminal Failed state; Terminal() will
// subsequently emit this error instead of calling BuildTerminal.
func (w *WorkFlow) Fail(err *censerr.Error) {
	if w.failure == nil {
		w.failure = err
	}
}

// Expired reports whether the WorkFlow's deadline has passed as of now.
func (w *WorkFlow) Expired(now time.Time) bool {
	return !w.Deadline.IsZero() && now.After(w.Deadline)
}

// State reports the WorkFlow's coarse lifecycle stage.
func (w *WorkFlow) State() State {
	switch {
	case w.failure != nil:
		return Failed
	case w.Done():
		return Done
	case w.awaitingReply:
		return AwaitingReplies
	case w.cursor == 0 && w.gotReplies == 0:
		return Pending
	default:
		return Running
	}
}

// CurrentTask returns the task the WorkFlow is waiting on, if any.
func (w *WorkFlow) CurrentTask() (*Task, bool) {
	if w.Done() {
		return nil, false
	}
	return &w.Tasks[w.cursor], true
}

// BuildNextRequest renders the event for the current task and wraps it
// addressed from the Commander. When the current task reports
// ErrSkipTask, BuildNextRequest advances past it and returns ErrSkipTask
// itself so the caller knows to call BuildNextRequest again (or observe
// Done()) instead of sending anything.
func (w *WorkFlow) BuildNextRequest() (event.Event, error) {
	task, ok := w.CurrentTask()
	if !ok {
		return event.Event{}, errNoMoreTasks
	}
	plugEvt, dst, err := task.BuildRequest(w.Data)
	if err != nil {
		if err == ErrSkipTask {
			w.cursor++
			w.gotReplies = 0
			w.awaitingReply = false
			return event.Event{}, ErrSkipTask
		}
		return event.Event{}, err
	}
	timeout := task.TimeoutMillis
	if timeout == 0 {
		timeout = taskTimeoutMillis
	}
	evt := event.New(event.AddrCommander(), dst, event.None(), plugEvt).
		WithID(w.ID).
		WithTimeout(timeout).
		WithPostpone(task.PostponeMillis)
	w.gotReplies = 0
	if task.FireAndForget {
		w.cursor++
		w.awaitingReply = false
	} else {
		w.awaitingReply = true
	}
	return evt, nil
}

// AwaitingReply reports whether the WorkFlow is currently blocked on a
// reply to the request its last BuildNextRequest produced. When false
// (a fire-and-forget task just ran, or nothing has been built yet) the
// Commander should call BuildNextRequest again immediately instead of
// waiting on the Switch.
func (w *WorkFlow) AwaitingReply() bool {
	return w.awaitingReply
}

// AbsorbReply folds one reply into the current task's ShareData slot
// and advances the cursor once the task has everything it is waiting
// for. It reports whether the WorkFlow as a whole is now Done.
func (w *WorkFlow) AbsorbReply(reply event.Event) (bool, error) {
	task, ok := w.CurrentTask()
	if !ok {
		return true, nil
	}
	done, err := task.AbsorbReply(w.Data, reply)
	if err != nil {
		return false, err
	}
	w.gotReplies++
	want := task.WantReplies
	if want == 0 {
		want = 1
	}
	if done && w.gotReplies >= want {
		if task.Expand != nil {
			extra, err := task.Expand(w.Data)
			if err != nil {
				return false, err
			}
			if len(extra) > 0 {
				tail := append([]Task{}, w.Tasks[w.cursor+1:]...)
				w.Tasks = append(w.Tasks[:w.cursor+1], append(extra, tail...)...)
			}
		}
		w.cursor++
		w.awaitingReply = false
	}
	return w.Done(), nil
}

// Terminal renders the reply Event the Commander sends back to
// Origin.Src once the WorkFlow is Done: the failure path if Fail was
// called, otherwise BuildTerminal's positive reply.
func (w *WorkFlow) Terminal() event.Event {
	if w.failure != nil {
		return w.Origin.Reply(event.AddrCommander(), event.ErrorUser(w.failure), event.PluginNoneEvent())
	}
	u, p := w.BuildTerminal(w.Data)
	return w.Origin.Reply(event.AddrCommander(), u, p)
}

var errNoMoreTasks = &workflowError{"workflow: no more tasks"}

type workflowError struct{ msg string }

func (e *workflowError) Error() string { return e.msg }

package workflow

import (
	"fmt"
	"time"

	"github.com/nispor/censorate/internal/censerr"
	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/netstate"
	"github.com/nispor/censorate/internal/retry"
	"github.com/nispor/censorate/internal/role"
)

// DefaultTimeoutMillis is substituted for a user event that did not
// request a timeout, clamping the WorkFlow's deadline the way spec §3
// requires ("deadline = creation + user-supplied timeout, clamped to a
// default").
const DefaultTimeoutMillis uint32 = 30_000

// ApplyDefaultTimeoutMillis is the larger default budget ApplyNetState
// gets, since its verify/retry loop (§4.4) needs headroom for more than
// one apply+verify round trip.
const ApplyDefaultTimeoutMillis uint32 = 60_000

// taskTimeoutMillis is the per-request hint plugins receive; it is
// distinct from the WorkFlow's overall Deadline, which the Commander
// enforces independently.
const taskTimeoutMillis uint32 = 10_000

func effectiveDeadline(origin event.Event, defaultMillis uint32) time.Time {
	millis := origin.TimeoutMillis()
	if millis == 0 {
		millis = defaultMillis
	}
	return time.Now().Add(time.Duration(millis) * time.Millisecond)
}

// replyError extracts the censerr carried by a terminal Error reply, if
// this event is one; every task's AbsorbReply checks this first so a
// plugin-reported failure is recognized regardless of which PluginEvent
// tag the task itself expects.
func replyError(reply event.Event) (*censerr.Error, bool) {
	if reply.UserEvent().IsErr() {
		return reply.UserEvent().Err, true
	}
	return nil, false
}

// pluginName recovers the name of the plugin that sent reply, valid for
// any reply routed back through a Unicast, Group, or AllPlugins request.
func pluginName(reply event.Event) string {
	return reply.Src().Name
}

// --- QueryPluginInfo -------------------------------------------------

// NewQueryPluginInfo builds the workflow for spec §4.2 QueryPluginInfo:
// fan out to AllPlugins, collect one PluginInfo per connected plugin in
// arrival order, and reply with the concatenated list.
func NewQueryPluginInfo(origin event.Event, roles *role.PluginRoles) *WorkFlow {
	tasks := []Task{{
		Name: "query_plugin_info",
		BuildRequest: func(sd ShareData) (event.PluginEvent, event.Address, error) {
			if roles.AllPluginCount() == 0 {
				return event.PluginEvent{}, event.Address{}, ErrSkipTask
			}
			return event.PluginQueryPluginInfoEvent(), event.AddrAllPlugins(), nil
		},
		WantReplies: roles.AllPluginCount(),
		AbsorbReply: func(sd ShareData, reply event.Event) (bool, error) {
			if err, ok := replyError(reply); ok {
				return false, err
			}
			infos, _ := sd[0].([]role.Info)
			sd[0] = append(infos, reply.PluginEvent().PluginInfo)
			return true, nil
		},
	}}
	return New(origin, DefaultTimeoutMillis, tasks, func(sd ShareData) (event.UserEvent, event.PluginEvent) {
		infos, _ := sd[0].([]role.Info)
		return event.QueryPluginInfoReply(infos), event.PluginNoneEvent()
	})
}

// --- QueryLogLevel -----------------------------------------------------

func NewQueryLogLevel(origin event.Event, roles *role.PluginRoles) *WorkFlow {
	tasks := []Task{{
		Name: "query_log_level",
		BuildRequest: func(sd ShareData) (event.PluginEvent, event.Address, error) {
			if roles.AllPluginCount() == 0 {
				return event.PluginEvent{}, event.Address{}, ErrSkipTask
			}
			return event.PluginQueryLogLevelEvent(), event.AddrAllPlugins(), nil
		},
		WantReplies: roles.AllPluginCount(),
		AbsorbReply: func(sd ShareData, reply event.Event) (bool, error) {
			if err, ok := replyError(reply); ok {
				return false, err
			}
			levels, _ := sd[0].(map[string]event.LogLevel)
			if levels == nil {
				levels = map[string]event.LogLevel{}
			}
			levels[pluginName(reply)] = reply.PluginEvent().LogLevel
			sd[0] = levels
			return true, nil
		},
	}}
	return New(origin, DefaultTimeoutMillis, tasks, func(sd ShareData) (event.UserEvent, event.PluginEvent) {
		levels, _ := sd[0].(map[string]event.LogLevel)
		return event.QueryLogLevelReply(levels), event.PluginNoneEvent()
	})
}

// --- ChangeLogLevel ------------------------------------------------------

func NewChangeLogLevel(origin event.Event, level event.LogLevel) *WorkFlow {
	tasks := []Task{{
		Name:          "change_log_level",
		FireAndForget: true,
		BuildRequest: func(sd ShareData) (event.PluginEvent, event.Address, error) {
			return event.PluginChangeLogLevelEvent(level), event.AddrAllPlugins(), nil
		},
	}}
	return New(origin, DefaultTimeoutMillis, tasks, func(sd ShareData) (event.UserEvent, event.PluginEvent) {
		return event.VoidReply(), event.PluginNoneEvent()
	})
}

// --- Quit ----------------------------------------------------------------

func NewQuit(origin event.Event) *WorkFlow {
	tasks := []Task{{
		Name:          "quit",
		FireAndForget: true,
		BuildRequest: func(sd ShareData) (event.PluginEvent, event.Address, error) {
			return event.PluginQuitEvent(), event.AddrAllPlugins(), nil
		},
	}}
	return New(origin, DefaultTimeoutMillis, tasks, func(sd ShareData) (event.UserEvent, event.PluginEvent) {
		return event.VoidReply(), event.PluginNoneEvent()
	})
}

// --- QueryNetState ---------------------------------------------------------

// queryNetStateTask builds the single task shared by QueryNetState and
// the first step of ApplyNetState: fan out to every QueryAndApply plugin
// (or the Config plugin for Saved/PostLastCommit options, per §6.3), and
// fold the replies with MergeStates.
func queryNetStateTask(opt netstate.QueryOption, roles *role.PluginRoles) Task {
	dst := event.AddrGroup(role.QueryAndApply)
	count := roles.RoleCount(role.QueryAndApply)
	if opt.Kind != netstate.QueryRunning {
		dst = event.AddrGroup(role.Config)
		count = roles.RoleCount(role.Config)
	}
	return Task{
		Name: "query_netstate",
		BuildRequest: func(sd ShareData) (event.PluginEvent, event.Address, error) {
			if count == 0 {
				if opt.Kind != netstate.QueryRunning {
					return event.PluginEvent{}, event.Address{}, censerr.NewError(
						censerr.ErrKindPluginNotFound, "no config plugin registered")
				}
				return event.PluginEvent{}, event.Address{}, ErrSkipTask
			}
			return event.PluginQueryNetStateEvent(opt), dst, nil
		},
		WantReplies: count,
		AbsorbReply: func(sd ShareData, reply event.Event) (bool, error) {
			if err, ok := replyError(reply); ok {
				// Collect-and-continue: a single plugin's failure to
				// report state does not fail the whole query as long as
				// at least one other reply succeeds.
				failed, _ := sd["query_netstate_errors"].(int)
				failed++
				sd["query_netstate_errors"] = failed
				if failed >= count {
					return false, err
				}
				return true, nil
			}
			replies, _ := sd[0].([]netstate.ReplyWithPriority)
			p := reply.PluginEvent()
			replies = append(replies, netstate.ReplyWithPriority{
				State:    derefState(p.NetState),
				Priority: p.StatePriority,
				Arrival:  len(replies),
			})
			sd[0] = replies
			return true, nil
		},
	}
}

func derefState(s *netstate.NetworkState) netstate.NetworkState {
	if s == nil {
		return netstate.NetworkState{}
	}
	return *s
}

func NewQueryNetState(origin event.Event, roles *role.PluginRoles) *WorkFlow {
	opt := origin.UserEvent().QueryOption
	tasks := []Task{queryNetStateTask(opt, roles)}
	return New(origin, DefaultTimeoutMillis, tasks, func(sd ShareData) (event.UserEvent, event.PluginEvent) {
		replies, _ := sd[0].([]netstate.ReplyWithPriority)
		merged := netstate.MergeStates(replies)
		return event.QueryNetStateReply(merged), event.PluginNoneEvent()
	})
}

// --- ApplyNetState ----------------------------------------------------------

// NewApplyNetState implements spec §4.2's 6-step ApplyNetState sequence:
// query current, compute the merged desired state, apply DHCP changes
// (skipped if no Dhcp plugin), apply to every QueryAndApply plugin,
// then verify with bounded exponential backoff until the workflow
// deadline expires.
func NewApplyNetState(origin event.Event, roles *role.PluginRoles) *WorkFlow {
	desired := derefState(origin.UserEvent().NetState)
	applyOpt := origin.UserEvent().ApplyOption
	deadline := effectiveDeadline(origin, ApplyDefaultTimeoutMillis)
	backoff := retry.New()

	queryTask := queryNetStateTask(netstate.Running(), roles)

	dhcpTask := Task{
		Name: "apply_dhcp_config",
		BuildRequest: func(sd ShareData) (event.PluginEvent, event.Address, error) {
			current := netstate.MergeStates(firstReplies(sd, 0))
			merged, err := netstate.NewMergedNetworkState(desired, current)
			if err != nil {
				return event.PluginEvent{}, event.Address{}, censerr.WrapError(
					censerr.ErrKindInvalidArgument, err, "compute merged network state")
			}
			sd["merged"] = merged
			dhcpPlugin, ok := roles.DhcpPlugin()
			if !ok {
				return event.PluginEvent{}, event.Address{}, ErrSkipTask
			}
			return event.PluginApplyDhcpConfigEvent(merged.DhcpChanges()), event.AddrUnicast(dhcpPlugin), nil
		},
		WantReplies: 1,
		AbsorbReply: func(sd ShareData, reply event.Event) (bool, error) {
			if err, ok := replyError(reply); ok {
				return false, err
			}
			return true, nil
		},
	}

	applyTask := Task{
		Name: "apply_netstate",
		BuildRequest: func(sd ShareData) (event.PluginEvent, event.Address, error) {
			count := roles.RoleCount(role.QueryAndApply)
			if count == 0 {
				return event.PluginEvent{}, event.Address{}, censerr.NewError(
					censerr.ErrKindPluginNotFound, "no query_and_apply plugin registered")
			}
			merged := sd["merged"].(*netstate.MergedNetworkState)
			return event.PluginApplyNetStateEvent(merged.Desired, applyOpt), event.AddrGroup(role.QueryAndApply), nil
		},
		WantReplies: roles.RoleCount(role.QueryAndApply),
		AbsorbReply: func(sd ShareData, reply event.Event) (bool, error) {
			if err, ok := replyError(reply); ok {
				return false, err
			}
			return true, nil
		},
	}

	var verifyTask func(attempt int) Task
	verifyTask = func(attempt int) Task {
		key := verifyKey(attempt)
		return Task{
			Name: "verify_netstate",
			BuildRequest: func(sd ShareData) (event.PluginEvent, event.Address, error) {
				count := roles.RoleCount(role.QueryAndApply)
				if count == 0 {
					return event.PluginEvent{}, event.Address{}, ErrSkipTask
				}
				return event.PluginQueryNetStateEvent(netstate.Running()), event.AddrGroup(role.QueryAndApply), nil
			},
			WantReplies: roles.RoleCount(role.QueryAndApply),
			AbsorbReply: func(sd ShareData, reply event.Event) (bool, error) {
				if err, ok := replyError(reply); ok {
					_ = err
					return true, nil
				}
				replies, _ := sd[key].([]netstate.ReplyWithPriority)
				p := reply.PluginEvent()
				replies = append(replies, netstate.ReplyWithPriority{
					State:    derefState(p.NetState),
					Priority: p.StatePriority,
					Arrival:  len(replies),
				})
				sd[key] = replies
				return true, nil
			},
			Expand: func(sd ShareData) ([]Task, error) {
				current := netstate.MergeStates(firstReplies(sd, key))
				merged := sd["merged"].(*netstate.MergedNetworkState)
				verr := merged.Verify(current)
				if verr == nil {
					sd["verified"] = true
					return nil, nil
				}
				if censerr.KindOf(verr) != censerr.ErrKindVerificationError {
					return nil, verr
				}
				delay := backoff.Next()
				now := time.Now()
				if !retry.FitsBefore(now, delay, deadline) {
					return nil, censerr.WrapError(censerr.ErrKindTimeout, verr, "apply did not converge before deadline")
				}
				reapply := applyTask
				reapply.PostponeMillis = uint32(delay / time.Millisecond)
				return []Task{reapply, verifyTask(attempt + 1)}, nil
			},
		}
	}

	tasks := []Task{queryTask, dhcpTask, applyTask, verifyTask(0)}
	return New(origin, ApplyDefaultTimeoutMillis, tasks, func(sd ShareData) (event.UserEvent, event.PluginEvent) {
		return event.ApplyNetStateReply(), event.PluginNoneEvent()
	})
}

func firstReplies(sd ShareData, key any) []netstate.ReplyWithPriority {
	replies, _ := sd[key].([]netstate.ReplyWithPriority)
	return replies
}

// verifyKey namespaces each verify attempt's accumulated replies so a
// retried verify task does not clobber the previous attempt's partial
// data -- not that it is read again, but so two in-flight attempts can
// never alias the same ShareData slot.
func verifyKey(attempt int) string {
	return fmt.Sprintf("verify_%d", attempt)
}

// --- ApplyDhcpLease ---------------------------------------------------------

// NewApplyDhcpLease builds the workflow spec §4.2 describes for an
// unsolicited GotDhcpLease plugin event: dispatch ApplyDhcpLease to
// every plugin holding the ApplyDhcpLease role and await Done. Its
// Origin has Src=Daemon, so Terminal() produces no user-visible reply.
func NewApplyDhcpLease(origin event.Event, roles *role.PluginRoles, lease netstate.DhcpLease) *WorkFlow {
	tasks := []Task{{
		Name: "apply_dhcp_lease",
		BuildRequest: func(sd ShareData) (event.PluginEvent, event.Address, error) {
			if lease.Family == netstate.DhcpV6 {
				return event.PluginEvent{}, event.Address{}, censerr.NewError(
					censerr.ErrKindBug, "dhcpv6 lease application not implemented")
			}
			if roles.RoleCount(role.ApplyDhcpLease) == 0 {
				return event.PluginEvent{}, event.Address{}, ErrSkipTask
			}
			return event.PluginApplyDhcpLeaseEvent(lease), event.AddrGroup(role.ApplyDhcpLease), nil
		},
		WantReplies: roles.RoleCount(role.ApplyDhcpLease),
		AbsorbReply: func(sd ShareData, reply event.Event) (bool, error) {
			if err, ok := replyError(reply); ok {
				return false, err
			}
			return true, nil
		},
	}}
	return New(origin, DefaultTimeoutMillis, tasks, func(sd ShareData) (event.UserEvent, event.PluginEvent) {
		return event.VoidReply(), event.PluginNoneEvent()
	})
}

// --- QueryCommits ------------------------------------------------------------

// NewQueryCommits is served by the Config-role plugin only. Per the
// resolution of Open Question 1, an absent Config plugin fails fast with
// PluginNotFound rather than silently substituting an empty history.
func NewQueryCommits(origin event.Event, roles *role.PluginRoles) *WorkFlow {
	opt := origin.UserEvent().CommitOption
	tasks := []Task{{
		Name: "query_commits",
		BuildRequest: func(sd ShareData) (event.PluginEvent, event.Address, error) {
			configPlugin := roles.RoleMembers(role.Config)
			if len(configPlugin) == 0 {
				return event.PluginEvent{}, event.Address{}, censerr.NewError(
					censerr.ErrKindPluginNotFound, "no config plugin registered")
			}
			return event.PluginQueryCommitsEvent(opt), event.AddrUnicast(configPlugin[0]), nil
		},
		WantReplies: 1,
		AbsorbReply: func(sd ShareData, reply event.Event) (bool, error) {
			if err, ok := replyError(reply); ok {
				return false, err
			}
			sd[0] = reply.PluginEvent().Commits
			return true, nil
		},
	}}
	return New(origin, DefaultTimeoutMillis, tasks, func(sd ShareData) (event.UserEvent, event.PluginEvent) {
		commits, _ := sd[0].([]netstate.CommitInfo)
		return event.QueryCommitsReply(commits), event.PluginNoneEvent()
	})
}

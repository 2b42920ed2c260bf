package event

import (
	"github.com/nispor/censorate/internal/netstate"
	"github.com/nispor/censorate/internal/role"
)

// PluginEventTag discriminates the cases of PluginEvent.
type PluginEventTag int

const (
	PluginNone PluginEventTag = iota
	PluginQuit

	PluginQueryPluginInfo
	PluginQueryPluginInfoReply

	PluginChangeLogLevel
	PluginQueryLogLevel
	PluginQueryLogLevelReply

	PluginQueryNetState
	PluginQueryRelatedNetState
	PluginQueryNetStateReply

	PluginApplyNetState
	PluginApplyNetStateReply

	PluginQueryDhcpConfig
	PluginQueryDhcpConfigReply
	PluginApplyDhcpConfig
	PluginApplyDhcpConfigReply

	PluginGotDhcpLease
	PluginApplyDhcpLease
	PluginApplyDhcpLeaseReply

	PluginRegisterMonitorRule
	PluginRemoveMonitorRule
	PluginGotMonitorEvent

	PluginQueryCommits
	PluginQueryCommitsReply
)

var pluginEventTagNames = [...]string{
	PluginNone:                 "none",
	PluginQuit:                 "quit",
	PluginQueryPluginInfo:      "query_plugin_info",
	PluginQueryPluginInfoReply: "query_plugin_info_reply",
	PluginChangeLogLevel:       "change_log_level",
	PluginQueryLogLevel:        "query_log_level",
	PluginQueryLogLevelReply:   "query_log_level_reply",
	PluginQueryNetState:        "query_netstate",
	PluginQueryRelatedNetState: "query_related_netstate",
	PluginQueryNetStateReply:   "query_netstate_reply",
	PluginApplyNetState:        "apply_netstate",
	PluginApplyNetStateReply:   "apply_netstate_reply",
	PluginQueryDhcpConfig:      "query_dhcp_config",
	PluginQueryDhcpConfigReply: "query_dhcp_config_reply",
	PluginApplyDhcpConfig:      "apply_dhcp_config",
	PluginApplyDhcpConfigReply: "apply_dhcp_config_reply",
	PluginGotDhcpLease:         "got_dhcp_lease",
	PluginApplyDhcpLease:       "apply_dhcp_lease",
	PluginApplyDhcpLeaseReply:  "apply_dhcp_lease_reply",
	PluginRegisterMonitorRule:  "register_monitor_rule",
	PluginRemoveMonitorRule:    "remove_monitor_rule",
	PluginGotMonitorEvent:      "got_monitor_event",
	PluginQueryCommits:         "query_commits",
	PluginQueryCommitsReply:    "query_commits_reply",
}

func (t PluginEventTag) String() string {
	if int(t) < 0 || int(t) >= len(pluginEventTagNames) {
		return "unknown"
	}
	return pluginEventTagNames[t]
}

// PluginEvent is the plugin-facing half of an Event: a request the
// Commander addresses to one or more plugins, or the reply a plugin
// sends back.
type PluginEvent struct {
	Tag PluginEventTag

	PluginInfo role.Info
	LogLevel   LogLevel

	QueryOption  netstate.QueryOption
	RelatedState *netstate.NetworkState

	// NetState carries either the raw per-plugin reply state
	// (QueryNetStateReply) or the merged desired state to apply
	// (ApplyNetState).
	NetState      *netstate.NetworkState
	StatePriority uint32
	ApplyOption   netstate.ApplyOption

	Interfaces []string // QueryDhcpConfig: empty means all
	DhcpConfig []netstate.DhcpConfig
	DhcpLease  *netstate.DhcpLease

	MonitorRule  *netstate.MonitorRule
	MonitorEvent *netstate.MonitorEvent

	CommitOption netstate.CommitOption
	Commits      []netstate.CommitInfo
}

func PluginNoneEvent() PluginEvent { return PluginEvent{Tag: PluginNone} }
func PluginQuitEvent() PluginEvent { return PluginEvent{Tag: PluginQuit} }

func PluginQueryPluginInfoEvent() PluginEvent {
	return PluginEvent{Tag: PluginQueryPluginInfo}
}

func PluginQueryPluginInfoReplyEvent(info role.Info) PluginEvent {
	return PluginEvent{Tag: PluginQueryPluginInfoReply, PluginInfo: info}
}

func PluginChangeLogLevelEvent(l LogLevel) PluginEvent {
	return PluginEvent{Tag: PluginChangeLogLevel, LogLevel: l}
}

func PluginQueryLogLevelEvent() PluginEvent { return PluginEvent{Tag: PluginQueryLogLevel} }

func PluginQueryLogLevelReplyEvent(l LogLevel) PluginEvent {
	return PluginEvent{Tag: PluginQueryLogLevelReply, LogLevel: l}
}

func PluginQueryNetStateEvent(opt netstate.QueryOption) PluginEvent {
	return PluginEvent{Tag: PluginQueryNetState, QueryOption: opt}
}

func PluginQueryNetStateReplyEvent(state netstate.NetworkState, priority uint32) PluginEvent {
	return PluginEvent{Tag: PluginQueryNetStateReply, NetState: &state, StatePriority: priority}
}

func PluginApplyNetStateEvent(merged netstate.NetworkState, opt netstate.ApplyOption) PluginEvent {
	return PluginEvent{Tag: PluginApplyNetState, NetState: &merged, ApplyOption: opt}
}

func PluginApplyNetStateReplyEvent() PluginEvent {
	return PluginEvent{Tag: PluginApplyNetStateReply}
}

func PluginQueryDhcpConfigEvent(ifaces []string) PluginEvent {
	return PluginEvent{Tag: PluginQueryDhcpConfig, Interfaces: ifaces}
}

func PluginQueryDhcpConfigReplyEvent(cfgs []netstate.DhcpConfig) PluginEvent {
	return PluginEvent{Tag: PluginQueryDhcpConfigReply, DhcpConfig: cfgs}
}

func PluginApplyDhcpConfigEvent(cfgs []netstate.DhcpConfig) PluginEvent {
	return PluginEvent{Tag: PluginApplyDhcpConfig, DhcpConfig: cfgs}
}

func PluginApplyDhcpConfigReplyEvent() PluginEvent {
	return PluginEvent{Tag: PluginApplyDhcpConfigReply}
}

func PluginGotDhcpLeaseEvent(lease netstate.DhcpLease) PluginEvent {
	return PluginEvent{Tag: PluginGotDhcpLease, DhcpLease: &lease}
}

func PluginApplyDhcpLeaseEvent(lease netstate.DhcpLease) PluginEvent {
	return PluginEvent{Tag: PluginApplyDhcpLease, DhcpLease: &lease}
}

func PluginApplyDhcpLeaseReplyEvent() PluginEvent {
	return PluginEvent{Tag: PluginApplyDhcpLeaseReply}
}

func PluginQueryCommitsEvent(opt netstate.CommitOption) PluginEvent {
	return PluginEvent{Tag: PluginQueryCommits, CommitOption: opt}
}

func PluginQueryCommitsReplyEvent(commits []netstate.CommitInfo) PluginEvent {
	return PluginEvent{Tag: PluginQueryCommitsReply, Commits: commits}
}

// IsReply reports whether this PluginEvent tag is one the Commander's
// workflow absorption logic treats as a reply rather than an unsolicited
// notification or a one-way command.
func (t PluginEventTag) IsReply() bool {
	switch t {
	case PluginQueryPluginInfoReply,
		PluginQueryLogLevelReply,
		PluginQueryNetStateReply,
		PluginApplyNetStateReply,
		PluginQueryDhcpConfigReply,
		PluginApplyDhcpConfigReply,
		PluginApplyDhcpLeaseReply,
		PluginGotMonitorEvent,
		PluginQueryCommitsReply:
		return true
	default:
		return false
	}
}

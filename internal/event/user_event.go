package event

import (
	"github.com/nispor/censorate/internal/censerr"
	"github.com/nispor/censorate/internal/netstate"
	"github.com/nispor/censorate/internal/role"
)

// UserEventTag discriminates the cases of UserEvent. Exactly one kind is
// meaningful per tag; the rest of UserEvent's fields are zero.
type UserEventTag int

const (
	UserNone UserEventTag = iota
	UserQuit
	UserError
	UserVoidReply

	UserQueryPluginInfo
	UserQueryPluginInfoReply

	UserChangeLogLevel
	UserQueryLogLevel
	UserQueryLogLevelReply

	UserQueryNetState
	UserQueryNetStateReply

	UserApplyNetState
	UserApplyNetStateReply

	UserQueryCommits
	UserQueryCommitsReply
)

var userEventTagNames = [...]string{
	UserNone:                  "none",
	UserQuit:                  "quit",
	UserError:                 "error",
	UserVoidReply:             "void_reply",
	UserQueryPluginInfo:       "query_plugin_info",
	UserQueryPluginInfoReply:  "query_plugin_info_reply",
	UserChangeLogLevel:        "change_log_level",
	UserQueryLogLevel:         "query_log_level",
	UserQueryLogLevelReply:    "query_log_level_reply",
	UserQueryNetState:         "query_netstate",
	UserQueryNetStateReply:    "query_netstate_reply",
	UserApplyNetState:         "apply_netstate",
	UserApplyNetStateReply:    "apply_netstate_reply",
	UserQueryCommits:          "query_commits",
	UserQueryCommitsReply:     "query_commits_reply",
}

func (t UserEventTag) String() string {
	if int(t) < 0 || int(t) >= len(userEventTagNames) {
		return "unknown"
	}
	return userEventTagNames[t]
}

// UserEvent is the user-facing half of an Event: either a request the
// CLI/API made of the Commander, or the terminal reply a workflow
// produces for it. Exactly one kind coexists with the PluginEvent half of
// the same Event, except Error which can terminate either a user- or
// plugin-originated workflow.
type UserEvent struct {
	Tag UserEventTag

	Err *censerr.Error

	PluginInfos []role.Info
	LogLevel    LogLevel
	LogLevels   map[string]LogLevel

	QueryOption netstate.QueryOption
	NetState    *netstate.NetworkState

	ApplyOption netstate.ApplyOption

	CommitOption netstate.CommitOption
	Commits      []netstate.CommitInfo
}

func None() UserEvent     { return UserEvent{Tag: UserNone} }
func Quit() UserEvent     { return UserEvent{Tag: UserQuit} }
func VoidReply() UserEvent { return UserEvent{Tag: UserVoidReply} }

func ErrorUser(err *censerr.Error) UserEvent {
	return UserEvent{Tag: UserError, Err: err}
}

func QueryPluginInfo() UserEvent { return UserEvent{Tag: UserQueryPluginInfo} }

func QueryPluginInfoReply(infos []role.Info) UserEvent {
	return UserEvent{Tag: UserQueryPluginInfoReply, PluginInfos: infos}
}

func ChangeLogLevel(l LogLevel) UserEvent {
	return UserEvent{Tag: UserChangeLogLevel, LogLevel: l}
}

func QueryLogLevel() UserEvent { return UserEvent{Tag: UserQueryLogLevel} }

func QueryLogLevelReply(levels map[string]LogLevel) UserEvent {
	return UserEvent{Tag: UserQueryLogLevelReply, LogLevels: levels}
}

func QueryNetState(opt netstate.QueryOption) UserEvent {
	return UserEvent{Tag: UserQueryNetState, QueryOption: opt}
}

func QueryNetStateReply(state netstate.NetworkState) UserEvent {
	return UserEvent{Tag: UserQueryNetStateReply, NetState: &state}
}

func ApplyNetState(desired netstate.NetworkState, opt netstate.ApplyOption) UserEvent {
	return UserEvent{Tag: UserApplyNetState, NetState: &desired, ApplyOption: opt}
}

func ApplyNetStateReply() UserEvent { return UserEvent{Tag: UserApplyNetStateReply} }

func QueryCommits(opt netstate.CommitOption) UserEvent {
	return UserEvent{Tag: UserQueryCommits, CommitOption: opt}
}

func QueryCommitsReply(commits []netstate.CommitInfo) UserEvent {
	return UserEvent{Tag: UserQueryCommitsReply, Commits: commits}
}

// IsErr reports whether this UserEvent is a terminal Error reply.
func (u UserEvent) IsErr() bool {
	return u.Tag == UserError
}

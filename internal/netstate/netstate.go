// Package netstate implements the network-state data model: the
// declarative description of interfaces/IP/routes/DNS/OVS/OVN/hostname
// that plugins query and apply, plus the pure merge/diff/verify functions
// the Commander uses to reconcile desired state against reality.
//
// Verify is a pure function (MergedNetworkState, current) -> error; it
// never touches the kernel itself. Plugins own that side effect.
package netstate

import "sort"

// InterfaceState is the administrative state of an interface.
type InterfaceState string

const (
	IfaceUp     InterfaceState = "up"
	IfaceDown   InterfaceState = "down"
	IfaceAbsent InterfaceState = "absent"
)

// IPConfig is the IPv4 or IPv6 configuration of one interface.
type IPConfig struct {
	Enabled   bool
	Dhcp      bool
	Addresses []string // CIDR notation, e.g. "10.0.0.1/24"
}

// Interface is one network interface's desired or observed configuration.
type Interface struct {
	Name  string
	Type  string // "ethernet", "ovs-bridge", "ovs-interface", ...
	State InterfaceState
	IPv4  *IPConfig
	IPv6  *IPConfig
}

// update applies other onto iface using nmstate's whole-record-per-name
// replacement rule: a later state's interface of the same name fully
// replaces the earlier one rather than being field-merged.
func (iface Interface) update(other Interface) Interface {
	return other
}

// InterfaceMap is keyed by interface name. Merge order matters: later
// entries in the states list fully replace earlier same-named interfaces.
type InterfaceMap map[string]Interface

func (m InterfaceMap) update(other InterfaceMap) InterfaceMap {
	out := make(InterfaceMap, len(m)+len(other))
	for name, iface := range m {
		out[name] = iface
	}
	for name, iface := range other {
		if existing, ok := out[name]; ok {
			out[name] = existing.update(iface)
		} else {
			out[name] = iface
		}
	}
	return out
}

// Route is a single static route.
type Route struct {
	Destination string
	NextHopAddr string
	NextHopIface string
	Metric      int
}

// RouteRule is a single policy routing rule.
type RouteRule struct {
	IPFrom string
	IPTo   string
	Table  int
	Priority int
}

// DNSState is the resolver configuration.
type DNSState struct {
	Servers []string
	Search  []string
}

// HostnameState is the desired/observed hostname.
type HostnameState struct {
	Running string
	Config  string
}

func (h *HostnameState) update(other *HostnameState) *HostnameState {
	if other == nil {
		return h
	}
	merged := *h
	if other.Running != "" {
		merged.Running = other.Running
	}
	if other.Config != "" {
		merged.Config = other.Config
	}
	return &merged
}

// OvsDbGlobalConfig is the subset of OVSDB global configuration the
// daemon reconciles: external_ids and other_config key/value tables.
// Entries whose value is nil request deletion of that key, matching
// ovsdb's own semantics for "unset".
type OvsDbGlobalConfig struct {
	ExternalIDs map[string]*string
	OtherConfig map[string]*string
}

// OvnConfig is the (optional) OVN northbound/southbound connection
// configuration.
type OvnConfig struct {
	NorthboundDB string
	SouthboundDB string
}

func (o *OvnConfig) isNone() bool {
	return o == nil
}

// NetworkState is the full declarative network description: one value
// covers the whole host. Zero value is the "empty" state used as the
// merge identity and as gen_diff's accumulator.
type NetworkState struct {
	Description string
	Hostname    *HostnameState
	Interfaces  InterfaceMap
	Routes      []Route
	Rules       []RouteRule
	DNS         *DNSState
	OVSDB       *OvsDbGlobalConfig
	OVN         *OvnConfig
}

// updateState folds other onto ns using nmstate's update_state precedence:
// whole-value override for dns/ovsdb/ovn, recursive merge for interfaces
// and hostname. other wins ties (it is assumed to be the later/higher
// priority state in the caller's ordering).
func (ns *NetworkState) updateState(other NetworkState) {
	if other.Hostname != nil {
		if ns.Hostname != nil {
			ns.Hostname = ns.Hostname.update(other.Hostname)
		} else {
			ns.Hostname = other.Hostname
		}
	}
	if ns.Interfaces == nil {
		ns.Interfaces = InterfaceMap{}
	}
	ns.Interfaces = ns.Interfaces.update(other.Interfaces)
	if other.DNS != nil {
		ns.DNS = other.DNS
	}
	if other.OVSDB != nil {
		ns.OVSDB = other.OVSDB
	}
	if !other.OVN.isNone() {
		ns.OVN = other.OVN
	}
}

// ReplyWithPriority pairs a per-plugin state reply with its declared
// STATE_PRIORITY and the order it arrived in, so MergeStates can sort by
// (priority_desc, arrival_order) before folding -- the sort that makes
// merge determinism (testable property 3) hold.
type ReplyWithPriority struct {
	State    NetworkState
	Priority uint32
	Arrival  int
}

// MergeStates folds a list of per-plugin state replies into one
// NetworkState. updateState(other) makes other win field-wise, so
// replies are stably sorted ascending by priority (ties broken by
// arrival order) before folding left-to-right: the state applied last
// -- highest priority, or the latest arrival among equal priorities --
// wins, which is "higher priority overrides lower" per field.
func MergeStates(replies []ReplyWithPriority) NetworkState {
	ordered := make([]ReplyWithPriority, len(replies))
	copy(ordered, replies)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Arrival < ordered[j].Arrival
	})

	var ret NetworkState
	ret.Interfaces = InterfaceMap{}
	for _, r := range ordered {
		ret.updateState(r.State)
	}
	return ret
}

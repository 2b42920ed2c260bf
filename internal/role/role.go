// Package role defines the closed set of plugin capability tags the
// Commander uses to address groups of plugins, and the PluginRoles
// snapshot that maps each role to the plugins currently advertising it.
package role

import "fmt"

// Role is a capability a plugin advertises at connect time. The set is
// closed: a plugin may hold any subset, and a role may have zero, one, or
// many plugins behind it at any moment.
type Role int

const (
	Dhcp Role = iota
	QueryAndApply
	ApplyDhcpLease
	Ovs
	Lldp
	Monitor
	Config
)

var roleNames = [...]string{
	Dhcp:           "dhcp",
	QueryAndApply:  "query_and_apply",
	ApplyDhcpLease: "apply_dhcp_lease",
	Ovs:            "ovs",
	Lldp:           "lldp",
	Monitor:        "monitor",
	Config:         "config",
}

func (r Role) String() string {
	if int(r) < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// All returns every Role in the closed set, in declaration order.
func All() []Role {
	return []Role{Dhcp, QueryAndApply, ApplyDhcpLease, Ovs, Lldp, Monitor, Config}
}

// ParseRole maps a wire-format role name back to a Role.
func ParseRole(s string) (Role, bool) {
	for i, name := range roleNames {
		if name == s {
			return Role(i), true
		}
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler so Role survives JSON/YAML
// round trips as its wire name instead of a bare integer.
func (r Role) MarshalText() ([]byte, error) {
	if int(r) < 0 || int(r) >= len(roleNames) {
		return nil, fmt.Errorf("role: invalid value %d", int(r))
	}
	return []byte(roleNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, ok := ParseRole(string(text))
	if !ok {
		return fmt.Errorf("role: unknown role %q", string(text))
	}
	*r = parsed
	return nil
}

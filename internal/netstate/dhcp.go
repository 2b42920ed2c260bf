package netstate

import "time"

// DhcpFamily distinguishes IPv4 from IPv6 lease/config records.
type DhcpFamily int

const (
	DhcpV4 DhcpFamily = iota
	DhcpV6
)

func (f DhcpFamily) String() string {
	if f == DhcpV6 {
		return "v6"
	}
	return "v4"
}

// DhcpConfig is the per-interface DHCP client enable/disable
// configuration the Commander derives from a desired state and sends to
// the Dhcp-role plugin.
type DhcpConfig struct {
	Family    DhcpFamily
	Interface string
	Enabled   bool
}

func DhcpConfigV4(iface string, enabled bool) DhcpConfig {
	return DhcpConfig{Family: DhcpV4, Interface: iface, Enabled: enabled}
}

func DhcpConfigV6(iface string, enabled bool) DhcpConfig {
	return DhcpConfig{Family: DhcpV6, Interface: iface, Enabled: enabled}
}

// DhcpLease is a lease acquired by the Dhcp-role plugin and reported to
// the Commander via a GotDhcpLease plugin event.
type DhcpLease struct {
	Family    DhcpFamily
	Interface string
	Address   string // CIDR notation
	LeaseTime time.Duration
}

// MonitorRule describes a subscription a caller registers with a
// Monitor-role plugin (e.g. "notify on link state changes for eth0").
type MonitorRule struct {
	ID        string
	Interface string
}

// MonitorEvent is an unsolicited notification from a Monitor-role plugin.
type MonitorEvent struct {
	RuleID    string
	Interface string
	Message   string
}

package netstate

import (
	"fmt"

	"github.com/nispor/censorate/internal/censerr"
)

// MergedNetworkState is a per-field merged view of a desired state against
// the currently observed state. Its Desired field is the state the
// Commander sends to QueryAndApply plugins to apply, and it is the value whose Verify method is
// the retry loop's pure success/failure oracle.
type MergedNetworkState struct {
	Desired NetworkState
	Current NetworkState

	changedInterfaces bool
	changedDNS        bool
	changedHostname   bool
	changedOVSDB      bool
	changedOVN        bool
	changedRoutes     bool
	changedRules      bool
}

// NewMergedNetworkState computes which top-level fields differ between
// desired and current. It never mutates either argument.
func NewMergedNetworkState(desired, current NetworkState) (*MergedNetworkState, error) {
	m := &MergedNetworkState{Desired: desired, Current: current}

	m.changedInterfaces = !interfacesEqual(desired.Interfaces, current.Interfaces)
	m.changedDNS = !dnsEqual(desired.DNS, current.DNS)
	m.changedHostname = !hostnameEqual(desired.Hostname, current.Hostname)
	m.changedOVSDB = !ovsdbEqual(desired.OVSDB, current.OVSDB)
	m.changedOVN = !ovnEqual(desired.OVN, current.OVN)
	m.changedRoutes = !routesEqual(desired.Routes, current.Routes)
	m.changedRules = !rulesEqual(desired.Rules, current.Rules)

	return m, nil
}

// GenDiff returns only the fields of Desired that differ from Current,
// leaving everything else at its zero value -- the minimal delta the
// `show --diff` CLI path prints.
func (m *MergedNetworkState) GenDiff() NetworkState {
	var diff NetworkState
	diff.Interfaces = InterfaceMap{}

	if m.changedInterfaces {
		for name, iface := range m.Desired.Interfaces {
			cur, ok := m.Current.Interfaces[name]
			if !ok || !ifaceEqual(iface, cur) {
				diff.Interfaces[name] = iface
			}
		}
	}
	if m.changedDNS {
		diff.DNS = m.Desired.DNS
	}
	if m.changedHostname {
		diff.Hostname = m.Desired.Hostname
	}
	if m.changedRoutes {
		diff.Routes = m.Desired.Routes
	}
	if m.changedRules {
		diff.Rules = m.Desired.Rules
	}
	if m.Desired.Description != m.Current.Description {
		diff.Description = m.Desired.Description
	}
	if m.changedOVSDB {
		diff.OVSDB = m.Desired.OVSDB
	}
	if m.changedOVN {
		diff.OVN = m.Desired.OVN
	}
	return diff
}

// Verify reports the first discrepancy between the desired state this
// MergedNetworkState carries and the freshly observed current state, or
// nil if everything desired has converged.
func (m *MergedNetworkState) Verify(current NetworkState) error {
	if m.Desired.Hostname != nil {
		if current.Hostname == nil || current.Hostname.Running != m.Desired.Hostname.Config &&
			m.Desired.Hostname.Config != "" {
			return censerr.NewError(censerr.ErrKindVerificationError,
				"hostname: want %q, got %q", m.Desired.Hostname.Config, hostnameRunning(current.Hostname))
		}
	}

	for name, desired := range m.Desired.Interfaces {
		if desired.State == IfaceAbsent {
			if cur, ok := current.Interfaces[name]; ok && cur.State != IfaceAbsent {
				return censerr.NewError(censerr.ErrKindVerificationError,
					"interface %s: want absent, still present", name)
			}
			continue
		}
		cur, ok := current.Interfaces[name]
		if !ok {
			return censerr.NewError(censerr.ErrKindVerificationError,
				"interface %s: missing from current state", name)
		}
		if cur.State != desired.State {
			return censerr.NewError(censerr.ErrKindVerificationError,
				"interface %s: want state %s, got %s", name, desired.State, cur.State)
		}
		if desired.IPv4 != nil {
			if cur.IPv4 == nil || cur.IPv4.Enabled != desired.IPv4.Enabled {
				return censerr.NewError(censerr.ErrKindVerificationError,
					"interface %s: ipv4.enabled mismatch", name)
			}
			if !desired.IPv4.Dhcp && !addressSubset(desired.IPv4.Addresses, addressesOf(cur.IPv4)) {
				return censerr.NewError(censerr.ErrKindVerificationError,
					"interface %s: ipv4 addresses not yet applied", name)
			}
		}
		if desired.IPv6 != nil {
			if cur.IPv6 == nil || cur.IPv6.Enabled != desired.IPv6.Enabled {
				return censerr.NewError(censerr.ErrKindVerificationError,
					"interface %s: ipv6.enabled mismatch", name)
			}
		}
	}

	if m.changedRoutes && !routesSubset(m.Desired.Routes, current.Routes) {
		return censerr.NewError(censerr.ErrKindVerificationError, "routes not yet applied")
	}
	if m.changedRules && !rulesSubset(m.Desired.Rules, current.Rules) {
		return censerr.NewError(censerr.ErrKindVerificationError, "rules not yet applied")
	}
	if m.Desired.OVSDB != nil && !ovsdbEqual(m.Desired.OVSDB, current.OVSDB) {
		return censerr.NewError(censerr.ErrKindVerificationError, "ovsdb configuration not yet applied")
	}
	if !m.Desired.OVN.isNone() && !ovnEqual(m.Desired.OVN, current.OVN) {
		return censerr.NewError(censerr.ErrKindVerificationError, "ovn configuration not yet applied")
	}
	return nil
}

// DhcpChanges derives the per-interface DHCP enable/disable configuration
// implied by the desired state, one entry per address family per
// interface that can carry IP configuration.
func (m *MergedNetworkState) DhcpChanges() []DhcpConfig {
	var out []DhcpConfig
	for name, iface := range m.Desired.Interfaces {
		if iface.State == IfaceAbsent {
			out = append(out, DhcpConfigV4(name, false), DhcpConfigV6(name, false))
			continue
		}
		if iface.IPv4 != nil {
			out = append(out, DhcpConfigV4(name, iface.IPv4.Enabled && iface.IPv4.Dhcp))
		}
		if iface.IPv6 != nil {
			out = append(out, DhcpConfigV6(name, iface.IPv6.Enabled && iface.IPv6.Dhcp))
		}
	}
	return out
}

func hostnameRunning(h *HostnameState) string {
	if h == nil {
		return ""
	}
	return h.Running
}

func addressesOf(ip *IPConfig) []string {
	if ip == nil {
		return nil
	}
	return ip.Addresses
}

func addressSubset(want, have []string) bool {
	haveSet := make(map[string]struct{}, len(have))
	for _, a := range have {
		haveSet[a] = struct{}{}
	}
	for _, a := range want {
		if _, ok := haveSet[a]; !ok {
			return false
		}
	}
	return true
}

func ifaceEqual(a, b Interface) bool {
	return fmt.Sprintf("%+v", a) == fmt.Sprintf("%+v", b)
}

func interfacesEqual(a, b InterfaceMap) bool {
	if len(a) != len(b) {
		return false
	}
	for name, ai := range a {
		bi, ok := b[name]
		if !ok || !ifaceEqual(ai, bi) {
			return false
		}
	}
	return true
}

func dnsEqual(a, b *DNSState) bool {
	return fmt.Sprintf("%+v", a) == fmt.Sprintf("%+v", b)
}

func hostnameEqual(a, b *HostnameState) bool {
	return fmt.Sprintf("%+v", a) == fmt.Sprintf("%+v", b)
}

func ovsdbEqual(a, b *OvsDbGlobalConfig) bool {
	return fmt.Sprintf("%+v", a) == fmt.Sprintf("%+v", b)
}

func ovnEqual(a, b *OvnConfig) bool {
	return fmt.Sprintf("%+v", a) == fmt.Sprintf("%+v", b)
}

func routesEqual(a, b []Route) bool {
	return fmt.Sprintf("%+v", a) == fmt.Sprintf("%+v", b)
}

func rulesEqual(a, b []RouteRule) bool {
	return fmt.Sprintf("%+v", a) == fmt.Sprintf("%+v", b)
}

func routesSubset(want, have []Route) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if w == h {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func rulesSubset(want, have []RouteRule) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if w == h {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

package netstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeStatesHigherPriorityWins(t *testing.T) {
	low := NetworkState{Hostname: &HostnameState{Config: "low-host"}}
	high := NetworkState{Hostname: &HostnameState{Config: "high-host"}}

	merged := MergeStates([]ReplyWithPriority{
		{State: high, Priority: 10, Arrival: 0},
		{State: low, Priority: 1, Arrival: 1},
	})

	assert.Equal(t, "high-host", merged.Hostname.Config, "higher priority overrides lower regardless of arrival order")
}

func TestMergeStatesEqualPriorityLaterArrivalWins(t *testing.T) {
	first := NetworkState{Hostname: &HostnameState{Config: "first"}}
	second := NetworkState{Hostname: &HostnameState{Config: "second"}}

	merged := MergeStates([]ReplyWithPriority{
		{State: first, Priority: 5, Arrival: 0},
		{State: second, Priority: 5, Arrival: 1},
	})

	assert.Equal(t, "second", merged.Hostname.Config)
}

func TestMergeStatesIsDeterministic(t *testing.T) {
	replies := []ReplyWithPriority{
		{State: NetworkState{Interfaces: InterfaceMap{"eth0": {Name: "eth0", State: IfaceUp}}}, Priority: 1, Arrival: 0},
		{State: NetworkState{Interfaces: InterfaceMap{"eth1": {Name: "eth1", State: IfaceDown}}}, Priority: 2, Arrival: 1},
	}

	a := MergeStates(replies)
	b := MergeStates(replies)
	assert.Equal(t, a, b, "same replies+priorities must fold to byte-equal output across runs")
}

func TestMergeStatesInterfacesAreRecursivelyMerged(t *testing.T) {
	base := NetworkState{Interfaces: InterfaceMap{"eth0": {Name: "eth0", State: IfaceUp}}}
	extra := NetworkState{Interfaces: InterfaceMap{"eth1": {Name: "eth1", State: IfaceDown}}}

	merged := MergeStates([]ReplyWithPriority{
		{State: base, Priority: 1, Arrival: 0},
		{State: extra, Priority: 1, Arrival: 1},
	})

	require.Len(t, merged.Interfaces, 2)
	assert.Equal(t, IfaceUp, merged.Interfaces["eth0"].State)
	assert.Equal(t, IfaceDown, merged.Interfaces["eth1"].State)
}

func TestGenDiffOnlyIncludesChangedFields(t *testing.T) {
	current := NetworkState{
		Hostname:   &HostnameState{Config: "old"},
		Interfaces: InterfaceMap{"eth0": {Name: "eth0", State: IfaceUp}},
		DNS:        &DNSState{Servers: []string{"1.1.1.1"}},
	}
	desired := NetworkState{
		Hostname:   &HostnameState{Config: "new"},
		Interfaces: InterfaceMap{"eth0": {Name: "eth0", State: IfaceUp}},
		DNS:        &DNSState{Servers: []string{"1.1.1.1"}},
	}

	m, err := NewMergedNetworkState(desired, current)
	require.NoError(t, err)
	diff := m.GenDiff()

	assert.Equal(t, "new", diff.Hostname.Config)
	assert.Nil(t, diff.DNS, "unchanged field stays at zero value")
	assert.Empty(t, diff.Interfaces, "unchanged interface is not included in the diff")
}

func TestVerifySucceedsWhenCurrentMatchesDesired(t *testing.T) {
	desired := NetworkState{
		Interfaces: InterfaceMap{
			"eth0": {Name: "eth0", State: IfaceUp, IPv4: &IPConfig{Enabled: true, Addresses: []string{"10.0.0.1/24"}}},
		},
	}
	m, err := NewMergedNetworkState(desired, NetworkState{Interfaces: InterfaceMap{}})
	require.NoError(t, err)

	assert.NoError(t, m.Verify(desired))
}

func TestVerifyReportsMissingInterface(t *testing.T) {
	desired := NetworkState{Interfaces: InterfaceMap{"eth0": {Name: "eth0", State: IfaceUp}}}
	m, err := NewMergedNetworkState(desired, NetworkState{Interfaces: InterfaceMap{}})
	require.NoError(t, err)

	err2 := m.Verify(NetworkState{Interfaces: InterfaceMap{}})
	require.Error(t, err2)
	assert.Contains(t, err2.Error(), "missing from current state")
}

func TestVerifyAbsentInterfaceStillPresentFails(t *testing.T) {
	desired := NetworkState{Interfaces: InterfaceMap{"eth0": {Name: "eth0", State: IfaceAbsent}}}
	m, err := NewMergedNetworkState(desired, NetworkState{Interfaces: InterfaceMap{"eth0": {Name: "eth0", State: IfaceUp}}})
	require.NoError(t, err)

	current := NetworkState{Interfaces: InterfaceMap{"eth0": {Name: "eth0", State: IfaceUp}}}
	err2 := m.Verify(current)
	require.Error(t, err2)
	assert.Contains(t, err2.Error(), "still present")
}

func TestDhcpChangesCoversEnableAndDisable(t *testing.T) {
	desired := NetworkState{
		Interfaces: InterfaceMap{
			"eth0": {Name: "eth0", State: IfaceUp, IPv4: &IPConfig{Enabled: true, Dhcp: true}},
			"eth1": {Name: "eth1", State: IfaceUp, IPv4: &IPConfig{Enabled: true, Dhcp: false}},
		},
	}
	m, err := NewMergedNetworkState(desired, NetworkState{Interfaces: InterfaceMap{}})
	require.NoError(t, err)

	changes := m.DhcpChanges()
	byIface := map[string]DhcpConfig{}
	for _, c := range changes {
		if c.Family == DhcpV4 {
			byIface[c.Interface] = c
		}
	}
	assert.True(t, byIface["eth0"].Enabled)
	assert.False(t, byIface["eth1"].Enabled)
}

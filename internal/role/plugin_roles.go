package role

import (
	"sort"
	"sync"
)

// Info describes a single connected plugin as advertised in its
// QueryPluginInfoReply handshake.
type Info struct {
	Name  string
	Roles []Role
}

func (i Info) hasRole(r Role) bool {
	for _, have := range i.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// PluginRoles is an immutable, process-wide snapshot mapping each role to
// the set of plugin names currently advertising it. A new snapshot
// replaces the whole value on every plugin connect/reconnect/disconnect;
// nothing ever mutates a live snapshot, matching the "Shared-resource
// policy" in the daemon's concurrency model.
type PluginRoles struct {
	generation uint64
	byRole     map[Role][]string
	all        []string
	dhcpPlugin string
	hasDhcp    bool
}

// NewPluginRoles builds an immutable snapshot from the given plugin infos.
// Plugin names within each role, and the AllPlugins list, are sorted so
// that iteration order is deterministic across runs (property 3: merge
// determinism depends on stable reply ordering upstream of this).
func NewPluginRoles(generation uint64, plugins []Info) *PluginRoles {
	byRole := make(map[Role][]string, len(roleNames))
	all := make([]string, 0, len(plugins))
	dhcpPlugin := ""
	hasDhcp := false

	for _, p := range plugins {
		all = append(all, p.Name)
		for _, r := range p.Roles {
			byRole[r] = append(byRole[r], p.Name)
		}
		if p.hasRole(Dhcp) && !hasDhcp {
			dhcpPlugin = p.Name
			hasDhcp = true
		}
	}

	sort.Strings(all)
	for r := range byRole {
		sort.Strings(byRole[r])
	}

	return &PluginRoles{
		generation: generation,
		byRole:     byRole,
		all:        all,
		dhcpPlugin: dhcpPlugin,
		hasDhcp:    hasDhcp,
	}
}

// Empty returns a PluginRoles snapshot with no plugins registered, used
// before the first handshake completes.
func Empty() *PluginRoles {
	return NewPluginRoles(0, nil)
}

// Generation identifies which connect/disconnect epoch produced this
// snapshot; it only ever increases.
func (p *PluginRoles) Generation() uint64 {
	return p.generation
}

// AllPluginNames returns every currently connected plugin name, sorted.
func (p *PluginRoles) AllPluginNames() []string {
	out := make([]string, len(p.all))
	copy(out, p.all)
	return out
}

// AllPluginCount is the expected reply count for an AllPlugins fan-out.
func (p *PluginRoles) AllPluginCount() int {
	return len(p.all)
}

// RoleMembers returns the sorted plugin names advertising role r.
func (p *PluginRoles) RoleMembers(r Role) []string {
	members := p.byRole[r]
	out := make([]string, len(members))
	copy(out, members)
	return out
}

// RoleCount is the expected reply count for a Group(r) fan-out.
func (p *PluginRoles) RoleCount(r Role) int {
	return len(p.byRole[r])
}

// DhcpPlugin returns the single plugin currently responsible for DHCP, if
// any is connected. At most one plugin is expected to hold the Dhcp role
// at a time per the daemon's addressing contract; if more than one
// somehow does, the lexicographically first name is picked, deterministically,
// rather than this tie-break depending on map iteration order.
func (p *PluginRoles) DhcpPlugin() (string, bool) {
	return p.dhcpPlugin, p.hasDhcp
}

// Registry accumulates Info records from live handshakes and produces
// immutable PluginRoles snapshots. It is the only mutable type in this
// package; its own mutex serializes access, so callers such as the
// connection acceptors may use it from several goroutines.
type Registry struct {
	mu         sync.Mutex
	generation uint64
	plugins    map[string]Info
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Info)}
}

// Register records (or replaces, on reconnect) a plugin's advertised
// roles and returns a fresh snapshot.
func (r *Registry) Register(info Info) *PluginRoles {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[info.Name] = info
	r.generation++
	return r.snapshotLocked()
}

// Unregister drops a disconnected plugin and returns a fresh snapshot.
func (r *Registry) Unregister(name string) *PluginRoles {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, name)
	r.generation++
	return r.snapshotLocked()
}

// Snapshot returns the current PluginRoles without mutating the registry.
func (r *Registry) Snapshot() *PluginRoles {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() *PluginRoles {
	infos := make([]Info, 0, len(r.plugins))
	for _, info := range r.plugins {
		infos = append(infos, info)
	}
	// r.plugins is a map; range order is random. Sort by name before
	// handing infos to NewPluginRoles so that any order-sensitive
	// tie-break computed from it (e.g. DhcpPlugin) is deterministic
	// across snapshots instead of depending on map iteration order.
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return NewPluginRoles(r.generation, infos)
}

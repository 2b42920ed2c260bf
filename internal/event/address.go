package event

import (
	"fmt"

	"github.com/nispor/censorate/internal/role"
)

// AddressTag discriminates the cases of Address.
type AddressTag int

const (
	AddrTagUser AddressTag = iota
	AddrTagDaemon
	AddrTagCommander
	AddrTagDhcp
	AddrTagAllPlugins
	AddrTagGroup
	AddrTagUnicast
)

// Address is the tagged routing destination/source carried on every
// Event. Only Tag plus the field relevant to that tag is meaningful;
// Group and Unicast are the only cases that carry a payload.
type Address struct {
	Tag  AddressTag
	Role role.Role
	Name string
}

func AddrUser() Address       { return Address{Tag: AddrTagUser} }
func AddrDaemon() Address     { return Address{Tag: AddrTagDaemon} }
func AddrCommander() Address  { return Address{Tag: AddrTagCommander} }
func AddrDhcp() Address       { return Address{Tag: AddrTagDhcp} }
func AddrAllPlugins() Address { return Address{Tag: AddrTagAllPlugins} }

func AddrGroup(r role.Role) Address {
	return Address{Tag: AddrTagGroup, Role: r}
}

func AddrUnicast(name string) Address {
	return Address{Tag: AddrTagUnicast, Name: name}
}

func (a Address) String() string {
	switch a.Tag {
	case AddrTagUser:
		return "user"
	case AddrTagDaemon:
		return "daemon"
	case AddrTagCommander:
		return "commander"
	case AddrTagDhcp:
		return "dhcp"
	case AddrTagAllPlugins:
		return "all_plugins"
	case AddrTagGroup:
		return fmt.Sprintf("group:%s", a.Role)
	case AddrTagUnicast:
		return a.Name
	default:
		return fmt.Sprintf("address(%d)", int(a.Tag))
	}
}

// wireAddress is the JSON-friendly projection used by the transport
// codec; Address itself stays a plain value type so construction never
// needs error handling.
type wireAddress struct {
	Tag  string `json:"tag"`
	Role string `json:"role,omitempty"`
	Name string `json:"name,omitempty"`
}

var addrTagNames = [...]string{
	AddrTagUser:       "user",
	AddrTagDaemon:      "daemon",
	AddrTagCommander:   "commander",
	AddrTagDhcp:        "dhcp",
	AddrTagAllPlugins:  "all_plugins",
	AddrTagGroup:       "group",
	AddrTagUnicast:     "unicast",
}

func (a Address) toWire() (wireAddress, error) {
	if int(a.Tag) < 0 || int(a.Tag) >= len(addrTagNames) {
		return wireAddress{}, fmt.Errorf("address: invalid tag %d", int(a.Tag))
	}
	w := wireAddress{Tag: addrTagNames[a.Tag]}
	switch a.Tag {
	case AddrTagGroup:
		text, err := a.Role.MarshalText()
		if err != nil {
			return wireAddress{}, err
		}
		w.Role = string(text)
	case AddrTagUnicast:
		w.Name = a.Name
	}
	return w, nil
}

func addressFromWire(w wireAddress) (Address, error) {
	for tag, name := range addrTagNames {
		if name != w.Tag {
			continue
		}
		a := Address{Tag: AddressTag(tag)}
		switch AddressTag(tag) {
		case AddrTagGroup:
			r, ok := role.ParseRole(w.Role)
			if !ok {
				return Address{}, fmt.Errorf("address: unknown role %q", w.Role)
			}
			a.Role = r
		case AddrTagUnicast:
			a.Name = w.Name
		}
		return a, nil
	}
	return Address{}, fmt.Errorf("address: unknown tag %q", w.Tag)
}

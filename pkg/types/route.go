package types

import (
	"strings"
)

// Route is an ordered list of addresses. The first address is the next hop.
type Route []Address

func NewRoute(addrs ...Address) Route {
	return Route(addrs)
}

func (r Route) Empty() bool {
	return len(r) == 0
}

// Head returns the next hop, or nil for an empty route.
func (r Route) Head() Address {
	if len(r) == 0 {
		return nil
	}
	return r[0]
}

// Tail returns the route without its first hop.
func (r Route) Tail() Route {
	if len(r) <= 1 {
		return Route{}
	}
	return r[1:]
}

func (r Route) Clone() Route {
	out := make(Route, len(r))
	copy(out, r)
	return out
}

func (r Route) String() string {
	parts := make([]string, len(r))
	for i, a := range r {
		parts[i] = a.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ParseRoute parses each element with ParseAddress.
func ParseRoute(addrs []string) (Route, error) {
	r := make(Route, 0, len(addrs))
	for _, s := range addrs {
		a, err := ParseAddress(s)
		if err != nil {
			return nil, err
		}
		r = append(r, a)
	}
	return r, nil
}

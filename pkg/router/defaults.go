package router

import (
	"fmt"

	"github.com/busybox42/waypoint/pkg/types"
)

// DefaultKeys maps an address kind to the key of the handler that takes
// hops of that kind when no handler is bound to the hop's own key.
type DefaultKeys map[types.Kind]types.Key

// StandardDefaultKeys returns the stock table.
func StandardDefaultKeys() DefaultKeys {
	return DefaultKeys{
		types.KindLocal: 4,
		types.KindUDP:   2,
		types.KindTCP:   3,
		types.KindOnion: 5,
	}
}

func (d DefaultKeys) Lookup(kind types.Kind) (types.Key, bool) {
	k, ok := d[kind]
	return k, ok
}

func (d DefaultKeys) Clone() DefaultKeys {
	out := make(DefaultKeys, len(d))
	for kind, k := range d {
		out[kind] = k
	}
	return out
}

// Validate checks that every default key sits in the reserved range, is not
// the controller key and is used by a single kind.
func (d DefaultKeys) Validate() error {
	owner := make(map[types.Key]types.Kind, len(d))
	for kind, k := range d {
		if kind == types.KindUnknown {
			return fmt.Errorf("default key %v assigned to unknown kind", k)
		}
		if k == types.ControllerKey {
			return fmt.Errorf("default key for %v is the controller key", kind)
		}
		if !k.Reserved() {
			return fmt.Errorf("default key %v for %v is outside the reserved range", k, kind)
		}
		if other, dup := owner[k]; dup {
			return fmt.Errorf("default key %v shared by %v and %v", k, other, kind)
		}
		owner[k] = kind
	}
	return nil
}

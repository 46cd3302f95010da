package router

import (
	"errors"
	"fmt"

	"github.com/busybox42/waypoint/internal/store"
	"github.com/busybox42/waypoint/pkg/types"
)

var (
	// ErrAddressKey means the next hop could not produce a dispatch key.
	ErrAddressKey = types.ErrAddressKey
	// ErrDuplicateKey means a registration collided with an existing one.
	ErrDuplicateKey = store.ErrDuplicateKey
	// ErrUnregisteredHandler means neither the hop's key nor its kind's
	// default key is bound.
	ErrUnregisteredHandler = errors.New("no handler registered")
	// ErrUnimplementedAddressKind means the hop's kind has no entry in the
	// default-key table.
	ErrUnimplementedAddressKind = errors.New("no default handler for address kind")
	// ErrHandlerFailed matches every *HandlerError.
	ErrHandlerFailed = errors.New("handler failed")
	ErrNilMessage    = errors.New("nil message")
)

// HandlerError wraps the error returned by a handler. The cause is kept
// as is for the caller to inspect.
type HandlerError struct {
	Key types.Key
	Hop types.Address
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %v for %v failed: %v", e.Key, e.Hop, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerFailed
}

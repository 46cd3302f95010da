package router

import (
	"github.com/busybox42/waypoint/pkg/protocol"
)

// Handler accepts ownership of a message and processes it, typically by
// transmitting it. Implementations may block.
type Handler interface {
	HandleMessage(msg *protocol.Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(msg *protocol.Message) error

func (f HandlerFunc) HandleMessage(msg *protocol.Message) error {
	return f(msg)
}

// Forwarder returns a handler that routes the message again on r, consuming
// the next hop of its remaining onward route. Registering it for a local
// address makes that address a relay.
func Forwarder(r *Router) Handler {
	return HandlerFunc(func(msg *protocol.Message) error {
		return r.Route(msg)
	})
}

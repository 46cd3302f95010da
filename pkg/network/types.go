package network

import (
	"errors"

	"github.com/busybox42/waypoint/pkg/protocol"
	"github.com/busybox42/waypoint/pkg/router"
	"github.com/sirupsen/logrus"
)

// Dispatcher hands inbound messages to local routing. *router.Router
// satisfies it.
type Dispatcher interface {
	Route(msg *protocol.Message) error
}

type MessageHandler func(*protocol.Message) error

// dispatch applies the transport loop policy: a message that cannot be
// routed is logged and dropped.
func dispatch(d Dispatcher, msg *protocol.Message, log logrus.FieldLogger) {
	err := d.Route(msg)
	if err == nil {
		return
	}
	entry := log.WithError(err).WithField("onward", msg.OnwardRoute)
	switch {
	case errors.Is(err, router.ErrHandlerFailed):
		entry.Warn("Handler failed for inbound message")
	case errors.Is(err, router.ErrUnregisteredHandler), errors.Is(err, router.ErrUnimplementedAddressKind):
		entry.Info("Dropping inbound message with no route")
	default:
		entry.Warn("Dropping inbound message")
	}
}

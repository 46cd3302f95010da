package network

import (
	"fmt"
	"time"

	"github.com/busybox42/waypoint/pkg/protocol"
	"github.com/busybox42/waypoint/pkg/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// OnionHandler delivers messages to onion hops over a proxy dialer, one
// connection per message. The far end is expected to be a TCPTransport
// exposed as a hidden service.
type OnionHandler struct {
	dialer proxy.Dialer
	log    logrus.FieldLogger
}

func NewOnionHandler(dialer proxy.Dialer, log logrus.FieldLogger) *OnionHandler {
	return &OnionHandler{
		dialer: dialer,
		log:    log.WithField("transport", "onion"),
	}
}

func (h *OnionHandler) HandleMessage(msg *protocol.Message) error {
	hop, ok := msg.Hop.(types.OnionAddress)
	if !ok {
		return fmt.Errorf("onion handler cannot send to %v", msg.Hop)
	}
	data, err := msg.Serialize()
	if err != nil {
		return fmt.Errorf("serialization error: %w", err)
	}

	conn, err := h.dialer.Dial("tcp", hop.HostPort())
	if err != nil {
		return fmt.Errorf("dial %v through proxy: %w", hop, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := writeFrame(conn, data); err != nil {
		return fmt.Errorf("onion send to %v: %w", hop, err)
	}
	h.log.WithFields(logrus.Fields{"to": hop, "bytes": len(data)}).Debug("Sent frame")
	return nil
}

package network

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/busybox42/waypoint/pkg/protocol"
	"github.com/busybox42/waypoint/pkg/types"
	"github.com/sirupsen/logrus"
)

// UDPTransport sends each message as a single datagram to the UDP hop it was
// routed to, and dispatches every datagram it receives.
type UDPTransport struct {
	conn       *net.UDPConn
	dispatcher Dispatcher
	log        logrus.FieldLogger
	wg         sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error
}

func ListenUDP(address string, d Dispatcher, log logrus.FieldLogger) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("invalid udp address %q: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("udp listen on %s: %w", address, err)
	}
	t := &UDPTransport{
		conn:       conn,
		dispatcher: d,
	}
	t.log = log.WithFields(logrus.Fields{"transport": "udp", "local": t.Address()})
	return t, nil
}

// Start launches the receive loop.
func (t *UDPTransport) Start() {
	t.wg.Add(1)
	go t.readLoop()
}

// Address is the transport's own address, suitable for return routes.
func (t *UDPTransport) Address() types.UDPAddress {
	ap := t.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return types.UDPAddress{AddrPort: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
}

func (t *UDPTransport) HandleMessage(msg *protocol.Message) error {
	hop, ok := msg.Hop.(types.UDPAddress)
	if !ok {
		return fmt.Errorf("udp transport cannot send to %v", msg.Hop)
	}
	data, err := msg.Serialize()
	if err != nil {
		return fmt.Errorf("serialization error: %w", err)
	}
	if len(data) > maxDatagramSize {
		return fmt.Errorf("message of %d bytes does not fit a datagram", len(data))
	}
	if _, err := t.conn.WriteToUDPAddrPort(data, hop.AddrPort); err != nil {
		return fmt.Errorf("udp send to %v: %w", hop, err)
	}
	t.log.WithFields(logrus.Fields{"to": hop, "bytes": len(data)}).Debug("Sent datagram")
	return nil
}

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.WithError(err).Warn("Failed to read datagram")
			continue
		}

		msg, err := protocol.DeserializeMessage(buf[:n])
		if err != nil {
			t.log.WithError(err).WithField("from", from).Warn("Discarding malformed datagram")
			continue
		}
		dispatch(t.dispatcher, msg, t.log)
	}
}

// Close stops the receive loop and releases the socket.
func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
		t.wg.Wait()
	})
	return t.closeErr
}

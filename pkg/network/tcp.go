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
	"go.uber.org/multierr"
)

// TCPTransport keeps framed connections to TCP hops. Outbound peers are
// created on first use and cached by address; every frame received on any
// connection is dispatched.
type TCPTransport struct {
	listener   net.Listener
	dispatcher Dispatcher
	log        logrus.FieldLogger
	peers      sync.Map // netip.AddrPort -> *Peer
	inbound    sync.Map // *Peer -> struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error
}

func ListenTCP(address string, d Dispatcher, log logrus.FieldLogger) (*TCPTransport, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("tcp listen on %s: %w", address, err)
	}
	t := &TCPTransport{
		listener:   listener,
		dispatcher: d,
	}
	t.log = log.WithFields(logrus.Fields{"transport": "tcp", "local": t.Address()})
	return t, nil
}

// Start launches the accept loop.
func (t *TCPTransport) Start() {
	t.wg.Add(1)
	go t.acceptLoop()
}

func (t *TCPTransport) Address() types.TCPAddress {
	ap := t.listener.Addr().(*net.TCPAddr).AddrPort()
	return types.TCPAddress{AddrPort: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
}

// Listener exposes the accepting socket so it can also be published as a
// hidden service.
func (t *TCPTransport) Listener() net.Listener {
	return t.listener
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.WithError(err).Warn("Failed to accept connection")
			continue
		}

		peer := newInboundPeer(conn, t.log)
		peer.SetMessageHandler(t.receive)
		t.inbound.Store(peer, struct{}{})
		t.log.WithField("remote", conn.RemoteAddr()).Debug("Accepted connection")

		go func() {
			peer.handleConnection(conn)
			t.inbound.Delete(peer)
		}()
	}
}

func (t *TCPTransport) receive(msg *protocol.Message) error {
	dispatch(t.dispatcher, msg, t.log)
	return nil
}

// HandleMessage writes msg to the TCP hop it was routed to, connecting first
// if needed.
func (t *TCPTransport) HandleMessage(msg *protocol.Message) error {
	hop, ok := msg.Hop.(types.TCPAddress)
	if !ok {
		return fmt.Errorf("tcp transport cannot send to %v", msg.Hop)
	}

	peer, err := t.peer(hop)
	if err != nil {
		return err
	}
	if err := peer.SendMessage(msg); err != nil {
		peer.Disconnect()
		return fmt.Errorf("tcp send to %v: %w", hop, err)
	}
	t.log.WithField("to", hop).Debug("Sent frame")
	return nil
}

func (t *TCPTransport) peer(addr types.TCPAddress) (*Peer, error) {
	cached, ok := t.peers.Load(addr.AddrPort)
	if !ok {
		p := NewPeer(addr, t.log)
		p.SetMessageHandler(t.receive)
		cached, _ = t.peers.LoadOrStore(addr.AddrPort, p)
	}
	peer := cached.(*Peer)
	if err := peer.Connect(); err != nil {
		return nil, err
	}
	return peer, nil
}

// RangePeers calls fn for each cached outbound peer until fn returns false.
func (t *TCPTransport) RangePeers(fn func(*Peer) bool) {
	t.peers.Range(func(_, v any) bool {
		return fn(v.(*Peer))
	})
}

// Close stops accepting and drops every connection.
func (t *TCPTransport) Close() error {
	t.closeOnce.Do(func() {
		err := t.listener.Close()
		t.wg.Wait()
		t.peers.Range(func(k, v any) bool {
			err = multierr.Append(err, v.(*Peer).Disconnect())
			t.peers.Delete(k)
			return true
		})
		t.inbound.Range(func(k, _ any) bool {
			err = multierr.Append(err, k.(*Peer).Disconnect())
			return true
		})
		t.closeErr = err
	})
	return t.closeErr
}

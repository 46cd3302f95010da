package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/busybox42/waypoint/pkg/protocol"
	"github.com/busybox42/waypoint/pkg/types"
	"github.com/sirupsen/logrus"
)

// Peer is a framed TCP connection to one remote node. Frames received on it
// are passed to the peer's message handler.
type Peer struct {
	Address    types.TCPAddress
	conn       net.Conn
	mu         sync.RWMutex
	handler    MessageHandler
	connected  bool
	lastActive time.Time
	log        logrus.FieldLogger
}

func NewPeer(addr types.TCPAddress, log logrus.FieldLogger) *Peer {
	return &Peer{
		Address:    addr,
		lastActive: time.Now(),
		log:        log.WithField("peer", addr),
	}
}

func newInboundPeer(conn net.Conn, log logrus.FieldLogger) *Peer {
	var addr types.TCPAddress
	if ta, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		addr = types.TCPAddress{AddrPort: ta.AddrPort()}
	}
	p := NewPeer(addr, log)
	p.conn = conn
	p.connected = true
	return p
}

func (p *Peer) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected && p.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: connTimeout}
	conn, err := dialer.Dial("tcp", p.Address.AddrPort.String())
	if err != nil {
		p.connected = false
		p.conn = nil
		return fmt.Errorf("connection failed: %w", err)
	}

	p.conn = conn
	p.connected = true
	p.lastActive = time.Now()

	go p.handleConnection(conn)

	return nil
}

func (p *Peer) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}

	p.log.Debug("Disconnecting from peer")
	err := p.conn.Close()
	p.conn = nil
	p.connected = false
	if errors.Is(err, net.ErrClosed) {
		// the read loop got there first
		return nil
	}
	return err
}

func (p *Peer) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.conn != nil
}

func (p *Peer) LastActive() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastActive
}

func (p *Peer) SetMessageHandler(handler MessageHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

func (p *Peer) SendMessage(msg *protocol.Message) error {
	data, err := msg.Serialize()
	if err != nil {
		return fmt.Errorf("serialization error: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected || p.conn == nil {
		return errors.New("peer not connected")
	}

	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := writeFrame(p.conn, data); err != nil {
		return err
	}

	p.lastActive = time.Now()
	return nil
}

func (p *Peer) updateLastActive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastActive = time.Now()
}

// handleConnection reads frames until the connection fails and keeps the
// link alive in the meantime.
func (p *Peer) handleConnection(conn net.Conn) {
	p.mu.RLock()
	if p.conn != conn {
		p.mu.RUnlock()
		return
	}
	p.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			// the far end sends keep-alives, so silence means a dead link
			conn.SetReadDeadline(time.Now().Add(readTimeout))
			data, err := readFrame(conn)
			if err != nil {
				return
			}
			p.updateLastActive()
			if data == nil {
				continue
			}

			msg, err := protocol.DeserializeMessage(data)
			if err != nil {
				p.log.WithError(err).Warn("Discarding malformed frame")
				continue
			}

			p.mu.RLock()
			handler := p.handler
			p.mu.RUnlock()

			if handler != nil {
				if err := handler(msg); err != nil {
					p.log.WithError(err).Debug("Message handler failed")
				}
			}
		}
	}()

	ticker := time.NewTicker(keepAliveInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
		<-done

		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
			p.connected = false
		}
		p.mu.Unlock()
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.mu.Lock()
			if !p.connected || p.conn != conn {
				p.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := writeKeepAlive(conn)
			p.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (p *Peer) WaitForConnection(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.IsConnected() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

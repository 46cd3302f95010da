package network

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/busybox42/waypoint/pkg/protocol"
	"github.com/busybox42/waypoint/pkg/types"
	"github.com/stretchr/testify/require"
)

func listenerAddress(t *testing.T, l net.Listener) types.TCPAddress {
	t.Helper()
	ap := l.Addr().(*net.TCPAddr).AddrPort()
	return types.NewTCPAddress(ap.Addr().Unmap(), ap.Port())
}

func TestNewPeer(t *testing.T) {
	addr := types.NewTCPAddress(netip.MustParseAddr("127.0.0.1"), 8080)
	peer := NewPeer(addr, testLogger())

	require.NotNil(t, peer)
	require.Equal(t, addr, peer.Address)
	require.False(t, peer.IsConnected())
	require.WithinDuration(t, time.Now(), peer.LastActive(), time.Second)
}

func TestPeerConnection(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	peer := NewPeer(listenerAddress(t, listener), testLogger())

	errChan := make(chan error, 1)
	go func() {
		errChan <- peer.Connect()
	}()

	conn, err := listener.Accept()
	require.NoError(t, err)
	defer conn.Close()

	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Connection timeout")
	}

	require.True(t, peer.WaitForConnection(time.Second))
	require.NoError(t, peer.Connect(), "connecting twice is a no-op")

	require.NoError(t, peer.Disconnect())
	require.False(t, peer.IsConnected())
	require.NoError(t, peer.Disconnect())
}

func TestPeerConnectFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listenerAddress(t, listener)
	listener.Close()

	peer := NewPeer(addr, testLogger())
	require.Error(t, peer.Connect())
	require.False(t, peer.IsConnected())

	msg := protocol.NewMessage(nil, nil, []byte("x"))
	require.Error(t, peer.SendMessage(msg))
}

func TestPeerSendReceive(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	msgChan := make(chan *protocol.Message, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		receiver := newInboundPeer(conn, testLogger())
		receiver.SetMessageHandler(func(msg *protocol.Message) error {
			msgChan <- msg
			return nil
		})
		receiver.handleConnection(conn)
	}()

	sender := NewPeer(listenerAddress(t, listener), testLogger())
	require.NoError(t, sender.Connect())
	defer sender.Disconnect()

	onward := types.NewRoute(types.NewLocalAddress(4, 7))
	ret := types.NewRoute(types.NewUDPAddress(netip.MustParseAddr("10.0.0.1"), 9000))
	require.NoError(t, sender.SendMessage(protocol.NewMessage(onward, ret, []byte("Hello, waypoint!"))))

	received := waitForMessage(t, msgChan)
	require.Equal(t, []byte("Hello, waypoint!"), received.Body)
	require.Equal(t, onward, received.OnwardRoute)
	require.Equal(t, ret, received.ReturnRoute)
}

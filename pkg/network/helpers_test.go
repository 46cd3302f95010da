package network

import (
	"io"
	"testing"
	"time"

	"github.com/busybox42/waypoint/pkg/protocol"
	"github.com/busybox42/waypoint/pkg/router"
	"github.com/busybox42/waypoint/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testNode is a router with loopback UDP and TCP transports installed as the
// default handlers for their kinds.
type testNode struct {
	router *router.Router
	udp    *UDPTransport
	tcp    *TCPTransport
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	log := testLogger()

	r, err := router.New(router.WithLogger(log))
	require.NoError(t, err)

	u, err := ListenUDP("127.0.0.1:0", r, log)
	require.NoError(t, err)
	tc, err := ListenTCP("127.0.0.1:0", r, log)
	require.NoError(t, err)

	require.NoError(t, r.RegisterDefaultHandler(types.KindUDP, u))
	require.NoError(t, r.RegisterDefaultHandler(types.KindTCP, tc))
	u.Start()
	tc.Start()

	t.Cleanup(func() { r.Close() })
	return &testNode{router: r, udp: u, tcp: tc}
}

// addWorker registers a local worker that forwards what it receives to the
// returned channel.
func (n *testNode) addWorker(t *testing.T, value uint32) <-chan *protocol.Message {
	t.Helper()
	ch := make(chan *protocol.Message, 16)
	err := n.router.RegisterHandler(router.HandlerFunc(func(msg *protocol.Message) error {
		ch <- msg
		return nil
	}), types.NewLocalAddress(4, value))
	require.NoError(t, err)
	return ch
}

func waitForMessage(t *testing.T, ch <-chan *protocol.Message) *protocol.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for message")
		return nil
	}
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/busybox42/waypoint/pkg/config"
	"github.com/busybox42/waypoint/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// syncBuffer is written to by both the prompt loop and inbound deliveries.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startTestCLI(t *testing.T, inbox uint32) (*WaypointCLI, *syncBuffer) {
	t.Helper()
	cfg := config.Default()
	cfg.UDP.Listen = "127.0.0.1:0"
	cfg.TCP.Listen = "127.0.0.1:0"

	log := logrus.New()
	log.SetOutput(io.Discard)

	out := &syncBuffer{}
	cli := newWaypointCLI(out, inbox)
	require.NoError(t, cli.initializeNode(cfg, log))
	require.NoError(t, cli.node.Start(context.Background()))
	t.Cleanup(func() { cli.node.Shutdown(context.Background()) })
	return cli, out
}

func (cli *WaypointCLI) historyLen() int {
	cli.historyMu.RLock()
	defer cli.historyMu.RUnlock()
	return len(cli.messageHistory)
}

func TestNewWaypointCLI(t *testing.T) {
	cli := newWaypointCLI(io.Discard, 1)
	require.NotNil(t, cli)
	require.Empty(t, cli.messageHistory)
	require.Equal(t, uint32(1), cli.inbox)
}

func TestAddToHistory(t *testing.T) {
	cli := newWaypointCLI(io.Discard, 1)

	cli.addToHistory(MessageRecord{
		Timestamp: time.Now(),
		Content:   "Hello",
		Status:    "sent",
	})

	require.Equal(t, 1, cli.historyLen())
	require.Equal(t, "Hello", cli.messageHistory[0].Content)

	_, ok := cli.lastReceived()
	require.False(t, ok, "sent messages are not reply targets")
}

func TestSendAndReply(t *testing.T) {
	alice, aliceOut := startTestCLI(t, 1)
	bob, bobOut := startTestCLI(t, 2)

	bobAddr, ok := bob.node.Address(types.KindUDP)
	require.True(t, ok)

	script := fmt.Sprintf("send %v,local:4:2 hello bob\nhistory\nexit\n", bobAddr)
	require.NoError(t, alice.startInteractiveCLI(strings.NewReader(script)))
	require.Contains(t, aliceOut.String(), "Message sent successfully")
	require.Contains(t, aliceOut.String(), "hello bob (sent)")

	require.Eventually(t, func() bool { return bob.historyLen() == 1 }, 5*time.Second, 20*time.Millisecond)
	last, ok := bob.lastReceived()
	require.True(t, ok)
	require.Equal(t, "hello bob", last.Content)
	require.Equal(t, alice.returnRoute(), last.Return)

	require.NoError(t, bob.startInteractiveCLI(strings.NewReader("reply hi alice\nexit\n")))
	require.Contains(t, bobOut.String(), "Reply sent via")

	require.Eventually(t, func() bool { return alice.historyLen() == 2 }, 5*time.Second, 20*time.Millisecond)
	last, ok = alice.lastReceived()
	require.True(t, ok)
	require.Equal(t, "hi alice", last.Content)
	require.Contains(t, aliceOut.String(), "hi alice")
}

func TestSendMessageFailure(t *testing.T) {
	cli, out := startTestCLI(t, 1)

	script := "send local:4:77 nobody home\nsend nonsense\nsend bogus:1 x\nreply x\nbogus\nexit\n"
	require.NoError(t, cli.startInteractiveCLI(strings.NewReader(script)))

	output := out.String()
	require.Contains(t, output, "Failed to send message")
	require.Contains(t, output, "Usage: send")
	require.Contains(t, output, "Invalid route")
	require.Contains(t, output, "Nothing to reply to")
	require.Contains(t, output, "Unknown command: bogus")

	require.Equal(t, 1, cli.historyLen())
	require.Equal(t, "failed", cli.messageHistory[0].Status)
}

func TestStatusAndHandlers(t *testing.T) {
	cli, out := startTestCLI(t, 5)

	require.NoError(t, cli.startInteractiveCLI(strings.NewReader("status\nhandlers\nhelp")))
	output := out.String()
	require.Contains(t, output, "Inbox: local:4:0x00000005")
	require.Contains(t, output, "Connected TCP Peers: 0/0")
	require.Contains(t, output, "Registered handlers: 4")
	require.Contains(t, output, "Available commands:")
}

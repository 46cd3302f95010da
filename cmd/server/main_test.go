package main

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/busybox42/waypoint/pkg/config"
	"github.com/busybox42/waypoint/pkg/protocol"
	"github.com/busybox42/waypoint/pkg/router"
	"github.com/busybox42/waypoint/pkg/server"
	"github.com/busybox42/waypoint/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetOutput(io.Discard)
}

func TestEphemeral(t *testing.T) {
	require.Equal(t, "127.0.0.1:0", ephemeral("127.0.0.1:7700"))
	require.Equal(t, "0.0.0.0:0", ephemeral("0.0.0.0:7700"))
	require.Equal(t, "[::1]:0", ephemeral("[::1]:7701"))
	require.Equal(t, "127.0.0.1:0", ephemeral("garbage"))
}

func TestController(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)

	msg := protocol.NewMessage(nil, types.NewRoute(types.NewLocalAddress(1, 2)), []byte("hi"))
	require.NoError(t, controller(l).HandleMessage(msg))
	require.Contains(t, buf.String(), "Message reached node")
	require.Contains(t, buf.String(), "bytes=2")
}

func TestSendOnce(t *testing.T) {
	cfg := config.Default()
	cfg.UDP.Listen = "127.0.0.1:0"
	cfg.TCP.Listen = "127.0.0.1:0"

	received := make(chan *protocol.Message, 1)
	receiver, err := server.New(cfg, log, nil)
	require.NoError(t, err)
	require.NoError(t, receiver.Start(context.Background()))
	defer receiver.Shutdown(context.Background())
	require.NoError(t, receiver.RegisterWorker(9, router.HandlerFunc(func(msg *protocol.Message) error {
		received <- msg
		return nil
	})))

	hop, ok := receiver.Address(types.KindTCP)
	require.True(t, ok)
	ret := types.NewRoute(types.NewLocalAddress(4, 1))
	msg := protocol.NewMessage(types.NewRoute(hop, types.NewLocalAddress(4, 9)), ret, []byte("one shot"))
	require.NoError(t, sendOnce(context.Background(), cfg, msg))

	select {
	case got := <-received:
		require.Equal(t, []byte("one shot"), got.Body)
		require.Equal(t, ret, got.ReturnRoute)
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for message")
	}
}

func TestSendOnceUnroutable(t *testing.T) {
	cfg := config.Default()
	msg := protocol.NewMessage(types.NewRoute(types.NewLocalAddress(4, 9)), nil, nil)
	require.ErrorIs(t, sendOnce(context.Background(), cfg, msg), router.ErrUnregisteredHandler)
}

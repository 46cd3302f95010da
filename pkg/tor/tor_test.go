package tor

import (
	"context"
	"io"
	"net"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// Tor instances are heavy, run them one at a time.
var torTestMutex sync.Mutex

func TestParseSocksListener(t *testing.T) {
	tests := []struct {
		val     string
		network string
		address string
		wantErr bool
	}{
		{val: `"127.0.0.1:9050"`, network: "tcp", address: "127.0.0.1:9050"},
		{val: `"127.0.0.1:41234" "[::1]:41234"`, network: "tcp", address: "127.0.0.1:41234"},
		{val: `"unix:/run/tor/socks"`, network: "unix", address: "/run/tor/socks"},
		{val: `127.0.0.1:9150`, network: "tcp", address: "127.0.0.1:9150"},
		{val: ``, wantErr: true},
		{val: `"nonsense"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			network, address, err := parseSocksListener(tt.val)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.network, network)
			require.Equal(t, tt.address, address)
		})
	}
}

func TestWaitForSocks5Proxy(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.True(t, waitForSocks5Proxy(addr, time.Second))

	l.Close()
	require.False(t, waitForSocks5Proxy(addr, 600*time.Millisecond))
}

func startTestTor(t *testing.T) (*Manager, net.Listener) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping embedded Tor in short mode")
	}
	if _, err := exec.LookPath("tor"); err != nil {
		t.Skip("Tor binary not available")
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	m, err := StartTor(ctx, listener, log)
	if err != nil {
		t.Skipf("Tor could not start: %v", err)
	}
	return m, listener
}

func TestTorManager(t *testing.T) {
	torTestMutex.Lock()
	defer torTestMutex.Unlock()

	m, listener := startTestTor(t)
	defer func() {
		require.NoError(t, m.Stop())
	}()

	addr := m.Address()
	require.NotEmpty(t, addr.Host)
	require.Equal(t, uint16(listener.Addr().(*net.TCPAddr).Port), addr.Port)
	_, err := addr.Key()
	require.NoError(t, err)
}

func TestSocks5Dialer(t *testing.T) {
	torTestMutex.Lock()
	defer torTestMutex.Unlock()

	m, _ := startTestTor(t)
	defer m.Stop()

	dialer, err := m.Dialer()
	require.NoError(t, err)

	conn, err := dialer.Dial("tcp", "check.torproject.org:80")
	if err != nil {
		t.Skipf("Tor network not reachable, skipping test: %v", err)
	}
	conn.Close()
}

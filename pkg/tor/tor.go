package tor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/busybox42/waypoint/pkg/types"
	"github.com/cretz/bine/tor"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

const (
	startAttempts = 3
	socksWait     = 10 * time.Second
)

// Manager runs an embedded Tor process that publishes a node's TCP listener
// as a v3 hidden service and proxies outbound onion traffic.
type Manager struct {
	instance     *tor.Tor
	address      types.OnionAddress
	socksNetwork string
	socksAddress string
	dataDir      string
	log          logrus.FieldLogger
}

// StartTor launches Tor and publishes listener as a hidden service on the
// listener's own port. The listener keeps being served by its owner; Tor only
// forwards connections to it.
func StartTor(ctx context.Context, listener net.Listener, log logrus.FieldLogger) (*Manager, error) {
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("hidden service needs a tcp listener, got %v", listener.Addr())
	}
	log = log.WithField("component", "tor")

	var lastErr error
	for attempt := 1; attempt <= startAttempts; attempt++ {
		m, err := start(ctx, listener, tcpAddr.Port, log)
		if err == nil {
			return m, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("Failed to start Tor")
	}
	return nil, fmt.Errorf("failed to start Tor after %d attempts: %w", startAttempts, lastErr)
}

func start(ctx context.Context, listener net.Listener, port int, log logrus.FieldLogger) (m *Manager, err error) {
	dataDir, err := os.MkdirTemp("", "waypoint-tor-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary Tor data directory: %w", err)
	}

	log.Info("Starting embedded Tor")
	t, err := tor.Start(ctx, &tor.StartConf{DataDir: dataDir})
	if err != nil {
		os.RemoveAll(dataDir)
		return nil, err
	}
	defer func() {
		if err != nil {
			t.Close()
			os.RemoveAll(dataDir)
		}
	}()

	if err = t.EnableNetwork(ctx, true); err != nil {
		return nil, fmt.Errorf("could not enable network: %w", err)
	}

	info, err := t.Control.GetInfo("net/listeners/socks")
	if err != nil {
		return nil, fmt.Errorf("could not query SOCKS listener: %w", err)
	}
	if len(info) != 1 {
		return nil, errors.New("tor reported no SOCKS listener")
	}
	network, address, err := parseSocksListener(info[0].Val)
	if err != nil {
		return nil, err
	}
	if network == "tcp" && !waitForSocks5Proxy(address, socksWait) {
		return nil, fmt.Errorf("SOCKS5 proxy did not start on %s", address)
	}

	log.Info("Creating hidden service")
	hs, err := t.Listen(ctx, &tor.ListenConf{
		LocalListener: listener,
		RemotePorts:   []int{port},
		Version3:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create hidden service: %w", err)
	}

	m = &Manager{
		instance:     t,
		address:      types.NewOnionAddress(hs.ID+".onion", uint16(port)),
		socksNetwork: network,
		socksAddress: address,
		dataDir:      dataDir,
		log:          log,
	}
	log.WithFields(logrus.Fields{"onion": m.address, "socks": address}).Info("Hidden service published")
	return m, nil
}

// parseSocksListener reads the first entry of Tor's net/listeners/socks
// value, e.g. `"127.0.0.1:9050"` or `"unix:/run/tor/socks"`.
func parseSocksListener(val string) (network, address string, err error) {
	fields := strings.Fields(val)
	if len(fields) == 0 {
		return "", "", errors.New("empty SOCKS listener list")
	}
	first, err := strconv.Unquote(fields[0])
	if err != nil {
		first = strings.Trim(fields[0], `"`)
	}
	if path, ok := strings.CutPrefix(first, "unix:"); ok {
		return "unix", path, nil
	}
	if _, _, err := net.SplitHostPort(first); err != nil {
		return "", "", fmt.Errorf("bad SOCKS listener %q: %w", first, err)
	}
	return "tcp", first, nil
}

// waitForSocks5Proxy checks if the SOCKS5 proxy is ready before proceeding.
func waitForSocks5Proxy(address string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", address)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}

// Address is the node's onion address.
func (m *Manager) Address() types.OnionAddress {
	return m.address
}

// Dialer returns a SOCKS5 dialer for outgoing connections via Tor.
func (m *Manager) Dialer() (proxy.Dialer, error) {
	dialer, err := proxy.SOCKS5(m.socksNetwork, m.socksAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	return dialer, nil
}

// Stop shuts down Tor and removes its data directory.
func (m *Manager) Stop() error {
	m.log.Info("Stopping Tor")
	err := m.instance.Close()
	if rmErr := os.RemoveAll(m.dataDir); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

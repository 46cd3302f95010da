// Package server assembles a routing node from its configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/busybox42/waypoint/pkg/config"
	"github.com/busybox42/waypoint/pkg/network"
	"github.com/busybox42/waypoint/pkg/protocol"
	"github.com/busybox42/waypoint/pkg/router"
	"github.com/busybox42/waypoint/pkg/tor"
	"github.com/busybox42/waypoint/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// WorkerAddressLength is the length of the local addresses workers are
// registered under.
const WorkerAddressLength = 4

// Node is a router with its transports, optional Tor hidden service and
// metrics endpoint.
type Node struct {
	cfg      *config.Config
	log      logrus.FieldLogger
	router   *router.Router
	registry *prometheus.Registry

	udp *network.UDPTransport
	tcp *network.TCPTransport
	tor *tor.Manager

	metricsListener net.Listener
	metricsServer   *http.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// New binds the configured transports and registers them as the default
// handlers of their kinds. controller, if not nil, receives messages whose
// onward route is exhausted. Nothing is served until Start.
func New(cfg *config.Config, log logrus.FieldLogger, controller router.Handler) (_ *Node, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	defaults, err := cfg.DefaultKeyTable()
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
	}
	n.registry.MustRegister(collectors.NewGoCollector())

	n.router, err = router.New(
		router.WithDefaultKeys(defaults),
		router.WithLogger(log),
		router.WithMetrics(router.NewMetrics(n.registry)),
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			n.release()
		}
	}()

	if controller != nil {
		if err := n.router.RegisterController(controller); err != nil {
			return nil, err
		}
	}

	if cfg.UDP.Enabled {
		if n.udp, err = network.ListenUDP(cfg.UDP.Listen, n.router, log); err != nil {
			return nil, err
		}
		if err := n.registerDefault(types.KindUDP, n.udp); err != nil {
			return nil, err
		}
	}

	if cfg.TCP.Enabled {
		if n.tcp, err = network.ListenTCP(cfg.TCP.Listen, n.router, log); err != nil {
			return nil, err
		}
		if err := n.registerDefault(types.KindTCP, n.tcp); err != nil {
			return nil, err
		}
	}

	if cfg.Metrics.Listen != "" {
		if n.metricsListener, err = net.Listen("tcp", cfg.Metrics.Listen); err != nil {
			return nil, fmt.Errorf("metrics listen on %s: %w", cfg.Metrics.Listen, err)
		}
	}

	log.WithField("addresses", n.Addresses()).Info("Node initialized")
	return n, nil
}

// registerDefault installs h as the default handler for kind, unless the
// configured table gives that kind no default.
func (n *Node) registerDefault(kind types.Kind, h router.Handler) error {
	if _, ok := n.router.DefaultKeys().Lookup(kind); !ok {
		n.log.WithField("kind", kind).Warn("No default key for transport, it only receives")
		return nil
	}
	return n.router.RegisterDefaultHandler(kind, h)
}

// Start serves the transports and the metrics endpoint and, when enabled,
// publishes the TCP listener as a Tor hidden service.
func (n *Node) Start(ctx context.Context) error {
	if n.udp != nil {
		n.udp.Start()
	}
	if n.tcp != nil {
		n.tcp.Start()
	}

	if n.cfg.Tor.Enabled {
		if err := n.startTor(ctx); err != nil {
			return fmt.Errorf("failed to initialize Tor: %w", err)
		}
	}

	if n.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
		n.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: time.Minute}
		go func() {
			err := n.metricsServer.Serve(n.metricsListener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.log.WithError(err).Error("Metrics server stopped")
			}
		}()
		n.log.WithField("listen", n.metricsListener.Addr()).Info("Serving metrics")
	}

	n.log.Info("Node is running")
	return nil
}

func (n *Node) startTor(ctx context.Context) error {
	m, err := tor.StartTor(ctx, n.tcp.Listener(), n.log)
	if err != nil {
		return err
	}
	dialer, err := m.Dialer()
	if err != nil {
		m.Stop()
		return err
	}
	if err := n.registerDefault(types.KindOnion, network.NewOnionHandler(dialer, n.log)); err != nil {
		m.Stop()
		return err
	}
	n.tor = m
	return nil
}

// RegisterWorker binds h to the local worker address with the given value.
func (n *Node) RegisterWorker(value uint32, h router.Handler) error {
	return n.router.RegisterHandler(h, types.NewLocalAddress(WorkerAddressLength, value))
}

// Send routes msg from this node.
func (n *Node) Send(msg *protocol.Message) error {
	return n.router.Route(msg)
}

func (n *Node) Router() *router.Router {
	return n.router
}

// Addresses lists the addresses other nodes can reach this node at.
func (n *Node) Addresses() []types.Address {
	var out []types.Address
	if n.udp != nil {
		out = append(out, n.udp.Address())
	}
	if n.tcp != nil {
		out = append(out, n.tcp.Address())
	}
	if n.tor != nil {
		out = append(out, n.tor.Address())
	}
	return out
}

// Address returns this node's address of the given kind.
func (n *Node) Address(kind types.Kind) (types.Address, bool) {
	for _, a := range n.Addresses() {
		if a.Kind() == kind {
			return a, true
		}
	}
	return nil, false
}

// TCPPeers reports the outbound TCP peers and how many are connected.
func (n *Node) TCPPeers() (connected, total int) {
	if n.tcp == nil {
		return 0, 0
	}
	n.tcp.RangePeers(func(p *network.Peer) bool {
		total++
		if p.IsConnected() {
			connected++
		}
		return true
	})
	return connected, total
}

// Shutdown stops Tor and the metrics endpoint, then closes every handler
// registered with the router, transports included.
func (n *Node) Shutdown(ctx context.Context) error {
	n.shutdownOnce.Do(func() {
		var err error
		if n.tor != nil {
			err = n.tor.Stop()
		}
		if n.metricsServer != nil {
			err = multierr.Append(err, n.metricsServer.Shutdown(ctx))
			n.metricsListener = nil
		}
		n.shutdownErr = multierr.Append(err, n.release())
		n.log.Info("Node stopped")
	})
	return n.shutdownErr
}

// release closes the router's handlers and any transport or listener the
// router does not own. Transport Close is idempotent.
func (n *Node) release() error {
	err := n.router.Close()
	if n.udp != nil {
		if cerr := n.udp.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if n.tcp != nil {
		if cerr := n.tcp.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if n.metricsListener != nil {
		err = multierr.Append(err, n.metricsListener.Close())
	}
	return err
}

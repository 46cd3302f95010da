package router

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"

	"github.com/busybox42/waypoint/internal/store"
	"github.com/busybox42/waypoint/pkg/protocol"
	"github.com/busybox42/waypoint/pkg/types"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Router owns the handler registry of a node and makes single-hop routing
// decisions. It is safe for concurrent use.
type Router struct {
	handlers *store.Registry[types.Key, Handler]
	defaults DefaultKeys
	log      logrus.FieldLogger
	metrics  *Metrics
}

type Option func(*Router)

// WithDefaultKeys replaces the standard default-key table.
func WithDefaultKeys(d DefaultKeys) Option {
	return func(r *Router) {
		r.defaults = d.Clone()
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Router) {
		r.log = log
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

func New(opts ...Option) (*Router, error) {
	r := &Router{
		handlers: store.NewRegistry[types.Key, Handler](),
		defaults: StandardDefaultKeys(),
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default keys: %w", err)
	}
	r.log = r.log.WithField("component", "router")
	return r, nil
}

// RegisterHandler binds h to the key derived from addr. A key that is already
// bound is rejected with ErrDuplicateKey; use ReplaceHandler to overwrite.
func (r *Router) RegisterHandler(h Handler, addr types.Address) error {
	key, err := addressKey(addr)
	if err != nil {
		return err
	}
	return r.register(key, h, addr)
}

// ReplaceHandler binds h to the key derived from addr, overwriting any
// existing binding.
func (r *Router) ReplaceHandler(h Handler, addr types.Address) error {
	if h == nil {
		return errors.New("nil handler")
	}
	key, err := addressKey(addr)
	if err != nil {
		return err
	}
	if r.handlers.Replace(key, h) {
		r.log.WithFields(logrus.Fields{"key": key, "address": addr}).Warn("Replaced registered handler")
	}
	r.metrics.setHandlers(r.handlers.Len())
	return nil
}

// RegisterController binds h to the controller key, which receives messages
// whose onward route is exhausted.
func (r *Router) RegisterController(h Handler) error {
	return r.register(types.ControllerKey, h, "controller")
}

// RegisterDefaultHandler binds h to the default key of kind.
func (r *Router) RegisterDefaultHandler(kind types.Kind, h Handler) error {
	key, ok := r.defaults.Lookup(kind)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnimplementedAddressKind, kind)
	}
	return r.register(key, h, "default "+kind.String())
}

func (r *Router) register(key types.Key, h Handler, what any) error {
	if h == nil {
		return errors.New("nil handler")
	}
	if err := r.handlers.Put(key, h); err != nil {
		return fmt.Errorf("register %v: %w", what, err)
	}
	r.metrics.setHandlers(r.handlers.Len())
	r.log.WithFields(logrus.Fields{"key": key, "for": what}).Debug("Registered handler")
	return nil
}

func addressKey(addr types.Address) (types.Key, error) {
	if addr == nil {
		return 0, fmt.Errorf("%w: nil address", ErrAddressKey)
	}
	key, err := addr.Key()
	if err != nil {
		return 0, fmt.Errorf("address %v: %w", addr, err)
	}
	return key, nil
}

// Route takes ownership of msg and hands it to the handler for its next hop.
//
// The first onward address is consumed and recorded in msg.Hop; an empty
// onward route is delivered to the controller. When the hop's own key is
// unbound the default handler for its kind is used. If no handler can be
// resolved the message is returned unmodified along with the error. Once a
// handler has been invoked the message belongs to it, whatever the outcome.
func (r *Router) Route(msg *protocol.Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	hop, key, err := nextHop(msg)
	if err != nil {
		r.metrics.observe(kindOf(hop), OutcomeAddressKey)
		return err
	}

	resolved, h, err := r.resolve(hop, key)
	if err != nil {
		return err
	}

	if !msg.OnwardRoute.Empty() {
		msg.OnwardRoute = msg.OnwardRoute.Tail()
	}
	msg.Hop = hop

	// No registry lock is held here: handlers may block or route again.
	if err := h.HandleMessage(msg); err != nil {
		r.metrics.observe(hop.Kind().String(), OutcomeHandlerFailed)
		return &HandlerError{Key: resolved, Hop: hop, Err: err}
	}
	r.metrics.observe(hop.Kind().String(), OutcomeDelivered)
	return nil
}

func nextHop(msg *protocol.Message) (types.Address, types.Key, error) {
	if msg.OnwardRoute.Empty() {
		return types.ControllerAddress, types.ControllerKey, nil
	}
	hop := msg.OnwardRoute.Head()
	key, err := addressKey(hop)
	if err != nil {
		return hop, 0, fmt.Errorf("next hop: %w", err)
	}
	return hop, key, nil
}

func (r *Router) resolve(hop types.Address, key types.Key) (types.Key, Handler, error) {
	kind := hop.Kind()
	fallback, hasDefault := r.defaults.Lookup(kind)

	keys := []types.Key{key}
	if hasDefault && fallback != key {
		keys = append(keys, fallback)
	}

	resolved, h, ok := r.handlers.First(keys...)
	log := r.log.WithFields(logrus.Fields{"hop": hop, "key": key})
	switch {
	case ok && resolved == key:
		log.Debug("Dispatching to registered handler")
		return resolved, h, nil
	case ok:
		r.metrics.fallback(kind.String())
		log.WithField("default", resolved).Debug("Dispatching to default handler")
		return resolved, h, nil
	case !hasDefault:
		r.metrics.observe(kind.String(), OutcomeUnimplemented)
		return 0, nil, fmt.Errorf("%w: %v (hop %v)", ErrUnimplementedAddressKind, kind, hop)
	default:
		r.metrics.observe(kind.String(), OutcomeUnregistered)
		return 0, nil, fmt.Errorf("%w: key %v or default %v for hop %v", ErrUnregisteredHandler, key, fallback, hop)
	}
}

func kindOf(a types.Address) string {
	if a == nil {
		return types.KindUnknown.String()
	}
	return a.Kind().String()
}

// Keys returns the bound keys in ascending order.
func (r *Router) Keys() []types.Key {
	keys := r.handlers.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// DefaultKeys returns a copy of the router's default-key table.
func (r *Router) DefaultKeys() DefaultKeys {
	return r.defaults.Clone()
}

// Close closes every registered handler that implements io.Closer. A pointer
// handler bound under several keys is closed once; other closers are closed
// once per binding.
func (r *Router) Close() error {
	var err error
	closed := make(map[uintptr]bool)
	for _, h := range r.handlers.Values() {
		c, ok := h.(io.Closer)
		if !ok {
			continue
		}
		if v := reflect.ValueOf(c); v.Kind() == reflect.Pointer {
			if closed[v.Pointer()] {
				continue
			}
			closed[v.Pointer()] = true
		}
		err = multierr.Append(err, c.Close())
	}
	return err
}

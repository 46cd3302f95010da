package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// ErrAddressKey is returned when an address payload cannot yield a dispatch key.
var ErrAddressKey = errors.New("address key")

// Kind identifies the transport variant of an Address.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLocal
	KindUDP
	KindTCP
	KindOnion
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindUDP:
		return "udp"
	case KindTCP:
		return "tcp"
	case KindOnion:
		return "onion"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return KindLocal, nil
	case "udp":
		return KindUDP, nil
	case "tcp":
		return KindTCP, nil
	case "onion":
		return KindOnion, nil
	default:
		return KindUnknown, fmt.Errorf("unknown address kind %q", s)
	}
}

// Key is the numeric dispatch key derived from an Address.
//
// The top byte carries the address kind and the low 56 bits a digest of the
// payload. Keys with a zero top byte are never derived from an address; they
// are reserved for the controller and the default handlers.
type Key uint64

// ControllerKey addresses the local controller.
const ControllerKey Key = 0

const (
	kindShift   = 56
	payloadMask = 1<<kindShift - 1
	ipv6Flag    = 1 << 55
)

func (k Key) String() string {
	return fmt.Sprintf("0x%016x", uint64(k))
}

// Reserved reports whether k lies in the range kept for the controller and
// default handlers.
func (k Key) Reserved() bool {
	return k>>kindShift == 0
}

// Kind returns the kind tag of a derived key, or KindUnknown for reserved keys.
func (k Key) Kind() Kind {
	return Kind(k >> kindShift)
}

func makeKey(kind Kind, payload uint64) Key {
	return Key(uint64(kind)<<kindShift | payload&payloadMask)
}

// Address identifies a routing destination. The set of implementations is
// closed: only this package defines them.
type Address interface {
	Kind() Kind
	// Key derives the dispatch key. It is pure: the same value always yields
	// the same key.
	Key() (Key, error)
	String() string

	isAddress()
}

// LocalAddress is an in-process target. Length is the width of Value in bytes.
type LocalAddress struct {
	Length uint8
	Value  uint32
}

// ControllerAddress is the notional destination used when an onward route is
// exhausted. It is deliberately not keyable.
var ControllerAddress = LocalAddress{}

func NewLocalAddress(length uint8, value uint32) LocalAddress {
	return LocalAddress{Length: length, Value: value}
}

func (LocalAddress) Kind() Kind { return KindLocal }
func (LocalAddress) isAddress()  {}

// Validate checks that Length is 1 to 4 and that Value fits in Length bytes.
func (a LocalAddress) Validate() error {
	if a.Length == 0 || a.Length > 4 {
		return fmt.Errorf("%w: local address length %d", ErrAddressKey, a.Length)
	}
	if a.Length < 4 && a.Value>>(8*uint(a.Length)) != 0 {
		return fmt.Errorf("%w: local address 0x%x exceeds %d bytes", ErrAddressKey, a.Value, a.Length)
	}
	return nil
}

func (a LocalAddress) Key() (Key, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	return makeKey(KindLocal, uint64(a.Value)), nil
}

func (a LocalAddress) String() string {
	return fmt.Sprintf("local:%d:0x%0*x", a.Length, int(a.Length)*2, a.Value)
}

// UDPAddress is a UDP endpoint. IPv4 and IPv6 (including IPv4-mapped IPv6)
// forms are kept distinct.
type UDPAddress struct {
	netip.AddrPort
}

func NewUDPAddress(ip netip.Addr, port uint16) UDPAddress {
	return UDPAddress{netip.AddrPortFrom(ip, port)}
}

func (UDPAddress) Kind() Kind { return KindUDP }
func (UDPAddress) isAddress()  {}

func (a UDPAddress) Key() (Key, error) {
	return ipKey(KindUDP, a.AddrPort)
}

func (a UDPAddress) String() string {
	return "udp:" + a.AddrPort.String()
}

// UDPAddr converts to the net package form used by sockets.
func (a UDPAddress) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(a.AddrPort)
}

// TCPAddress is a TCP endpoint.
type TCPAddress struct {
	netip.AddrPort
}

func NewTCPAddress(ip netip.Addr, port uint16) TCPAddress {
	return TCPAddress{netip.AddrPortFrom(ip, port)}
}

func (TCPAddress) Kind() Kind { return KindTCP }
func (TCPAddress) isAddress()  {}

func (a TCPAddress) Key() (Key, error) {
	return ipKey(KindTCP, a.AddrPort)
}

func (a TCPAddress) String() string {
	return "tcp:" + a.AddrPort.String()
}

func ipKey(kind Kind, ap netip.AddrPort) (Key, error) {
	ip := ap.Addr()
	if !ip.IsValid() {
		return 0, fmt.Errorf("%w: %v address has no IP", ErrAddressKey, kind)
	}
	if ap.Port() == 0 {
		return 0, fmt.Errorf("%w: %v address %v has no port", ErrAddressKey, kind, ip)
	}
	if ip.Is4() {
		v4 := ip.As4()
		return makeKey(kind, uint64(binary.BigEndian.Uint32(v4[:]))<<16|uint64(ap.Port())), nil
	}

	// IPv6 does not fit the payload; hash it and keep the v6 bit so it cannot
	// collide with an IPv4 key.
	v6 := ip.As16()
	var buf [18]byte
	copy(buf[:], v6[:])
	binary.BigEndian.PutUint16(buf[16:], ap.Port())
	return makeKey(kind, ipv6Flag|murmur3.Sum64(buf[:])&(ipv6Flag-1)), nil
}

// OnionAddress is a Tor hidden service endpoint.
type OnionAddress struct {
	Host string
	Port uint16
}

func NewOnionAddress(host string, port uint16) OnionAddress {
	return OnionAddress{Host: host, Port: port}
}

func (OnionAddress) Kind() Kind { return KindOnion }
func (OnionAddress) isAddress()  {}

func (a OnionAddress) Key() (Key, error) {
	label := strings.TrimSuffix(a.Host, ".onion")
	if label == a.Host || label == "" {
		return 0, fmt.Errorf("%w: %q is not an onion host", ErrAddressKey, a.Host)
	}
	if a.Port == 0 {
		return 0, fmt.Errorf("%w: onion address %s has no port", ErrAddressKey, a.Host)
	}
	h := murmur3.New64()
	h.Write([]byte(a.Host))
	h.Write([]byte{byte(a.Port >> 8), byte(a.Port)})
	return makeKey(KindOnion, h.Sum64()), nil
}

func (a OnionAddress) String() string {
	return "onion:" + a.HostPort()
}

// HostPort is the dialable host:port form.
func (a OnionAddress) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// ParseAddress parses the String form of an address, for example
// "udp:127.0.0.1:8080", "tcp:[::1]:7000", "local:4:0x00010203" or
// "onion:example.onion:80".
func ParseAddress(s string) (Address, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return nil, fmt.Errorf("address %q: missing scheme", s)
	}
	kind, err := ParseKind(scheme)
	if err != nil {
		return nil, fmt.Errorf("address %q: %w", s, err)
	}

	switch kind {
	case KindLocal:
		l, v, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("address %q: expected local:<length>:<value>", s)
		}
		length, err := strconv.ParseUint(l, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("address %q: bad length: %w", s, err)
		}
		value, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("address %q: bad value: %w", s, err)
		}
		a := NewLocalAddress(uint8(length), uint32(value))
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("address %q: %w", s, err)
		}
		return a, nil

	case KindUDP, KindTCP:
		ap, err := netip.ParseAddrPort(rest)
		if err != nil {
			return nil, fmt.Errorf("address %q: %w", s, err)
		}
		if kind == KindUDP {
			return UDPAddress{ap}, nil
		}
		return TCPAddress{ap}, nil

	case KindOnion:
		host, p, err := net.SplitHostPort(rest)
		if err != nil {
			return nil, fmt.Errorf("address %q: %w", s, err)
		}
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("address %q: bad port: %w", s, err)
		}
		return NewOnionAddress(host, uint16(port)), nil
	}
	return nil, fmt.Errorf("address %q: unsupported kind %v", s, kind)
}

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"

	"github.com/busybox42/waypoint/pkg/types"
	"github.com/multiformats/go-varint"
)

const (
	ipv4Tag uint8 = 4
	ipv6Tag uint8 = 6
)

// ByteReader is what the address decoder consumes.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// WriteAddress encodes a single address: a kind byte followed by the
// kind-specific payload.
func WriteAddress(w io.Writer, a types.Address) error {
	switch a := a.(type) {
	case types.LocalAddress:
		if err := a.Validate(); err != nil {
			return err
		}
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], a.Value)
		if _, err := w.Write([]byte{byte(types.KindLocal), a.Length}); err != nil {
			return err
		}
		_, err := w.Write(v[4-a.Length:])
		return err

	case types.UDPAddress:
		return writeAddrPort(w, types.KindUDP, a.AddrPort)

	case types.TCPAddress:
		return writeAddrPort(w, types.KindTCP, a.AddrPort)

	case types.OnionAddress:
		if len(a.Host) == 0 || len(a.Host) > maxOnionHost {
			return fmt.Errorf("onion host length %d out of range", len(a.Host))
		}
		if _, err := w.Write([]byte{byte(types.KindOnion)}); err != nil {
			return err
		}
		if _, err := w.Write(varint.ToUvarint(uint64(len(a.Host)))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, a.Host); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, a.Port)

	case nil:
		return fmt.Errorf("nil address")
	}
	return fmt.Errorf("no wire encoding for %v address", a.Kind())
}

func writeAddrPort(w io.Writer, kind types.Kind, ap netip.AddrPort) error {
	ip := ap.Addr()
	var hdr []byte
	switch {
	case ip.Is4():
		v4 := ip.As4()
		hdr = append([]byte{byte(kind), ipv4Tag}, v4[:]...)
	case ip.Is6():
		v6 := ip.As16()
		hdr = append([]byte{byte(kind), ipv6Tag}, v6[:]...)
	default:
		return fmt.Errorf("%v address has no IP", kind)
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, ap.Port())
}

// ReadAddress decodes one address written by WriteAddress.
func ReadAddress(r ByteReader) (types.Address, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read address kind: %w", err)
	}

	switch kind := types.Kind(tag); kind {
	case types.KindLocal:
		length, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("failed to read local address length: %w", err)
		}
		if length == 0 || length > 4 {
			return nil, fmt.Errorf("local address length %d out of range", length)
		}
		var v [4]byte
		if _, err := io.ReadFull(r, v[4-length:]); err != nil {
			return nil, fmt.Errorf("failed to read local address: %w", err)
		}
		return types.NewLocalAddress(length, binary.BigEndian.Uint32(v[:])), nil

	case types.KindUDP, types.KindTCP:
		ap, err := readAddrPort(r)
		if err != nil {
			return nil, fmt.Errorf("%v address: %w", kind, err)
		}
		if kind == types.KindUDP {
			return types.UDPAddress{AddrPort: ap}, nil
		}
		return types.TCPAddress{AddrPort: ap}, nil

	case types.KindOnion:
		n, err := varint.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read onion host length: %w", err)
		}
		if n == 0 || n > maxOnionHost {
			return nil, fmt.Errorf("onion host length %d out of range", n)
		}
		host := make([]byte, n)
		if _, err := io.ReadFull(r, host); err != nil {
			return nil, fmt.Errorf("failed to read onion host: %w", err)
		}
		var port uint16
		if err := binary.Read(r, binary.BigEndian, &port); err != nil {
			return nil, fmt.Errorf("failed to read onion port: %w", err)
		}
		return types.NewOnionAddress(string(host), port), nil

	default:
		return nil, fmt.Errorf("unknown address kind %d", tag)
	}
}

func readAddrPort(r ByteReader) (netip.AddrPort, error) {
	ver, err := r.ReadByte()
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("failed to read ip version: %w", err)
	}

	var ip netip.Addr
	switch ver {
	case ipv4Tag:
		var v4 [4]byte
		if _, err := io.ReadFull(r, v4[:]); err != nil {
			return netip.AddrPort{}, fmt.Errorf("failed to read ipv4: %w", err)
		}
		ip = netip.AddrFrom4(v4)
	case ipv6Tag:
		var v6 [16]byte
		if _, err := io.ReadFull(r, v6[:]); err != nil {
			return netip.AddrPort{}, fmt.Errorf("failed to read ipv6: %w", err)
		}
		ip = netip.AddrFrom16(v6)
	default:
		return netip.AddrPort{}, fmt.Errorf("unknown ip version %d", ver)
	}

	var port uint16
	if err := binary.Read(r, binary.BigEndian, &port); err != nil {
		return netip.AddrPort{}, fmt.Errorf("failed to read port: %w", err)
	}
	return netip.AddrPortFrom(ip, port), nil
}

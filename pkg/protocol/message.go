package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/busybox42/waypoint/pkg/types"
	"github.com/multiformats/go-varint"
)

// Version is the wire protocol version carried by every message.
type Version uint32

const CurrentVersion Version = 1

const (
	MaxBodySize  = 1024 * 1024 // 1MB
	MaxRouteLen  = 64
	maxOnionHost = 255
)

// Message is the routing envelope. The body is opaque to routing.
type Message struct {
	Version     Version
	OnwardRoute types.Route
	ReturnRoute types.Route
	Body        []byte

	// Hop is the address consumed by the routing decision that handed the
	// message to its current handler. It is not encoded on the wire.
	Hop types.Address
}

func NewMessage(onward, ret types.Route, body []byte) *Message {
	if onward == nil {
		onward = types.Route{}
	}
	if ret == nil {
		ret = types.Route{}
	}
	return &Message{
		Version:     CurrentVersion,
		OnwardRoute: onward,
		ReturnRoute: ret,
		Body:        body,
	}
}

func (m *Message) Serialize() ([]byte, error) {
	if len(m.Body) > MaxBodySize {
		return nil, fmt.Errorf("body of %d bytes exceeds %d", len(m.Body), MaxBodySize)
	}

	buf := new(bytes.Buffer)
	buf.Write(varint.ToUvarint(uint64(m.Version)))

	if err := writeRoute(buf, m.OnwardRoute); err != nil {
		return nil, fmt.Errorf("failed to write onward route: %w", err)
	}
	if err := writeRoute(buf, m.ReturnRoute); err != nil {
		return nil, fmt.Errorf("failed to write return route: %w", err)
	}

	buf.Write(varint.ToUvarint(uint64(len(m.Body))))
	buf.Write(m.Body)

	return buf.Bytes(), nil
}

func DeserializeMessage(data []byte) (*Message, error) {
	buf := bytes.NewReader(data)

	v, err := varint.ReadUvarint(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}
	if v != uint64(CurrentVersion) {
		return nil, fmt.Errorf("unsupported protocol version %d", v)
	}
	msg := &Message{Version: Version(v)}

	if msg.OnwardRoute, err = readRoute(buf); err != nil {
		return nil, fmt.Errorf("failed to read onward route: %w", err)
	}
	if msg.ReturnRoute, err = readRoute(buf); err != nil {
		return nil, fmt.Errorf("failed to read return route: %w", err)
	}

	bodyLen, err := varint.ReadUvarint(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read body length: %w", err)
	}
	if bodyLen > MaxBodySize || bodyLen > uint64(buf.Len()) {
		return nil, fmt.Errorf("invalid body length %d", bodyLen)
	}
	msg.Body = make([]byte, bodyLen)
	if _, err := io.ReadFull(buf, msg.Body); err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if buf.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after message", buf.Len())
	}
	return msg, nil
}

func writeRoute(buf *bytes.Buffer, r types.Route) error {
	if len(r) > MaxRouteLen {
		return fmt.Errorf("route of %d addresses exceeds %d", len(r), MaxRouteLen)
	}
	buf.Write(varint.ToUvarint(uint64(len(r))))
	for _, a := range r {
		if err := WriteAddress(buf, a); err != nil {
			return err
		}
	}
	return nil
}

func readRoute(buf *bytes.Reader) (types.Route, error) {
	n, err := varint.ReadUvarint(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read route length: %w", err)
	}
	if n > MaxRouteLen {
		return nil, fmt.Errorf("route of %d addresses exceeds %d", n, MaxRouteLen)
	}
	r := make(types.Route, 0, n)
	for i := uint64(0); i < n; i++ {
		a, err := ReadAddress(buf)
		if err != nil {
			return nil, fmt.Errorf("address %d: %w", i, err)
		}
		r = append(r, a)
	}
	return r, nil
}

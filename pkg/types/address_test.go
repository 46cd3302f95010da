package types

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyDeterminism(t *testing.T) {
	addrs := []Address{
		NewLocalAddress(4, 0x00010203),
		NewLocalAddress(1, 0x7f),
		NewUDPAddress(netip.MustParseAddr("127.0.0.1"), 0x8080),
		NewUDPAddress(netip.MustParseAddr("2001:db8::1"), 0x7070),
		NewTCPAddress(netip.MustParseAddr("10.0.1.10"), 0x7070),
		NewOnionAddress("exampleonionservice.onion", 80),
	}

	for _, a := range addrs {
		t.Run(a.String(), func(t *testing.T) {
			k1, err := a.Key()
			require.NoError(t, err)
			k2, err := a.Key()
			require.NoError(t, err)
			require.Equal(t, k1, k2)
			require.False(t, k1.Reserved(), "derived key %v must not be reserved", k1)
			require.Equal(t, a.Kind(), k1.Kind())
		})
	}
}

func TestKeyDistinguishesKinds(t *testing.T) {
	ip := netip.MustParseAddr("127.0.0.1")
	udp, err := NewUDPAddress(ip, 4050).Key()
	require.NoError(t, err)
	tcp, err := NewTCPAddress(ip, 4050).Key()
	require.NoError(t, err)
	require.NotEqual(t, udp, tcp)
}

func TestIPv4KeysAreExact(t *testing.T) {
	seen := map[Key]string{}
	for _, s := range []string{"127.0.0.1", "127.0.0.2", "10.0.1.10", "10.0.1.11"} {
		for _, port := range []uint16{1, 0x7070, 0x8080, 0xffff} {
			a := NewUDPAddress(netip.MustParseAddr(s), port)
			k, err := a.Key()
			require.NoError(t, err)
			prev, dup := seen[k]
			require.False(t, dup, "%v collides with %s", a, prev)
			seen[k] = a.String()
		}
	}
}

func TestIPv4AndMappedIPv6Differ(t *testing.T) {
	v4, err := NewUDPAddress(netip.MustParseAddr("1.2.3.4"), 9000).Key()
	require.NoError(t, err)
	mapped, err := NewUDPAddress(netip.MustParseAddr("::ffff:1.2.3.4"), 9000).Key()
	require.NoError(t, err)
	require.NotEqual(t, v4, mapped)
}

func TestMalformedAddresses(t *testing.T) {
	tests := []struct {
		name string
		addr Address
	}{
		{"local zero length", NewLocalAddress(0, 0)},
		{"local too long", NewLocalAddress(5, 1)},
		{"local value overflow", NewLocalAddress(1, 0x100)},
		{"udp no ip", UDPAddress{}},
		{"udp no port", NewUDPAddress(netip.MustParseAddr("127.0.0.1"), 0)},
		{"tcp no port", NewTCPAddress(netip.MustParseAddr("::1"), 0)},
		{"onion bad host", NewOnionAddress("example.com", 80)},
		{"onion empty label", NewOnionAddress(".onion", 80)},
		{"onion no port", NewOnionAddress("abc.onion", 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.addr.Key()
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrAddressKey), "got %v", err)
		})
	}
}

func TestControllerAddressIsNotKeyable(t *testing.T) {
	_, err := ControllerAddress.Key()
	require.ErrorIs(t, err, ErrAddressKey)
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want Address
	}{
		{"local:4:0x00010203", NewLocalAddress(4, 0x00010203)},
		{"local:2:17", NewLocalAddress(2, 17)},
		{"udp:127.0.0.1:32896", NewUDPAddress(netip.MustParseAddr("127.0.0.1"), 0x8080)},
		{"udp:[2001:db8::1]:7000", NewUDPAddress(netip.MustParseAddr("2001:db8::1"), 7000)},
		{"tcp:10.0.1.10:28784", NewTCPAddress(netip.MustParseAddr("10.0.1.10"), 0x7070)},
		{"onion:abc.onion:80", NewOnionAddress("abc.onion", 80)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)

			again, err := ParseAddress(got.String())
			require.NoError(t, err)
			require.Equal(t, got, again)
		})
	}
}

func TestParseAddressErrors(t *testing.T) {
	for _, in := range []string{"", "127.0.0.1:80", "ipx:1", "local:4", "local:x:1", "local:2:0x10203", "local:0:0", "local:5:1", "udp:nope", "onion:abc.onion"} {
		_, err := ParseAddress(in)
		require.Error(t, err, in)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindLocal, KindUDP, KindTCP, KindOnion} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
	_, err := ParseKind("carrier-pigeon")
	require.Error(t, err)
}

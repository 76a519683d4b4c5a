package mcast

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopbackConn(t *testing.T) *Conn {
	t.Helper()
	recv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	send, err := net.DialUDP("udp4", nil, recv.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	c := newConn(recv, send, zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConn_SendReceive(t *testing.T) {
	t.Parallel()

	c := loopbackConn(t)
	require.NoError(t, c.Send([]byte("wave\x02payload")))

	select {
	case p := <-c.Packets():
		assert.Equal(t, []byte("wave\x02payload"), p.Data)
		assert.True(t, p.From.Addr().IsLoopback())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

func TestConn_CloseEndsPackets(t *testing.T) {
	t.Parallel()

	c := loopbackConn(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case _, ok := <-c.Packets():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("packets channel not closed")
	}
}

func TestParseGroup(t *testing.T) {
	t.Parallel()

	addr, err := ParseGroup(DefaultGroup)
	require.NoError(t, err)
	assert.Equal(t, 4442, addr.Port)
	assert.True(t, addr.IP.IsMulticast())

	for _, bad := range []string{"", "239.0.0.143", "10.0.0.1:4442", "[ff02::1]:4442", "host:1"} {
		_, err := ParseGroup(bad)
		assert.Error(t, err, bad)
	}
}

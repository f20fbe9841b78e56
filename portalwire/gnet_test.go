package portalwire

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
	"github.com/zen-eth/portalnode/testlog"
)

func startGnetConn(t *testing.T, addr string) *GnetConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gc := NewGnetConn(testlog.Logger(t, log.LevelInfo))
	require.NoError(t, gc.ListenUDP(ctx, addr))
	t.Cleanup(func() { gc.Close() })
	return gc
}

func loopbackAddrPort(t *testing.T, gc *GnetConn) netip.AddrPort {
	t.Helper()
	addr := gc.LocalAddr().(*net.UDPAddr)
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(addr.Port))
}

func TestGnetConnExchange(t *testing.T) {
	conn1 := startGnetConn(t, "127.0.0.1:12345")
	conn2 := startGnetConn(t, "127.0.0.1:12346")

	sendData := bytes.Repeat([]byte("Hello, UDP! "), 8)
	_, err := conn1.WriteToUDPAddrPort(sendData, loopbackAddrPort(t, conn2))
	require.NoError(t, err)

	buf := make([]byte, maxPacketSize)
	n, from, err := conn2.ReadFromUDPAddrPort(buf)
	require.NoError(t, err)
	require.Equal(t, sendData, buf[:n])
	require.Equal(t, uint16(12345), from.Port())

	_, err = conn2.WriteToUDPAddrPort(sendData, loopbackAddrPort(t, conn1))
	require.NoError(t, err)
	n, _, err = conn1.ReadFromUDPAddrPort(buf)
	require.NoError(t, err)
	require.Equal(t, sendData, buf[:n])
}

func TestGnetConnDropsShortPackets(t *testing.T) {
	conn1 := startGnetConn(t, "127.0.0.1:12347")
	conn2 := startGnetConn(t, "127.0.0.1:12348")

	_, err := conn1.WriteToUDPAddrPort([]byte("short"), loopbackAddrPort(t, conn2))
	require.NoError(t, err)
	valid := bytes.Repeat([]byte{0xab}, minDiscv5PacketSize)
	_, err = conn1.WriteToUDPAddrPort(valid, loopbackAddrPort(t, conn2))
	require.NoError(t, err)

	buf := make([]byte, maxPacketSize)
	n, _, err := conn2.ReadFromUDPAddrPort(buf)
	require.NoError(t, err)
	require.Equal(t, valid, buf[:n])
}

func TestGnetConnReadAfterClose(t *testing.T) {
	gc := startGnetConn(t, "127.0.0.1:12349")
	require.NoError(t, gc.Close())

	_, _, err := gc.ReadFromUDPAddrPort(make([]byte, maxPacketSize))
	require.ErrorIs(t, err, net.ErrClosed)
}

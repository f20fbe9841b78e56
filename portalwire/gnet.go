package portalwire

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/discover"
	"github.com/panjf2000/gnet/v2"
)

var _ discover.UDPConn = &GnetConn{}

const (
	// smallest packet discv5 can produce: a masked header with no message
	minDiscv5PacketSize = 63

	gnetPacketQueue = 1024
)

type packet struct {
	addr netip.AddrPort
	data []byte
}

// GnetConn is a UDP socket driven by a gnet event loop. Inbound datagrams
// are queued for the discv5 read loop; writes go straight to a duplicate of
// the listening socket.
type GnetConn struct {
	gnet.BuiltinEventEngine
	conn      *net.UDPConn
	log       log.Logger
	localAddr *net.UDPAddr
	eng       gnet.Engine

	packets   chan packet
	booted    chan error
	closeOnce sync.Once
	closed    chan struct{}
}

func NewGnetConn(logger log.Logger) *GnetConn {
	return &GnetConn{
		log:     logger,
		packets: make(chan packet, gnetPacketQueue),
		booted:  make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// ListenUDP starts the event loop on addr and returns once the socket is
// bound, the loop failed to start, or ctx is done.
func (gc *GnetConn) ListenUDP(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	if udpAddr.IP == nil {
		udpAddr.IP = net.IPv4zero
	}
	gc.localAddr = udpAddr

	go func() {
		if err := gnet.Run(gc, "udp://"+addr, gnet.WithReusePort(false)); err != nil {
			gc.log.Error("Gnet event loop exited", "err", err)
			select {
			case gc.booted <- err:
			default:
			}
		}
	}()
	select {
	case err := <-gc.booted:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (gc *GnetConn) OnBoot(eng gnet.Engine) gnet.Action {
	fd, err := eng.Dup()
	if err != nil {
		gc.booted <- err
		return gnet.Shutdown
	}
	conn, err := net.FileConn(os.NewFile(uintptr(fd), "udp"))
	if err != nil {
		gc.booted <- err
		return gnet.Shutdown
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		gc.booted <- errors.New("gnet: duplicated socket is not udp")
		return gnet.Shutdown
	}
	gc.conn = udpConn
	if la, ok := udpConn.LocalAddr().(*net.UDPAddr); ok && gc.localAddr.Port == 0 {
		gc.localAddr = la
	}
	gc.eng = eng
	gc.booted <- nil
	return gnet.None
}

func (gc *GnetConn) OnTraffic(c gnet.Conn) gnet.Action {
	data, err := c.Next(-1)
	if err != nil {
		gc.log.Debug("Gnet read failed", "err", err)
		return gnet.None
	}
	if len(data) > maxPacketSize || len(data) < minDiscv5PacketSize {
		gc.log.Trace("Dropping packet with invalid length", "len", len(data), "addr", c.RemoteAddr())
		return gnet.None
	}
	remote, ok := c.RemoteAddr().(*net.UDPAddr)
	if !ok {
		return gnet.None
	}
	ip, ok := netip.AddrFromSlice(remote.IP)
	if !ok {
		return gnet.None
	}
	pkt := packet{
		addr: netip.AddrPortFrom(ip.Unmap(), uint16(remote.Port)),
		data: append([]byte(nil), data...),
	}
	select {
	case gc.packets <- pkt:
	default:
		gc.log.Debug("Dropping packet, read queue full", "addr", pkt.addr)
	}
	return gnet.None
}

func (gc *GnetConn) OnShutdown(gnet.Engine) {
	gc.markClosed()
	if gc.conn != nil {
		if err := gc.conn.Close(); err != nil {
			gc.log.Debug("Closing gnet socket failed", "err", err)
		}
	}
}

func (gc *GnetConn) markClosed() {
	gc.closeOnce.Do(func() { close(gc.closed) })
}

// ReadFromUDPAddrPort blocks until a datagram arrives. It returns
// net.ErrClosed once the connection is closed.
func (gc *GnetConn) ReadFromUDPAddrPort(b []byte) (n int, addr netip.AddrPort, err error) {
	select {
	case pkt := <-gc.packets:
		return copy(b, pkt.data), pkt.addr, nil
	case <-gc.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (gc *GnetConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (n int, err error) {
	return gc.conn.WriteToUDPAddrPort(b, addr)
}

func (gc *GnetConn) Close() error {
	gc.markClosed()
	return gc.eng.Stop(context.Background())
}

func (gc *GnetConn) LocalAddr() net.Addr {
	return gc.localAddr
}

package portalwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/discover"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/netutil"
	"github.com/optimism-java/utp-go"
	"github.com/optimism-java/utp-go/libutp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxUtpConns = 50
	// utp packets travel inside talk requests, which have to fit a discv5 packet
	utpMaxPacketSize = 1145
)

var (
	errNoEndpoint    = errors.New("node has no udp endpoint")
	errUtpNotStarted = errors.New("utp transport not started")
)

// utpTalker is the part of discv5 the utp socket runs on.
type utpTalker interface {
	Self() *enode.Node
	TalkRequestToID(id enode.ID, addr netip.AddrPort, protocol string, request []byte) ([]byte, error)
	RegisterTalkHandler(protocol string, handler discover.TalkRequestHandler)
}

// ReleasePermit gives back a transfer slot. It must be called exactly once
// for every granted permit.
type ReleasePermit func()

var NoPermit ReleasePermit = func() {}

// UtpController bounds the number of concurrent transfers per direction.
type UtpController struct {
	inboundLimit  *semaphore.Weighted
	outboundLimit *semaphore.Weighted
}

func NewUtpController(maxLimit int) *UtpController {
	return &UtpController{
		inboundLimit:  semaphore.NewWeighted(int64(maxLimit)),
		outboundLimit: semaphore.NewWeighted(int64(maxLimit)),
	}
}

func (u *UtpController) GetInboundPermit() (ReleasePermit, bool) {
	if ok := u.inboundLimit.TryAcquire(1); !ok {
		return NoPermit, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { u.inboundLimit.Release(1) })
	}, true
}

func (u *UtpController) GetOutboundPermit() (ReleasePermit, bool) {
	if ok := u.outboundLimit.TryAcquire(1); !ok {
		return NoPermit, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { u.outboundLimit.Release(1) })
	}, true
}

// UtpTransport implements BulkTransfer with utp connections whose packets
// are carried as talk requests of the "utp" protocol.
type UtpTransport struct {
	startOnce  sync.Once
	stopOnce   sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	log        log.Logger
	talker     utpTalker
	controller *UtpController
	connIds    libutp.ConnIdGenerator

	router   *utp.PacketRouter
	sm       *utp.SocketManager
	listener *utp.Listener
	lAddr    *utp.Addr

	// outgoing connections hand packets to the router without a node id,
	// the destination is resolved by address.
	peersMu sync.RWMutex
	peers   map[string]enode.ID
}

var _ BulkTransfer = (*UtpTransport)(nil)

func NewUtpTransport(ctx context.Context, talker utpTalker, maxConns int, logger log.Logger) *UtpTransport {
	if maxConns <= 0 {
		maxConns = defaultMaxUtpConns
	}
	if logger == nil {
		logger = log.New("protocol", "utp")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &UtpTransport{
		ctx:        ctx,
		cancel:     cancel,
		log:        logger,
		talker:     talker,
		controller: NewUtpController(maxConns),
		connIds:    libutp.NewConnIdGenerator(),
		peers:      make(map[string]enode.ID),
	}
}

// Start creates the socket manager and the listener and starts taking utp
// packets from discv5.
func (u *UtpTransport) Start() error {
	var err error
	u.startOnce.Do(func() {
		self := u.talker.Self()
		laddr := &net.UDPAddr{IP: self.IP(), Port: self.UDP()}
		if laddr.IP == nil {
			laddr.IP = net.IPv4zero
		}
		u.router = utp.NewPacketRouter(u.writePacket)
		u.sm, err = utp.NewSocketManagerWithOptions("utp", laddr,
			utp.WithLogger(u.zapLogger()),
			utp.WithMaxPacketSize(utpMaxPacketSize),
			utp.WithPacketRouter(u.router))
		if err != nil {
			return
		}
		u.listener, err = utp.ListenUTPOptions("utp", (*utp.Addr)(laddr), utp.WithSocketManager(u.sm))
		if err != nil {
			return
		}
		u.lAddr = (*utp.Addr)(laddr)
		u.talker.RegisterTalkHandler(string(Utp), u.handleUtpTalkRequest)
	})
	return err
}

func (u *UtpTransport) Stop() {
	u.stopOnce.Do(func() {
		u.cancel()
		if u.listener == nil {
			return
		}
		if err := u.listener.Close(); err != nil {
			u.log.Debug("Failed to close utp listener", "err", err)
		}
	})
}

// zapLogger is the logger handed to utp-go; it is only verbose when trace
// logging is on for this transport.
func (u *UtpTransport) zapLogger() *zap.Logger {
	if !u.log.Enabled(u.ctx, log.LevelTrace) {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func (u *UtpTransport) handleUtpTalkRequest(node *enode.Node, addr *net.UDPAddr, data []byte) []byte {
	if node == nil || u.ctx.Err() != nil {
		return []byte{}
	}
	u.rememberPeer(node.ID(), addr)
	buf := make([]byte, len(data))
	copy(buf, data)
	u.router.ReceiveMessage(buf, &utp.NodeInfo{Id: node.ID(), Addr: addr})
	return []byte{}
}

// writePacket sends a utp packet without waiting for the talk response,
// since the peer answers utp talk requests with an empty message.
func (u *UtpTransport) writePacket(buf []byte, id enode.ID, addr *net.UDPAddr) (int, error) {
	if u.ctx.Err() != nil {
		return 0, net.ErrClosed
	}
	if id == (enode.ID{}) {
		known, ok := u.peerByAddr(addr)
		if !ok {
			return 0, fmt.Errorf("no node known at %v", addr)
		}
		id = known
	}
	msg := make([]byte, len(buf))
	copy(msg, buf)
	addrPort := netip.AddrPortFrom(netutil.IPToAddr(addr.IP), uint16(addr.Port))
	go func() {
		if _, err := u.talker.TalkRequestToID(id, addrPort, string(Utp), msg); err != nil {
			u.log.Trace("Failed to send utp packet", "id", id, "addr", addrPort, "err", err)
		}
	}()
	return len(buf), nil
}

func (u *UtpTransport) rememberPeer(id enode.ID, addr *net.UDPAddr) {
	key := addr.String()
	u.peersMu.RLock()
	known, ok := u.peers[key]
	u.peersMu.RUnlock()
	if ok && known == id {
		return
	}
	u.peersMu.Lock()
	u.peers[key] = id
	u.peersMu.Unlock()
}

func (u *UtpTransport) peerByAddr(addr *net.UDPAddr) (enode.ID, bool) {
	u.peersMu.RLock()
	defer u.peersMu.RUnlock()
	id, ok := u.peers[addr.String()]
	return id, ok
}

func (u *UtpTransport) OpenForIncoming(node *enode.Node, addr *net.UDPAddr, onComplete func([]byte, error)) (uint16, error) {
	if u.listener == nil {
		return 0, errUtpNotStarted
	}
	release, ok := u.controller.GetInboundPermit()
	if !ok {
		return 0, ErrRateLimited
	}
	u.rememberPeer(node.ID(), addr)
	cid := u.connIds.GenCid(node.ID(), false)
	go func() {
		defer release()
		defer u.connIds.Remove(cid)
		conn, err := u.accept(node, cid)
		if err != nil {
			onComplete(nil, err)
			return
		}
		defer conn.Close()

		readCtx, cancel := context.WithTimeout(u.ctx, defaultUTPReadTimeout)
		defer cancel()
		data, err := readToEOF(readCtx, conn)
		if err != nil {
			onComplete(nil, fmt.Errorf("read utp conn %d: %w", cid.SendId(), err))
			return
		}
		u.log.Trace("Read from utp conn", "id", node.ID(), "size", len(data))
		onComplete(data, nil)
	}()
	return cid.SendId(), nil
}

func (u *UtpTransport) ServeOutgoing(node *enode.Node, addr *net.UDPAddr, data []byte) (uint16, error) {
	if u.listener == nil {
		return 0, errUtpNotStarted
	}
	release, ok := u.controller.GetOutboundPermit()
	if !ok {
		return 0, ErrRateLimited
	}
	u.rememberPeer(node.ID(), addr)
	cid := u.connIds.GenCid(node.ID(), false)
	go func() {
		defer release()
		defer u.connIds.Remove(cid)
		conn, err := u.accept(node, cid)
		if err != nil {
			u.log.Debug("Failed to accept utp conn", "id", node.ID(), "connId", cid.SendId(), "err", err)
			return
		}
		defer conn.Close()

		writeCtx, cancel := context.WithTimeout(u.ctx, defaultUTPWriteTimeout)
		defer cancel()
		n, err := conn.WriteContext(writeCtx, data)
		if err != nil {
			u.log.Debug("Failed to write to utp conn", "id", node.ID(), "connId", cid.SendId(), "err", err)
			return
		}
		u.log.Trace("Wrote to utp conn", "id", node.ID(), "size", n)
	}()
	return cid.SendId(), nil
}

func (u *UtpTransport) WriteOverChannel(ctx context.Context, node *enode.Node, connId uint16, data []byte) error {
	release, ok := u.controller.GetOutboundPermit()
	if !ok {
		return ErrRateLimited
	}
	defer release()
	conn, err := u.dial(ctx, node, connId)
	if err != nil {
		return err
	}
	defer conn.Close()

	writeCtx, cancel := context.WithTimeout(ctx, defaultUTPWriteTimeout)
	defer cancel()
	if _, err = conn.WriteContext(writeCtx, data); err != nil {
		return fmt.Errorf("write utp conn %d: %w", connId, err)
	}
	return nil
}

func (u *UtpTransport) ReadFromChannel(ctx context.Context, node *enode.Node, connId uint16) ([]byte, error) {
	release, ok := u.controller.GetInboundPermit()
	if !ok {
		return nil, ErrRateLimited
	}
	defer release()
	conn, err := u.dial(ctx, node, connId)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	readCtx, cancel := context.WithTimeout(ctx, defaultUTPReadTimeout)
	defer cancel()
	data, err := readToEOF(readCtx, conn)
	if err != nil {
		return nil, fmt.Errorf("read utp conn %d: %w", connId, err)
	}
	return data, nil
}

func (u *UtpTransport) accept(node *enode.Node, cid *libutp.ConnId) (*utp.Conn, error) {
	connectCtx, cancel := context.WithTimeout(u.ctx, defaultUTPConnectTimeout)
	defer cancel()
	u.log.Debug("Will accept utp conn", "id", node.ID(), "connId", cid.SendId())
	conn, err := u.listener.AcceptUTPContext(connectCtx, node.ID(), cid)
	if err != nil {
		return nil, fmt.Errorf("accept utp conn %d: %w", cid.SendId(), err)
	}
	return conn, nil
}

// dial connects to the channel a peer announced with connId.
func (u *UtpTransport) dial(ctx context.Context, node *enode.Node, connId uint16) (*utp.Conn, error) {
	if u.listener == nil {
		return nil, errUtpNotStarted
	}
	addrPort, ok := node.UDPEndpoint()
	if !ok {
		return nil, errNoEndpoint
	}
	raddr := net.UDPAddrFromAddrPort(addrPort)
	u.rememberPeer(node.ID(), raddr)

	connectCtx, cancel := context.WithTimeout(ctx, defaultUTPConnectTimeout)
	defer cancel()
	u.log.Debug("Will connect to utp conn", "id", node.ID(), "connId", connId)
	conn, err := utp.DialUTPOptions("utp", u.lAddr, (*utp.Addr)(raddr),
		utp.WithContext(connectCtx),
		utp.WithSocketManager(u.sm),
		utp.WithConnId(connId))
	if err != nil {
		return nil, fmt.Errorf("connect utp conn %d: %w", connId, err)
	}
	return conn.(*utp.Conn), nil
}

// readToEOF reads until the peer closes its side of the connection.
func readToEOF(ctx context.Context, conn *utp.Conn) ([]byte, error) {
	var (
		data []byte
		buf  = make([]byte, 1024)
	)
	for {
		n, err := conn.ReadContext(ctx, buf)
		data = append(data, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return data, nil
		}
		// a remote close without an error surfaces as an op error wrapping nil
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Err == nil {
			return data, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

package portalwire

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/discover"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/stretchr/testify/require"
)

func testUtpControllerPermitAcquisition(t *testing.T, getPermit func() (ReleasePermit, bool)) {
	release, ok := getPermit()
	require.True(t, ok)

	_, ok = getPermit()
	require.False(t, ok)

	// releasing twice must not free a second slot
	release()
	release()
	second, ok := getPermit()
	require.True(t, ok)
	_, ok = getPermit()
	require.False(t, ok)
	second()
}

func TestUtpControllerGetPermit(t *testing.T) {
	utpCtrl := NewUtpController(1)
	testUtpControllerPermitAcquisition(t, utpCtrl.GetInboundPermit)
	testUtpControllerPermitAcquisition(t, utpCtrl.GetOutboundPermit)
}

func testUtpControllerConcurrentPermits(t *testing.T, getPermit func() (ReleasePermit, bool)) {
	var permitCount atomic.Int32
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			if _, ok := getPermit(); ok {
				permitCount.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(5), permitCount.Load())
}

func TestUtpControllerConcurrencyGetPermit(t *testing.T) {
	utpCtrl := NewUtpController(5)
	testUtpControllerConcurrentPermits(t, utpCtrl.GetOutboundPermit)
	testUtpControllerConcurrentPermits(t, utpCtrl.GetInboundPermit)
}

type memTalker struct {
	self  *enode.Node
	mu    sync.RWMutex
	peers map[enode.ID]*memTalker

	handlers map[string]discover.TalkRequestHandler
}

func newMemTalker(t *testing.T, port int) *memTalker {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &memTalker{
		self:     enode.NewV4(&key.PublicKey, net.IP{127, 0, 0, 1}, 0, port),
		peers:    make(map[enode.ID]*memTalker),
		handlers: make(map[string]discover.TalkRequestHandler),
	}
}

func (m *memTalker) connect(other *memTalker) {
	m.mu.Lock()
	m.peers[other.self.ID()] = other
	m.mu.Unlock()
	other.mu.Lock()
	other.peers[m.self.ID()] = m
	other.mu.Unlock()
}

func (m *memTalker) Self() *enode.Node { return m.self }

func (m *memTalker) TalkRequestToID(id enode.ID, addr netip.AddrPort, protocol string, request []byte) ([]byte, error) {
	m.mu.RLock()
	peer, ok := m.peers[id]
	m.mu.RUnlock()
	if !ok || int(addr.Port()) != peer.self.UDP() {
		return nil, errors.New("unknown peer")
	}
	peer.mu.RLock()
	handler := peer.handlers[protocol]
	peer.mu.RUnlock()
	if handler == nil {
		return nil, errors.New("no handler")
	}
	from := &net.UDPAddr{IP: m.self.IP(), Port: m.self.UDP()}
	return handler(m.self, from, request), nil
}

func (m *memTalker) RegisterTalkHandler(protocol string, handler discover.TalkRequestHandler) {
	m.mu.Lock()
	m.handlers[protocol] = handler
	m.mu.Unlock()
}

func newUtpPair(t *testing.T) (*UtpTransport, *memTalker, *UtpTransport, *memTalker) {
	ta, tb := newMemTalker(t, 31001), newMemTalker(t, 31002)
	ta.connect(tb)
	a := NewUtpTransport(context.Background(), ta, 4, log.New("protocol", "utp", "node", "a"))
	b := NewUtpTransport(context.Background(), tb, 4, log.New("protocol", "utp", "node", "b"))
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	t.Cleanup(func() {
		a.Stop()
		b.Stop()
	})
	return a, ta, b, tb
}

func udpAddrOf(n *enode.Node) *net.UDPAddr {
	return &net.UDPAddr{IP: n.IP(), Port: n.UDP()}
}

func TestUtpTransportServeOutgoing(t *testing.T) {
	a, ta, b, tb := newUtpPair(t)
	content := make([]byte, 20_000)
	_, _ = rand.Read(content)

	connId, err := b.ServeOutgoing(ta.self, udpAddrOf(ta.self), content)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got, err := a.ReadFromChannel(ctx, tb.self, connId)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestUtpTransportOpenForIncoming(t *testing.T) {
	a, ta, b, tb := newUtpPair(t)
	content := make([]byte, 5_000)
	_, _ = rand.Read(content)

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	connId, err := b.OpenForIncoming(ta.self, udpAddrOf(ta.self), func(data []byte, err error) {
		done <- result{data, err}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.WriteOverChannel(ctx, tb.self, connId, content))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		require.Equal(t, content, res.data)
	case <-time.After(10 * time.Second):
		t.Fatal("transfer did not complete")
	}
}

func TestUtpTransportPermits(t *testing.T) {
	ta := newMemTalker(t, 31003)
	tr := NewUtpTransport(context.Background(), ta, 1, nil)
	peer := newMemTalker(t, 31004)

	_, err := tr.ServeOutgoing(peer.self, udpAddrOf(peer.self), []byte{1})
	require.ErrorIs(t, err, errUtpNotStarted)

	require.NoError(t, tr.Start())
	defer tr.Stop()
	_, err = tr.ServeOutgoing(peer.self, udpAddrOf(peer.self), []byte{1})
	require.NoError(t, err)
	// the only outbound slot is held until the peer connects or the accept times out
	_, err = tr.ServeOutgoing(peer.self, udpAddrOf(peer.self), []byte{1})
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestUtpTransportDropsAnonymousPackets(t *testing.T) {
	ta := newMemTalker(t, 31005)
	tr := NewUtpTransport(context.Background(), ta, 1, nil)
	require.NoError(t, tr.Start())
	tr.Stop()
	require.Empty(t, tr.handleUtpTalkRequest(nil, &net.UDPAddr{IP: net.IP{127, 0, 0, 1}, Port: 9009}, []byte{1}))
	n, err := tr.writePacket([]byte{1}, enode.ID{}, &net.UDPAddr{IP: net.IP{127, 0, 0, 1}, Port: 9009})
	require.ErrorIs(t, err, net.ErrClosed)
	require.Zero(t, n)
}

package portalwire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/discover"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"github.com/zen-eth/portalnode/storage"
	"github.com/zen-eth/portalnode/testlog"
)

var errUnreachable = errors.New("peer unreachable")

// fakeNetwork connects portal protocols in memory. Talk requests are
// dispatched synchronously to the handler of the destination.
type fakeNetwork struct {
	mu       sync.RWMutex
	peers    map[enode.ID]*fakePeer
	nextPort int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{peers: make(map[enode.ID]*fakePeer), nextPort: 20000}
}

func (fn *fakeNetwork) peer(id enode.ID) *fakePeer {
	fn.mu.RLock()
	defer fn.mu.RUnlock()
	return fn.peers[id]
}

func (fn *fakeNetwork) port() int {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	fn.nextPort++
	return fn.nextPort
}

// fakePeer is the Transport of one node on a fakeNetwork.
type fakePeer struct {
	network *fakeNetwork
	local   *enode.LocalNode
	bulk    *fakeBulk

	mu       sync.Mutex
	handlers map[string]discover.TalkRequestHandler
	received map[byte]int
	silent   chan struct{}
}

var _ Transport = (*fakePeer)(nil)

func (fp *fakePeer) Self() *enode.Node { return fp.local.Node() }

func (fp *fakePeer) AllNodes() []*enode.Node { return nil }

func (fp *fakePeer) RegisterTalkHandler(protocol string, handler discover.TalkRequestHandler) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.handlers[protocol] = handler
}

func (fp *fakePeer) TalkRequest(n *enode.Node, protocol string, request []byte) ([]byte, error) {
	dst := fp.network.peer(n.ID())
	if dst == nil {
		return nil, errUnreachable
	}
	return dst.serve(fp.Self(), protocol, request)
}

func (fp *fakePeer) serve(from *enode.Node, protocol string, request []byte) ([]byte, error) {
	fp.mu.Lock()
	handler := fp.handlers[protocol]
	silent := fp.silent
	if len(request) > 0 {
		fp.received[request[0]]++
	}
	fp.mu.Unlock()

	if silent != nil {
		<-silent
		return nil, errUnreachable
	}
	if handler == nil {
		return nil, errUnreachable
	}
	resp := handler(from, &net.UDPAddr{IP: from.IP(), Port: from.UDP()}, request)
	if resp == nil {
		return nil, errUnreachable
	}
	return resp, nil
}

// goSilent makes the peer swallow requests until the test ends.
func (fp *fakePeer) goSilent(t *testing.T) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.silent = make(chan struct{})
	t.Cleanup(func() { close(fp.silent) })
}

func (fp *fakePeer) count(kind byte) int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.received[kind]
}

// fakeBulk hands payloads between fakePeers through numbered channels.
type fakeBulk struct {
	network *fakeNetwork

	mu          sync.Mutex
	nextId      uint16
	incoming    map[uint16]func([]byte, error)
	outgoing    map[uint16][]byte
	rateLimited bool
	opened      int
}

var _ BulkTransfer = (*fakeBulk)(nil)

func (fb *fakeBulk) OpenForIncoming(node *enode.Node, addr *net.UDPAddr, onComplete func([]byte, error)) (uint16, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.rateLimited {
		return 0, ErrRateLimited
	}
	fb.nextId++
	fb.incoming[fb.nextId] = onComplete
	fb.opened++
	return fb.nextId, nil
}

func (fb *fakeBulk) ServeOutgoing(node *enode.Node, addr *net.UDPAddr, data []byte) (uint16, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.rateLimited {
		return 0, ErrRateLimited
	}
	fb.nextId++
	fb.outgoing[fb.nextId] = data
	return fb.nextId, nil
}

func (fb *fakeBulk) WriteOverChannel(ctx context.Context, node *enode.Node, connId uint16, data []byte) error {
	dst := fb.network.peer(node.ID())
	if dst == nil {
		return errUnreachable
	}
	dst.bulk.mu.Lock()
	onComplete, ok := dst.bulk.incoming[connId]
	delete(dst.bulk.incoming, connId)
	dst.bulk.mu.Unlock()
	if !ok {
		return fmt.Errorf("no incoming channel %d", connId)
	}
	onComplete(data, nil)
	return nil
}

func (fb *fakeBulk) ReadFromChannel(ctx context.Context, node *enode.Node, connId uint16) ([]byte, error) {
	dst := fb.network.peer(node.ID())
	if dst == nil {
		return nil, errUnreachable
	}
	dst.bulk.mu.Lock()
	defer dst.bulk.mu.Unlock()
	data, ok := dst.bulk.outgoing[connId]
	if !ok {
		return nil, fmt.Errorf("no outgoing channel %d", connId)
	}
	delete(dst.bulk.outgoing, connId)
	return data, nil
}

func (fb *fakeBulk) openedCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.opened
}

type testNode struct {
	*PortalProtocol
	peer  *fakePeer
	store storage.ContentStorage
}

type testNodeConfig struct {
	versions protocolVersions
	store    storage.ContentStorage
	clock    mclock.Clock
}

type testNodeOption func(*testNodeConfig)

func withVersions(v ...uint8) testNodeOption {
	return func(c *testNodeConfig) { c.versions = v }
}

func withRadius(radius *uint256.Int) testNodeOption {
	return func(c *testNodeConfig) { c.store = storage.NewMockStorageWithRadius(radius) }
}

func withStorage(s storage.ContentStorage) testNodeOption {
	return func(c *testNodeConfig) { c.store = s }
}

func withClock(clock mclock.Clock) testNodeOption {
	return func(c *testNodeConfig) { c.clock = clock }
}

// newNode starts a history protocol on the network. Table maintenance is
// disabled so tests decide who knows whom.
func (fn *fakeNetwork) newNode(t *testing.T, opts ...testNodeOption) *testNode {
	t.Helper()
	cfg := &testNodeConfig{store: storage.NewMockStorage(), clock: mclock.System{}}
	for _, opt := range opts {
		opt(cfg)
	}

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	db, err := enode.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	ln := enode.NewLocalNode(db, key)
	ln.SetStaticIP(net.IP{127, 0, 0, 1})
	ln.Set(enr.UDP(fn.port()))
	ln.Set(Tag)
	if cfg.versions != nil {
		ln.Set(cfg.versions)
	}

	peer := &fakePeer{
		network:  fn,
		local:    ln,
		handlers: make(map[string]discover.TalkRequestHandler),
		received: make(map[byte]int),
		bulk: &fakeBulk{
			network:  fn,
			incoming: make(map[uint16]func([]byte, error)),
			outgoing: make(map[uint16][]byte),
		},
	}

	conf := DefaultPortalProtocolConfig()
	conf.Clock = cfg.clock
	proto, err := NewPortalProtocol(conf, History, ln, peer, peer.bulk, cfg.store,
		WithDisableTableMaintenanceOption(true),
		WithLogger(testlog.Logger(t, log.LevelInfo)))
	require.NoError(t, err)
	require.NoError(t, proto.Start())
	t.Cleanup(proto.Stop)

	fn.mu.Lock()
	fn.peers[ln.ID()] = peer
	fn.mu.Unlock()
	return &testNode{PortalProtocol: proto, peer: peer, store: cfg.store}
}

// knows puts every given node into the routing table of n.
func (n *testNode) knows(t *testing.T, others ...*testNode) {
	t.Helper()
	for _, o := range others {
		require.True(t, n.AddEnr(o.Self()))
	}
}

func (n *testNode) has(key []byte) bool {
	_, err := n.store.Get(key, storage.ContentIdFromKey(key))
	return err == nil
}

type failingStorage struct {
	storage.ContentStorage
}

func (failingStorage) Get(contentKey []byte, contentId []byte) ([]byte, error) {
	return nil, errors.New("disk failure")
}

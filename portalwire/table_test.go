package portalwire

import (
	"crypto/ecdsa"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func newTestLocalNode(t *testing.T) (*enode.LocalNode, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	db, err := enode.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	ln := enode.NewLocalNode(db, key)
	ln.SetStaticIP(net.IP{127, 0, 0, 1})
	ln.Set(enr.UDP(30303))
	return ln, key
}

func newSignedNode(t *testing.T, key *ecdsa.PrivateKey, seq uint64, entries ...enr.Entry) *enode.Node {
	t.Helper()
	var r enr.Record
	r.Set(enr.IP(net.IP{127, 0, 0, 1}))
	r.Set(enr.UDP(30303))
	for _, e := range entries {
		r.Set(e)
	}
	r.SetSeq(seq)
	require.NoError(t, enode.SignV4(&r, key))
	n, err := enode.New(enode.ValidSchemes, &r)
	require.NoError(t, err)
	return n
}

func newRandomNode(t *testing.T) *enode.Node {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return newSignedNode(t, key, 1)
}

func newTestTable(t *testing.T, clock mclock.Clock) *Table {
	ln, _ := newTestLocalNode(t)
	return newTable(ln, 1024*1024, 0, clock, nil)
}

func TestTableExactMatch(t *testing.T) {
	tab := newTestTable(t, nil)
	n := newRandomNode(t)
	require.True(t, tab.addOrUpdate(n))
	require.Equal(t, n.ID(), tab.findClosestNode(n.ID()).ID())
}

func TestTableIgnoresSelf(t *testing.T) {
	tab := newTestTable(t, nil)
	require.False(t, tab.addOrUpdate(tab.self()))
	require.Equal(t, 0, tab.len())
	require.Nil(t, tab.findClosestNode(tab.self().ID()))
}

func TestTableAddIsIdempotent(t *testing.T) {
	tab := newTestTable(t, nil)
	n := newRandomNode(t)
	require.True(t, tab.addOrUpdate(n))
	require.False(t, tab.addOrUpdate(n))
	require.Equal(t, 1, tab.len())

	tab.remove(n.ID())
	tab.remove(n.ID())
	require.Equal(t, 0, tab.len())
	require.Nil(t, tab.getNode(n.ID()))
}

func TestTableRefreshBySeq(t *testing.T) {
	tab := newTestTable(t, nil)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	n2 := newSignedNode(t, key, 2)
	tab.addOrUpdate(n2)
	tab.addOrUpdate(newSignedNode(t, key, 1))
	require.Equal(t, uint64(2), tab.getNode(n2.ID()).Seq())

	tab.addOrUpdate(newSignedNode(t, key, 5))
	require.Equal(t, uint64(5), tab.getNode(n2.ID()).Seq())
	require.Equal(t, 1, tab.len())
}

func TestTableBucketPlacement(t *testing.T) {
	tab := newTestTable(t, nil)
	for i := 0; i < 20; i++ {
		n := newRandomNode(t)
		tab.addOrUpdate(n)
		d := uint(enode.LogDist(tab.self().ID(), n.ID()))
		require.True(t, containsNode(tab.getNodesAtDistance(d), n.ID()) || tab.getNode(n.ID()) == nil)
	}
	self := tab.getNodesAtDistance(0)
	require.Len(t, self, 1)
	require.Equal(t, tab.self().ID(), self[0].ID())
	require.Nil(t, tab.getNodesAtDistance(257))
}

// fillBucket adds random nodes until the bucket at distance 256 has n
// entries plus extra replacements. Roughly every second random id lands there.
func fillBucket(t *testing.T, tab *Table, n, extra int) (entries, replacements []*enode.Node) {
	for len(entries) < n || len(replacements) < extra {
		node := newRandomNode(t)
		if enode.LogDist(tab.self().ID(), node.ID()) != 256 {
			continue
		}
		if tab.addOrUpdate(node) {
			entries = append(entries, node)
		} else {
			replacements = append(replacements, node)
		}
	}
	return entries, replacements
}

func TestTableBucketFullUsesReplacements(t *testing.T) {
	tab := newTestTable(t, nil)
	entries, replacements := fillBucket(t, tab, bucketSize, 2)
	require.Len(t, entries, bucketSize)
	require.Len(t, tab.getNodesAtDistance(256), bucketSize)
	require.Nil(t, tab.getNode(replacements[0].ID()))

	tab.remove(entries[0].ID())
	bucket := tab.getNodesAtDistance(256)
	require.Len(t, bucket, bucketSize)
	require.False(t, containsNode(bucket, entries[0].ID()))
	// the most recent replacement is promoted
	require.True(t, containsNode(bucket, replacements[len(replacements)-1].ID()))
}

func TestTableRadius(t *testing.T) {
	tab := newTestTable(t, nil)
	n := newRandomNode(t)
	_, ok := tab.getRadius(n.ID())
	require.False(t, ok)

	tab.updateRadius(n.ID(), uint256.NewInt(42))
	r, ok := tab.getRadius(n.ID())
	require.True(t, ok)
	require.Equal(t, uint256.NewInt(42), r)

	tab.updateRadius(n.ID(), uint256.NewInt(0))
	r, ok = tab.getRadius(n.ID())
	require.True(t, ok)
	require.True(t, r.IsZero())

	tab.clearRadius(n.ID())
	_, ok = tab.getRadius(n.ID())
	require.False(t, ok)
}

func TestTableWithinRadiusOnly(t *testing.T) {
	tab := newTestTable(t, nil)
	nodes := make([]*enode.Node, 0, 30)
	for i := 0; i < 30; i++ {
		n := newRandomNode(t)
		if tab.addOrUpdate(n) {
			nodes = append(nodes, n)
		}
	}
	var target enode.ID
	target[0] = 0x5a
	radii := []*uint256.Int{
		uint256.NewInt(0),
		new(uint256.Int).Rsh(uint256.MustFromHex("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"), 1),
		uint256.MustFromHex("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	}
	for i, n := range nodes {
		if i%4 == 3 {
			continue // unknown radius
		}
		tab.updateRadius(n.ID(), radii[i%3])
	}

	res := tab.findClosestNodes(target, len(nodes), true)
	for _, n := range res {
		radius, ok := tab.getRadius(n.ID())
		if !ok {
			continue
		}
		require.True(t, distance(n.ID(), target).Cmp(radius) <= 0)
	}
	for i, n := range nodes {
		if i%4 == 3 {
			require.True(t, containsNode(res, n.ID()), "unknown radius must be kept")
		}
	}

	all := tab.findClosestNodes(target, len(nodes), false)
	require.Len(t, all, len(nodes))
	for i := 1; i < len(all); i++ {
		require.Equal(t, -1, enode.DistCmp(target, all[i-1].ID(), all[i].ID()))
	}
	require.Len(t, tab.findClosestNodes(target, 3, false), 3)
}

func TestTableLiveness(t *testing.T) {
	clock := new(mclock.Simulated)
	tab := newTestTable(t, clock)
	n := newRandomNode(t)
	tab.addOrUpdate(n)
	require.True(t, tab.isConnected(n.ID()))

	clock.Run(defaultLivenessWindow + time.Second)
	require.False(t, tab.isConnected(n.ID()))
	require.Equal(t, n.ID(), tab.stalestNode().ID())

	tab.addOrUpdate(n)
	require.True(t, tab.isConnected(n.ID()))
	require.False(t, tab.isConnected(newRandomNode(t).ID()))
}

func TestRandomID(t *testing.T) {
	var base enode.ID
	base[5] = 0xab
	for _, d := range []int{1, 8, 100, 255, 256} {
		id := randomID(base, d)
		require.Equal(t, d, enode.LogDist(base, id))
	}
}

func TestNodesByDistance(t *testing.T) {
	var target enode.ID
	h := &nodesByDistance{target: target}
	for i := 0; i < 40; i++ {
		h.push(newRandomNode(t), bucketSize)
	}
	require.Len(t, h.entries, bucketSize)
	for i := 1; i < len(h.entries); i++ {
		require.Equal(t, -1, enode.DistCmp(target, h.entries[i-1].ID(), h.entries[i].ID()))
	}
}

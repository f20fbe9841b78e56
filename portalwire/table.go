package portalwire

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/holiman/uint256"
)

const (
	alpha           = 3   // Kademlia concurrency factor
	bucketSize      = 16  // Kademlia bucket size
	maxReplacements = 10  // Size of per-bucket replacement list
	nBuckets        = 257 // one bucket per log distance, bucket 0 would hold ourselves

	defaultLivenessWindow = 10 * time.Minute
)

type tableEntry struct {
	node     *enode.Node
	order    uint64 // insertion order, breaks distance ties
	lastSeen mclock.AbsTime
}

type bucket struct {
	entries      []*tableEntry // live entries, sorted by insertion order
	replacements []*tableEntry // recently seen nodes to be used if entries fail
}

// Table is the routing table of one portal sub-protocol. It keeps nodes
// bucketed by their log distance to the local node and remembers the data
// radius each of them advertised.
type Table struct {
	mutex   sync.RWMutex
	buckets [nBuckets]bucket
	order   uint64

	localNode      *enode.LocalNode
	radiusCache    *fastcache.Cache
	clock          mclock.Clock
	livenessWindow time.Duration
	log            log.Logger
}

func newTable(localNode *enode.LocalNode, radiusCacheSize int, livenessWindow time.Duration, clock mclock.Clock, logger log.Logger) *Table {
	if livenessWindow == 0 {
		livenessWindow = defaultLivenessWindow
	}
	if clock == nil {
		clock = mclock.System{}
	}
	if logger == nil {
		logger = log.Root()
	}
	return &Table{
		localNode:      localNode,
		radiusCache:    fastcache.New(radiusCacheSize),
		clock:          clock,
		livenessWindow: livenessWindow,
		log:            logger,
	}
}

func (tab *Table) self() *enode.Node {
	return tab.localNode.Node()
}

func (tab *Table) bucketIndex(id enode.ID) int {
	return enode.LogDist(tab.localNode.ID(), id)
}

// addOrUpdate inserts n or refreshes its entry. A record is only replaced by
// one with a higher sequence number. It reports whether n became a new live
// entry.
func (tab *Table) addOrUpdate(n *enode.Node) bool {
	if n == nil || n.ID() == tab.localNode.ID() {
		return false
	}
	tab.mutex.Lock()
	defer tab.mutex.Unlock()

	now := tab.clock.Now()
	b := &tab.buckets[tab.bucketIndex(n.ID())]
	if e := findEntry(b.entries, n.ID()); e != nil {
		if n.Seq() > e.node.Seq() {
			e.node = n
		}
		e.lastSeen = now
		return false
	}
	if i := slices.IndexFunc(b.replacements, func(e *tableEntry) bool { return e.node.ID() == n.ID() }); i >= 0 {
		e := b.replacements[i]
		if n.Seq() > e.node.Seq() {
			e.node = n
		}
		e.lastSeen = now
		if len(b.entries) < bucketSize {
			b.replacements = slices.Delete(b.replacements, i, i+1)
			b.entries = append(b.entries, e)
			return true
		}
		return false
	}
	tab.order++
	e := &tableEntry{node: n, order: tab.order, lastSeen: now}
	if len(b.entries) < bucketSize {
		b.entries = append(b.entries, e)
		tab.log.Trace("Added node to table", "id", n.ID(), "bucket", tab.bucketIndex(n.ID()))
		return true
	}
	b.replacements = append(b.replacements, e)
	if len(b.replacements) > maxReplacements {
		b.replacements = b.replacements[1:]
	}
	return false
}

// remove drops the node from its bucket and promotes the most recently seen
// replacement into the freed slot. Removing an unknown node is a no-op.
func (tab *Table) remove(id enode.ID) {
	if id == tab.localNode.ID() {
		return
	}
	tab.mutex.Lock()
	defer tab.mutex.Unlock()

	b := &tab.buckets[tab.bucketIndex(id)]
	b.replacements = slices.DeleteFunc(b.replacements, func(e *tableEntry) bool { return e.node.ID() == id })
	i := slices.IndexFunc(b.entries, func(e *tableEntry) bool { return e.node.ID() == id })
	if i < 0 {
		return
	}
	b.entries = slices.Delete(b.entries, i, i+1)
	if len(b.replacements) > 0 {
		last := len(b.replacements) - 1
		b.entries = append(b.entries, b.replacements[last])
		b.replacements = b.replacements[:last]
	}
	tab.log.Trace("Removed node from table", "id", id)
}

// getNode returns the live entry for id, or nil.
func (tab *Table) getNode(id enode.ID) *enode.Node {
	tab.mutex.RLock()
	defer tab.mutex.RUnlock()
	if e := findEntry(tab.buckets[tab.bucketIndex(id)].entries, id); e != nil {
		return e.node
	}
	return nil
}

// isConnected reports whether id has a live entry refreshed within the
// liveness window.
func (tab *Table) isConnected(id enode.ID) bool {
	tab.mutex.RLock()
	defer tab.mutex.RUnlock()
	e := findEntry(tab.buckets[tab.bucketIndex(id)].entries, id)
	if e == nil {
		return false
	}
	return time.Duration(tab.clock.Now()-e.lastSeen) <= tab.livenessWindow
}

func (tab *Table) updateRadius(id enode.ID, radius *uint256.Int) {
	b := radius.Bytes32()
	tab.radiusCache.Set(id[:], b[:])
}

// getRadius returns the radius last advertised by id. An unknown radius is
// reported as absent, never as zero.
func (tab *Table) getRadius(id enode.ID) (*uint256.Int, bool) {
	data, ok := tab.radiusCache.HasGet(nil, id[:])
	if !ok {
		return nil, false
	}
	return new(uint256.Int).SetBytes32(data), true
}

func (tab *Table) clearRadius(id enode.ID) {
	tab.radiusCache.Del(id[:])
}

// findClosestNode returns the live entry closest to target.
func (tab *Table) findClosestNode(target enode.ID) *enode.Node {
	nodes := tab.findClosestNodes(target, 1, false)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// findClosestNodes returns up to limit live entries ordered by xor distance
// to target. With withinRadiusOnly, nodes whose known radius does not cover
// target are skipped. Nodes with an unknown radius are kept.
func (tab *Table) findClosestNodes(target enode.ID, limit int, withinRadiusOnly bool) []*enode.Node {
	entries := tab.liveEntries()
	slices.SortStableFunc(entries, func(a, b *tableEntry) int {
		if c := enode.DistCmp(target, a.node.ID(), b.node.ID()); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})
	res := make([]*enode.Node, 0, min(limit, len(entries)))
	for _, e := range entries {
		if len(res) >= limit {
			break
		}
		if withinRadiusOnly && !tab.withinRadius(e.node.ID(), target) {
			continue
		}
		res = append(res, e.node)
	}
	return res
}

func (tab *Table) withinRadius(id enode.ID, target enode.ID) bool {
	radius, ok := tab.getRadius(id)
	if !ok {
		return true
	}
	return distance(id, target).Cmp(radius) <= 0
}

// getNodesAtDistance returns the live entries at log distance d. Distance 0
// is the local node itself.
func (tab *Table) getNodesAtDistance(d uint) []*enode.Node {
	if d == 0 {
		return []*enode.Node{tab.self()}
	}
	if d >= nBuckets {
		return nil
	}
	tab.mutex.RLock()
	defer tab.mutex.RUnlock()
	b := tab.buckets[d]
	res := make([]*enode.Node, 0, len(b.entries))
	for _, e := range b.entries {
		res = append(res, e.node)
	}
	return res
}

// nodeList returns all live entries in bucket order.
func (tab *Table) nodeList() []*enode.Node {
	entries := tab.liveEntries()
	res := make([]*enode.Node, 0, len(entries))
	for _, e := range entries {
		res = append(res, e.node)
	}
	return res
}

func (tab *Table) len() int {
	tab.mutex.RLock()
	defer tab.mutex.RUnlock()
	n := 0
	for i := range tab.buckets {
		n += len(tab.buckets[i].entries)
	}
	return n
}

// bucketNodeIds lists the node ids of each non empty bucket, closest first.
func (tab *Table) bucketNodeIds() [][]string {
	tab.mutex.RLock()
	defer tab.mutex.RUnlock()
	res := make([][]string, 0)
	for i := range tab.buckets {
		if len(tab.buckets[i].entries) == 0 {
			continue
		}
		ids := make([]string, 0, len(tab.buckets[i].entries))
		for _, e := range tab.buckets[i].entries {
			ids = append(ids, "0x"+e.node.ID().String())
		}
		res = append(res, ids)
	}
	return res
}

// stalestNode returns the live entry that was seen least recently.
func (tab *Table) stalestNode() *enode.Node {
	tab.mutex.RLock()
	defer tab.mutex.RUnlock()
	var oldest *tableEntry
	for i := range tab.buckets {
		for _, e := range tab.buckets[i].entries {
			if oldest == nil || e.lastSeen < oldest.lastSeen {
				oldest = e
			}
		}
	}
	if oldest == nil {
		return nil
	}
	return oldest.node
}

func (tab *Table) liveEntries() []*tableEntry {
	tab.mutex.RLock()
	defer tab.mutex.RUnlock()
	res := make([]*tableEntry, 0)
	for i := range tab.buckets {
		for _, e := range tab.buckets[i].entries {
			res = append(res, &tableEntry{node: e.node, order: e.order, lastSeen: e.lastSeen})
		}
	}
	return res
}

func (tab *Table) close() {
	tab.radiusCache.Reset()
}

func findEntry(entries []*tableEntry, id enode.ID) *tableEntry {
	for _, e := range entries {
		if e.node.ID() == id {
			return e
		}
	}
	return nil
}

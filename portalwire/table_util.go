package portalwire

import (
	"crypto/rand"
	"slices"

	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/holiman/uint256"
	"github.com/zen-eth/portalnode/storage"
)

// nodesByDistance is a list of nodes, ordered by distance to target.
type nodesByDistance struct {
	entries []*enode.Node
	target  enode.ID
}

// push adds the given node to the list, keeping the total size below maxElems.
func (h *nodesByDistance) push(n *enode.Node, maxElems int) {
	ix, _ := slices.BinarySearchFunc(h.entries, n, func(a, b *enode.Node) int {
		return enode.DistCmp(h.target, a.ID(), b.ID())
	})
	end := len(h.entries)
	if len(h.entries) < maxElems {
		h.entries = append(h.entries, n)
	}
	if ix < end {
		// Slide existing entries down to make room.
		// This will overwrite the entry we just appended.
		copy(h.entries[ix+1:], h.entries[ix:])
		h.entries[ix] = n
	}
}

func (h *nodesByDistance) contains(id enode.ID) bool {
	return slices.ContainsFunc(h.entries, func(n *enode.Node) bool { return n.ID() == id })
}

// distance is the xor metric between two ids as a number.
func distance(a, b enode.ID) *uint256.Int {
	return storage.Distance(a[:], b[:])
}

// randomID returns a random id at log distance d from base.
func randomID(base enode.ID, d int) enode.ID {
	var id enode.ID
	if d <= 0 {
		return base
	}
	_, _ = rand.Read(id[:])
	// keep the bits above the distance, flip the distance bit, randomize below
	bitIndex := len(id)*8 - d
	for i := 0; i < bitIndex; i++ {
		setBit(&id, i, bit(base, i))
	}
	setBit(&id, bitIndex, !bit(base, bitIndex))
	return id
}

func bit(id enode.ID, i int) bool {
	return id[i/8]&(0x80>>(i%8)) != 0
}

func setBit(id *enode.ID, i int, v bool) {
	if v {
		id[i/8] |= 0x80 >> (i % 8)
	} else {
		id[i/8] &^= 0x80 >> (i % 8)
	}
}

func containsNode(nodes []*enode.Node, id enode.ID) bool {
	return slices.ContainsFunc(nodes, func(n *enode.Node) bool { return n.ID() == id })
}

package portalwire

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/p2p/enode"
	"golang.org/x/sync/errgroup"
)

const (
	gossipCandidates   = 32
	gossipClosestNodes = 4
	gossipFartherNodes = 4
)

// Gossip offers the contents to the peers closest to the first content key
// whose radius covers it, leaving out srcNodeId. Offers run concurrently and
// their failures are only logged. It returns the number of peers offered to.
func (p *PortalProtocol) Gossip(ctx context.Context, srcNodeId *enode.ID, contentKeys [][]byte, contents [][]byte) (int, error) {
	switch {
	case len(contentKeys) == 0:
		return 0, ErrEmptyContentKeys
	case len(contents) == 0:
		return 0, ErrEmptyContents
	case len(contents) != len(contentKeys):
		return 0, fmt.Errorf("%w: %d keys, %d contents", ErrContentKeysMismatch, len(contentKeys), len(contents))
	}

	contentId := p.toContentId(contentKeys[0])
	candidates := p.table.findClosestNodes(enode.ID(contentId), gossipCandidates, true)
	gossipNodes := make([]*enode.Node, 0, len(candidates))
	for _, n := range candidates {
		if srcNodeId != nil && n.ID() == *srcNodeId {
			continue
		}
		gossipNodes = append(gossipNodes, n)
	}
	targets := p.selectGossipTargets(gossipNodes)
	if len(targets) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(concurrentOffers)
	for _, n := range targets {
		g.Go(func() error {
			if p.portalMetrics != nil {
				p.portalMetrics.gossipOffers.Inc(1)
			}
			accept, err := p.Offer(ctx, n, contentKeys, contents)
			switch {
			case err != nil:
				p.Log.Debug("Gossip offer failed", "id", n.ID(), "err", err)
			case accept == nil:
				p.Log.Debug("Gossip offer got no answer", "id", n.ID())
			default:
				p.Log.Trace("Gossip offer answered", "id", n.ID(), "accepted", accept.AcceptedCount())
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(targets), nil
}

// selectGossipTargets keeps the closest nodes and a random pick of the
// farther ones. nodes must be sorted by distance.
func (p *PortalProtocol) selectGossipTargets(nodes []*enode.Node) []*enode.Node {
	if len(nodes) <= gossipClosestNodes {
		return nodes
	}
	targets := make([]*enode.Node, 0, gossipClosestNodes+gossipFartherNodes)
	targets = append(targets, nodes[:gossipClosestNodes]...)

	fartherNodes := append([]*enode.Node(nil), nodes[gossipClosestNodes:]...)
	p.rand.Shuffle(len(fartherNodes), func(i, j int) {
		fartherNodes[i], fartherNodes[j] = fartherNodes[j], fartherNodes[i]
	})
	return append(targets, fartherNodes[:min(gossipFartherNodes, len(fartherNodes))]...)
}

// PutContentResult reports what PutContent did with a piece of content.
type PutContentResult struct {
	PeerCount     int  `json:"peerCount"`
	StoredLocally bool `json:"storedLocally"`
}

// PutContent stores content when it is within the local radius and gossips
// it to the network either way.
func (p *PortalProtocol) PutContent(ctx context.Context, contentKey []byte, content []byte) (*PutContentResult, error) {
	if len(contentKey) == 0 {
		return nil, ErrEmptyContentKeys
	}
	stored, err := p.ShouldStore(contentKey, content)
	if err != nil {
		return nil, err
	}
	count, err := p.Gossip(ctx, nil, [][]byte{contentKey}, [][]byte{content})
	if err != nil {
		return nil, err
	}
	return &PutContentResult{PeerCount: count, StoredLocally: stored}, nil
}

package portalwire

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/zen-eth/portalnode/storage"
)

// ContentLookupResult contains found result
type ContentLookupResult struct {
	Content     []byte
	UtpTransfer bool
	FoundAt     *enode.Node
}

type TraceContentResult struct {
	Content     string `json:"content"`
	UtpTransfer bool   `json:"utpTransfer"`
	Trace       Trace  `json:"trace"`
}

type Trace struct {
	Origin       string                   `json:"origin"`       // local node id
	TargetId     string                   `json:"targetId"`     // target content id
	ReceivedFrom string                   `json:"receivedFrom"` // the node id of which content from
	Responses    map[string]RespByNode    `json:"responses"`    // the node id and there response nodeIds
	Metadata     map[string]*NodeMetadata `json:"metadata"`     // node id and there metadata object
	StartedAtMs  int                      `json:"startedAtMs"`  // timestamp of the beginning of this request in milliseconds
	Cancelled    []string                 `json:"cancelled"`    // the node ids which are send but cancelled
}

type NodeMetadata struct {
	Enr      string `json:"enr"`
	Distance string `json:"distance"`
}

type RespByNode struct {
	DurationMs    int32    `json:"durationMs"`
	RespondedWith []string `json:"respondedWith"`
}

// GetContent returns the content of contentKey from local storage or, when
// it is missing, by following a single path through the network: the
// closest known peer is asked first and the peers it points to are tried in
// turn. The walk stops after MaxGetContentPeers peers or the lookup timeout.
// Content found on the network is gossiped on.
func (p *PortalProtocol) GetContent(ctx context.Context, contentKey []byte) (*ContentLookupResult, error) {
	if len(contentKey) == 0 {
		return nil, storage.ErrEmptyContentKey
	}
	contentId := p.toContentId(contentKey)
	content, err := p.Get(contentKey, contentId)
	if err == nil {
		return &ContentLookupResult{Content: content, FoundAt: p.Self()}, nil
	}
	if !errors.Is(err, storage.ErrContentNotFound) {
		return nil, err
	}

	ctx, cancel := p.lookupContext(ctx)
	defer cancel()
	p.portalMetrics.lookupStarted()
	defer p.portalMetrics.lookupDone()

	target := enode.ID(contentId)
	candidates := p.table.findClosestNodes(target, 1, true)
	asked := map[enode.ID]struct{}{p.Self().ID(): {}}
	for queried := 0; len(candidates) > 0 && queried < p.cfg.MaxGetContentPeers; {
		if ctx.Err() != nil {
			break
		}
		n := candidates[0]
		candidates = candidates[1:]
		if _, ok := asked[n.ID()]; ok {
			continue
		}
		asked[n.ID()] = struct{}{}
		queried++

		res, err := p.FindContent(ctx, n, contentKey)
		if err != nil {
			p.Log.Debug("Find content failed", "id", n.ID(), "err", err)
			continue
		}
		switch r := res.(type) {
		case *FoundContent:
			p.gossipFound(n.ID(), contentKey, r.Content)
			return &ContentLookupResult{Content: r.Content, UtpTransfer: r.UtpTransfer, FoundAt: n}, nil
		case *CloserNodes:
			next := nodesByDistance{target: target}
			for _, rn := range r.Nodes {
				if _, ok := asked[rn.ID()]; !ok {
					next.push(rn, portalFindnodesResultLimit)
				}
			}
			candidates = append(next.entries, candidates...)
		}
	}
	return nil, ErrContentNotFound
}

func (p *PortalProtocol) gossipFound(source enode.ID, contentKey, content []byte) {
	go func() {
		count, err := p.Gossip(p.closeCtx, &source, [][]byte{contentKey}, [][]byte{content})
		if err != nil {
			p.Log.Debug("Failed to gossip found content", "key", hexutil.Encode(contentKey), "err", err)
			return
		}
		p.Log.Trace("Gossiped found content", "key", hexutil.Encode(contentKey), "peers", count)
	}()
}

// ContentLookup runs an alpha-concurrent lookup toward the content id and
// returns the first content any peer answers with.
func (p *PortalProtocol) ContentLookup(ctx context.Context, contentKey []byte) (*ContentLookupResult, error) {
	return p.contentLookup(ctx, contentKey, nil)
}

// TraceContentLookup is ContentLookup that also records which peer answered
// with what. A lookup that finds nothing still returns its trace.
func (p *PortalProtocol) TraceContentLookup(ctx context.Context, contentKey []byte) (*TraceContentResult, error) {
	contentId := p.toContentId(contentKey)
	tr := newTraceRecorder(p, enode.ID(contentId))

	res, err := p.contentLookup(ctx, contentKey, tr)
	if err != nil && !errors.Is(err, ErrContentNotFound) {
		return nil, err
	}
	result := &TraceContentResult{Trace: tr.trace}
	if res != nil {
		result.Content = hexutil.Encode(res.Content)
		result.UtpTransfer = res.UtpTransfer
	}
	return result, err
}

func (p *PortalProtocol) contentLookup(ctx context.Context, contentKey []byte, tr *traceRecorder) (*ContentLookupResult, error) {
	if len(contentKey) == 0 {
		return nil, storage.ErrEmptyContentKey
	}
	target := enode.ID(p.toContentId(contentKey))

	ctx, cancel := p.lookupContext(ctx)
	defer cancel()
	p.portalMetrics.lookupStarted()
	defer p.portalMetrics.lookupDone()

	var (
		mu     sync.Mutex
		result *ContentLookupResult
	)
	newLookup(ctx, p.table, target, func(n *enode.Node) ([]*enode.Node, error) {
		started := p.clock.Now()
		res, err := p.FindContent(ctx, n, contentKey)
		if err != nil {
			return nil, err
		}

		mu.Lock()
		defer mu.Unlock()
		switch r := res.(type) {
		case *FoundContent:
			if result != nil {
				tr.cancelled(n)
				return nil, nil
			}
			result = &ContentLookupResult{Content: r.Content, UtpTransfer: r.UtpTransfer, FoundAt: n}
			tr.received(n)
			cancel()
		case *CloserNodes:
			tr.responded(n, r.Nodes, p.clock.Now()-started)
			return r.Nodes, nil
		}
		return nil, nil
	}).run()

	mu.Lock()
	defer mu.Unlock()
	if result == nil {
		return nil, ErrContentNotFound
	}
	return result, nil
}

// traceRecorder fills a Trace. A nil recorder records nothing. Callers
// serialize access.
type traceRecorder struct {
	target enode.ID
	trace  Trace
}

func newTraceRecorder(p *PortalProtocol, target enode.ID) *traceRecorder {
	selfHexId := "0x" + p.Self().ID().String()
	tr := &traceRecorder{
		target: target,
		trace: Trace{
			Origin:      selfHexId,
			TargetId:    hexutil.Encode(target[:]),
			StartedAtMs: int(time.Now().UnixMilli()),
			Responses:   make(map[string]RespByNode),
			Metadata:    make(map[string]*NodeMetadata),
			Cancelled:   make([]string, 0),
		},
	}
	local := p.table.findClosestNodes(target, bucketSize, false)
	tr.responded(p.Self(), local, 0)
	return tr
}

func (tr *traceRecorder) addMetadata(n *enode.Node) string {
	hexId := "0x" + n.ID().String()
	if _, ok := tr.trace.Metadata[hexId]; !ok {
		dis := distance(n.ID(), tr.target).Bytes32()
		tr.trace.Metadata[hexId] = &NodeMetadata{
			Enr:      n.String(),
			Distance: hexutil.Encode(dis[:]),
		}
	}
	return hexId
}

func (tr *traceRecorder) responded(n *enode.Node, nodes []*enode.Node, elapsed mclock.AbsTime) {
	if tr == nil {
		return
	}
	hexId := tr.addMetadata(n)
	resp := RespByNode{
		DurationMs:    int32(time.Duration(elapsed).Milliseconds()),
		RespondedWith: make([]string, 0, len(nodes)),
	}
	for _, rn := range nodes {
		resp.RespondedWith = append(resp.RespondedWith, tr.addMetadata(rn))
	}
	tr.trace.Responses[hexId] = resp
}

func (tr *traceRecorder) received(n *enode.Node) {
	if tr == nil {
		return
	}
	hexId := tr.addMetadata(n)
	tr.trace.ReceivedFrom = hexId
	tr.trace.Responses[hexId] = RespByNode{RespondedWith: make([]string, 0)}
}

func (tr *traceRecorder) cancelled(n *enode.Node) {
	if tr == nil {
		return
	}
	hexId := tr.addMetadata(n)
	if !slices.Contains(tr.trace.Cancelled, hexId) {
		tr.trace.Cancelled = append(tr.trace.Cancelled, hexId)
	}
}

package portalwire

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
	"github.com/ethereum/go-ethereum/p2p/netutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	pingext "github.com/zen-eth/portalnode/portalwire/ping_ext"
	"github.com/zen-eth/portalnode/storage"
)

const (
	// TalkResp message is a response message so the session is established and a
	// regular discv5 packet is assumed for size calculation.
	// Regular message = IV + header + message
	// talkResp message = rlp: [request-id, response]
	talkRespOverhead = 16 + // IV size
		55 + // header size
		1 + // talkResp msg id
		3 + // rlp encoding outer list, max length will be encoded in 2 bytes
		9 + // request id (max = 8) + 1 byte from rlp encoding byte string
		3 + // rlp encoding response byte string, max length in 2 bytes
		16 // HMAC

	portalFindnodesResultLimit = 32

	defaultUTPConnectTimeout = 15 * time.Second

	defaultUTPWriteTimeout = 60 * time.Second

	defaultUTPReadTimeout = 60 * time.Second

	// concurrentOffers bounds the offers a single gossip call has in flight.
	concurrentOffers = 50

	lookupRequestLimit = 3 // max requests against a single node during lookup

	maxPacketSize = 1280

	defaultPingTimeout    = 5 * time.Second
	defaultRequestTimeout = 3 * time.Second
	defaultLookupTimeout  = 60 * time.Second

	defaultRefreshInterval    = 30 * time.Minute
	defaultRevalidateInterval = 10 * time.Second

	defaultMaxGetContentPeers = 16

	// pings sent to nodes learned from a nodes response
	maxConcurrentPings = 16
)

type ClientTag string

func (c ClientTag) ENRKey() string { return "c" }

const Tag ClientTag = "portalnode"

var (
	ErrNilNode             = errors.New("nil node")
	ErrEmptyContentKeys    = errors.New("empty content keys")
	ErrEmptyContents       = errors.New("empty contents")
	ErrContentKeysMismatch = errors.New("content keys and contents differ in length")
	ErrUnexpectedResponse  = errors.New("unexpected response message")
	ErrContentNotFound     = storage.ErrContentNotFound

	errClosed  = errors.New("portal protocol closed")
	errLowPort = errors.New("low port")
)

type SetPortalProtocolOption func(p *PortalProtocol)

// WithDisableTableMaintenanceOption keeps Start from launching the bootstrap,
// revalidation and refresh loop.
func WithDisableTableMaintenanceOption(disable bool) SetPortalProtocolOption {
	return func(p *PortalProtocol) {
		p.disableTableMaintenance = disable
	}
}

func WithLogger(logger log.Logger) SetPortalProtocolOption {
	return func(p *PortalProtocol) {
		p.Log = logger
	}
}

func WithPingExtension(ext pingext.PingExtension) SetPortalProtocolOption {
	return func(p *PortalProtocol) {
		p.PingExtensions = ext
	}
}

type PortalProtocolConfig struct {
	BootstrapNodes  []*enode.Node
	NetRestrict     *netutil.Netlist
	RadiusCacheSize int
	LivenessWindow  time.Duration

	PingTimeout    time.Duration
	RequestTimeout time.Duration
	LookupTimeout  time.Duration

	RefreshInterval    time.Duration
	RevalidateInterval time.Duration
	MaxGetContentPeers int

	Clock mclock.Clock
}

func DefaultPortalProtocolConfig() *PortalProtocolConfig {
	return &PortalProtocolConfig{
		BootstrapNodes:     make([]*enode.Node, 0),
		RadiusCacheSize:    32 * 1024 * 1024,
		LivenessWindow:     defaultLivenessWindow,
		PingTimeout:        defaultPingTimeout,
		RequestTimeout:     defaultRequestTimeout,
		LookupTimeout:      defaultLookupTimeout,
		RefreshInterval:    defaultRefreshInterval,
		RevalidateInterval: defaultRevalidateInterval,
		MaxGetContentPeers: defaultMaxGetContentPeers,
		Clock:              mclock.System{},
	}
}

func (cfg *PortalProtocolConfig) withDefaults() *PortalProtocolConfig {
	c := *cfg
	d := DefaultPortalProtocolConfig()
	if c.RadiusCacheSize == 0 {
		c.RadiusCacheSize = d.RadiusCacheSize
	}
	if c.LivenessWindow == 0 {
		c.LivenessWindow = d.LivenessWindow
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.LookupTimeout == 0 {
		c.LookupTimeout = d.LookupTimeout
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = d.RefreshInterval
	}
	if c.RevalidateInterval == 0 {
		c.RevalidateInterval = d.RevalidateInterval
	}
	if c.MaxGetContentPeers == 0 {
		c.MaxGetContentPeers = d.MaxGetContentPeers
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	return &c
}

// PortalProtocol runs one portal sub-network on top of a talk request
// transport: it answers the wire messages of its protocol id, issues
// requests to peers and keeps the routing table of the network.
type PortalProtocol struct {
	table    *Table
	versions *activeVersions

	protocolId   string
	protocolName string

	transport      Transport
	bulk           BulkTransfer
	localNode      *enode.LocalNode
	Log            log.Logger
	NetRestrict    *netutil.Netlist
	BootstrapNodes []*enode.Node
	validSchemes   enr.IdentityScheme

	storage     storage.ContentStorage
	toContentId func(contentKey []byte) []byte

	cfg   *PortalProtocolConfig
	clock mclock.Clock
	rand  randomSource

	closeCtx       context.Context
	cancelCloseCtx context.CancelFunc
	wg             sync.WaitGroup
	pingSlots      chan struct{}

	portalMetrics  *portalMetrics
	PingExtensions pingext.PingExtension

	disableTableMaintenance bool
	inTransferMap           sync.Map
}

func NewPortalProtocol(config *PortalProtocolConfig, protocolId ProtocolId, localNode *enode.LocalNode, transport Transport, bulk BulkTransfer, storage storage.ContentStorage, setOpts ...SetPortalProtocolOption) (*PortalProtocol, error) {
	if transport == nil || bulk == nil || storage == nil {
		return nil, errors.New("portal protocol needs a transport, a bulk transfer and a storage")
	}
	cfg := config.withDefaults()
	closeCtx, cancelCloseCtx := context.WithCancel(context.Background())

	rnd := &reseedingRandom{}
	rnd.seed()

	protocol := &PortalProtocol{
		protocolId:     string(protocolId),
		protocolName:   protocolId.Name(),
		Log:            log.New("protocol", protocolId.Name()),
		transport:      transport,
		bulk:           bulk,
		localNode:      localNode,
		NetRestrict:    cfg.NetRestrict,
		BootstrapNodes: cfg.BootstrapNodes,
		validSchemes:   enode.ValidSchemes,
		storage:        storage,
		toContentId:    defaultContentIdFunc,
		cfg:            cfg,
		clock:          cfg.Clock,
		rand:           rnd,
		closeCtx:       closeCtx,
		cancelCloseCtx: cancelCloseCtx,
		pingSlots:      make(chan struct{}, maxConcurrentPings),
		portalMetrics:  newPortalMetrics(protocolId.Name()),
		PingExtensions: pingExtensionFor(protocolId),
	}

	for _, setOpt := range setOpts {
		setOpt(protocol)
	}

	protocol.table = newTable(localNode, cfg.RadiusCacheSize, cfg.LivenessWindow, cfg.Clock, protocol.Log)
	protocol.versions = newActiveVersions(cfg.Clock, protocol.Log)
	// a local record announcing its own versions overrides the defaults
	current := protocolVersions{}
	if err := localNode.Node().Load(&current); err == nil {
		protocol.versions.currentVersions = current
	}
	return protocol, nil
}

func defaultContentIdFunc(contentKey []byte) []byte {
	return storage.ContentIdFromKey(contentKey)
}

func (p *PortalProtocol) Start() error {
	p.transport.RegisterTalkHandler(p.protocolId, p.handleTalkRequest)
	if !p.disableTableMaintenance {
		p.wg.Add(1)
		go p.loop()
	}
	return nil
}

func (p *PortalProtocol) Stop() {
	p.cancelCloseCtx()
	p.wg.Wait()
	p.table.close()
}

func (p *PortalProtocol) Self() *enode.Node {
	return p.localNode.Node()
}

func (p *PortalProtocol) Radius() *uint256.Int {
	return p.storage.Radius()
}

func (p *PortalProtocol) RoutingTableInfo() [][]string {
	return p.table.bucketNodeIds()
}

// TableNodes returns every live routing table entry.
func (p *PortalProtocol) TableNodes() []*enode.Node {
	return p.table.nodeList()
}

// NodeRadius returns the radius last advertised by id.
func (p *PortalProtocol) NodeRadius(id enode.ID) (*uint256.Int, bool) {
	return p.table.getRadius(id)
}

// AddEnr inserts n into the routing table. It reports whether n became a
// live entry.
func (p *PortalProtocol) AddEnr(n *enode.Node) bool {
	p.addNode(n)
	if p.table.getNode(n.ID()) == nil {
		p.Log.Debug("Node went to the replacement list", "id", n.ID(), "ip", n.IPAddr())
		return false
	}
	return true
}

// DeleteEnr drops id from the routing table and forgets its radius.
func (p *PortalProtocol) DeleteEnr(id enode.ID) bool {
	existed := p.table.getNode(id) != nil
	p.markUnreachable(id)
	return existed
}

// GetNode returns the routing table entry of id, or nil.
func (p *PortalProtocol) GetNode(id enode.ID) *enode.Node {
	return p.table.getNode(id)
}

func (p *PortalProtocol) addNode(n *enode.Node) bool {
	added := p.table.addOrUpdate(n)
	if added {
		p.Log.Debug("Node added to bucket", "node", n.ID(), "ip", n.IPAddr(), "port", n.UDP())
		p.portalMetrics.setTableSize(p.table.len())
	}
	return added
}

// markUnreachable forgets everything learned about a peer that failed to
// answer.
func (p *PortalProtocol) markUnreachable(id enode.ID) {
	p.table.remove(id)
	p.table.clearRadius(id)
	p.versions.deleteHighestVersion(id)
	p.portalMetrics.setTableSize(p.table.len())
}

// request sends req to node and waits for the matching response. A timeout
// or a transport failure marks the peer unreachable and yields a nil message
// with a nil error.
func (p *PortalProtocol) request(ctx context.Context, node *enode.Node, req Message, timeout time.Duration) (Message, error) {
	if node == nil {
		return nil, ErrNilNode
	}
	data, err := EncodeMessage(req)
	if err != nil {
		return nil, err
	}
	kind := req.Kind()
	p.Log.Trace(">> "+strings.ToUpper(MessageName(kind))+"/"+p.protocolName, "id", node.ID(), "msg", req)
	p.portalMetrics.markSent(kind)

	type talkResult struct {
		resp []byte
		err  error
	}
	resCh := make(chan talkResult, 1)
	go func() {
		resp, err := p.transport.TalkRequest(node, p.protocolId, data)
		resCh <- talkResult{resp: resp, err: err}
	}()

	timer := p.clock.NewTimer(timeout)
	defer timer.Stop()

	var raw []byte
	select {
	case res := <-resCh:
		if res.err != nil {
			p.Log.Debug("Talk request failed", "id", node.ID(), "kind", MessageName(kind), "err", res.err)
			p.markUnreachable(node.ID())
			return nil, nil
		}
		raw = res.resp
	case <-timer.C():
		p.Log.Debug("Talk request timed out", "id", node.ID(), "kind", MessageName(kind), "timeout", timeout)
		if p.portalMetrics != nil {
			p.portalMetrics.requestTimeouts.Inc(1)
		}
		p.markUnreachable(node.ID())
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closeCtx.Done():
		return nil, errClosed
	}

	resp, err := DecodeMessage(raw, p.versions.getHighestVersion(node))
	if err != nil {
		return nil, fmt.Errorf("response to %s from %s: %w", MessageName(kind), node.ID().TerminalString(), err)
	}
	if resp.Kind() != kind+1 {
		return nil, fmt.Errorf("%w: %s in response to %s", ErrUnexpectedResponse, MessageName(resp.Kind()), MessageName(kind))
	}
	p.Log.Trace("<< "+strings.ToUpper(MessageName(resp.Kind()))+"/"+p.protocolName, "id", node.ID(), "msg", resp)
	p.portalMetrics.markReceived(resp.Kind())
	return resp, nil
}

// Ping sends a client info ping carrying the local radius and the supported
// extensions. A nil pong with a nil error means the peer did not answer.
func (p *PortalProtocol) Ping(ctx context.Context, node *enode.Node) (*Pong, error) {
	payload := pingext.NewClientInfoAndCapabilitiesPayload(pingext.RadiusBytes(p.Radius()), p.PingExtensions.Extensions())
	data, err := payload.MarshalSSZ()
	if err != nil {
		return nil, err
	}
	return p.PingWithPayload(ctx, node, pingext.ClientInfo, data)
}

func (p *PortalProtocol) PingWithPayload(ctx context.Context, node *enode.Node, payloadType uint16, payload []byte) (*Pong, error) {
	ping, err := NewPing(p.Self().Seq(), payloadType, payload)
	if err != nil {
		return nil, err
	}
	resp, err := p.request(ctx, node, ping, p.cfg.PingTimeout)
	if err != nil || resp == nil {
		return nil, err
	}
	pong, ok := resp.(*Pong)
	if !ok {
		return nil, ErrUnexpectedResponse
	}
	p.processPong(node, pong)
	return pong, nil
}

// genPayloadByType builds the local payload of an extension type for pings
// issued through the RPC interface.
func (p *PortalProtocol) genPayloadByType(payloadType uint16) ([]byte, error) {
	radius := pingext.RadiusBytes(p.Radius())
	switch payloadType {
	case pingext.ClientInfo:
		payload := pingext.NewClientInfoAndCapabilitiesPayload(radius, p.PingExtensions.Extensions())
		return payload.MarshalSSZ()
	case pingext.BasicRadius:
		payload := pingext.NewBasicRadiusPayload(radius)
		return payload.MarshalSSZ()
	case pingext.HistoryRadius:
		payload := pingext.NewHistoryRadiusPayload(radius, 0)
		return payload.MarshalSSZ()
	default:
		return nil, pingext.ErrPayloadTypeIsNotSupported{}
	}
}

func (p *PortalProtocol) processPong(node *enode.Node, pong *Pong) {
	payload, err := pingext.Decode(pong.PayloadType, pong.Payload)
	if err != nil {
		p.Log.Debug("Failed to decode pong payload", "id", node.ID(), "type", pong.PayloadType, "err", err)
		p.addNode(node)
		return
	}
	if errPayload, ok := payload.(*pingext.ErrorPayload); ok {
		p.Log.Debug("Pong carries an error", "id", node.ID(), "code", uint16(errPayload.ErrorCode), "msg", string(errPayload.Message))
		return
	}
	p.addNode(node)
	if radius, ok := pingext.Radius(payload); ok {
		p.table.updateRadius(node.ID(), radius)
	}
}

// FindNodes asks node for the records at the given log distances. Records
// not yet known to the table are pinged in the background.
func (p *PortalProtocol) FindNodes(ctx context.Context, node *enode.Node, distances []uint) ([]*enode.Node, error) {
	if node == nil {
		return nil, ErrNilNode
	}
	if p.localNode.ID() == node.ID() {
		return make([]*enode.Node, 0), nil
	}
	req, err := NewFindNodes(distances)
	if err != nil {
		return nil, err
	}
	resp, err := p.request(ctx, node, req, p.cfg.RequestTimeout)
	if err != nil || resp == nil {
		return nil, err
	}
	nodesMsg, ok := resp.(*Nodes)
	if !ok {
		return nil, ErrUnexpectedResponse
	}
	p.addNode(node)
	nodes := p.filterNodes(node, nodesMsg.Enrs, distances)
	p.pingUnknownNodes(node, nodes)
	return nodes, nil
}

func (p *PortalProtocol) pingUnknownNodes(queried *enode.Node, nodes []*enode.Node) {
	selfId := p.Self().ID()
	for _, n := range nodes {
		if n.ID() == selfId || n.ID() == queried.ID() || p.table.isConnected(n.ID()) {
			continue
		}
		if p.closeCtx.Err() != nil {
			return
		}
		// pings beyond maxConcurrentPings wait for a free slot
		go func(n *enode.Node) {
			select {
			case p.pingSlots <- struct{}{}:
			case <-p.closeCtx.Done():
				return
			}
			defer func() { <-p.pingSlots }()
			if _, err := p.Ping(p.closeCtx, n); err != nil {
				p.Log.Trace("Ping of new node failed", "id", n.ID(), "err", err)
			}
		}(n)
	}
}

// FindContentResult is the outcome of a FindContent request: *FoundContent
// or *CloserNodes.
type FindContentResult interface {
	findContentResult()
}

type FoundContent struct {
	Content     []byte
	UtpTransfer bool
}

type CloserNodes struct {
	Nodes []*enode.Node
}

func (*FoundContent) findContentResult() {}
func (*CloserNodes) findContentResult()  {}

// FindContent asks node for the content of contentKey. Content that arrives
// is stored locally when it falls within the local radius. A nil result with
// a nil error means the peer did not answer.
func (p *PortalProtocol) FindContent(ctx context.Context, node *enode.Node, contentKey []byte) (FindContentResult, error) {
	if node == nil {
		return nil, ErrNilNode
	}
	req, err := NewFindContent(contentKey)
	if err != nil {
		return nil, err
	}
	resp, err := p.request(ctx, node, req, p.cfg.RequestTimeout)
	if err != nil || resp == nil {
		return nil, err
	}
	msg, ok := resp.(*ContentMessage)
	if !ok {
		return nil, ErrUnexpectedResponse
	}
	p.addNode(node)

	switch payload := msg.Payload.(type) {
	case *ConnectionId:
		connId := binary.BigEndian.Uint16(payload.Id)
		data, err := p.bulk.ReadFromChannel(ctx, node, connId)
		if err != nil {
			if p.portalMetrics != nil {
				p.portalMetrics.utpInFailRead.Inc(1)
			}
			return nil, fmt.Errorf("read content from %s over connection %d: %w", node.ID().TerminalString(), connId, err)
		}
		if p.portalMetrics != nil {
			p.portalMetrics.utpInSuccess.Inc(1)
		}
		p.storeContent(contentKey, data)
		return &FoundContent{Content: data, UtpTransfer: true}, nil
	case *Content:
		p.storeContent(contentKey, payload.Content)
		return &FoundContent{Content: payload.Content}, nil
	case *Enrs:
		return &CloserNodes{Nodes: p.filterNodes(node, payload.Enrs, nil)}, nil
	default:
		return nil, fmt.Errorf("%w: content payload %T", ErrUnexpectedResponse, msg.Payload)
	}
}

// storeContent keeps content the local node is responsible for.
func (p *PortalProtocol) storeContent(contentKey, content []byte) bool {
	stored, err := p.ShouldStore(contentKey, content)
	if err != nil {
		p.Log.Error("Failed to store content", "key", hexutil.Encode(contentKey), "err", err)
	}
	return stored
}

func (p *PortalProtocol) filterNodes(target *enode.Node, enrs [][]byte, distances []uint) []*enode.Node {
	var (
		seen     = make(map[enode.ID]struct{})
		verified = 0
	)
	nodes := make([]*enode.Node, 0, len(enrs))
	for _, b := range enrs {
		record := &enr.Record{}
		if err := rlp.DecodeBytes(b, record); err != nil {
			p.Log.Debug("Invalid record in nodes response", "id", target.ID(), "err", err)
			continue
		}
		n, err := p.verifyResponseNode(target, record, distances, seen)
		if err != nil {
			p.Log.Debug("Invalid record in nodes response", "id", target.ID(), "err", err)
			continue
		}
		verified++
		nodes = append(nodes, n)
	}
	p.Log.Trace("Verified nodes response", "id", target.ID(), "total", len(enrs), "verified", verified)
	return nodes
}

func (p *PortalProtocol) verifyResponseNode(sender *enode.Node, r *enr.Record, distances []uint, seen map[enode.ID]struct{}) (*enode.Node, error) {
	n, err := enode.New(p.validSchemes, r)
	if err != nil {
		return nil, err
	}
	if err = netutil.CheckRelayIP(sender.IP(), n.IP()); err != nil {
		return nil, err
	}
	if p.NetRestrict != nil && !p.NetRestrict.Contains(n.IP()) {
		return nil, errors.New("not contained in netrestrict list")
	}
	if n.UDP() <= 1024 {
		return nil, errLowPort
	}
	if distances != nil {
		nd := enode.LogDist(sender.ID(), n.ID())
		if !slices.Contains(distances, uint(nd)) {
			return nil, errors.New("does not match any requested distance")
		}
	}
	if _, ok := seen[n.ID()]; ok {
		return nil, fmt.Errorf("duplicate record")
	}
	seen[n.ID()] = struct{}{}
	return n, nil
}

// truncateNodes encodes records until the next one would push the payload
// past maxSize. Every record costs its encoding plus enrOverhead bytes.
func (p *PortalProtocol) truncateNodes(nodes []*enode.Node, maxSize int, enrOverhead int) [][]byte {
	res := make([][]byte, 0, min(len(nodes), MaxEnrs))
	totalSize := 0
	for _, n := range nodes {
		if len(res) >= MaxEnrs {
			break
		}
		enrBytes, err := rlp.EncodeToBytes(n.Record())
		if err != nil {
			p.Log.Error("Failed to encode node record", "id", n.ID(), "err", err)
			continue
		}
		if totalSize+len(enrBytes)+enrOverhead > maxSize {
			break
		}
		res = append(res, enrBytes)
		totalSize += len(enrBytes) + enrOverhead
	}
	return res
}

// RequestENR fetches the current record of n by asking for distance zero.
func (p *PortalProtocol) RequestENR(ctx context.Context, n *enode.Node) (*enode.Node, error) {
	nodes, err := p.FindNodes(ctx, n, []uint{0})
	if err != nil {
		return nil, err
	}
	if len(nodes) != 1 {
		return nil, fmt.Errorf("%d nodes in response for distance zero", len(nodes))
	}
	return nodes[0], nil
}

// Resolve searches for a specific Node with the given ID and tries to get the most recent
// version of the Node record for it. It returns n if the Node could not be resolved.
func (p *PortalProtocol) Resolve(ctx context.Context, n *enode.Node) *enode.Node {
	if intable := p.table.getNode(n.ID()); intable != nil && intable.Seq() > n.Seq() {
		n = intable
	}
	// Try asking directly. This works if the Node is still responding on the endpoint we have.
	if resp, err := p.RequestENR(ctx, n); err == nil {
		return resp
	}
	// Otherwise do a network lookup.
	for _, rn := range p.Lookup(ctx, n.ID()) {
		if rn.ID() == n.ID() && rn.Seq() > n.Seq() {
			return rn
		}
	}
	return n
}

// ResolveNodeId searches for a specific Node with the given ID.
// It returns nil if the nodeId could not be resolved.
func (p *PortalProtocol) ResolveNodeId(ctx context.Context, id enode.ID) *enode.Node {
	if id == p.Self().ID() {
		return p.Self()
	}
	n := p.table.getNode(id)
	if n != nil {
		if resp, err := p.RequestENR(ctx, n); err == nil {
			return resp
		}
	}
	for _, rn := range p.Lookup(ctx, id) {
		if rn.ID() != id {
			continue
		}
		if n != nil && rn.Seq() <= n.Seq() {
			return n
		}
		return rn
	}
	return n
}

func (p *PortalProtocol) ToContentId(contentKey []byte) []byte {
	return p.toContentId(contentKey)
}

// InRange reports whether contentId falls within the local radius.
func (p *PortalProtocol) InRange(contentId []byte) bool {
	selfId := p.Self().ID()
	return storage.InRadius(selfId[:], p.Radius(), contentId)
}

func (p *PortalProtocol) Get(contentKey []byte, contentId []byte) ([]byte, error) {
	content, err := p.storage.Get(contentKey, contentId)
	p.Log.Trace("get local storage", "contentId", hexutil.Encode(contentId), "size", len(content), "err", err)
	return content, err
}

func (p *PortalProtocol) Put(contentKey []byte, contentId []byte, content []byte) error {
	err := p.storage.Put(contentKey, contentId, content)
	p.Log.Trace("put local storage", "contentId", hexutil.Encode(contentId), "size", len(content), "err", err)
	return err
}

// ShouldStore stores content if it is within the local radius and reports
// whether it did.
func (p *PortalProtocol) ShouldStore(contentKey []byte, content []byte) (bool, error) {
	err := p.Put(contentKey, p.toContentId(contentKey), content)
	if errors.Is(err, storage.ErrInsufficientRadius) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// lookupDistances computes the distance parameter for FINDNODE calls to dest.
// It chooses distances adjacent to logdist(target, dest), e.g. for a target
// with logdist(target, dest) = 255 the result is [255, 256, 254].
func lookupDistances(target, dest enode.ID) (dists []uint) {
	td := enode.LogDist(target, dest)
	dists = append(dists, uint(td))
	for i := 1; len(dists) < lookupRequestLimit; i++ {
		if td+i <= 256 {
			dists = append(dists, uint(td+i))
		}
		if td-i > 0 {
			dists = append(dists, uint(td-i))
		}
	}
	return dists
}

func (p *PortalProtocol) loop() {
	defer p.wg.Done()

	p.bootstrap()

	revalidate := p.clock.NewTimer(p.nextRevalidateTime())
	refresh := p.clock.NewTimer(p.cfg.RefreshInterval)
	defer revalidate.Stop()
	defer refresh.Stop()

	for {
		select {
		case <-p.closeCtx.Done():
			return
		case <-revalidate.C():
			p.revalidate()
			revalidate.Reset(p.nextRevalidateTime())
		case <-refresh.C():
			p.refresh()
			refresh.Reset(p.cfg.RefreshInterval)
		}
	}
}

func (p *PortalProtocol) bootstrap() {
	for _, n := range p.BootstrapNodes {
		if p.closeCtx.Err() != nil {
			return
		}
		pong, err := p.Ping(p.closeCtx, n)
		if err != nil || pong == nil {
			p.Log.Debug("Bootstrap node did not answer", "id", n.ID(), "err", err)
			continue
		}
	}
	if p.table.len() == 0 {
		p.Log.Warn("No bootstrap node reachable")
		return
	}
	p.refresh()
}

// revalidate pings the entry that was seen least recently. An entry that
// does not answer is dropped by the request.
func (p *PortalProtocol) revalidate() {
	n := p.table.stalestNode()
	if n == nil {
		return
	}
	if _, err := p.Ping(p.closeCtx, n); err != nil {
		p.Log.Trace("Revalidation ping failed", "id", n.ID(), "err", err)
	}
}

func (p *PortalProtocol) refresh() {
	p.Lookup(p.closeCtx, p.Self().ID())
	p.Lookup(p.closeCtx, randomID(p.Self().ID(), 256))
	p.Log.Debug("Refreshed routing table", "size", p.table.len())
}

func (p *PortalProtocol) nextRevalidateTime() time.Duration {
	interval := p.cfg.RevalidateInterval
	return interval/2 + time.Duration(p.rand.Int63n(int64(interval/2)+1))
}

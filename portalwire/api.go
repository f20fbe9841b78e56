package portalwire

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/hashicorp/go-bexpr"
	pingext "github.com/zen-eth/portalnode/portalwire/ping_ext"
)

// RPCError carries a json-rpc error code along with its message.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string  { return e.Message }
func (e *RPCError) ErrorCode() int { return e.Code }

var (
	errRecordNotInTable = &RPCError{Code: -32099, Message: "record not in local routing table"}
	errRecordNotFound   = &RPCError{Code: -32099, Message: "record not found in DHT lookup"}
	errContentNotFound  = &RPCError{Code: -39001, Message: "content not found"}
	errNoResponse       = &RPCError{Code: -39002, Message: "peer did not respond"}
)

// DiscV5Backend is the subset of the discv5 node served over json-rpc.
// *discover.UDPv5 implements it.
type DiscV5Backend interface {
	Self() *enode.Node
	AllNodes() []*enode.Node
	Ping(n *enode.Node) error
	RequestENR(n *enode.Node) (*enode.Node, error)
	Resolve(n *enode.Node) *enode.Node
	Lookup(target enode.ID) []*enode.Node
	TalkRequest(n *enode.Node, protocol string, request []byte) ([]byte, error)
}

// DiscV5API json-rpc spec
// https://playground.open-rpc.org/?schemaUrl=https://raw.githubusercontent.com/ethereum/portal-network-specs/assembled-spec/jsonrpc/openrpc.json&uiSchema%5BappBar%5D%5Bui:splitView%5D=false&uiSchema%5BappBar%5D%5Bui:input%5D=false&uiSchema%5BappBar%5D%5Bui:examplesDropdown%5D=false
type DiscV5API struct {
	DiscV5 DiscV5Backend
}

func NewDiscV5API(discV5 DiscV5Backend) *DiscV5API {
	return &DiscV5API{discV5}
}

type NodeInfo struct {
	NodeId string `json:"nodeId"`
	Enr    string `json:"enr"`
	Ip     string `json:"ip"`
}

type RoutingTableInfo struct {
	Buckets     [][]string `json:"buckets"`
	LocalNodeId string     `json:"localNodeId"`
}

type DiscV5PongResp struct {
	EnrSeq        uint64 `json:"enrSeq"`
	RecipientIP   string `json:"recipientIP"`
	RecipientPort uint16 `json:"recipientPort"`
}

type PortalPongResp struct {
	EnrSeq      uint64      `json:"enrSeq"`
	PayloadType uint16      `json:"payloadType"`
	Payload     interface{} `json:"payload"`
}

type ContentInfo struct {
	Content     string `json:"content"`
	UtpTransfer bool   `json:"utpTransfer"`
}

type EnrsResp struct {
	Enrs []string `json:"enrs"`
}

func (d *DiscV5API) NodeInfo() *NodeInfo {
	n := d.DiscV5.Self()

	return &NodeInfo{
		NodeId: "0x" + n.ID().String(),
		Enr:    n.String(),
		Ip:     n.IP().String(),
	}
}

func (d *DiscV5API) RoutingTableInfo() *RoutingTableInfo {
	self := d.DiscV5.Self()
	buckets := make([][]string, nBuckets)
	for _, n := range d.DiscV5.AllNodes() {
		i := enode.LogDist(self.ID(), n.ID())
		buckets[i] = append(buckets[i], "0x"+n.ID().String())
	}

	return &RoutingTableInfo{
		Buckets:     compactBuckets(buckets),
		LocalNodeId: "0x" + self.ID().String(),
	}
}

func (d *DiscV5API) GetEnr(nodeId string) (string, error) {
	id, err := enode.ParseID(nodeId)
	if err != nil {
		return "", err
	}
	if id == d.DiscV5.Self().ID() {
		return d.DiscV5.Self().String(), nil
	}
	idx := slices.IndexFunc(d.DiscV5.AllNodes(), func(n *enode.Node) bool { return n.ID() == id })
	if idx < 0 {
		return "", errRecordNotInTable
	}
	return d.DiscV5.AllNodes()[idx].String(), nil
}

func (d *DiscV5API) LookupEnr(nodeId string) (string, error) {
	id, err := enode.ParseID(nodeId)
	if err != nil {
		return "", err
	}

	for _, n := range d.DiscV5.Lookup(id) {
		if n.ID() == id {
			return d.DiscV5.Resolve(n).String(), nil
		}
	}
	return "", errRecordNotFound
}

// Ping pings the node and asks for its current record, which carries the
// sequence number the pong would have reported.
func (d *DiscV5API) Ping(enr string) (*DiscV5PongResp, error) {
	n, err := enode.Parse(enode.ValidSchemes, enr)
	if err != nil {
		return nil, err
	}

	if err = d.DiscV5.Ping(n); err != nil {
		return nil, err
	}
	seq := n.Seq()
	if latest, err := d.DiscV5.RequestENR(n); err == nil {
		seq = latest.Seq()
	}

	return &DiscV5PongResp{
		EnrSeq:        seq,
		RecipientIP:   n.IP().String(),
		RecipientPort: uint16(n.UDP()),
	}, nil
}

func (d *DiscV5API) TalkReq(enr string, protocol string, payload string) (string, error) {
	n, err := enode.Parse(enode.ValidSchemes, enr)
	if err != nil {
		return "", err
	}

	req, err := hexutil.Decode(payload)
	if err != nil {
		return "", err
	}

	talkResp, err := d.DiscV5.TalkRequest(n, protocol, req)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(talkResp), nil
}

func (d *DiscV5API) RecursiveFindNodes(nodeId string) ([]string, error) {
	id, err := enode.ParseID(nodeId)
	if err != nil {
		return nil, err
	}
	return nodesToEnrs(d.DiscV5.Lookup(id)), nil
}

// PortalProtocolAPI serves one portal sub-network over json-rpc. Every
// method runs under ctx, which the rpc server cancels when the call ends.
type PortalProtocolAPI struct {
	portalProtocol *PortalProtocol
}

func NewPortalAPI(portalProtocol *PortalProtocol) *PortalProtocolAPI {
	return &PortalProtocolAPI{
		portalProtocol: portalProtocol,
	}
}

func (p *PortalProtocolAPI) NodeInfo() *NodeInfo {
	n := p.portalProtocol.Self()

	return &NodeInfo{
		NodeId: "0x" + n.ID().String(),
		Enr:    n.String(),
		Ip:     n.IP().String(),
	}
}

// TableEntry is what a routing table filter expression is evaluated against.
type TableEntry struct {
	NodeId   string `bexpr:"nodeId"`
	Ip       string `bexpr:"ip"`
	Port     int    `bexpr:"port"`
	Distance int    `bexpr:"distance"`
	Radius   string `bexpr:"radius"`
	Client   string `bexpr:"client"`
}

// RoutingTableInfo lists the table by bucket. A non-empty filter is a
// boolean expression over TableEntry fields, e.g. `distance == 256 and ip
// matches "^10[.]"`; only matching nodes are listed then.
func (p *PortalProtocolAPI) RoutingTableInfo(filter *string) (*RoutingTableInfo, error) {
	self := p.portalProtocol.Self()
	info := &RoutingTableInfo{LocalNodeId: "0x" + self.ID().String()}
	if filter == nil || *filter == "" {
		info.Buckets = p.portalProtocol.RoutingTableInfo()
		return info, nil
	}

	eval, err := bexpr.CreateEvaluator(*filter)
	if err != nil {
		return nil, &RPCError{Code: -32602, Message: fmt.Sprintf("invalid filter: %v", err)}
	}
	info.Buckets = make([][]string, nBuckets)
	for _, n := range p.portalProtocol.TableNodes() {
		entry := p.tableEntry(n)
		ok, err := eval.Evaluate(entry)
		if err != nil {
			return nil, &RPCError{Code: -32602, Message: fmt.Sprintf("invalid filter: %v", err)}
		}
		if !ok {
			continue
		}
		info.Buckets[entry.Distance] = append(info.Buckets[entry.Distance], "0x"+n.ID().String())
	}
	info.Buckets = compactBuckets(info.Buckets)
	return info, nil
}

func (p *PortalProtocolAPI) tableEntry(n *enode.Node) *TableEntry {
	entry := &TableEntry{
		NodeId:   "0x" + n.ID().String(),
		Ip:       n.IP().String(),
		Port:     n.UDP(),
		Distance: enode.LogDist(p.portalProtocol.Self().ID(), n.ID()),
	}
	if radius, ok := p.portalProtocol.NodeRadius(n.ID()); ok {
		entry.Radius = radius.Hex()
	}
	var tag ClientTag
	if err := n.Load(&tag); err == nil {
		entry.Client = string(tag)
	}
	return entry
}

func (p *PortalProtocolAPI) AddEnr(enr string) (bool, error) {
	p.portalProtocol.Log.Debug("serving AddEnr", "enr", enr)
	n, err := enode.Parse(enode.ValidSchemes, enr)
	if err != nil {
		return false, err
	}
	if n.IPAddr().BitLen() == 0 {
		p.portalProtocol.Log.Warn("ip addr is empty, Enr may contains a multicast ip", "enr", enr)
	}
	return p.portalProtocol.AddEnr(n), nil
}

func (p *PortalProtocolAPI) AddEnrs(enrs []string) bool {
	// Note: unspecified RPC, but useful for our local testnet test
	for _, enr := range enrs {
		n, err := enode.Parse(enode.ValidSchemes, enr)
		if err != nil {
			continue
		}
		p.portalProtocol.AddEnr(n)
	}

	return true
}

func (p *PortalProtocolAPI) GetEnr(nodeId string) (string, error) {
	id, err := enode.ParseID(nodeId)
	if err != nil {
		return "", err
	}

	if id == p.portalProtocol.Self().ID() {
		return p.portalProtocol.Self().String(), nil
	}

	n := p.portalProtocol.GetNode(id)
	if n == nil {
		return "", errRecordNotInTable
	}

	return n.String(), nil
}

func (p *PortalProtocolAPI) DeleteEnr(nodeId string) (bool, error) {
	id, err := enode.ParseID(nodeId)
	if err != nil {
		return false, err
	}
	return p.portalProtocol.DeleteEnr(id), nil
}

func (p *PortalProtocolAPI) LookupEnr(ctx context.Context, nodeId string) (string, error) {
	id, err := enode.ParseID(nodeId)
	if err != nil {
		return "", err
	}

	enr := p.portalProtocol.ResolveNodeId(ctx, id)

	if enr == nil {
		return "", errRecordNotFound
	}

	return enr.String(), nil
}

// Ping sends a ping with the given extension payload, or with a locally
// generated one when payload is nil.
func (p *PortalProtocolAPI) Ping(ctx context.Context, enr string, payloadType *uint16, payload *string) (*PortalPongResp, error) {
	if payloadType == nil && payload != nil {
		return nil, pingext.ErrPayloadRequired{}
	}

	n, err := enode.Parse(enode.ValidSchemes, enr)
	if err != nil {
		return nil, err
	}

	var data []byte
	var defaultType = pingext.ClientInfo

	if payloadType == nil {
		payloadType = &defaultType
	}

	if !p.portalProtocol.PingExtensions.IsSupported(*payloadType) {
		return nil, pingext.ErrPayloadTypeIsNotSupported{}
	}
	if payload == nil {
		data, err = p.portalProtocol.genPayloadByType(*payloadType)
	} else {
		data, err = pingext.JsonTypeToSszBytes(*payloadType, []byte(*payload))
	}
	if err != nil {
		return nil, err
	}

	pong, err := p.portalProtocol.PingWithPayload(ctx, n, *payloadType, data)
	if err != nil {
		return nil, err
	}
	if pong == nil {
		return nil, errNoResponse
	}

	jsonRes, err := pingext.SszBytesToJson(pong.PayloadType, pong.Payload)
	if err != nil {
		return nil, err
	}

	return &PortalPongResp{
		EnrSeq:      pong.EnrSeq,
		PayloadType: pong.PayloadType,
		Payload:     jsonRes,
	}, nil
}

func (p *PortalProtocolAPI) FindNodes(ctx context.Context, enr string, distances []uint) ([]string, error) {
	n, err := enode.Parse(enode.ValidSchemes, enr)
	if err != nil {
		return nil, err
	}
	findNodes, err := p.portalProtocol.FindNodes(ctx, n, distances)
	if err != nil {
		return nil, err
	}
	return nodesToEnrs(findNodes), nil
}

func (p *PortalProtocolAPI) FindContent(ctx context.Context, enr string, contentKey string) (interface{}, error) {
	n, err := enode.Parse(enode.ValidSchemes, enr)
	if err != nil {
		return nil, err
	}

	contentKeyBytes, err := hexutil.Decode(contentKey)
	if err != nil {
		return nil, err
	}

	res, err := p.portalProtocol.FindContent(ctx, n, contentKeyBytes)
	if err != nil {
		return nil, err
	}

	switch r := res.(type) {
	case *FoundContent:
		contentInfo := &ContentInfo{
			Content:     hexutil.Encode(r.Content),
			UtpTransfer: r.UtpTransfer,
		}
		p.portalProtocol.Log.Trace("FindContent", "contentInfo", contentInfo)
		return contentInfo, nil
	case *CloserNodes:
		enrs := nodesToEnrs(r.Nodes)
		p.portalProtocol.Log.Trace("FindContent", "enrs", enrs)
		return &EnrsResp{
			Enrs: enrs,
		}, nil
	default:
		return nil, errNoResponse
	}
}

// Offer offers the [key, content] pairs to enr and returns the accept
// bitfield in the encoding the peer answered with.
func (p *PortalProtocolAPI) Offer(ctx context.Context, enr string, contentItems [][2]string) (string, error) {
	n, err := enode.Parse(enode.ValidSchemes, enr)
	if err != nil {
		return "", err
	}

	keys := make([][]byte, 0, len(contentItems))
	contents := make([][]byte, 0, len(contentItems))
	for _, contentItem := range contentItems {
		contentKey, err := hexutil.Decode(contentItem[0])
		if err != nil {
			return "", err
		}
		contentValue, err := hexutil.Decode(contentItem[1])
		if err != nil {
			return "", err
		}
		keys = append(keys, contentKey)
		contents = append(contents, contentValue)
	}

	accept, err := p.portalProtocol.Offer(ctx, n, keys, contents)
	if err != nil {
		return "", err
	}
	if accept == nil {
		return "", errNoResponse
	}
	encoded, err := encodeAcceptField(accept.Codes, accept.Version)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(encoded), nil
}

func (p *PortalProtocolAPI) RecursiveFindNodes(ctx context.Context, nodeId string) ([]string, error) {
	id, err := enode.ParseID(nodeId)
	if err != nil {
		return nil, err
	}
	return nodesToEnrs(p.portalProtocol.Lookup(ctx, id)), nil
}

func (p *PortalProtocolAPI) RecursiveFindContent(ctx context.Context, contentKeyHex string) (*ContentInfo, error) {
	contentKey, err := hexutil.Decode(contentKeyHex)
	if err != nil {
		return nil, err
	}

	res, err := p.portalProtocol.GetContent(ctx, contentKey)
	if errors.Is(err, ErrContentNotFound) {
		return nil, errContentNotFound
	}
	if err != nil {
		return nil, err
	}

	return &ContentInfo{
		Content:     hexutil.Encode(res.Content),
		UtpTransfer: res.UtpTransfer,
	}, nil
}

func (p *PortalProtocolAPI) TraceRecursiveFindContent(ctx context.Context, contentKeyHex string) (*TraceContentResult, error) {
	contentKey, err := hexutil.Decode(contentKeyHex)
	if err != nil {
		return nil, err
	}
	res, err := p.portalProtocol.TraceContentLookup(ctx, contentKey)
	if errors.Is(err, ErrContentNotFound) {
		return res, errContentNotFound
	}
	return res, err
}

func (p *PortalProtocolAPI) LocalContent(contentKeyHex string) (string, error) {
	contentKey, err := hexutil.Decode(contentKeyHex)
	if err != nil {
		return "", err
	}
	contentId := p.portalProtocol.ToContentId(contentKey)
	content, err := p.portalProtocol.Get(contentKey, contentId)
	if errors.Is(err, ErrContentNotFound) {
		return "", errContentNotFound
	}
	if err != nil {
		return "", err
	}
	return hexutil.Encode(content), nil
}

func (p *PortalProtocolAPI) Store(contentKeyHex string, contextHex string) (bool, error) {
	contentKey, err := hexutil.Decode(contentKeyHex)
	if err != nil {
		return false, err
	}
	contentId := p.portalProtocol.ToContentId(contentKey)
	if !p.portalProtocol.InRange(contentId) {
		return false, nil
	}
	content, err := hexutil.Decode(contextHex)
	if err != nil {
		return false, err
	}
	err = p.portalProtocol.Put(contentKey, contentId, content)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *PortalProtocolAPI) Gossip(ctx context.Context, contentKeyHex, contentHex string) (int, error) {
	contentKey, err := hexutil.Decode(contentKeyHex)
	if err != nil {
		return 0, err
	}
	content, err := hexutil.Decode(contentHex)
	if err != nil {
		return 0, err
	}
	id := p.portalProtocol.Self().ID()
	return p.portalProtocol.Gossip(ctx, &id, [][]byte{contentKey}, [][]byte{content})
}

func (p *PortalProtocolAPI) PutContent(ctx context.Context, contentKeyHex, contentHex string) (*PutContentResult, error) {
	contentKey, err := hexutil.Decode(contentKeyHex)
	if err != nil {
		return nil, err
	}
	content, err := hexutil.Decode(contentHex)
	if err != nil {
		return nil, err
	}
	return p.portalProtocol.PutContent(ctx, contentKey, content)
}

// compactBuckets drops empty buckets, matching the unfiltered table listing.
func compactBuckets(buckets [][]string) [][]string {
	return slices.DeleteFunc(buckets, func(b []string) bool { return len(b) == 0 })
}

func nodesToEnrs(nodes []*enode.Node) []string {
	enrs := make([]string, 0, len(nodes))
	for _, r := range nodes {
		enrs = append(enrs, r.String())
	}
	return enrs
}

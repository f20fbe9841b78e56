package portalwire

import (
	"encoding/binary"
	"errors"
	"net"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/netutil"
	pingext "github.com/zen-eth/portalnode/portalwire/ping_ext"
	"github.com/zen-eth/portalnode/storage"
)

func (p *PortalProtocol) handleTalkRequest(node *enode.Node, addr *net.UDPAddr, msg []byte) []byte {
	if node == nil {
		return nil
	}
	// version only matters for accept messages, which never arrive as requests
	request, err := DecodeMessage(msg, 0)
	if err != nil {
		p.Log.Debug("Failed to decode talk request", "id", node.ID(), "err", err)
		return nil
	}
	kind := request.Kind()
	p.Log.Trace("<< "+strings.ToUpper(MessageName(kind))+"/"+p.protocolName, "id", node.ID(), "addr", addr, "msg", request)
	p.portalMetrics.markReceived(kind)

	p.addNode(node)

	var resp Message
	switch req := request.(type) {
	case *Ping:
		resp, err = p.handlePing(node, req)
	case *FindNodes:
		resp, err = p.handleFindNodes(node, addr, req)
	case *FindContent:
		resp, err = p.handleFindContent(node, addr, req)
	case *Offer:
		resp = p.handleOffer(node, addr, req)
	default:
		p.Log.Debug("Unexpected talk request", "id", node.ID(), "kind", MessageName(kind))
		return nil
	}
	if err != nil {
		p.Log.Error("Failed to handle talk request", "id", node.ID(), "kind", MessageName(kind), "err", err)
		return nil
	}

	data, err := EncodeMessage(resp)
	if err != nil {
		p.Log.Error("Failed to encode talk response", "kind", MessageName(resp.Kind()), "err", err)
		return nil
	}
	p.Log.Trace(">> "+strings.ToUpper(MessageName(resp.Kind()))+"/"+p.protocolName, "id", node.ID(), "msg", resp)
	p.portalMetrics.markSent(resp.Kind())
	return data
}

func (p *PortalProtocol) handlePing(node *enode.Node, ping *Ping) (*Pong, error) {
	if !p.PingExtensions.IsSupported(ping.PayloadType) {
		return p.errorPong(pingext.ErrorNotSupported)
	}
	payload, err := pingext.Decode(ping.PayloadType, ping.Payload)
	if err != nil {
		p.Log.Debug("Failed to decode ping payload", "id", node.ID(), "type", ping.PayloadType, "err", err)
		return p.errorPong(pingext.ErrorDecodePayload)
	}
	if radius, ok := pingext.Radius(payload); ok {
		p.table.updateRadius(node.ID(), radius)
	}

	radius := pingext.RadiusBytes(p.Radius())
	var data []byte
	switch payload.(type) {
	case *pingext.ClientInfoAndCapabilitiesPayload:
		pl := pingext.NewClientInfoAndCapabilitiesPayload(radius, p.PingExtensions.Extensions())
		data, err = pl.MarshalSSZ()
	case *pingext.BasicRadiusPayload:
		pl := pingext.NewBasicRadiusPayload(radius)
		data, err = pl.MarshalSSZ()
	case *pingext.HistoryRadiusPayload:
		pl := pingext.NewHistoryRadiusPayload(radius, 0)
		data, err = pl.MarshalSSZ()
	case *pingext.ErrorPayload:
		return p.errorPong(pingext.ErrorSystemError)
	default:
		return p.errorPong(pingext.ErrorNotSupported)
	}
	if err != nil {
		return nil, err
	}
	return NewPong(p.Self().Seq(), ping.PayloadType, data)
}

func (p *PortalProtocol) errorPong(code uint16) (*Pong, error) {
	return NewPong(p.Self().Seq(), pingext.Error, pingext.GetErrorPayloadBytes(code))
}

func (p *PortalProtocol) handleFindNodes(node *enode.Node, addr *net.UDPAddr, request *FindNodes) (*Nodes, error) {
	distances, err := request.Uints()
	if err != nil {
		return nil, err
	}
	var rip net.IP
	if addr != nil {
		rip = addr.IP
	}
	nodes := p.collectTableNodes(node.ID(), rip, distances, portalFindnodesResultLimit)

	nodesOverhead := 1 + 1 + 4 // msg id + total + container offset
	maxPayloadSize := maxPacketSize - talkRespOverhead - nodesOverhead
	enrOverhead := 4 // per added ENR, 4 bytes offset overhead

	enrs := p.truncateNodes(nodes, maxPayloadSize, enrOverhead)
	// a single response message is sent, total is fixed to 1
	return NewNodes(1, enrs)
}

// collectTableNodes gathers table entries distance by distance, skipping the
// requester and records it could not relay.
func (p *PortalProtocol) collectTableNodes(requester enode.ID, rip net.IP, distances []uint, limit int) []*enode.Node {
	var nodes []*enode.Node
	processed := make(map[uint]struct{})
	for _, dist := range distances {
		if _, seen := processed[dist]; seen || dist > MaxDistance {
			continue
		}
		processed[dist] = struct{}{}

		for _, n := range p.table.getNodesAtDistance(dist) {
			if n.ID() == requester {
				continue
			}
			if rip != nil && netutil.CheckRelayIP(rip, n.IP()) != nil {
				continue
			}
			nodes = append(nodes, n)
			if len(nodes) >= limit {
				return nodes
			}
		}
	}
	return nodes
}

func (p *PortalProtocol) handleFindContent(node *enode.Node, addr *net.UDPAddr, request *FindContent) (*ContentMessage, error) {
	contentOverhead := 1 + 1 // msg id + SSZ Union selector
	maxPayloadSize := maxPacketSize - talkRespOverhead - contentOverhead
	enrOverhead := 4 // per added ENR, 4 bytes offset overhead

	contentKey := request.ContentKey
	contentId := p.toContentId(contentKey)

	content, err := p.storage.Get(contentKey, contentId)
	if err != nil && !errors.Is(err, storage.ErrContentNotFound) {
		return nil, err
	}
	if errors.Is(err, storage.ErrContentNotFound) {
		closestNodes := p.table.findClosestNodes(enode.ID(contentId), portalFindnodesResultLimit+1, false)
		closestNodes = slices.DeleteFunc(closestNodes, func(n *enode.Node) bool {
			return n.ID() == node.ID()
		})
		return NewContentEnrs(p.truncateNodes(closestNodes, maxPayloadSize, enrOverhead))
	}
	if len(content) <= maxPayloadSize {
		return NewContentRaw(content)
	}

	connId, err := p.bulk.ServeOutgoing(node, addr, content)
	if err != nil {
		if errors.Is(err, ErrRateLimited) && p.portalMetrics != nil {
			p.portalMetrics.utpRateLimitCount.Inc(1)
		}
		return nil, err
	}
	idBuffer := make([]byte, ConnectionIdSize)
	binary.BigEndian.PutUint16(idBuffer, connId)
	return NewContentConnectionId(idBuffer)
}

// handleOffer never fails: any error while deciding on the offered keys is
// answered with an empty accept.
func (p *PortalProtocol) handleOffer(node *enode.Node, addr *net.UDPAddr, request *Offer) *AcceptMessage {
	version := p.versions.getHighestVersion(node)
	accept, err := p.acceptOffer(node, addr, request.ContentKeys, version)
	if err != nil {
		p.Log.Debug("Failed to handle offer", "id", node.ID(), "keys", len(request.ContentKeys), "err", err)
		return &AcceptMessage{ConnectionId: []byte{0, 0}, Codes: []AcceptCode{}, Version: version}
	}
	return accept
}

func (p *PortalProtocol) acceptOffer(node *enode.Node, addr *net.UDPAddr, contentKeys [][]byte, version uint8) (*AcceptMessage, error) {
	if len(contentKeys) == 0 {
		return NewAccept(nil, []AcceptCode{}, version)
	}

	selfId := p.Self().ID()
	radius := p.Radius()
	codes := make([]AcceptCode, len(contentKeys))
	acceptedKeys := make([][]byte, 0, len(contentKeys))
	claimed := make([]string, 0, len(contentKeys))
	release := func() {
		for _, id := range claimed {
			p.inTransferMap.Delete(id)
		}
	}

	for i, key := range contentKeys {
		contentId := p.toContentId(key)
		_, err := p.storage.Get(key, contentId)
		switch {
		case err == nil:
			codes[i] = AlreadyStored
			continue
		case !errors.Is(err, storage.ErrContentNotFound):
			release()
			return nil, err
		}
		if !storage.InRadius(selfId[:], radius, contentId) {
			codes[i] = NotWithinRadius
			continue
		}
		if _, loaded := p.inTransferMap.LoadOrStore(string(contentId), struct{}{}); loaded {
			codes[i] = InboundTransferInProgress
			continue
		}
		claimed = append(claimed, string(contentId))
		codes[i] = Accepted
		acceptedKeys = append(acceptedKeys, key)
	}

	if len(acceptedKeys) == 0 {
		return NewAccept(nil, codes, version)
	}

	connId, err := p.bulk.OpenForIncoming(node, addr, func(data []byte, err error) {
		defer release()
		if err != nil {
			if p.portalMetrics != nil {
				p.portalMetrics.utpInFailConn.Inc(1)
			}
			p.Log.Debug("Offered content transfer failed", "id", node.ID(), "err", err)
			return
		}
		if p.portalMetrics != nil {
			p.portalMetrics.utpInSuccess.Inc(1)
		}
		if err := p.handleOfferedContents(node.ID(), acceptedKeys, data); err != nil {
			p.Log.Debug("Failed to handle offered contents", "id", node.ID(), "err", err)
		}
	})
	if errors.Is(err, ErrRateLimited) {
		release()
		if p.portalMetrics != nil {
			p.portalMetrics.utpRateLimitCount.Inc(1)
		}
		for i, c := range codes {
			if c == Accepted {
				codes[i] = RateLimited
			}
		}
		return NewAccept(nil, codes, version)
	}
	if err != nil {
		release()
		return nil, err
	}

	idBuffer := make([]byte, ConnectionIdSize)
	binary.BigEndian.PutUint16(idBuffer, connId)
	return NewAccept(idBuffer, codes, version)
}

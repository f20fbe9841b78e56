package portalwire

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/p2p/enode"
)

// Offer offers contentKeys to node and sends the accepted contents over the
// connection the peer opened. An empty entry in contents is read from local
// storage. A nil accept with a nil error means the peer did not answer.
func (p *PortalProtocol) Offer(ctx context.Context, node *enode.Node, contentKeys [][]byte, contents [][]byte) (*AcceptMessage, error) {
	switch {
	case node == nil:
		return nil, ErrNilNode
	case len(contentKeys) == 0:
		return nil, ErrEmptyContentKeys
	case len(contents) == 0:
		return nil, ErrEmptyContents
	case len(contents) != len(contentKeys):
		return nil, fmt.Errorf("%w: %d keys, %d contents", ErrContentKeysMismatch, len(contentKeys), len(contents))
	}

	req, err := NewOffer(contentKeys)
	if err != nil {
		return nil, err
	}
	resp, err := p.request(ctx, node, req, p.cfg.RequestTimeout)
	if err != nil || resp == nil {
		return nil, err
	}
	accept, ok := resp.(*AcceptMessage)
	if !ok {
		return nil, ErrUnexpectedResponse
	}
	p.addNode(node)

	if err := accept.Validate(len(contentKeys)); err != nil {
		return nil, err
	}
	if accept.AcceptedCount() == 0 {
		return accept, nil
	}

	payload, err := p.resolveOfferedContents(contentKeys, contents, accept.Codes)
	if err != nil {
		p.Log.Debug("Could not resolve accepted content, nothing sent", "id", node.ID(), "err", err)
		return accept, nil
	}
	connId := binary.BigEndian.Uint16(accept.ConnectionId)
	if err := p.bulk.WriteOverChannel(ctx, node, connId, payload); err != nil {
		if p.portalMetrics != nil {
			p.portalMetrics.utpOutFailWrite.Inc(1)
		}
		return accept, fmt.Errorf("write offered content to %s over connection %d: %w", node.ID().TerminalString(), connId, err)
	}
	if p.portalMetrics != nil {
		p.portalMetrics.utpOutSuccess.Inc(1)
	}
	p.Log.Trace(">> OFFER_CONTENT/"+p.protocolName, "id", node.ID(), "accepted", accept.AcceptedCount(), "size", len(payload))
	return accept, nil
}

// resolveOfferedContents builds the transfer payload of the accepted keys,
// in offer order.
func (p *PortalProtocol) resolveOfferedContents(contentKeys, contents [][]byte, codes []AcceptCode) ([]byte, error) {
	accepted := make([][]byte, 0, len(codes))
	for i, code := range codes {
		if code != Accepted {
			continue
		}
		content := contents[i]
		if len(content) == 0 {
			var err error
			content, err = p.Get(contentKeys[i], p.toContentId(contentKeys[i]))
			if err != nil {
				return nil, fmt.Errorf("content of key %s: %w", hexutil.Encode(contentKeys[i]), err)
			}
		}
		accepted = append(accepted, content)
	}
	return encodeContents(accepted), nil
}

// handleOfferedContents stores the payload received for an accepted offer
// and passes it on to other peers. Payloads match the accepted keys by
// position.
func (p *PortalProtocol) handleOfferedContents(id enode.ID, keys [][]byte, payload []byte) error {
	contents, err := decodeContents(payload)
	if err != nil {
		if p.portalMetrics != nil {
			p.portalMetrics.contentDecodedFalse.Inc(1)
		}
		return err
	}
	if len(keys) != len(contents) {
		if p.portalMetrics != nil {
			p.portalMetrics.contentDecodedFalse.Inc(1)
		}
		return fmt.Errorf("%w: %d keys, %d contents", ErrContentKeysMismatch, len(keys), len(contents))
	}
	if p.portalMetrics != nil {
		p.portalMetrics.contentDecodedTrue.Inc(1)
	}

	storedKeys := make([][]byte, 0, len(keys))
	storedContents := make([][]byte, 0, len(keys))
	for i, key := range keys {
		if p.storeContent(key, contents[i]) {
			storedKeys = append(storedKeys, key)
			storedContents = append(storedContents, contents[i])
		}
	}
	if len(storedKeys) == 0 {
		return nil
	}
	count, err := p.Gossip(p.closeCtx, &id, storedKeys, storedContents)
	if err != nil {
		return err
	}
	p.Log.Trace("Gossiped offered content", "source", id, "keys", len(storedKeys), "peers", count)
	return nil
}

package portal

import (
	"context"

	"github.com/zen-eth/portalnode/portalwire"
)

// HistoryNetworkAPI serves the history network under the portal namespace,
// both with the plain method names and the history prefixed ones clients
// of the portal json-rpc spec call.
type HistoryNetworkAPI struct {
	*portalwire.PortalProtocolAPI
}

func NewHistoryNetworkAPI(api *portalwire.PortalProtocolAPI) *HistoryNetworkAPI {
	return &HistoryNetworkAPI{api}
}

func (p *HistoryNetworkAPI) HistoryNodeInfo() *portalwire.NodeInfo {
	return p.NodeInfo()
}

func (p *HistoryNetworkAPI) HistoryRoutingTableInfo(filter *string) (*portalwire.RoutingTableInfo, error) {
	return p.RoutingTableInfo(filter)
}

func (p *HistoryNetworkAPI) HistoryAddEnr(enr string) (bool, error) {
	return p.AddEnr(enr)
}

func (p *HistoryNetworkAPI) HistoryAddEnrs(enrs []string) bool {
	return p.AddEnrs(enrs)
}

func (p *HistoryNetworkAPI) HistoryGetEnr(nodeId string) (string, error) {
	return p.GetEnr(nodeId)
}

func (p *HistoryNetworkAPI) HistoryDeleteEnr(nodeId string) (bool, error) {
	return p.DeleteEnr(nodeId)
}

func (p *HistoryNetworkAPI) HistoryLookupEnr(ctx context.Context, nodeId string) (string, error) {
	return p.LookupEnr(ctx, nodeId)
}

func (p *HistoryNetworkAPI) HistoryPing(ctx context.Context, enr string, payloadType *uint16, payload *string) (*portalwire.PortalPongResp, error) {
	return p.Ping(ctx, enr, payloadType, payload)
}

func (p *HistoryNetworkAPI) HistoryFindNodes(ctx context.Context, enr string, distances []uint) ([]string, error) {
	return p.FindNodes(ctx, enr, distances)
}

func (p *HistoryNetworkAPI) HistoryFindContent(ctx context.Context, enr string, contentKey string) (interface{}, error) {
	return p.FindContent(ctx, enr, contentKey)
}

func (p *HistoryNetworkAPI) HistoryOffer(ctx context.Context, enr string, contentItems [][2]string) (string, error) {
	return p.Offer(ctx, enr, contentItems)
}

func (p *HistoryNetworkAPI) HistoryRecursiveFindNodes(ctx context.Context, nodeId string) ([]string, error) {
	return p.RecursiveFindNodes(ctx, nodeId)
}

func (p *HistoryNetworkAPI) HistoryGetContent(ctx context.Context, contentKeyHex string) (*portalwire.ContentInfo, error) {
	return p.RecursiveFindContent(ctx, contentKeyHex)
}

func (p *HistoryNetworkAPI) HistoryTraceGetContent(ctx context.Context, contentKeyHex string) (*portalwire.TraceContentResult, error) {
	return p.TraceRecursiveFindContent(ctx, contentKeyHex)
}

func (p *HistoryNetworkAPI) HistoryLocalContent(contentKeyHex string) (string, error) {
	return p.LocalContent(contentKeyHex)
}

func (p *HistoryNetworkAPI) HistoryStore(contentKeyHex string, contentHex string) (bool, error) {
	return p.Store(contentKeyHex, contentHex)
}

func (p *HistoryNetworkAPI) HistoryGossip(ctx context.Context, contentKeyHex, contentHex string) (int, error) {
	return p.Gossip(ctx, contentKeyHex, contentHex)
}

func (p *HistoryNetworkAPI) HistoryPutContent(ctx context.Context, contentKeyHex, contentHex string) (*portalwire.PutContentResult, error) {
	return p.PutContent(ctx, contentKeyHex, contentHex)
}

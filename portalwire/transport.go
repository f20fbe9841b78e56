package portalwire

import (
	"context"
	"errors"
	"net"

	"github.com/ethereum/go-ethereum/p2p/discover"
	"github.com/ethereum/go-ethereum/p2p/enode"
)

// ErrRateLimited is returned by a BulkTransfer when no transfer slot is
// available in the requested direction.
var ErrRateLimited = errors.New("bulk transfer rate limited")

// Transport carries talk requests between nodes. *discover.UDPv5 satisfies it.
type Transport interface {
	Self() *enode.Node
	TalkRequest(n *enode.Node, protocol string, request []byte) ([]byte, error)
	RegisterTalkHandler(protocol string, handler discover.TalkRequestHandler)
	AllNodes() []*enode.Node
}

var _ Transport = (*discover.UDPv5)(nil)

// BulkTransfer moves payloads that do not fit a talk response over a
// separate channel identified by a two byte connection id.
type BulkTransfer interface {
	// OpenForIncoming prepares a channel the peer will write to. onComplete
	// runs once with the full payload or the error that ended the transfer.
	OpenForIncoming(node *enode.Node, addr *net.UDPAddr, onComplete func([]byte, error)) (uint16, error)
	// ServeOutgoing prepares a channel the peer will read data from.
	ServeOutgoing(node *enode.Node, addr *net.UDPAddr, data []byte) (uint16, error)
	// WriteOverChannel connects to a channel the peer opened and writes data.
	WriteOverChannel(ctx context.Context, node *enode.Node, connId uint16, data []byte) error
	// ReadFromChannel connects to a channel the peer opened and reads until EOF.
	ReadFromChannel(ctx context.Context, node *enode.Node, connId uint16) ([]byte, error)
}

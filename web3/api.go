package web3

import (
	"github.com/zen-eth/portalnode/internal/version"
)

type API struct{}

// ClientVersion answers web3_clientVersion with the same string the node
// advertises in its client info ping payload.
func (p *API) ClientVersion() string {
	return version.ClientInfo()
}

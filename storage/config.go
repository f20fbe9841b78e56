package storage

import (
	"github.com/ethereum/go-ethereum/p2p/enode"
)

const BytesInMB uint64 = 1000 * 1000

type PortalStorageConfig struct {
	StorageCapacityMB uint64
	NodeId            enode.ID
	NetworkName       string
}

func (c PortalStorageConfig) CapacityBytes() uint64 {
	return c.StorageCapacityMB * BytesInMB
}

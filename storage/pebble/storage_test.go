package pebble

import (
	"crypto/rand"
	"testing"

	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"github.com/zen-eth/portalnode/storage"
)

func newTestStorage(t *testing.T, capacityMB uint64) *ContentStorage {
	db, err := NewDB(t.TempDir(), 16, 16, "test")
	require.NoError(t, err)
	cs, err := NewStorage(storage.PortalStorageConfig{
		StorageCapacityMB: capacityMB,
		NodeId:            enode.ID{},
		NetworkName:       "test",
	}, db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs.(*ContentStorage)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func idAt(distance uint64) []byte {
	b := uint256.NewInt(distance).Bytes32()
	return b[:]
}

func TestPutGet(t *testing.T) {
	cs := newTestStorage(t, 10)
	key := []byte{0x00, 0x01}
	id := storage.ContentIdFromKey(key)

	_, err := cs.Get(key, id)
	require.ErrorIs(t, err, storage.ErrContentNotFound)

	require.NoError(t, cs.Put(key, id, []byte("value")))
	val, err := cs.Get(key, id)
	require.NoError(t, err)
	require.Equal(t, []byte("value"), val)
	require.Equal(t, int64(1), cs.ContentCount())
	require.Equal(t, uint64(5), cs.Size())

	// overwriting keeps the count and replaces the size
	require.NoError(t, cs.Put(key, id, []byte("longer value")))
	require.Equal(t, int64(1), cs.ContentCount())
	require.Equal(t, uint64(12), cs.Size())
	require.Equal(t, storage.MaxDistance, cs.Radius())
}

func TestPruneShrinksRadius(t *testing.T) {
	cs := newTestStorage(t, 1)

	for i := uint64(1); i <= 9; i++ {
		require.NoError(t, cs.Put(nil, idAt(i), randomBytes(100_000)))
	}
	require.Equal(t, storage.MaxDistance, cs.Radius())

	// crossing the capacity drops the furthest entries
	require.NoError(t, cs.Put(nil, idAt(10), randomBytes(150_000)))
	require.LessOrEqual(t, cs.Size(), uint64(950_000))

	_, err := cs.Get(nil, idAt(10))
	require.ErrorIs(t, err, storage.ErrContentNotFound)
	_, err = cs.Get(nil, idAt(9))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(9), cs.Radius())
	require.Equal(t, int64(9), cs.ContentCount())

	err = cs.Put(nil, idAt(100), []byte{0x01})
	require.ErrorIs(t, err, storage.ErrInsufficientRadius)
}

func TestReopenKeepsSize(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(dir, 16, 16, "test")
	require.NoError(t, err)
	cfg := storage.PortalStorageConfig{StorageCapacityMB: 10, NetworkName: "test"}
	cs, err := NewStorage(cfg, db)
	require.NoError(t, err)
	require.NoError(t, cs.Put(nil, idAt(7), randomBytes(1000)))
	require.NoError(t, cs.Close())

	db, err = NewDB(dir, 16, 16, "test")
	require.NoError(t, err)
	cs, err = NewStorage(cfg, db)
	require.NoError(t, err)
	defer cs.Close()
	require.Equal(t, uint64(1000), cs.(*ContentStorage).Size())
	require.Equal(t, int64(1), cs.(*ContentStorage).ContentCount())
}

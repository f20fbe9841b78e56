package pebble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/zen-eth/portalnode/storage"
)

// fraction of the capacity that is freed once pruning kicks in
const pruneFactor = 0.05

var _ storage.ContentStorage = &ContentStorage{}

// NewDB opens the pebble database of a network under dataDir/network.
// cache is the block cache size in MB, handles bounds open files.
func NewDB(dataDir string, cache int, handles int, network string) (*pebble.DB, error) {
	c := pebble.NewCache(int64(cache) * 1024 * 1024)
	defer c.Unref()
	opts := &pebble.Options{
		Cache:        c,
		MaxOpenFiles: handles,
		Logger:       pebbleLogger{log.New("database", network)},
	}
	return pebble.Open(filepath.Join(dataDir, network), opts)
}

// ContentStorage keeps content keyed by its distance to the local node, so
// the furthest entries sit at the end of the keyspace and are pruned first.
type ContentStorage struct {
	nodeId                 []byte
	storageCapacityInBytes uint64
	radius                 atomic.Pointer[uint256.Int]
	size                   atomic.Uint64
	count                  atomic.Int64
	db                     *pebble.DB
	log                    log.Logger
	writeOptions           *pebble.WriteOptions
	pruneLock              sync.Mutex
	metrics                *storage.Metrics
}

func NewStorage(config storage.PortalStorageConfig, db *pebble.DB) (storage.ContentStorage, error) {
	cs := &ContentStorage{
		nodeId:                 config.NodeId[:],
		storageCapacityInBytes: config.CapacityBytes(),
		db:                     db,
		log:                    log.New("storage", config.NetworkName),
		writeOptions:           &pebble.WriteOptions{Sync: false},
		metrics:                storage.NewMetrics(config.NetworkName),
	}
	cs.radius.Store(storage.MaxDistance.Clone())

	if err := cs.loadState(); err != nil {
		return nil, err
	}
	if cs.storageCapacityInBytes == 0 {
		cs.setRadius(uint256.NewInt(0))
	} else if cs.size.Load() > cs.storageCapacityInBytes {
		if err := cs.prune(); err != nil {
			return nil, err
		}
	} else if cs.size.Load() == cs.storageCapacityInBytes {
		largest, err := cs.largestDistance()
		if err != nil {
			return nil, err
		}
		cs.setRadius(largest)
	}
	cs.metrics.Update(cs.count.Load(), int64(cs.size.Load()))
	return cs, nil
}

func (c *ContentStorage) loadState() error {
	val, closer, err := c.db.Get(storage.SizeKey)
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	if err == nil {
		c.size.Store(binary.BigEndian.Uint64(val))
		closer.Close()
	}

	iter, err := c.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer iter.Close()
	var count int64
	for iter.First(); iter.Valid(); iter.Next() {
		if len(iter.Key()) == len(storage.SizeKey) && string(iter.Key()) == string(storage.SizeKey) {
			continue
		}
		count++
	}
	c.count.Store(count)
	return iter.Error()
}

func (c *ContentStorage) Get(contentKey []byte, contentId []byte) ([]byte, error) {
	distance := c.distanceKey(contentId)
	data, closer, err := c.db.Get(distance)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, storage.ErrContentNotFound
		}
		return nil, err
	}
	defer closer.Close()
	res := make([]byte, len(data))
	copy(res, data)
	return res, nil
}

func (c *ContentStorage) Put(contentKey []byte, contentId []byte, content []byte) error {
	if !storage.InRadius(c.nodeId, c.Radius(), contentId) {
		return storage.ErrInsufficientRadius
	}
	distance := c.distanceKey(contentId)

	c.pruneLock.Lock()
	defer c.pruneLock.Unlock()

	var (
		previous uint64
		exists   bool
	)
	old, closer, err := c.db.Get(distance)
	switch {
	case err == nil:
		previous = uint64(len(old))
		exists = true
		closer.Close()
	case !errors.Is(err, pebble.ErrNotFound):
		return err
	}

	newSize := c.size.Load() - previous + uint64(len(content))
	batch := c.db.NewBatch()
	if err = batch.Set(distance, content, nil); err != nil {
		return err
	}
	if err = batch.Set(storage.SizeKey, sizeBytes(newSize), nil); err != nil {
		return err
	}
	if err = batch.Commit(c.writeOptions); err != nil {
		return err
	}
	c.size.Store(newSize)
	if !exists {
		c.count.Add(1)
	}
	c.metrics.Update(c.count.Load(), int64(newSize))

	if newSize > c.storageCapacityInBytes {
		return c.prune()
	}
	return nil
}

func (c *ContentStorage) Radius() *uint256.Int {
	return c.radius.Load().Clone()
}

func (c *ContentStorage) Close() error {
	return c.db.Close()
}

// Size returns the byte size of all stored content.
func (c *ContentStorage) Size() uint64 {
	return c.size.Load()
}

// ContentCount returns the number of stored entries.
func (c *ContentStorage) ContentCount() int64 {
	return c.count.Load()
}

// prune drops the furthest entries until the storage is pruneFactor below
// its capacity, then shrinks the radius to the furthest remaining entry.
// Callers hold pruneLock.
func (c *ContentStorage) prune() error {
	target := uint64(float64(c.storageCapacityInBytes) * (1 - pruneFactor))
	size := c.size.Load()

	iter, err := c.db.NewIter(nil)
	if err != nil {
		return err
	}
	batch := c.db.NewBatch()
	var removed int64
	for iter.Last(); iter.Valid() && size > target; iter.Prev() {
		key := iter.Key()
		if string(key) == string(storage.SizeKey) {
			break
		}
		size -= uint64(len(iter.Value()))
		removed++
		if err = batch.Delete(append([]byte(nil), key...), nil); err != nil {
			iter.Close()
			return err
		}
	}
	if err = iter.Close(); err != nil {
		return err
	}
	if err = batch.Set(storage.SizeKey, sizeBytes(size), nil); err != nil {
		return err
	}
	if err = batch.Commit(&pebble.WriteOptions{Sync: true}); err != nil {
		return err
	}
	c.size.Store(size)
	c.count.Add(-removed)

	largest, err := c.largestDistance()
	if err != nil {
		return err
	}
	c.setRadius(largest)
	c.metrics.Update(c.count.Load(), int64(size))
	c.log.Debug("pruned content storage", "removed", removed, "size", size, "radius", largest.Hex())
	return nil
}

func (c *ContentStorage) largestDistance() (*uint256.Int, error) {
	iter, err := c.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	if !iter.Last() || string(iter.Key()) == string(storage.SizeKey) {
		return uint256.NewInt(0), iter.Error()
	}
	return new(uint256.Int).SetBytes(iter.Key()), nil
}

func (c *ContentStorage) setRadius(radius *uint256.Int) {
	c.radius.Store(radius)
	c.metrics.UpdateRadius(radius)
}

func (c *ContentStorage) distanceKey(contentId []byte) []byte {
	d := storage.Distance(c.nodeId, contentId).Bytes32()
	return d[:]
}

func sizeBytes(size uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, size)
	return b
}

type pebbleLogger struct {
	log log.Logger
}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l pebbleLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.log.Crit(fmt.Sprintf(format, args...))
}

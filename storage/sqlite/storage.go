package sqlite

import (
	"database/sql"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/golang/snappy"
	"github.com/holiman/uint256"
	"github.com/mattn/go-sqlite3"
	"github.com/zen-eth/portalnode/storage"
)

const (
	sqliteName         = "content.sqlite"
	driverName         = "sqlite3_portal"
	contentDeletingSql = "DELETE FROM kvstore WHERE key = (?1);"
	createSql          = `CREATE TABLE IF NOT EXISTS kvstore (
	key BLOB PRIMARY KEY,
	value BLOB
);`
	getSql                 = "SELECT value FROM kvstore WHERE key = (?1);"
	putSql                 = "INSERT OR REPLACE INTO kvstore (key, value) VALUES (?1, ?2);"
	deleteOutOfRadiusStmt  = "DELETE FROM kvstore WHERE greater(xor(key, (?1)), (?2)) = 1"
	xorFindFarthestQuery   = "SELECT key, length(value) FROM kvstore ORDER BY xor(key, (?1)) DESC"
	getLargestDistanceSql  = "SELECT xor(key, (?1)) FROM kvstore ORDER BY xor(key, (?1)) DESC LIMIT 1"
	contentCountSql        = "SELECT COUNT(key) FROM kvstore;"
	contentStorageUsageSql = "SELECT COALESCE(SUM(length(value)), 0) FROM kvstore;"
	dbSizeSql              = "SELECT page_count * page_size as size FROM pragma_page_count(), pragma_page_size();"
	unusedSizeSql          = "SELECT freelist_count * page_size as size FROM pragma_freelist_count(), pragma_page_size();"
)

// fraction of the capacity that is freed once pruning kicks in
const pruneFactor = 0.05

var registerOnce sync.Once

var _ storage.ContentStorage = &ContentStorage{}

// PutResult reports the outcome of an insert, including any pruning it caused.
type PutResult struct {
	err    error
	pruned bool
	count  int
}

func (p PutResult) Err() error {
	return p.err
}

func (p PutResult) Pruned() bool {
	return p.pruned
}

func (p PutResult) PrunedCount() int {
	return p.count
}

func newPutResultWithErr(err error) PutResult {
	return PutResult{err: err}
}

// ContentStorage stores snappy compressed content in a single sqlite table.
// Distances are computed inside sqlite through the xor and greater functions
// registered on every connection.
type ContentStorage struct {
	nodeId                 enode.ID
	storageCapacityInBytes uint64
	radius                 atomic.Pointer[uint256.Int]
	sqliteDB               *sql.DB
	getStmt                *sql.Stmt
	putStmt                *sql.Stmt
	delStmt                *sql.Stmt
	log                    log.Logger
	writeLock              sync.Mutex
	metrics                *storage.Metrics
}

func xor(contentId, nodeId []byte) []byte {
	// length of contentId maybe not 32bytes
	padding := make([]byte, 32)
	if len(contentId) != len(nodeId) {
		copy(padding, contentId)
	} else {
		padding = contentId
	}
	res := make([]byte, len(padding))
	for i := range padding {
		res[i] = padding[i] ^ nodeId[i]
	}
	return res
}

// greater compares a and b as big-endian numbers and returns 1 when a > b.
func greater(a, b []byte) int {
	return new(uint256.Int).SetBytes(a).Cmp(new(uint256.Int).SetBytes(b))
}

// NewDB opens (creating if needed) the sqlite file of a network.
func NewDB(dataDir string, network string) (*sql.DB, error) {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				if err := conn.RegisterFunc("xor", xor, false); err != nil {
					return err
				}
				return conn.RegisterFunc("greater", greater, false)
			},
		})
	})
	dbPath := filepath.Join(dataDir, network)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}
	return sql.Open(driverName, filepath.Join(dbPath, sqliteName))
}

func NewStorage(config storage.PortalStorageConfig, db *sql.DB) (storage.ContentStorage, error) {
	cs := &ContentStorage{
		nodeId:                 config.NodeId,
		storageCapacityInBytes: config.CapacityBytes(),
		sqliteDB:               db,
		log:                    log.New("storage", config.NetworkName),
		metrics:                storage.NewMetrics(config.NetworkName),
	}
	cs.radius.Store(storage.MaxDistance.Clone())

	if err := cs.createTable(); err != nil {
		return nil, err
	}
	if err := cs.prepare(); err != nil {
		return nil, err
	}

	usage, err := cs.ContentUsage()
	if err != nil {
		return nil, err
	}
	switch {
	case cs.storageCapacityInBytes == 0:
		cs.setRadius(uint256.NewInt(0))
	case usage > cs.storageCapacityInBytes:
		if _, err = cs.prune(); err != nil {
			return nil, err
		}
	case usage == cs.storageCapacityInBytes:
		largest, err := cs.GetLargestDistance()
		if err != nil {
			return nil, err
		}
		cs.setRadius(largest)
	}
	cs.updateMetrics()
	return cs, nil
}

func (c *ContentStorage) createTable() error {
	if _, err := c.sqliteDB.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return err
	}
	_, err := c.sqliteDB.Exec(createSql)
	return err
}

func (c *ContentStorage) prepare() error {
	var err error
	if c.getStmt, err = c.sqliteDB.Prepare(getSql); err != nil {
		return err
	}
	if c.putStmt, err = c.sqliteDB.Prepare(putSql); err != nil {
		return err
	}
	c.delStmt, err = c.sqliteDB.Prepare(contentDeletingSql)
	return err
}

func (c *ContentStorage) Get(contentKey []byte, contentId []byte) ([]byte, error) {
	var res []byte
	err := c.getStmt.QueryRow(contentId).Scan(&res)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrContentNotFound
	}
	if err != nil {
		return nil, err
	}
	return snappy.Decode(nil, res)
}

func (c *ContentStorage) Put(contentKey []byte, contentId []byte, content []byte) error {
	if !storage.InRadius(c.nodeId[:], c.Radius(), contentId) {
		return storage.ErrInsufficientRadius
	}
	res := c.put(contentId, content)
	return res.Err()
}

func (c *ContentStorage) put(contentId []byte, content []byte) PutResult {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	_, err := c.putStmt.Exec(contentId, snappy.Encode(nil, content))
	if err != nil {
		return newPutResultWithErr(err)
	}

	usage, err := c.ContentUsage()
	if err != nil {
		return newPutResultWithErr(err)
	}
	if usage > c.storageCapacityInBytes {
		count, err := c.prune()
		if err != nil {
			return newPutResultWithErr(err)
		}
		return PutResult{pruned: true, count: count}
	}
	c.updateMetrics()
	return PutResult{}
}

func (c *ContentStorage) del(contentId []byte) error {
	_, err := c.delStmt.Exec(contentId)
	return err
}

func (c *ContentStorage) Radius() *uint256.Int {
	return c.radius.Load().Clone()
}

func (c *ContentStorage) Close() error {
	for _, stmt := range []*sql.Stmt{c.getStmt, c.putStmt, c.delStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return c.sqliteDB.Close()
}

func (c *ContentStorage) ContentCount() (uint64, error) {
	return c.queryNum(contentCountSql)
}

// ContentUsage is the byte size of all stored (compressed) values.
func (c *ContentStorage) ContentUsage() (uint64, error) {
	return c.queryNum(contentStorageUsageSql)
}

// Size is the size of the database file in bytes.
func (c *ContentStorage) Size() (uint64, error) {
	return c.queryNum(dbSizeSql)
}

func (c *ContentStorage) UnusedSize() (uint64, error) {
	return c.queryNum(unusedSizeSql)
}

func (c *ContentStorage) UsedSize() (uint64, error) {
	size, err := c.Size()
	if err != nil {
		return 0, err
	}
	unusedSize, err := c.UnusedSize()
	if err != nil {
		return 0, err
	}
	return size - unusedSize, nil
}

// ReclaimSpace returns the free pages of the database file to the OS.
func (c *ContentStorage) ReclaimSpace() error {
	_, err := c.sqliteDB.Exec("VACUUM;")
	return err
}

func (c *ContentStorage) queryNum(query string) (uint64, error) {
	var res uint64
	err := c.sqliteDB.QueryRow(query).Scan(&res)
	if err != nil {
		return 0, err
	}
	return res, nil
}

// GetLargestDistance returns the distance of the furthest stored content.
func (c *ContentStorage) GetLargestDistance() (*uint256.Int, error) {
	var distance []byte
	err := c.sqliteDB.QueryRow(getLargestDistanceSql, c.nodeId[:]).Scan(&distance)
	if errors.Is(err, sql.ErrNoRows) {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(distance), nil
}

// EstimateNewRadius scales the current radius by capacity / usage.
func (c *ContentStorage) EstimateNewRadius(currentRadius *uint256.Int) (*uint256.Int, error) {
	usage, err := c.ContentUsage()
	if err != nil {
		return nil, err
	}
	if usage == 0 || usage <= c.storageCapacityInBytes {
		return currentRadius.Clone(), nil
	}
	scaled := new(big.Int).Mul(currentRadius.ToBig(), new(big.Int).SetUint64(c.storageCapacityInBytes))
	scaled.Div(scaled, new(big.Int).SetUint64(usage))
	res, _ := uint256.FromBig(scaled)
	return res, nil
}

// ForcePrune deletes all content further away than radius.
func (c *ContentStorage) ForcePrune(radius *uint256.Int) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	b := radius.Bytes32()
	_, err := c.sqliteDB.Exec(deleteOutOfRadiusStmt, c.nodeId[:], b[:])
	if err != nil {
		return err
	}
	if radius.Lt(c.Radius()) {
		c.setRadius(radius.Clone())
	}
	c.updateMetrics()
	return nil
}

// prune removes the furthest entries until usage falls pruneFactor below
// capacity and shrinks the radius to the furthest remaining entry.
// Callers hold writeLock.
func (c *ContentStorage) prune() (int, error) {
	usage, err := c.ContentUsage()
	if err != nil {
		return 0, err
	}
	target := uint64(float64(c.storageCapacityInBytes) * (1 - pruneFactor))

	rows, err := c.sqliteDB.Query(xorFindFarthestQuery, c.nodeId[:])
	if err != nil {
		return 0, err
	}
	var victims [][]byte
	for rows.Next() && usage > target {
		var (
			key    []byte
			length uint64
		)
		if err = rows.Scan(&key, &length); err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, key)
		usage -= length
	}
	if err = rows.Close(); err != nil {
		return 0, err
	}

	tx, err := c.sqliteDB.Begin()
	if err != nil {
		return 0, err
	}
	for _, key := range victims {
		if _, err = tx.Stmt(c.delStmt).Exec(key); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}

	largest, err := c.GetLargestDistance()
	if err != nil {
		return 0, err
	}
	c.setRadius(largest)
	c.updateMetrics()
	c.log.Debug("pruned content storage", "removed", len(victims), "radius", largest.Hex())
	return len(victims), nil
}

func (c *ContentStorage) setRadius(radius *uint256.Int) {
	c.radius.Store(radius)
	c.metrics.UpdateRadius(radius)
}

func (c *ContentStorage) updateMetrics() {
	if c.metrics == nil {
		return
	}
	count, err := c.ContentCount()
	if err != nil {
		c.log.Error("failed to count content", "err", err)
		return
	}
	usage, err := c.ContentUsage()
	if err != nil {
		c.log.Error("failed to measure content usage", "err", err)
		return
	}
	c.metrics.Update(int64(count), int64(usage))
}

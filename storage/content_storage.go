package storage

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

var ErrContentNotFound = fmt.Errorf("content not found")
var ErrInsufficientRadius = fmt.Errorf("insufficient radius")
var ErrEmptyContentKey = errors.New("content key is empty")

var MaxDistance = uint256.MustFromHex("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
var smallestDistance = uint256.NewInt(0).Bytes32()
var SizeKey = smallestDistance[:] // smallest key, make sure the key will not be prund

// ContentType is the first byte of an encoded content key. It selects how the
// remaining bytes are interpreted by the network serving the content.
type ContentType byte

type ContentKey struct {
	selector ContentType
	data     []byte
}

func NewContentKey(selector ContentType, data []byte) *ContentKey {
	return &ContentKey{
		selector: selector,
		data:     data,
	}
}

// DecodeContentKey splits an encoded key into its selector and data parts.
func DecodeContentKey(encoded []byte) (*ContentKey, error) {
	if len(encoded) == 0 {
		return nil, ErrEmptyContentKey
	}
	data := make([]byte, len(encoded)-1)
	copy(data, encoded[1:])
	return NewContentKey(ContentType(encoded[0]), data), nil
}

func (c *ContentKey) Selector() ContentType {
	return c.selector
}

func (c *ContentKey) Data() []byte {
	return c.data
}

func (c *ContentKey) Encode() []byte {
	res := make([]byte, 0, len(c.data)+1)
	res = append(res, byte(c.selector))
	res = append(res, c.data...)
	return res
}

// ContentId is always derived from the encoded key, it is never stored.
func (c *ContentKey) ContentId() []byte {
	return ContentIdFromKey(c.Encode())
}

func (c *ContentKey) String() string {
	return hexutil.Encode(c.Encode())
}

// ContentIdFromKey is the sha256 digest of an encoded content key.
func ContentIdFromKey(encodedKey []byte) []byte {
	digest := sha256.Sum256(encodedKey)
	return digest[:]
}

// Distance returns the xor distance between a and b as a 256 bit number.
// Shorter inputs are treated as left-aligned, missing bytes count as zero.
func Distance(a, b []byte) *uint256.Int {
	var res [32]byte
	for i := 0; i < 32; i++ {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		res[i] = x ^ y
	}
	return new(uint256.Int).SetBytes32(res[:])
}

// InRadius reports whether target lies within radius of nodeId.
func InRadius(nodeId []byte, radius *uint256.Int, target []byte) bool {
	return Distance(nodeId, target).Cmp(radius) <= 0
}

type ContentStorage interface {
	Get(contentKey []byte, contentId []byte) ([]byte, error)

	Put(contentKey []byte, contentId []byte, content []byte) error

	Radius() *uint256.Int

	Close() error
}

type MockStorage struct {
	lock   sync.RWMutex
	Db     map[string][]byte
	radius *uint256.Int
}

func NewMockStorage() ContentStorage {
	return &MockStorage{
		Db:     make(map[string][]byte),
		radius: MaxDistance.Clone(),
	}
}

// NewMockStorageWithRadius builds a map backed storage advertising the given radius.
func NewMockStorageWithRadius(radius *uint256.Int) *MockStorage {
	return &MockStorage{
		Db:     make(map[string][]byte),
		radius: radius.Clone(),
	}
}

func (m *MockStorage) Get(contentKey []byte, contentId []byte) ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if content, ok := m.Db[string(contentId)]; ok {
		return content, nil
	}
	return nil, ErrContentNotFound
}

func (m *MockStorage) Put(contentKey []byte, contentId []byte, content []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.Db[string(contentId)] = content
	return nil
}

func (m *MockStorage) Radius() *uint256.Int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.radius.Clone()
}

func (m *MockStorage) SetRadius(radius *uint256.Int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.radius = radius.Clone()
}

func (m *MockStorage) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.Db)
}

func (m *MockStorage) Close() error {
	return nil
}

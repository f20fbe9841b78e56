package portalwire

import (
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
)

type protocolVersions []uint8

func (pv protocolVersions) ENRKey() string { return "pv" }

var Versions protocolVersions = protocolVersions{0, 1} //protocol network versions defined here

const versionExpiry = 5 * time.Minute

// maxCompatibleVersionSize ideally should have the buckets plus the replacement Buckets size
const maxCompatibleVersionSize = nBuckets * (bucketSize + maxReplacements)

var errNoCommonVersion = errors.New("no common protocol version")

type versionEntry struct {
	version uint8
	seq     uint64
	expires mclock.AbsTime
}

// activeVersions caches the highest protocol version shared with each peer,
// as announced by the "pv" entry of its node record.
type activeVersions struct {
	mu              sync.Mutex
	currentVersions protocolVersions
	entries         map[enode.ID]versionEntry
	clock           mclock.Clock
	log             log.Logger
}

func newActiveVersions(clock mclock.Clock, log log.Logger) *activeVersions {
	return &activeVersions{
		currentVersions: Versions,
		entries:         make(map[enode.ID]versionEntry),
		clock:           clock,
		log:             log,
	}
}

// getHighestVersion returns the negotiated version, refreshing the entry when
// it expired or the peer published a newer record.
func (av *activeVersions) getHighestVersion(node *enode.Node) uint8 {
	av.mu.Lock()
	defer av.mu.Unlock()

	now := av.clock.Now()
	if e, ok := av.entries[node.ID()]; ok && now < e.expires && e.seq >= node.Seq() {
		return e.version
	}
	version := av.resolve(node)
	if _, mapped := av.entries[node.ID()]; !mapped && len(av.entries) >= maxCompatibleVersionSize {
		av.log.Debug("highest compatible version mapping full, can not update", "node", node.ID())
		return version
	}
	av.entries[node.ID()] = versionEntry{
		version: version,
		seq:     node.Seq(),
		expires: now.Add(versionExpiry),
	}
	return version
}

func (av *activeVersions) resolve(node *enode.Node) uint8 {
	versions := &protocolVersions{}
	// a record without the entry speaks version 0
	if err := node.Load(versions); err != nil {
		av.log.Trace("could not determine highest compatible version, will use 0", "node", node.ID(), "err", err)
		return 0
	}
	version, err := findBiggestSameNumber(av.currentVersions, *versions)
	if err != nil {
		av.log.Debug("error on highest version number", "node", node.ID(), "err", err)
		return 0
	}
	return version
}

func (av *activeVersions) deleteHighestVersion(id enode.ID) {
	av.mu.Lock()
	defer av.mu.Unlock()
	delete(av.entries, id)
}

func (av *activeVersions) len() int {
	av.mu.Lock()
	defer av.mu.Unlock()
	return len(av.entries)
}

// findBiggestSameNumber finds the largest value that exists in both slices.
func findBiggestSameNumber(a []uint8, b []uint8) (uint8, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, errNoCommonVersion
	}
	valuesInA := make(map[uint8]bool, len(a))
	for _, val := range a {
		valuesInA[val] = true
	}
	var maxCommon uint8
	foundCommon := false
	for _, val := range b {
		if valuesInA[val] && (!foundCommon || val > maxCommon) {
			maxCommon = val
			foundCommon = true
		}
	}
	if !foundCommon {
		return 0, errNoCommonVersion
	}
	return maxCommon, nil
}

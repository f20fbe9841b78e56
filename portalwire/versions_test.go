package portalwire

import (
	"testing"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

func TestFindTheBiggestSameNumber(t *testing.T) {
	tests := []struct {
		name     string
		a        []uint8
		b        []uint8
		expected uint8
		wantErr  bool
	}{
		{name: "Basic case with common values", a: []uint8{1, 2, 3, 4, 5}, b: []uint8{3, 4, 5, 6, 7}, expected: 5},
		{name: "Single common value", a: []uint8{1, 2, 3}, b: []uint8{3, 4, 5}, expected: 3},
		{name: "Multiple common values", a: []uint8{1, 2, 3, 4, 5}, b: []uint8{2, 4, 6}, expected: 4},
		{name: "No common values", a: []uint8{1, 2, 3}, b: []uint8{4, 5, 6}, wantErr: true},
		{name: "Empty first slice", a: []uint8{}, b: []uint8{1, 2, 3}, wantErr: true},
		{name: "Empty second slice", a: []uint8{1, 2, 3}, b: []uint8{}, wantErr: true},
		{name: "Both slices empty", a: []uint8{}, b: []uint8{}, wantErr: true},
		{name: "Duplicate values in slices", a: []uint8{1, 2, 2, 3, 3}, b: []uint8{2, 2, 3, 4, 4}, expected: 3},
		{name: "Protocol version negotiation example", a: []uint8{0, 1, 2}, b: []uint8{0, 1}, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := findBiggestSameNumber(tt.a, tt.b)
			if tt.wantErr {
				require.ErrorIs(t, err, errNoCommonVersion)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, result)
		})
	}
}

func TestHighestVersion(t *testing.T) {
	clock := new(mclock.Simulated)
	av := newActiveVersions(clock, log.Root())

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	require.Equal(t, uint8(0), av.getHighestVersion(newSignedNode(t, key, 1)), "no pv entry speaks version 0")
	require.Equal(t, 1, av.len())

	// a newer record announcing version 1 replaces the cached entry
	require.Equal(t, uint8(1), av.getHighestVersion(newSignedNode(t, key, 2, protocolVersions{0, 1})))

	// the same record keeps the cached value until it expires
	cached := newSignedNode(t, key, 2, protocolVersions{0})
	require.Equal(t, uint8(1), av.getHighestVersion(cached))
	clock.Run(versionExpiry + 1)
	require.Equal(t, uint8(0), av.getHighestVersion(cached))

	av.deleteHighestVersion(cached.ID())
	require.Equal(t, 0, av.len())
}

func TestHighestVersionWithoutOverlap(t *testing.T) {
	av := newActiveVersions(mclock.System{}, log.Root())
	av.currentVersions = protocolVersions{1}

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.Equal(t, uint8(0), av.getHighestVersion(newSignedNode(t, key, 1, protocolVersions{2, 3})))
	require.Equal(t, uint8(1), av.getHighestVersion(newSignedNode(t, key, 2, protocolVersions{0, 1, 2})))
}

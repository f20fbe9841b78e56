package web3

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zen-eth/portalnode/internal/version"
)

func TestClientVersion(t *testing.T) {
	api := &API{}
	require.True(t, strings.HasPrefix(api.ClientVersion(), version.ClientName+"/v"))
}

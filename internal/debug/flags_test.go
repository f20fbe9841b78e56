package debug

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func runWithFlags(t *testing.T, args ...string) error {
	t.Helper()
	app := cli.NewApp()
	app.Flags = Flags
	app.Action = Setup
	defer log.SetDefault(log.NewLogger(log.DiscardHandler()))
	return app.Run(append([]string{"test"}, args...))
}

func TestSetupLogFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "node.log")
	err := runWithFlags(t, "--log.format", "logfmt", "--log.file", logFile, "--verbosity", "4")
	require.NoError(t, err)
	Exit()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "Logging configured")
}

func TestSetupUnknownFormat(t *testing.T) {
	err := runWithFlags(t, "--log.format", "xml")
	require.ErrorContains(t, err, "unknown log format")
}

func TestSetupBadVmodule(t *testing.T) {
	err := runWithFlags(t, "--log.vmodule", "portalwire/*=notalevel")
	require.Error(t, err)
}

package utils

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/urfave/cli/v2"
	"github.com/zen-eth/portalnode/internal/flags"
	"github.com/zen-eth/portalnode/portalwire"
)

const (
	DefaultHTTPPort = 8545
	DefaultUDPPort  = 9009
)

var (
	// Metrics flags
	MetricsEnabledFlag = &cli.BoolFlag{
		Name:     "metrics",
		Usage:    "Enable metrics collection and reporting",
		Category: flags.MetricsCategory,
	}
	// MetricsHTTPFlag defines the endpoint for a stand-alone metrics HTTP endpoint.
	MetricsHTTPFlag = &cli.StringFlag{
		Name:     "metrics.addr",
		Usage:    `Enable stand-alone metrics HTTP server listening interface.`,
		Category: flags.MetricsCategory,
	}
	MetricsPortFlag = &cli.IntFlag{
		Name: "metrics.port",
		Usage: `Metrics HTTP server listening port.
Please note that --` + MetricsHTTPFlag.Name + ` must be set to start the server.`,
		Value:    metrics.DefaultConfig.Port,
		Category: flags.MetricsCategory,
	}
	MetricsEnableInfluxDBFlag = &cli.BoolFlag{
		Name:     "metrics.influxdb",
		Usage:    "Enable metrics export/push to an external InfluxDB database",
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBEndpointFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.endpoint",
		Usage:    "InfluxDB API endpoint to report metrics to",
		Value:    metrics.DefaultConfig.InfluxDBEndpoint,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBDatabaseFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.database",
		Usage:    "InfluxDB database name to push reported metrics to",
		Value:    metrics.DefaultConfig.InfluxDBDatabase,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBUsernameFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.username",
		Usage:    "Username to authorize access to the database",
		Value:    metrics.DefaultConfig.InfluxDBUsername,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBPasswordFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.password",
		Usage:    "Password to authorize access to the database",
		Value:    metrics.DefaultConfig.InfluxDBPassword,
		Category: flags.MetricsCategory,
	}
	// Tags are part of every measurement sent to InfluxDB.
	MetricsInfluxDBTagsFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.tags",
		Usage:    "Comma-separated InfluxDB tags (key/values) attached to all measurements",
		Value:    metrics.DefaultConfig.InfluxDBTags,
		Category: flags.MetricsCategory,
	}
	MetricsEnableInfluxDBV2Flag = &cli.BoolFlag{
		Name:     "metrics.influxdbv2",
		Usage:    "Enable metrics export/push to an external InfluxDB v2 database",
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBTokenFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.token",
		Usage:    "Token to authorize access to the database (v2 only)",
		Value:    metrics.DefaultConfig.InfluxDBToken,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBBucketFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.bucket",
		Usage:    "InfluxDB bucket name to push reported metrics to (v2 only)",
		Value:    metrics.DefaultConfig.InfluxDBBucket,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBOrganizationFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.organization",
		Usage:    "InfluxDB organization name (v2 only)",
		Value:    metrics.DefaultConfig.InfluxDBOrganization,
		Category: flags.MetricsCategory,
	}

	ConfigFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "YAML configuration file, command line flags take precedence",
		Category: flags.MiscCategory,
	}

	PortalRPCListenAddrFlag = &cli.StringFlag{
		Name:     "rpc.addr",
		Usage:    "HTTP-RPC server listening interface",
		Value:    "localhost",
		Category: flags.APICategory,
	}

	PortalRPCPortFlag = &cli.IntFlag{
		Name:     "rpc.port",
		Usage:    "HTTP-RPC server listening port",
		Value:    DefaultHTTPPort,
		Category: flags.APICategory,
	}

	PortalDataDirFlag = &cli.StringFlag{
		Name:     "data.dir",
		Usage:    "Data dir of where the data file located",
		Value:    "./",
		Category: flags.StorageCategory,
	}

	PortalDataCapacityFlag = &cli.Uint64Flag{
		Name:     "data.capacity",
		Usage:    "The capacity of the data stored, the unit is MB",
		Value:    1000 * 10, // 10 GB
		Category: flags.StorageCategory,
	}

	PortalStorageFlag = &cli.StringFlag{
		Name:     "storage",
		Usage:    "Content storage backend (pebble|sqlite)",
		Value:    "pebble",
		Category: flags.StorageCategory,
	}

	PortalNATFlag = &cli.StringFlag{
		Name:     "nat",
		Usage:    "NAT port mapping mechanism (any|none|upnp|pmp|stun|pmp:<IP>|extip:<IP>|stun:<IP>)",
		Value:    "any",
		Category: flags.PortalNetworkCategory,
	}

	PortalUDPListenAddrFlag = &cli.StringFlag{
		Name:     "udp.addr",
		Usage:    "Protocol UDP server listening interface",
		Value:    "",
		Category: flags.PortalNetworkCategory,
	}

	PortalUDPPortFlag = &cli.IntFlag{
		Name:     "udp.port",
		Usage:    "Protocol UDP server listening port",
		Value:    DefaultUDPPort,
		Category: flags.PortalNetworkCategory,
	}

	PortalGnetFlag = &cli.BoolFlag{
		Name:     "gnet",
		Usage:    "Serve discv5 packets from a gnet event loop",
		Category: flags.PortalNetworkCategory,
	}

	PortalNetRestrictFlag = &cli.StringFlag{
		Name:     "netrestrict",
		Usage:    "Restricts network communication to the given IP networks (CIDR masks)",
		Category: flags.PortalNetworkCategory,
	}

	PortalMaxUtpConnsFlag = &cli.IntFlag{
		Name:     "utp.maxconns",
		Usage:    "Maximum concurrent utp transfers in each direction",
		Value:    50,
		Category: flags.PortalNetworkCategory,
	}

	PortalPrivateKeyFlag = &cli.StringFlag{
		Name:     "private.key",
		Usage:    "Private key of p2p node, hex format",
		Category: flags.PortalNetworkCategory,
	}

	PortalBootNodesFlag = &cli.StringFlag{
		Name:     "bootnodes",
		Usage:    "Comma separated enr records for discovery bootstrap, none disables bootstrapping",
		Category: flags.PortalNetworkCategory,
	}

	PortalNetworksFlag = &cli.StringSliceFlag{
		Name:     "networks",
		Usage:    "Portal sub networks: history",
		Category: flags.PortalNetworkCategory,
		Value:    cli.NewStringSlice(portalwire.History.Name()),
	}
)

// Fatalf formats a message to standard error and exits the program.
func Fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

// SplitAndTrim splits input separated by a comma
// and trims excessive white space from the substrings.
func SplitAndTrim(input string) (ret []string) {
	l := strings.Split(input, ",")
	for _, r := range l {
		if r = strings.TrimSpace(r); r != "" {
			ret = append(ret, r)
		}
	}
	return ret
}

// SplitTagsFlag parses a comma separated list of key=value influxdb tags.
func SplitTagsFlag(tagsFlag string) map[string]string {
	tags := strings.Split(tagsFlag, ",")
	tagsMap := map[string]string{}

	for _, t := range tags {
		if t != "" {
			kv := strings.Split(t, "=")

			if len(kv) == 2 {
				tagsMap[kv[0]] = kv[1]
			}
		}
	}

	return tagsMap
}

package main

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/nat"
	"github.com/ethereum/go-ethereum/p2p/netutil"
	"github.com/urfave/cli/v2"
	"github.com/zen-eth/portalnode/cmd/portalnode/utils"
	"github.com/zen-eth/portalnode/portal"
	"github.com/zen-eth/portalnode/portalwire"
	"gopkg.in/yaml.v3"
)

const (
	privateKeyFileName = "clientKey"
	nodeDBDirName      = "nodes"
)

// loadConfigFile applies a yaml file keyed by flag names. Values given on the
// command line or through the environment win over the file.
func loadConfigFile(ctx *cli.Context) error {
	path := ctx.String(utils.ConfigFileFlag.Name)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var entries map[string]interface{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}

	known := make(map[string]bool)
	for _, name := range ctx.App.Flags {
		for _, n := range name.Names() {
			known[n] = true
		}
	}
	for key, value := range entries {
		if !known[key] {
			return fmt.Errorf("unknown config key %q in %s", key, path)
		}
		if ctx.IsSet(key) {
			continue
		}
		values, err := configValues(value)
		if err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
		for _, v := range values {
			if err := ctx.Set(key, v); err != nil {
				return fmt.Errorf("config key %q: %w", key, err)
			}
		}
	}
	log.Debug("Loaded config file", "file", path, "entries", len(entries))
	return nil
}

func configValues(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case []interface{}:
		values := make([]string, 0, len(v))
		for _, item := range v {
			s, err := configValues(item)
			if err != nil {
				return nil, err
			}
			values = append(values, s...)
		}
		return values, nil
	case string:
		return []string{v}, nil
	case bool:
		return []string{strconv.FormatBool(v)}, nil
	case int:
		return []string{strconv.Itoa(v)}, nil
	case uint64:
		return []string{strconv.FormatUint(v, 10)}, nil
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}, nil
	default:
		return nil, fmt.Errorf("unsupported value %v", value)
	}
}

func getPortalConfig(ctx *cli.Context) (*portal.Config, error) {
	config := portal.DefaultConfig()
	config.Protocol = portalwire.DefaultPortalProtocolConfig()
	metricsConfig := metrics.DefaultConfig
	config.Metrics = &metricsConfig

	httpAddr := ctx.String(utils.PortalRPCListenAddrFlag.Name)
	httpPort := ctx.Int(utils.PortalRPCPortFlag.Name)
	config.RpcAddr = net.JoinHostPort(httpAddr, strconv.Itoa(httpPort))
	config.DataDir = ctx.String(utils.PortalDataDirFlag.Name)
	config.DataCapacity = ctx.Uint64(utils.PortalDataCapacityFlag.Name)
	config.StorageBackend = ctx.String(utils.PortalStorageFlag.Name)
	config.IsGnetEnabled = ctx.Bool(utils.PortalGnetFlag.Name)
	config.MaxUtpConns = ctx.Int(utils.PortalMaxUtpConnsFlag.Name)
	config.ListenAddr = net.JoinHostPort(ctx.String(utils.PortalUDPListenAddrFlag.Name), strconv.Itoa(ctx.Int(utils.PortalUDPPortFlag.Name)))
	config.NodeDBPath = filepath.Join(config.DataDir, nodeDBDirName)
	config.Networks = ctx.StringSlice(utils.PortalNetworksFlag.Name)

	privateKey, err := loadPrivateKey(ctx.String(utils.PortalPrivateKeyFlag.Name), config.DataDir)
	if err != nil {
		return nil, err
	}
	config.PrivateKey = privateKey

	if natString := ctx.String(utils.PortalNATFlag.Name); natString != "" {
		natInterface, err := nat.Parse(natString)
		if err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", utils.PortalNATFlag.Name, err)
		}
		config.NAT = natInterface
	}

	if restrict := ctx.String(utils.PortalNetRestrictFlag.Name); restrict != "" {
		list, err := netutil.ParseNetlist(restrict)
		if err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", utils.PortalNetRestrictFlag.Name, err)
		}
		config.Protocol.NetRestrict = list
	}

	bootnodes, err := bootstrapNodes(ctx)
	if err != nil {
		return nil, err
	}
	config.Protocol.BootstrapNodes = bootnodes

	applyMetricConfig(ctx, config.Metrics)
	return config, nil
}

// loadPrivateKey uses the key given on the command line, else the key file
// in the data dir, else a fresh key which is then written to the data dir.
func loadPrivateKey(keyHex string, dataDir string) (*ecdsa.PrivateKey, error) {
	if keyHex != "" {
		if !strings.HasPrefix(keyHex, "0x") {
			keyHex = "0x" + keyHex
		}
		keyBytes, err := hexutil.Decode(keyHex)
		if err != nil {
			return nil, err
		}
		return crypto.ToECDSA(keyBytes)
	}

	fullPath := filepath.Join(dataDir, privateKeyFileName)
	key, err := crypto.LoadECDSA(fullPath)
	if err == nil {
		log.Info("Loaded private key from file", "file", fullPath)
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read private key %s: %w", fullPath, err)
	}

	log.Info("Creating new private key", "file", fullPath)
	key, err = crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, err
	}
	if err := crypto.SaveECDSA(fullPath, key); err != nil {
		return nil, err
	}
	return key, nil
}

// bootstrapNodes creates a list of bootstrap nodes from the command line
// flags, reverting to pre-configured ones if none have been specified.
func bootstrapNodes(ctx *cli.Context) ([]*enode.Node, error) {
	records := portalwire.PortalBootnodes
	if ctx.IsSet(utils.PortalBootNodesFlag.Name) {
		flag := ctx.String(utils.PortalBootNodesFlag.Name)
		if flag == "none" {
			return nil, nil
		}
		records = utils.SplitAndTrim(flag)
	}
	nodes, err := portalwire.ParseBootnodes(records)
	if err != nil {
		return nil, fmt.Errorf("invalid bootnode: %w", err)
	}
	return nodes, nil
}

func applyMetricConfig(ctx *cli.Context, cfg *metrics.Config) {
	if ctx.IsSet(utils.MetricsEnabledFlag.Name) {
		cfg.Enabled = ctx.Bool(utils.MetricsEnabledFlag.Name)
	}
	if ctx.IsSet(utils.MetricsHTTPFlag.Name) {
		cfg.HTTP = ctx.String(utils.MetricsHTTPFlag.Name)
	}
	if ctx.IsSet(utils.MetricsPortFlag.Name) {
		cfg.Port = ctx.Int(utils.MetricsPortFlag.Name)
	}
	if ctx.IsSet(utils.MetricsEnableInfluxDBFlag.Name) {
		cfg.EnableInfluxDB = ctx.Bool(utils.MetricsEnableInfluxDBFlag.Name)
	}
	if ctx.IsSet(utils.MetricsInfluxDBEndpointFlag.Name) {
		cfg.InfluxDBEndpoint = ctx.String(utils.MetricsInfluxDBEndpointFlag.Name)
	}
	if ctx.IsSet(utils.MetricsInfluxDBDatabaseFlag.Name) {
		cfg.InfluxDBDatabase = ctx.String(utils.MetricsInfluxDBDatabaseFlag.Name)
	}
	if ctx.IsSet(utils.MetricsInfluxDBUsernameFlag.Name) {
		cfg.InfluxDBUsername = ctx.String(utils.MetricsInfluxDBUsernameFlag.Name)
	}
	if ctx.IsSet(utils.MetricsInfluxDBPasswordFlag.Name) {
		cfg.InfluxDBPassword = ctx.String(utils.MetricsInfluxDBPasswordFlag.Name)
	}
	if ctx.IsSet(utils.MetricsInfluxDBTagsFlag.Name) {
		cfg.InfluxDBTags = ctx.String(utils.MetricsInfluxDBTagsFlag.Name)
	}
	if ctx.IsSet(utils.MetricsEnableInfluxDBV2Flag.Name) {
		cfg.EnableInfluxDBV2 = ctx.Bool(utils.MetricsEnableInfluxDBV2Flag.Name)
	}
	if ctx.IsSet(utils.MetricsInfluxDBTokenFlag.Name) {
		cfg.InfluxDBToken = ctx.String(utils.MetricsInfluxDBTokenFlag.Name)
	}
	if ctx.IsSet(utils.MetricsInfluxDBBucketFlag.Name) {
		cfg.InfluxDBBucket = ctx.String(utils.MetricsInfluxDBBucketFlag.Name)
	}
	if ctx.IsSet(utils.MetricsInfluxDBOrganizationFlag.Name) {
		cfg.InfluxDBOrganization = ctx.String(utils.MetricsInfluxDBOrganizationFlag.Name)
	}
	// Sanity-check the commandline flags: v1 and v2 credentials do not mix.
	var (
		enableExport   = ctx.Bool(utils.MetricsEnableInfluxDBFlag.Name)
		enableExportV2 = ctx.Bool(utils.MetricsEnableInfluxDBV2Flag.Name)
	)
	if enableExport || enableExportV2 {
		v1FlagIsSet := ctx.IsSet(utils.MetricsInfluxDBUsernameFlag.Name) ||
			ctx.IsSet(utils.MetricsInfluxDBPasswordFlag.Name)

		v2FlagIsSet := ctx.IsSet(utils.MetricsInfluxDBTokenFlag.Name) ||
			ctx.IsSet(utils.MetricsInfluxDBOrganizationFlag.Name) ||
			ctx.IsSet(utils.MetricsInfluxDBBucketFlag.Name)

		if enableExport && v2FlagIsSet {
			utils.Fatalf("Flags --influxdb.metrics.organization, --influxdb.metrics.token, --influxdb.metrics.bucket are only available for influxdb-v2")
		} else if enableExportV2 && v1FlagIsSet {
			utils.Fatalf("Flags --influxdb.metrics.username, --influxdb.metrics.password are only available for influxdb-v1")
		}
	}
}

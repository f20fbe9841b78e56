package main

import (
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"
	"github.com/ethereum/go-ethereum/metrics/influxdb"
	"github.com/urfave/cli/v2"
	"github.com/zen-eth/portalnode/cmd/portalnode/utils"
	"github.com/zen-eth/portalnode/internal/debug"
	"github.com/zen-eth/portalnode/internal/flags"
	"github.com/zen-eth/portalnode/portal"
)

const envPrefix = "PORTAL"

var app = flags.NewApp("the portal network content routing node")

var (
	portalProtocolFlags = []cli.Flag{
		utils.ConfigFileFlag,
		utils.PortalNATFlag,
		utils.PortalUDPListenAddrFlag,
		utils.PortalUDPPortFlag,
		utils.PortalGnetFlag,
		utils.PortalNetRestrictFlag,
		utils.PortalMaxUtpConnsFlag,
		utils.PortalBootNodesFlag,
		utils.PortalPrivateKeyFlag,
		utils.PortalNetworksFlag,
	}
	rpcFlags = []cli.Flag{
		utils.PortalRPCListenAddrFlag,
		utils.PortalRPCPortFlag,
		utils.PortalDataDirFlag,
		utils.PortalDataCapacityFlag,
		utils.PortalStorageFlag,
	}
	metricsFlags = []cli.Flag{
		utils.MetricsEnabledFlag,
		utils.MetricsHTTPFlag,
		utils.MetricsPortFlag,
		utils.MetricsEnableInfluxDBFlag,
		utils.MetricsInfluxDBEndpointFlag,
		utils.MetricsInfluxDBDatabaseFlag,
		utils.MetricsInfluxDBUsernameFlag,
		utils.MetricsInfluxDBPasswordFlag,
		utils.MetricsInfluxDBTagsFlag,
		utils.MetricsEnableInfluxDBV2Flag,
		utils.MetricsInfluxDBTokenFlag,
		utils.MetricsInfluxDBBucketFlag,
		utils.MetricsInfluxDBOrganizationFlag,
	}
)

func init() {
	app.Action = portalnode
	app.Flags = slices.Concat(portalProtocolFlags, rpcFlags, metricsFlags, debug.Flags)
	flags.AutoEnvVars(app.Flags, envPrefix)

	app.Before = func(ctx *cli.Context) error {
		if err := loadConfigFile(ctx); err != nil {
			return err
		}
		flags.CheckEnvVars(ctx, app.Flags, envPrefix)
		return debug.Setup(ctx)
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func portalnode(ctx *cli.Context) error {
	config, err := getPortalConfig(ctx)
	if err != nil {
		return err
	}
	setupMetrics(config)

	node, err := portal.NewNode(config)
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		node.Stop()
		return err
	}
	go handleInterrupt(node)

	node.Wait()
	return nil
}

func handleInterrupt(node *portal.Node) {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	<-interrupt
	log.Warn("Shutting down gracefully (type CTRL-C again to force quit)")
	go node.Stop()

	<-interrupt
	log.Warn("Forced shutdown")
	debug.Exit()
	os.Exit(1)
}

// setupMetrics enables collection and starts the configured exporters. It
// has to run before the node creates its meters.
func setupMetrics(config *portal.Config) {
	cfg := config.Metrics
	if !cfg.Enabled {
		return
	}
	log.Info("Enabling metrics collection")
	metrics.Enable()

	go metrics.CollectProcessMetrics(3 * time.Second)
	metrics.NewRegisteredGauge("portal/storage_capacity", nil).Update(int64(config.DataCapacity))

	tags := utils.SplitTagsFlag(cfg.InfluxDBTags)
	switch {
	case cfg.EnableInfluxDB:
		log.Info("Enabling metrics export to InfluxDB", "endpoint", cfg.InfluxDBEndpoint)
		go influxdb.InfluxDBWithTags(metrics.DefaultRegistry, 10*time.Second, cfg.InfluxDBEndpoint, cfg.InfluxDBDatabase, cfg.InfluxDBUsername, cfg.InfluxDBPassword, "portal.", tags)
	case cfg.EnableInfluxDBV2:
		log.Info("Enabling metrics export to InfluxDB (v2)", "endpoint", cfg.InfluxDBEndpoint)
		go influxdb.InfluxDBV2WithTags(metrics.DefaultRegistry, 10*time.Second, cfg.InfluxDBEndpoint, cfg.InfluxDBToken, cfg.InfluxDBBucket, cfg.InfluxDBOrganization, "portal.", tags)
	}

	if cfg.HTTP != "" {
		address := fmt.Sprintf("%s:%d", cfg.HTTP, cfg.Port)
		log.Info("Enabling stand-alone metrics HTTP endpoint", "address", address)
		exp.Setup(address)
	}
}

package portal

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/p2p/discover"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/nat"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/zen-eth/portalnode/portalwire"
	"github.com/zen-eth/portalnode/storage"
	"github.com/zen-eth/portalnode/storage/pebble"
	"github.com/zen-eth/portalnode/storage/sqlite"
	"github.com/zen-eth/portalnode/web3"
)

const (
	StoragePebble = "pebble"
	StorageSqlite = "sqlite"
)

var errUnknownNetwork = errors.New("unknown portal network")

// Config holds configuration for the portal node
type Config struct {
	Protocol       *portalwire.PortalProtocolConfig
	PrivateKey     *ecdsa.PrivateKey
	ListenAddr     string
	NAT            nat.Interface
	NodeDBPath     string
	IsGnetEnabled  bool
	MaxUtpConns    int
	RpcAddr        string
	DataDir        string
	DataCapacity   uint64
	StorageBackend string
	Networks       []string
	Metrics        *metrics.Config
}

func DefaultConfig() *Config {
	metricsConfig := metrics.DefaultConfig
	return &Config{
		Protocol:       portalwire.DefaultPortalProtocolConfig(),
		Metrics:        &metricsConfig,
		ListenAddr:     ":9009",
		RpcAddr:        "localhost:8545",
		DataDir:        "./",
		DataCapacity:   1000 * 10,
		StorageBackend: StoragePebble,
		Networks:       []string{portalwire.History.Name()},
	}
}

// network is one running portal sub-network and the storage it owns.
type network struct {
	protocol *portalwire.PortalProtocol
	storage  storage.ContentStorage
}

// Node represents a portal node with all its services
type Node struct {
	config     *Config
	log        log.Logger
	discV5     *discover.UDPv5
	localNode  *enode.LocalNode
	conn       discover.UDPConn
	utp        *portalwire.UtpTransport
	rpcServer  *rpc.Server
	httpServer *http.Server
	listener   net.Listener
	networks   map[string]*network

	stopOnce sync.Once
	stop     chan struct{} // Channel to wait for termination notifications
}

// NewNode creates a new Node with the given config
func NewNode(config *Config) (*Node, error) {
	if config.PrivateKey == nil {
		return nil, errors.New("node needs a private key")
	}
	if config.Protocol == nil {
		config.Protocol = portalwire.DefaultPortalProtocolConfig()
	}
	node := &Node{
		config:   config,
		log:      log.New("module", "node"),
		networks: make(map[string]*network),
		stop:     make(chan struct{}),
	}

	if err := node.initUDP(); err != nil {
		return nil, err
	}
	if err := node.initDiscV5(); err != nil {
		node.conn.Close()
		return nil, err
	}
	node.utp = portalwire.NewUtpTransport(context.Background(), node.discV5, config.MaxUtpConns, log.New("protocol", "utp"))

	node.rpcServer = rpc.NewServer()
	if err := node.rpcServer.RegisterName("discv5", portalwire.NewDiscV5API(node.discV5)); err != nil {
		node.close()
		return nil, err
	}
	if err := node.rpcServer.RegisterName("web3", &web3.API{}); err != nil {
		node.close()
		return nil, err
	}

	for _, name := range config.Networks {
		if err := node.initNetwork(name); err != nil {
			node.close()
			return nil, fmt.Errorf("failed to init %s network: %w", name, err)
		}
	}

	node.httpServer = &http.Server{
		Addr:    config.RpcAddr,
		Handler: node.rpcServer,
	}
	return node, nil
}

// Start starts all node services
func (n *Node) Start() error {
	if err := n.utp.Start(); err != nil {
		return err
	}
	for name, nw := range n.networks {
		if err := nw.protocol.Start(); err != nil {
			return fmt.Errorf("failed to start %s network: %w", name, err)
		}
	}

	listener, err := net.Listen("tcp", n.config.RpcAddr)
	if err != nil {
		return err
	}
	n.listener = listener
	n.log.Info("HTTP server started", "endpoint", listener.Addr(), "enr", n.localNode.Node().String())
	go func() {
		if err := n.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("HTTP server error", "err", err)
		}
	}()
	return nil
}

// Stop gracefully stops all node services
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		if n.httpServer != nil {
			n.log.Info("Closing HTTP server...")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := n.httpServer.Shutdown(ctx); err != nil {
				n.log.Error("Failed to gracefully shut down server", "err", err)
			}
		}
		n.close()
		n.log.Info("Services stopped")
		close(n.stop)
	})
}

func (n *Node) close() {
	var wg sync.WaitGroup
	for name, nw := range n.networks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.log.Info("Closing network...", "network", name)
			nw.protocol.Stop()
			if err := nw.storage.Close(); err != nil {
				n.log.Error("Failed to close storage", "network", name, "err", err)
			}
		}()
	}
	wg.Wait()

	if n.utp != nil {
		n.log.Info("Closing UTP protocol...")
		n.utp.Stop()
	}
	if n.discV5 != nil {
		n.log.Info("Closing UDPv5 protocol...")
		n.discV5.Close()
	}
	if n.localNode != nil && n.localNode.Database() != nil {
		n.log.Info("Closing Database...")
		n.localNode.Database().Close()
	}
}

// Wait waits for the node to stop
func (n *Node) Wait() {
	<-n.stop
}

// Self returns the current local record.
func (n *Node) Self() *enode.Node {
	return n.localNode.Node()
}

// RPCEndpoint is the address the HTTP JSON-RPC server listens on, empty
// before Start.
func (n *Node) RPCEndpoint() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Attach creates an in-process RPC client of the node.
func (n *Node) Attach() *rpc.Client {
	return rpc.DialInProc(n.rpcServer)
}

// Protocol returns the running protocol of a network by name.
func (n *Node) Protocol(name string) (*portalwire.PortalProtocol, bool) {
	nw, ok := n.networks[name]
	if !ok {
		return nil, false
	}
	return nw.protocol, true
}

func (n *Node) initUDP() error {
	if n.config.IsGnetEnabled {
		conn := portalwire.NewGnetConn(log.New("discv5", "gnet"))
		if err := conn.ListenUDP(context.Background(), n.config.ListenAddr); err != nil {
			return err
		}
		n.conn = conn
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", n.config.ListenAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	n.conn = conn
	return nil
}

// initDiscV5 initializes the discV5 protocol and local node
func (n *Node) initDiscV5() error {
	discCfg := discover.Config{
		PrivateKey:  n.config.PrivateKey,
		NetRestrict: n.config.Protocol.NetRestrict,
		Bootnodes:   n.config.Protocol.BootstrapNodes,
		Log:         log.New("protocol", "discV5"),
	}

	nodeDB, err := enode.OpenDB(n.config.NodeDBPath)
	if err != nil {
		return err
	}
	n.localNode = enode.NewLocalNode(nodeDB, n.config.PrivateKey)
	n.localNode.Set(portalwire.Versions)
	n.localNode.Set(portalwire.Tag)

	listenerAddr := n.conn.LocalAddr().(*net.UDPAddr)
	n.localNode.SetFallbackIP(net.IP{127, 0, 0, 1})
	if !listenerAddr.IP.IsUnspecified() {
		n.localNode.SetStaticIP(listenerAddr.IP)
	}
	n.localNode.SetFallbackUDP(listenerAddr.Port)
	if n.config.NAT != nil && !listenerAddr.IP.IsLoopback() {
		doPortMapping(n.config.NAT, n.localNode, listenerAddr)
	}

	n.discV5, err = discover.ListenV5(n.conn, n.localNode, discCfg)
	return err
}

func (n *Node) openStorage(name string) (storage.ContentStorage, error) {
	cfg := storage.PortalStorageConfig{
		StorageCapacityMB: n.config.DataCapacity,
		NodeId:            n.localNode.ID(),
		NetworkName:       name,
	}
	switch n.config.StorageBackend {
	case "", StoragePebble:
		db, err := pebble.NewDB(n.config.DataDir, 16, 400, name)
		if err != nil {
			return nil, err
		}
		cs, err := pebble.NewStorage(cfg, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return cs, nil
	case StorageSqlite:
		db, err := sqlite.NewDB(n.config.DataDir, name)
		if err != nil {
			return nil, err
		}
		cs, err := sqlite.NewStorage(cfg, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return cs, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", n.config.StorageBackend)
	}
}

// initNetwork opens the storage of a sub-network, creates its protocol and
// registers its api under the portal namespace.
func (n *Node) initNetwork(name string) error {
	protocolId, ok := portalwire.ProtocolIdByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownNetwork, name)
	}
	if _, ok := n.networks[name]; ok {
		return nil
	}
	contentStorage, err := n.openStorage(name)
	if err != nil {
		return err
	}
	protocol, err := portalwire.NewPortalProtocol(
		n.config.Protocol,
		protocolId,
		n.localNode,
		n.discV5,
		n.utp,
		contentStorage,
		portalwire.WithLogger(log.New("protocol", name)))
	if err != nil {
		contentStorage.Close()
		return err
	}
	n.networks[name] = &network{protocol: protocol, storage: contentStorage}

	var api any
	switch protocolId {
	case portalwire.History:
		api = NewHistoryNetworkAPI(portalwire.NewPortalAPI(protocol))
	default:
		api = portalwire.NewPortalAPI(protocol)
	}
	return n.rpcServer.RegisterName("portal", api)
}

func doPortMapping(natm nat.Interface, ln *enode.LocalNode, addr *net.UDPAddr) {
	const (
		protocol = "udp"
		name     = "portal discovery"
	)

	var (
		intport    = addr.Port
		extaddr    = &net.UDPAddr{IP: addr.IP, Port: addr.Port}
		mapTimeout = nat.DefaultMapTimeout
		logger     = log.New("module", "nat")
	)
	addMapping := func() {
		var err error
		extaddr.IP, err = natm.ExternalIP()
		if err != nil {
			logger.Debug("Couldn't get external IP", "err", err)
			return
		}
		p, err := natm.AddMapping(protocol, extaddr.Port, intport, name, mapTimeout)
		if err != nil {
			logger.Debug("Couldn't add port mapping", "err", err)
			return
		}
		if p != uint16(extaddr.Port) {
			extaddr.Port = int(p)
			logger.Info("NAT mapped alternative port", "port", p)
		} else {
			logger.Info("NAT mapped port", "port", p)
		}
		ln.SetStaticIP(extaddr.IP)
		ln.SetFallbackUDP(extaddr.Port)
	}

	logger.Info("Attempting port mapping", "mechanism", natm)
	addMapping()

	// Refresh the mapping periodically.
	go func() {
		refresh := time.NewTimer(mapTimeout)
		defer refresh.Stop()
		for range refresh.C {
			addMapping()
			refresh.Reset(mapTimeout)
		}
	}()
}

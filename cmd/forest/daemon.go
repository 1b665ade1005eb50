package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"forest/internal/beacon"
	"forest/internal/blockstore"
	"forest/internal/chainstore"
	"forest/internal/config"
	"forest/internal/crypto"
	"forest/internal/exchange"
	"forest/internal/mempool"
	"forest/internal/p2p"
	"forest/internal/rpcapi"
	"forest/internal/sync"
	"forest/internal/types"
	"forest/internal/vm"
)

// node bundles every component cmd/forest assembles, mirroring the
// teacher's ad-hoc global Ledger/TxPool singletons (core/common_structs.go)
// as a single explicit struct instead, so nothing here relies on package
// init order or global state.
type node struct {
	cfg   *config.Config
	log   *logrus.Logger
	bs    blockstore.Store
	cs    *chainstore.Store
	p2p   *p2p.Node
	excl  *exchange.Client
	fetch *exchange.PeerFetcher
	exsrv *exchange.Server
	bcon  *beacon.Verifier
	vrf   *crypto.Verifier
	pvrf  crypto.ProofVerifier
	exec  *vm.Executor
	mpool *mempool.Pool
	repub *mempool.Republisher
	syncr *sync.Syncer
	rpc   *rpcapi.Server
}

// gossipBroadcaster adapts p2p.Node's synchronous Publish to the
// ctx-taking Broadcaster interface internal/mempool's republisher expects.
type gossipBroadcaster struct{ n *p2p.Node }

func (g gossipBroadcaster) Publish(ctx context.Context, topic string, data []byte) error {
	return g.n.Publish(topic, data)
}

func newNode(cfg *config.Config, log *logrus.Logger) (*node, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	engine, _, err := blockstore.NewEngine(filepath.Join(cfg.DataDir, cfg.Storage.BlockstorePath))
	if err != nil {
		return nil, fmt.Errorf("open blockstore engine: %w", err)
	}
	bs := blockstore.NewLayeredStore(engine, nil, log)

	cs, err := chainstore.New(bs, log)
	if err != nil {
		return nil, fmt.Errorf("open chain store: %w", err)
	}
	if err := loadGenesis(context.Background(), bs, cs, cfg.Chain.GenesisFile); err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}

	p2pNode, err := p2p.New(p2p.Config{
		ListenAddrs:    []string{cfg.Network.ListenAddr},
		BootstrapPeers: cfg.Network.BootstrapPeers,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
		TargetPeers:    cfg.Network.MaxPeers,
		IdentityPath:   filepath.Join(cfg.DataDir, "peer.key"),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("start p2p node: %w", err)
	}

	msgLoader := vm.NewMessageLoader(bs)
	exClient := exchange.NewClient(p2pNode.Host(), p2pNode.Scorer(), log)
	fetcher := exchange.NewPeerFetcher(exClient, p2pNode.Peers(), bs)
	exServer := exchange.NewServer(cs, msgLoader, log)
	exServer.Register(p2pNode.Host())

	beaconVerifier, err := beacon.NewVerifier(beacon.Schedule{
		{Height: 0, Config: beacon.ChainConfig{GenesisTime: 0, Period: 30}},
	}, cfg.Beacon.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("start beacon verifier: %w", err)
	}

	sigVerifier := crypto.NewVerifier()
	executor := vm.NewExecutor(bs, sigVerifier, nil)

	var stateView mempool.StateView = emptyStateView{}
	if head := cs.Heaviest(); head != nil {
		for _, b := range head.Blocks() {
			if tree, err := vm.LoadStateTree(context.Background(), bs, b.ParentStateRoot); err == nil {
				stateView = vm.NewChainStateView(bs, tree)
				break
			}
		}
	}
	pool := mempool.NewPool(stateView, sigVerifier)
	pool.SetMessageLoader(msgLoader)
	republisher := mempool.NewRepublisher(pool, gossipBroadcaster{n: p2pNode})

	headCh, _ := cs.SubscribeHeadChanges()
	go func() {
		for ev := range headCh {
			hc, ok := ev.(chainstore.HeadChange)
			if !ok {
				continue
			}
			baseFee := big.NewInt(0)
			tip := hc.Apply
			if len(tip) == 0 {
				tip = hc.Revert
			}
			if len(tip) > 0 {
				if bf := tip[len(tip)-1].Blocks()[0].ParentBaseFee; bf != nil {
					baseFee = bf
				}
			}
			pool.OnHeadChange(context.Background(), hc.Revert, hc.Apply, baseFee)
		}
	}()

	syncer := sync.NewSyncer(cs, fetcher, executor, beaconVerifier, p2pNode.Scorer(), log)
	syncer.SetMessageVerifier(vm.NewMessageVerifier(bs, sigVerifier))

	tokens := map[string]map[rpcapi.Capability]bool{} // populated from keystore/config by the caller
	rpcServer := rpcapi.NewServer(log, tokens)
	rpcapi.RegisterChainMethods(rpcServer, cs)
	rpcapi.RegisterMpoolMethods(rpcServer, pool)
	rpcapi.RegisterSyncMethods(rpcServer, syncer)
	rpcapi.RegisterNetMethods(rpcServer, p2pNode)

	return &node{
		cfg:   cfg,
		log:   log,
		bs:    bs,
		cs:    cs,
		p2p:   p2pNode,
		excl:  exClient,
		fetch: fetcher,
		exsrv: exServer,
		bcon:  beaconVerifier,
		vrf:   sigVerifier,
		pvrf:  crypto.NewStubProofVerifier(),
		exec:  executor,
		mpool: pool,
		repub: republisher,
		syncr: syncer,
		rpc:   rpcServer,
	}, nil
}

// emptyStateView is used until a head tipset with a loadable parent state
// root exists; every lookup reports a zero balance/nonce, which rejects
// every message on affordability rather than admitting one against state
// that doesn't exist yet.
type emptyStateView struct{}

func (emptyStateView) BalanceOf(addr types.Address) (*big.Int, error) { return big.NewInt(0), nil }
func (emptyStateView) NonceOf(addr types.Address) (uint64, error)     { return 0, nil }

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "run the chain daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			configDir, _ := cmd.Flags().GetString("config-dir")
			if configDir == "" {
				configDir = dataDir
			}

			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			cfg.DataDir = dataDir

			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return err
			}

			log := logrus.New()
			lvl, err := logrus.ParseLevel(cfg.Logging.Level)
			if err == nil {
				log.SetLevel(lvl)
			}

			n, err := newNode(cfg, log)
			if err != nil {
				return err
			}

			if cfg.RPC.Enabled {
				log.WithField("addr", cfg.RPC.ListenAddr).Info("rpcapi: listening")
				go func() {
					if err := n.rpc.ListenAndServe(cfg.RPC.ListenAddr); err != nil {
						log.WithError(err).Error("rpcapi: server exited")
					}
				}()
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go n.repub.Run(ctx, 10*time.Second)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

			log.Info("forest daemon started")
			<-sig
			log.Info("forest daemon shutting down")
			return nil
		},
	}
	return cmd
}

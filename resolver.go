// This is the resolver's main entry point.
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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"github.com/devdotbo/bmn-evm-resolver-sub002/chaingateway"
	"github.com/devdotbo/bmn-evm-resolver-sub002/chainhealth"
	"github.com/devdotbo/bmn-evm-resolver-sub002/destmonitor"
	"github.com/devdotbo/bmn-evm-resolver-sub002/executor"
	"github.com/devdotbo/bmn-evm-resolver-sub002/indexer"
	"github.com/devdotbo/bmn-evm-resolver-sub002/internal/boltutil"
	"github.com/devdotbo/bmn-evm-resolver-sub002/internal/buildlog"
	"github.com/devdotbo/bmn-evm-resolver-sub002/orderstore"
	"github.com/devdotbo/bmn-evm-resolver-sub002/profitability"
	"github.com/devdotbo/bmn-evm-resolver-sub002/resolvercore"
	"github.com/devdotbo/bmn-evm-resolver-sub002/secretstore"
	"github.com/devdotbo/bmn-evm-resolver-sub002/sourcemonitor"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

// ChainConfig is the per-chain wiring the resolver needs for either leg
// of a swap (§1 "Environment inputs").
type ChainConfig struct {
	ChainID           swap.ChainID
	RPCURL            string
	PrivateKey        string
	FactoryAddress    common.Address
	ProxyBytecodeHash common.Hash
	Confirmations     uint64
}

// Config bundles everything needed to run one resolver process (§1, §6
// "Environment inputs": resolver private key, per-chain RPC URLs,
// optional indexer URL, contract addresses per chain id, feature flags).
type Config struct {
	Src ChainConfig
	Dst ChainConfig

	DataDir string

	// EnableIndexer turns on the optional SQL projection of §6.
	EnableIndexer bool

	Quoter resolvercore.Quoter

	MaxConcurrentOrders int
	MaxOrderAge         time.Duration
	QueueDepth          int
	MinMarginBps        int64

	LogMaxRolls int
}

// Resolver is one running instance of the cross-chain HTLC resolver:
// everything constructed by New, started by Run, and torn down on
// shutdown.
type Resolver struct {
	cfg Config

	logBackend *buildlog.Backend

	db  *boltutil.DB
	ix  *indexer.Indexer
	orders  *orderstore.Store
	secrets *secretstore.Store

	srcGateway *chaingateway.Gateway
	dstGateway *chaingateway.Gateway

	srcExecutor *executor.Executor
	dstExecutor *executor.Executor

	progress   *sourcemonitor.Progress
	srcMonitor *sourcemonitor.Monitor
	dstMonitor *destmonitor.Monitor

	core   *resolvercore.Core
	health *chainhealth.Monitor
}

// New wires up every subsystem for cfg but does not start anything
// (mirrors the teacher's load-then-start split between loadConfig and
// lndMain).
func New(cfg Config) (*Resolver, error) {
	if cfg.MaxConcurrentOrders == 0 {
		cfg.MaxConcurrentOrders = 64
	}
	if cfg.MaxOrderAge == 0 {
		cfg.MaxOrderAge = 7 * 24 * time.Hour
	}
	if cfg.Quoter == nil {
		cfg.Quoter = NewIdentityQuoter()
	}
	if cfg.LogMaxRolls == 0 {
		cfg.LogMaxRolls = 10
	}

	logBackend, err := buildlog.NewBackend(filepath.Join(cfg.DataDir, "resolver.log"), cfg.LogMaxRolls)
	if err != nil {
		return nil, fmt.Errorf("resolver: open log backend: %w", err)
	}
	wireLoggers(logBackend)

	db, err := boltutil.Open(filepath.Join(cfg.DataDir, "resolver.db"))
	if err != nil {
		return nil, fmt.Errorf("resolver: open store: %w", err)
	}

	orders, err := orderstore.New(db)
	if err != nil {
		return nil, fmt.Errorf("resolver: open order store: %w", err)
	}
	deploymentClaims, err := orderstore.NewDeploymentControl(db)
	if err != nil {
		return nil, fmt.Errorf("resolver: open deployment control: %w", err)
	}
	secrets, err := secretstore.New(db)
	if err != nil {
		return nil, fmt.Errorf("resolver: open secret store: %w", err)
	}
	progress, err := sourcemonitor.NewProgress(db)
	if err != nil {
		return nil, fmt.Errorf("resolver: open monitor progress: %w", err)
	}

	srcGateway, err := dialGateway(cfg.Src)
	if err != nil {
		return nil, fmt.Errorf("resolver: dial source chain: %w", err)
	}
	dstGateway, err := dialGateway(cfg.Dst)
	if err != nil {
		return nil, fmt.Errorf("resolver: dial destination chain: %w", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	srcExecutor := executor.New(executor.Config{
		Gateway:           srcGateway,
		FactoryAddress:    cfg.Src.FactoryAddress,
		ProxyBytecodeHash: cfg.Src.ProxyBytecodeHash,
		WithdrawVersion:   executor.DetectWithdrawVersion(startupCtx, srcGateway, cfg.Src.FactoryAddress),
	})
	dstExecutor := executor.New(executor.Config{
		Gateway:           dstGateway,
		FactoryAddress:    cfg.Dst.FactoryAddress,
		ProxyBytecodeHash: cfg.Dst.ProxyBytecodeHash,
		WithdrawVersion:   executor.DetectWithdrawVersion(startupCtx, dstGateway, cfg.Dst.FactoryAddress),
	})

	srcMonitor := sourcemonitor.New(srcGateway, cfg.Src.FactoryAddress, srcGateway.Address(), progress)
	dstMonitor := destmonitor.New(dstGateway, orders)

	var ix *indexer.Indexer
	if cfg.EnableIndexer {
		ix, err = indexer.Open(filepath.Join(cfg.DataDir, "indexer.db"))
		if err != nil {
			return nil, fmt.Errorf("resolver: open indexer: %w", err)
		}
	}

	core := resolvercore.New(resolvercore.Config{
		SrcChainID:       cfg.Src.ChainID,
		DstChainID:       cfg.Dst.ChainID,
		Orders:           orders,
		DeploymentClaims: deploymentClaims,
		Secrets:          secrets,
		SrcExecutor:      srcExecutor,
		DstExecutor:      dstExecutor,
		Policy:           profitability.Policy{MinMarginBps: marginFloor(cfg.MinMarginBps)},
		Quoter:           cfg.Quoter,
		Indexer:          ix,
		MaxConcurrent:    cfg.MaxConcurrentOrders,
		MaxOrderAge:      cfg.MaxOrderAge,
		QueueDepth:       cfg.QueueDepth,
	})

	health := chainhealth.New(srcGateway, dstGateway, db)

	return &Resolver{
		cfg:         cfg,
		logBackend:  logBackend,
		db:          db,
		ix:          ix,
		orders:      orders,
		secrets:     secrets,
		srcGateway:  srcGateway,
		dstGateway:  dstGateway,
		srcExecutor: srcExecutor,
		dstExecutor: dstExecutor,
		progress:    progress,
		srcMonitor:  srcMonitor,
		dstMonitor:  dstMonitor,
		core:        core,
		health:      health,
	}, nil
}

func marginFloor(bps int64) int64 {
	if bps == 0 {
		return profitability.Default().MinMarginBps
	}
	return bps
}

func dialGateway(cc ChainConfig) (*chaingateway.Gateway, error) {
	client, err := ethclient.Dial(cc.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cc.RPCURL, err)
	}
	return chaingateway.New(chaingateway.Config{
		ChainID:       cc.ChainID,
		Client:        client,
		PrivateKey:    cc.PrivateKey,
		GasPolicy:     chaingateway.DefaultGasPolicy(),
		Confirmations: cc.Confirmations,
	})
}

// Run starts every subsystem and blocks until ctx is cancelled, then
// shuts everything down in reverse order (§6 "graceful shutdown").
func (r *Resolver) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The source and destination subscriptions dial independent chains, so
	// starting them concurrently halves the worst-case startup latency;
	// errgroup cancels the other leg and reports the first failure if
	// either subscription fails.
	var unwatchSrc, unwatchDst chaingateway.Unwatch
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		uw, err := r.srcMonitor.Start(gctx, sourcemonitor.Callbacks{
			OnNewOrder:   r.core.HandleNewOrder,
			OnInvalidate: r.core.HandleInvalidate,
		})
		if err != nil {
			return fmt.Errorf("resolver: start source monitor: %w", err)
		}
		unwatchSrc = uw
		return nil
	})
	g.Go(func() error {
		uw, err := r.dstMonitor.Start(gctx, r.core.HandleReveal)
		if err != nil {
			return fmt.Errorf("resolver: start destination monitor: %w", err)
		}
		unwatchDst = uw
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	defer unwatchSrc()
	defer unwatchDst()

	if err := r.core.Start(); err != nil {
		return fmt.Errorf("resolver: start resolver core: %w", err)
	}

	r.health.Start()

	<-ctx.Done()

	r.health.Stop()
	if err := r.core.Stop(); err != nil {
		return fmt.Errorf("resolver: stop resolver core: %w", err)
	}
	return nil
}

// Close releases every durable handle the resolver opened. Call after
// Run returns.
func (r *Resolver) Close() error {
	var firstErr error
	if r.ix != nil {
		if err := r.ix.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.logBackend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Health returns the most recent chain/store liveness snapshot.
func (r *Resolver) Health() chainhealth.Report { return r.health.Health() }

func wireLoggers(b *buildlog.Backend) {
	chaingateway.UseLogger(b.Logger("CGTW"))
	sourcemonitor.UseLogger(b.Logger("SMON"))
	destmonitor.UseLogger(b.Logger("DMON"))
	orderstore.UseLogger(b.Logger("OSTR"))
	secretstore.UseLogger(b.Logger("SSTR"))
	executor.UseLogger(b.Logger("EXEC"))
	resolvercore.UseLogger(b.Logger("RESV"))
	chainhealth.UseLogger(b.Logger("CHLT"))
	indexer.UseLogger(b.Logger("IDXR"))
}

// main wires a Config from the process environment, runs the resolver
// until SIGINT/SIGTERM, and exits nonzero on any fatal error (§6 exit
// codes). Environment parsing is intentionally minimal: this is a
// library-first daemon, not a CLI (SPEC_FULL §A.3 Non-goals).
func main() {
	cfg, err := configFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolver: ", err)
		os.Exit(1)
	}

	resolver, err := New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolver: ", err)
		os.Exit(1)
	}
	defer resolver.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := resolver.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "resolver: ", err)
		os.Exit(1)
	}
}

func configFromEnv() (Config, error) {
	srcFactory := os.Getenv("RESOLVER_SRC_FACTORY")
	dstFactory := os.Getenv("RESOLVER_DST_FACTORY")
	if srcFactory == "" || dstFactory == "" {
		return Config{}, fmt.Errorf("RESOLVER_SRC_FACTORY and RESOLVER_DST_FACTORY are required")
	}

	dataDir := os.Getenv("RESOLVER_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	return Config{
		Src: ChainConfig{
			ChainID:        parseChainID(os.Getenv("RESOLVER_SRC_CHAIN_ID")),
			RPCURL:         os.Getenv("RESOLVER_SRC_RPC_URL"),
			PrivateKey:     os.Getenv("RESOLVER_PRIVATE_KEY"),
			FactoryAddress: common.HexToAddress(srcFactory),
			Confirmations:  1,
		},
		Dst: ChainConfig{
			ChainID:        parseChainID(os.Getenv("RESOLVER_DST_CHAIN_ID")),
			RPCURL:         os.Getenv("RESOLVER_DST_RPC_URL"),
			PrivateKey:     os.Getenv("RESOLVER_PRIVATE_KEY"),
			FactoryAddress: common.HexToAddress(dstFactory),
			Confirmations:  1,
		},
		DataDir:             dataDir,
		EnableIndexer:       os.Getenv("RESOLVER_ENABLE_INDEXER") == "true",
		MaxConcurrentOrders: 64,
		MaxOrderAge:         7 * 24 * time.Hour,
	}, nil
}

func parseChainID(s string) swap.ChainID {
	v := new(big.Int)
	if _, ok := v.SetString(s, 10); !ok {
		return 0
	}
	return swap.ChainID(v.Uint64())
}

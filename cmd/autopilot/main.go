// Command autopilot wires configuration, logging, storage, the driver
// fleet, the chain-event indexers and the leader-gated run loop into one
// running process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cowmesh/autopilot/pkg/auctionbuilder"
	"github.com/cowmesh/autopilot/pkg/chainrpc"
	"github.com/cowmesh/autopilot/pkg/competition"
	"github.com/cowmesh/autopilot/pkg/config"
	"github.com/cowmesh/autopilot/pkg/domain/auction"
	"github.com/cowmesh/autopilot/pkg/domain/eth"
	"github.com/cowmesh/autopilot/pkg/driverclient"
	"github.com/cowmesh/autopilot/pkg/leaderlock"
	"github.com/cowmesh/autopilot/pkg/logging"
	"github.com/cowmesh/autopilot/pkg/metrics"
	"github.com/cowmesh/autopilot/pkg/obshttp"
	"github.com/cowmesh/autopilot/pkg/oracles"
	persistsql "github.com/cowmesh/autopilot/pkg/persistence/sqlstore"
	"github.com/cowmesh/autopilot/pkg/persistence/walcache"
	ordersql "github.com/cowmesh/autopilot/pkg/orderstore/sqlstore"
	"github.com/cowmesh/autopilot/pkg/runloop"
	"github.com/cowmesh/autopilot/pkg/settlement"
	"github.com/cowmesh/autopilot/pkg/shutdown"
	"github.com/cowmesh/autopilot/pkg/solvablecache"
)

func main() {
	configPath := flag.String("config", "autopilot.toml", "path to the TOML configuration file")
	envPath := flag.String("env", "", "optional .env file layered under the TOML config")
	devMode := flag.Bool("dev", false, "expose the internal /debug observability endpoint")
	flag.Parse()

	if err := run(*configPath, *envPath, *devMode); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, envPath string, devMode bool) error {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chain, err := chainrpc.Dial(ctx, cfg.Chain.RPCUrl)
	if err != nil {
		return fmt.Errorf("dial chain rpc: %w", err)
	}
	defer chain.Close()

	orders, err := ordersql.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open order store: %w", err)
	}
	defer orders.Close()

	persist, err := persistsql.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}
	defer persist.Close()

	lock, err := leaderlock.Open(ctx, cfg.Database.DSN, cfg.RunLoop.LeaderLockKey)
	if err != nil {
		return fmt.Errorf("open leader lock: %w", err)
	}
	defer lock.Close()

	wal, err := walcache.Open(cfg.WalCachePath)
	if err != nil {
		return fmt.Errorf("open walcache: %w", err)
	}
	defer wal.Close()

	settlementContract := eth.HexToAddress(cfg.Chain.SettlementContract)

	bannedOwners := make(map[eth.Address]struct{}, len(cfg.BannedUsers.Addresses))
	for _, a := range cfg.BannedUsers.Addresses {
		bannedOwners[eth.HexToAddress(a)] = struct{}{}
	}

	trustedTokens := make(auction.TrustedTokens, len(cfg.TrustedTokens.Addresses))
	for _, a := range cfg.TrustedTokens.Addresses {
		trustedTokens[eth.HexToAddress(a)] = struct{}{}
	}

	balanceOracle := oracles.NewBalanceOracle(chain, settlementContract)
	badTokens := oracles.NewStaticBadTokenDetector(nil)
	sigValidator := oracles.NewSignatureValidator(chain)
	priceOracle := oracles.NewPriceOracle()
	jitOwners := oracles.NewJitOwnerRegistry(nil)

	cache := solvablecache.New(
		solvablecache.Config{QuoteValidityAge: cfg.RunLoop.QuoteValidityAge},
		log,
		orders.Orders(),
		orders.Events(),
		balanceOracle,
		badTokens,
		quoteSourceAdapter{orders.Quotes()},
		sigValidator,
		priceOracle,
		chain,
		bannedOwners,
	)

	builder := auctionbuilder.New(log, persist.Auctions(), archivalSink{persist.Auctions(), wal}, 16)
	auctions := &auctionAdapter{
		builder:          builder,
		cache:            cache,
		jitOwners:        jitOwners,
		trustedTokens:    trustedTokens,
		settlementBlocks: persist.SettlementEvents(),
	}

	drivers := make([]*driverclient.Driver, 0, len(cfg.Drivers))
	for _, d := range cfg.Drivers {
		drivers = append(drivers, driverclient.New(d.Name, d.BaseURL))
	}

	runner := competition.NewRunner(competition.Config{
		DriverTimeout: cfg.Competition.DriverTimeout,
		BanThreshold:  cfg.Competition.BanThreshold,
		BanWindow:     cfg.Competition.BanWindow,
	})

	reg := prometheus.NewRegistry()
	metricsRecorder := metrics.New(reg)

	metricsServer := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		_ = metricsServer.Close()
	}()

	ticker := runloop.New(
		log, lock, cfg.RunLoop.TickInterval,
		cache,
		auctions,
		runner,
		drivers,
		persist.Results(),
		metricsRecorder,
	)

	sd := shutdown.New()

	observer := settlement.New(
		log, cfg.RunLoop.TickInterval,
		eventSourceAdapter{
			persist.SettlementEvents(),
			persist.TradeEvents(),
			persist.CancellationEvents(),
			persist.PreSignatureEvents(),
		},
		chain,
		persist.Settlements(),
		orders.Orders(),
		orders.SettlementTxs(),
		orders.ReferenceScores(),
		runner.BanTracker,
	)
	go observer.Run(ctx)

	for _, m := range buildMaintainers(chain, settlementContract, persist, log) {
		go runMaintainer(ctx, log, m, sd, cfg.RunLoop.TickInterval)
	}

	if devMode {
		server := obshttp.New(log, cfg.Observability.ListenAddr, ticker, ticker, observer)
		go func() {
			if err := server.Run(ctx); err != nil {
				log.Warn("observability server stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- ticker.Run(ctx, sd) }()

	select {
	case <-sd.Done():
		cancel()
		return <-errCh
	case err := <-errCh:
		return err
	}
}

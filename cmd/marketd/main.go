package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nftmarket/config"
	"nftmarket/core/events"
	"nftmarket/core/state"
	"nftmarket/crypto"
	"nftmarket/indexer"
	"nftmarket/native/bank"
	"nftmarket/native/collectible"
	nativecommon "nftmarket/native/common"
	"nftmarket/native/market"
	"nftmarket/observability"
	"nftmarket/observability/logging"
	"nftmarket/rpc"
	"nftmarket/storage"
)

const moduleMarket = "market"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.SetupWithOptions("marketd", cfg.Environment, logging.Options{File: cfg.LogFile})
	logging.BridgeStdlib()

	if err := run(cfg, logger); err != nil {
		logger.Error("marketd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

// node is the assembled daemon. Everything below the RPC server is reachable
// only through it.
type node struct {
	server *rpc.Server
}

// newNode assembles the daemon over db and bootstraps the market on first
// start.
func newNode(cfg *config.Config, db storage.Database, logger *slog.Logger) (*node, error) {
	manager := state.NewManager(db)
	registry := collectible.NewRegistry(manager)
	ledger := bank.NewLedger(manager, registry)

	pauses := nativecommon.NewPauses(moduleMarket)
	pauses.Set(moduleMarket, cfg.Market.Paused)

	hub := rpc.NewEventHub(0)
	emitters := events.MultiEmitter{observability.Events(), hub}
	var archive rpc.EventArchive
	if driver := strings.TrimSpace(cfg.IndexerDriver); driver != "" {
		gdb, err := indexer.Open(driver, cfg.IndexerDSN)
		if err != nil {
			return nil, fmt.Errorf("open event archive: %w", err)
		}
		idx, err := indexer.New(gdb, logger.With(slog.String("component", "indexer")))
		if err != nil {
			return nil, err
		}
		emitters = append(emitters, idx)
		archive = idx
	}

	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(ledger)
	engine.SetEmitter(emitters)
	engine.SetPauses(pauses)
	engine.SetMetrics(observability.Market())
	engine.SetLogger(logger.With(slog.String("component", "market")))

	if err := bootstrap(cfg, engine, ledger, manager, logger); err != nil {
		return nil, err
	}

	server := rpc.NewServer(engine, ledger, archive, rpc.ServerConfig{
		AuthToken:          cfg.RPCAuthToken,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
	}, logger)
	server.SetEventHub(hub)
	server.SetCollectibles(registry)
	if strings.TrimSpace(cfg.RPCAuthToken) == "" {
		logger.Warn("RPC auth token not configured; mutating methods are disabled")
	}
	return &node{server: server}, nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	n, err := newNode(cfg, db, logger)
	if err != nil {
		return err
	}
	server := n.server

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.RPCAddress, err)
	}
	serveErr := make(chan error, 2)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	var metricsServer *http.Server
	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" && addr != cfg.RPCAddress {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", slog.String("address", addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}

// bootstrap initialises the market and credits the configured allocations on
// first start. A node with stored parameters keeps them.
func bootstrap(cfg *config.Config, engine *market.Engine, ledger *bank.Ledger, manager *state.Manager, logger *slog.Logger) error {
	if _, err := engine.Params(); err == nil {
		return nil
	} else if !errors.Is(err, market.ErrNotInitialized) {
		return err
	}
	if strings.TrimSpace(cfg.Market.Owner) == "" {
		logger.Warn("market not initialised and no [Market] owner configured")
		return nil
	}
	genesis, err := cfg.Market.Genesis()
	if err != nil {
		return err
	}
	for _, alloc := range cfg.Allocations {
		addr, err := crypto.ParseIdentity(alloc.Address, crypto.AccountPrefix)
		if err != nil {
			return fmt.Errorf("allocation %s: %w", alloc.Address, err)
		}
		amount, err := config.ParseAmount(alloc.Amount)
		if err != nil {
			return fmt.Errorf("allocation %s: %w", alloc.Address, err)
		}
		if err := ledger.Credit(addr, amount); err != nil {
			return fmt.Errorf("allocation %s: %w", alloc.Address, err)
		}
	}
	if err := engine.Init(genesis); err != nil {
		return fmt.Errorf("initialise market: %w", err)
	}
	if err := manager.Commit(); err != nil {
		return err
	}
	logger.Info("market initialised",
		slog.String("owner", crypto.FormatAccount(genesis.Owner)),
		slog.Int("allocations", len(cfg.Allocations)))
	return nil
}

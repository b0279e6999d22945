package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokenswap/config"
	"tokenswap/core/events"
	"tokenswap/core/types"
	"tokenswap/native/bank"
	"tokenswap/native/swap"
	"tokenswap/observability/logging"
	"tokenswap/observability/otel"
	"tokenswap/rpc"
	"tokenswap/storage"
)

const (
	moduleName    = "tokenswap"
	moduleVersion = "1.0.0"
)

// logEmitter forwards engine events to the structured logger.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		l.logger.Info("event", slog.String("type", evt.EventType()))
		return
	}
	attrs := []any{slog.String("type", evt.EventType())}
	for key, value := range payload.Event().Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	l.logger.Info("event", attrs...)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TOKENSWAP_ENV"))
	logger := logging.Setup(moduleName, env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	policy, err := cfg.SwapPolicy()
	if err != nil {
		logger.Error("Invalid swap policy", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	store := swap.NewStore(db)
	ledger := bank.NewLedger(db)

	_, initialized, err := store.LoadMetadata()
	if err != nil {
		logger.Error("Failed to read module metadata", slog.Any("error", err))
		os.Exit(1)
	}
	if !initialized {
		if err := seedGenesis(ledger, cfg.GenesisBalances); err != nil {
			logger.Error("Failed to seed genesis balances", slog.Any("error", err))
			os.Exit(1)
		}
	}
	if err := store.InitializeMetadata(moduleName, moduleVersion); err != nil {
		logger.Error("Failed to persist module metadata", slog.Any("error", err))
		os.Exit(1)
	}

	engine := swap.NewEngine(store)
	engine.SetPolicy(policy)
	engine.SetBalanceSource(ledger.View(cfg.VaultAccount))
	engine.SetEmitter(logEmitter{logger: logger})

	if cfg.Telemetry.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: moduleName,
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
		})
		cancel()
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("starting metrics server", slog.String("addr", cfg.MetricsAddress))
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("Metrics server stopped", slog.Any("error", err))
		}
	}()

	server := rpc.NewServer(engine, ledger, cfg.VaultAccount, logger)
	logger.Info("node configured",
		slog.String("network", cfg.NetworkName),
		slog.String("dataDir", cfg.DataDir),
		slog.String("vault", cfg.VaultAccount))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func seedGenesis(ledger *bank.Ledger, balances []config.GenesisBalance) error {
	for _, entry := range balances {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(entry.Amount), 10)
		if !ok {
			return fmt.Errorf("genesis balance for %s: invalid amount %q", entry.Account, entry.Amount)
		}
		if err := ledger.Mint(entry.Account, entry.Token, amount); err != nil {
			return err
		}
	}
	return nil
}

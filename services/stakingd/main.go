package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	genesisconfig "stakeledger/config"
	"stakeledger/core/events"
	"stakeledger/core/state"
	nativecommon "stakeledger/native/common"
	"stakeledger/native/custody"
	"stakeledger/native/stakerewards"
	"stakeledger/observability/logging"
	"stakeledger/observability/metrics"
	telemetry "stakeledger/observability/otel"
	"stakeledger/services/stakingd/config"
	"stakeledger/services/stakingd/journal"
	"stakeledger/services/stakingd/server"
	"stakeledger/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/stakingd/config.yaml", "path to stakingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("STAKELEDGER_ENV"))
	}
	logger := logging.Setup("stakingd", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	endpoint := cfg.Telemetry.Endpoint
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); value != "" {
		endpoint = value
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "stakingd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	genesis, err := genesisconfig.Load(cfg.GenesisPath)
	if err != nil {
		log.Fatalf("load genesis: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		log.Fatalf("open ledger database: %v", err)
	}
	defer db.Close()

	gdb, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	eventJournal, err := journal.New(gdb, logger.With(slog.String("component", "journal")))
	if err != nil {
		log.Fatalf("init journal: %v", err)
	}

	store := state.NewStakeRewardsStore(db)
	ledgerCfg := genesis.StakeRewards
	vault := custody.NewVault(db, ledgerCfg.StakeAsset, ledgerCfg.RewardAsset)
	applied, err := genesis.Apply(vault)
	if err != nil {
		log.Fatalf("apply genesis allocations: %v", err)
	}
	if applied {
		logger.Info("genesis allocations applied", slog.Int("count", len(genesis.Allocations)))
	}

	pauses := nativecommon.NewPauses()
	if genesis.Paused {
		pauses.Set(stakerewards.ModuleName(), true)
	}

	engine := stakerewards.NewEngine(ledgerCfg)
	engine.SetState(store)
	engine.SetCustody(vault)
	engine.SetPauses(pauses)
	engine.SetMetrics(metrics.StakeRewards())
	engine.SetEmitter(events.MultiEmitter{eventJournal})
	engine.SetLogger(logger.With(slog.String("component", stakerewards.ModuleName())))
	if err := engine.Initialize(time.Now()); err != nil {
		log.Fatalf("initialise ledger: %v", err)
	}

	api := server.New(engine, eventJournal, server.Options{
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Pauses:    pauses,
		Balances:  vault,
		Positions: store,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("stakingd listening", slog.String("addr", cfg.ListenAddress))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

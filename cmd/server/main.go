package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/navledger/internal/clients/stooq"
	"github.com/aristath/navledger/internal/clients/yahoo"
	"github.com/aristath/navledger/internal/config"
	"github.com/aristath/navledger/internal/database"
	"github.com/aristath/navledger/internal/events"
	"github.com/aristath/navledger/internal/modules/instruments"
	"github.com/aristath/navledger/internal/modules/ledger"
	"github.com/aristath/navledger/internal/modules/nav"
	navjobs "github.com/aristath/navledger/internal/modules/nav/jobs"
	"github.com/aristath/navledger/internal/modules/pricing"
	pricingjobs "github.com/aristath/navledger/internal/modules/pricing/jobs"
	"github.com/aristath/navledger/internal/modules/risk"
	"github.com/aristath/navledger/internal/scheduler"
	"github.com/aristath/navledger/internal/server"
	"github.com/aristath/navledger/pkg/logger"
)

func main() {
	// Load configuration first so the log level is honored from the start
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting navledger")

	// Ledger database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Price store, kept in its own database file
	priceStore, err := pricing.NewStore(cfg.PriceDBPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize price store")
	}
	defer priceStore.Close()

	eventManager := events.NewManager(log)

	stooqClient := stooq.New(log)
	yahooClient := yahoo.New(log)
	pricingSvc := pricing.NewService(pricing.ServiceConfig{
		Store:       priceStore,
		History:     []pricing.HistorySource{stooqClient, yahooClient},
		Quotes:      stooqClient,
		BenchSymbol: cfg.BenchmarkSymbol,
		BenchStart:  cfg.BenchStartDate,
		Log:         log,
	})

	ledgerSvc := ledger.NewService(ledger.ServiceConfig{
		Accounts:    ledger.NewAccountRepository(db.Conn(), log),
		Positions:   ledger.NewPositionRepository(db.Conn(), log),
		Trades:      ledger.NewTradeRepository(db.Conn(), log),
		Flows:       ledger.NewCashFlowRepository(db.Conn(), log),
		Instruments: instruments.NewRepository(db.Conn(), log),
		Pricing:     pricingSvc,
		Events:      eventManager,
		Policy: ledger.Policy{
			StartCash:            cfg.StartCash,
			ShortProceedsLockPct: cfg.ShortProceedsLockPct,
			ShortExtraMarginPct:  cfg.ShortExtraMarginPct,
		},
		Log: log,
	})

	navSvc := nav.NewService(nav.ServiceConfig{
		Builder:   nav.NewBuilder(ledgerSvc, pricingSvc, cfg.BenchStartDate, log),
		Cache:     nav.NewCache(cfg.NavCacheTTL),
		Snapshots: nav.NewSnapshotRepository(db.Conn(), log),
		Ledger:    ledgerSvc,
		Events:    eventManager,
		Log:       log,
	})

	riskSvc := risk.NewService(risk.ServiceConfig{
		Ledger:     ledgerSvc,
		Nav:        navSvc,
		Pricing:    pricingSvc,
		BenchStart: cfg.BenchStartDate,
		Log:        log,
	})

	// Background jobs
	sched := scheduler.New(log)
	marketHours := scheduler.NewMarketHoursService(log)

	refreshJob := pricingjobs.NewRefreshJob(pricingSvc, ledgerSvc, eventManager, marketHours.IsMarketOpen, log)
	refreshSchedule := fmt.Sprintf("@every %s", cfg.RefreshInterval)
	if err := sched.AddJob(refreshSchedule, refreshJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register price refresh job")
	}

	rebuildJob := navjobs.NewRebuildJob(navSvc, log)
	if err := sched.AddJob("0 30 0 * * *", rebuildJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register NAV rebuild job")
	}

	healthJob := scheduler.NewHealthCheckJob(db, priceStore.Conn(), log)
	if err := sched.AddJob("@every 6h", healthJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register health check job")
	}

	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		DB:      db,
		DevMode: cfg.DevMode,
		Ledger:  ledger.NewHandler(ledgerSvc, log),
		Nav:     nav.NewHandler(navSvc, log),
		Risk:    risk.NewHandler(riskSvc, log),
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dipscan/internal/config"
	"dipscan/internal/httpapi"
	"dipscan/internal/marketdata"
	"dipscan/internal/run"
	"dipscan/internal/store"
	"dipscan/internal/util"
)

func main() {
	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	cfgPath := "config/dipscan.yaml"
	if p := os.Getenv("DIPSCAN_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	cons, err := marketdata.LoadConstituents(cfg.Universe.ConstituentsFile, cfg.Universe.Exclude)
	if err != nil {
		log.Fatalf("failed to load constituents: %v", err)
	}
	funds, err := marketdata.LoadFundamentals(cfg.Universe.MetadataFile)
	if err != nil {
		log.Fatalf("failed to load metadata: %v", err)
	}
	logger.Info("universe loaded",
		"constituentsFile", cfg.Universe.ConstituentsFile,
		"metadataTickers", funds.Len(),
		"benchmark", cfg.Universe.Benchmark)

	alpaca := marketdata.NewAlpacaProvider(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.BaseURL,
		cfg.Alpaca.DataURL,
		cfg.Backtest.BatchSize,
		cfg.Backtest.MaxWorkers,
		cfg.Backtest.RateLimitPerMin,
	)
	bars := marketdata.NewCachedProvider(alpaca, marketdata.NewBarCache(cfg.Storage.DataDir))

	orch := run.NewOrchestrator(run.Options{
		Runs:         st,
		Models:       st,
		Bars:         bars,
		Calendar:     alpaca,
		Fundamentals: funds,
		Constituents: cons,
		Benchmark:    cfg.Universe.Benchmark,
		Logger:       logger,
	})

	api := httpapi.NewServer(orch, run.NewModelRegistry(st), logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("dipscan server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

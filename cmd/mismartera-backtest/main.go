package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/calendar"
	"github.com/yohannes916/mismartera-sub002/internal/config"
	"github.com/yohannes916/mismartera-sub002/internal/coordinator"
	"github.com/yohannes916/mismartera-sub002/internal/event"
	"github.com/yohannes916/mismartera-sub002/internal/httpapi"
	"github.com/yohannes916/mismartera-sub002/internal/processor"
	"github.com/yohannes916/mismartera-sub002/internal/provision"
	"github.com/yohannes916/mismartera-sub002/internal/quality"
	"github.com/yohannes916/mismartera-sub002/internal/session"
	"github.com/yohannes916/mismartera-sub002/internal/store"
	"github.com/yohannes916/mismartera-sub002/internal/util"
)

func main() {
	cfgPath := "config/mismartera.yaml"
	if p := os.Getenv("MISMARTERA_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Session.Mode != "backtest" {
		log.Fatalf("session mode is %q, want backtest", cfg.Session.Mode)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	loc, err := calendar.LocationFor(cfg.Session.ExchangeGroup)
	if err != nil {
		log.Fatalf("exchange group: %v", err)
	}

	data := session.New()
	bus := event.NewBus()
	defer bus.Close()

	cal := calendar.NewSimService(loc, nowFromConfig(cfg, loc))
	source := store.NewParquetSource(store.NewLayout(cfg.Storage.DataDir, cfg.Session.ExchangeGroup, loc))

	var journal *store.SQLiteJournal
	if cfg.Storage.SQLitePath != "" {
		journal, err = store.NewSQLiteJournal(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("opening journal: %v", err)
		}
		defer journal.Close()
	}

	ind := processor.NewIndicatorManager(data, logger)
	proc := processor.NewDataProcessor(data, cal, ind, logger)
	qm := quality.NewManager(data, cal, quality.Config{}, logger)
	exec := provision.NewExecutor(data, source, cal, ind, bus, logger)

	coord, err := coordinator.New(cfg.Session, data, cal, source, proc, ind, qm, exec, bus, journal, logger)
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		coord.Stop()
	}()

	go qm.Run(ctx)

	// Snapshot API alongside the run, for inspection while the backtest
	// streams.
	api := httpapi.NewServer(data, coord, bus, journal, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.Info("api listening", "addr", addr)
		if err := http.ListenAndServe(addr, api.Handler()); err != nil {
			logger.Error("api server stopped", "err", err)
		}
	}()

	logger.Info("backtest run starting", "run_id", coord.RunID(), "config", cfgPath)
	if err := coord.Run(ctx); err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
	logger.Info("backtest run complete", "run_id", coord.RunID())
}

// nowFromConfig seeds the simulated clock at the backtest start date.
func nowFromConfig(cfg *config.Config, loc *time.Location) time.Time {
	if cfg.Session.Backtest == nil {
		return time.Now().In(loc)
	}
	t, err := time.ParseInLocation("2006-01-02", cfg.Session.Backtest.StartDate, loc)
	if err != nil {
		log.Fatalf("backtest start_date: %v", err)
	}
	return t
}

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
	"github.com/yohannes916/mismartera-sub002/internal/stream"
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
	if cfg.Session.Mode != "live" {
		log.Fatalf("session mode is %q, want live", cfg.Session.Mode)
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatal("alpaca credentials required for live mode")
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

	cal := calendar.NewAlpacaService(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, loc)
	now := time.Now().In(loc)
	if err := cal.Preload(now.AddDate(0, 0, -30), now.AddDate(0, 0, 30)); err != nil {
		log.Fatalf("loading trading calendar: %v", err)
	}

	local := store.NewParquetSource(store.NewLayout(cfg.Storage.DataDir, cfg.Session.ExchangeGroup, loc))
	fetcher := stream.NewAlpacaFetcher(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, loc, 200)
	source := stream.NewCachedSource(local, fetcher)

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
	qm := quality.NewManager(data, cal, quality.Config{Live: true}, logger)
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

	api := httpapi.NewServer(data, coord, bus, journal, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.Info("api listening", "addr", addr)
		if err := http.ListenAndServe(addr, api.Handler()); err != nil {
			logger.Error("api server stopped", "err", err)
		}
	}()

	streamer := stream.NewStreamer(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, loc, coord, local)
	wantQuotes := false
	for _, s := range cfg.Session.Data.Streams {
		if s == "quotes" {
			wantQuotes = true
		}
	}

	logger.Info("live session starting", "run_id", coord.RunID(), "config", cfgPath)
	err = coord.RunLive(ctx, func(feedCtx context.Context, symbols []string) error {
		return streamer.Run(feedCtx, symbols, wantQuotes)
	})
	if err != nil {
		log.Fatalf("live session failed: %v", err)
	}
	logger.Info("live session complete", "run_id", coord.RunID())
}

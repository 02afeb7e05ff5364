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

	"github.com/yohannes916/mismartera-sub002/internal/config"
	"github.com/yohannes916/mismartera-sub002/internal/httpapi"
	"github.com/yohannes916/mismartera-sub002/internal/session"
	"github.com/yohannes916/mismartera-sub002/internal/store"
	"github.com/yohannes916/mismartera-sub002/internal/util"
)

// Standalone results server: serves the journal of past runs and metrics
// without an engine attached. Snapshot endpoints answer with an empty
// session.
func main() {
	cfgPath := "config/mismartera.yaml"
	if p := os.Getenv("MISMARTERA_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	if cfg.Storage.SQLitePath == "" {
		log.Fatal("storage.sqlite_path required")
	}
	journal, err := store.NewSQLiteJournal(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening journal: %v", err)
	}
	defer journal.Close()

	api := httpapi.NewServer(session.New(), nil, nil, journal, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: api.Handler()}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("results server listening", "addr", addr, "journal", cfg.Storage.SQLitePath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

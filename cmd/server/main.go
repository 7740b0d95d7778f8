// cmd/server/main.go

// The server binary hosts the scheduler and the HTTP control surface over
// the scraping pipeline.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/monitoring"
	"github.com/carscout/carscout/internal/pipeline"
	"github.com/carscout/carscout/internal/scheduler"
	"github.com/carscout/carscout/internal/storage"
	"github.com/carscout/carscout/internal/utils"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	logger := utils.NewComponentLogger("server")

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		logger.Errorf("configuration error: %v", err)
		os.Exit(1)
	}
	utils.SetDefaultLevel(utils.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.Connect(ctx, cfg.Mongo)
	defer store.Close(context.Background())
	if !store.Connected() {
		logger.Warn("store unreachable, persistence operations will be skipped")
	}

	metrics := monitoring.New()
	orchestrator := pipeline.New(cfg, store, metrics)

	sched := scheduler.New(cfg.Schedule, func(runCtx context.Context) {
		if _, err := orchestrator.RunFull(runCtx); err != nil {
			logger.Errorf("scheduled run failed: %v", err)
		}
	})
	sched.Start(ctx)
	defer sched.Stop()

	srv := NewServer(cfg, orchestrator, store, sched, metrics)
	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server error: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}
}

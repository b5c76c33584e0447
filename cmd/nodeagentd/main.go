// Command nodeagentd runs the edge-side Spool and Forwarder: a durable,
// crash-safe sample buffer plus the shaped publisher that drains it onto
// the core bus.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldops/controlplane/internal/bus"
	"github.com/fieldops/controlplane/internal/forwarder"
	"github.com/fieldops/controlplane/internal/platform/config"
	"github.com/fieldops/controlplane/internal/platform/logging"
	"github.com/fieldops/controlplane/internal/spool"
)

func main() {
	configPath := flag.String("config", "", "Path to a JSON settings overlay")
	flag.Parse()

	settings, err := config.LoadFromEnv().LoadFile(*configPath)
	if err != nil {
		log.Fatalf("nodeagentd: load config: %v", err)
	}

	logger := logging.New("nodeagentd", settings.LogLevel, settings.LogFormat)

	if settings.DatabaseURL == "" {
		log.Fatal("nodeagentd: CORE_DATABASE_URL (or DATABASE_URL) is required")
	}

	store, err := spool.Open(spool.Config{
		Dir:              settings.SpoolDir,
		SegmentRollAge:   time.Hour,
		SegmentRollBytes: 128 << 20,
		SyncInterval:     time.Second,
		MaxBytes:         settings.SpoolRetentionBytes,
		KeepFreeBytes:    2 << 30,
	})
	if err != nil {
		log.Fatalf("nodeagentd: open spool: %v", err)
	}
	defer store.Close()

	msgBus, err := bus.Open(settings.DatabaseURL, logger)
	if err != nil {
		log.Fatalf("nodeagentd: open bus: %v", err)
	}
	defer msgBus.Close()

	fwd := forwarder.New(store, msgBus, logger, forwarder.Config{
		MsgsPerSec:  settings.ForwarderMsgsPerSec,
		BytesPerSec: settings.ForwarderBytesPerSec,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := fwd.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithContext(ctx).WithFields(map[string]any{"err": err.Error()}).Error("nodeagentd: forwarder exited")
		}
	}()

	httpServer := &http.Server{Addr: settings.SpoolHTTPAddr, Handler: spool.Router(store)}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			logger.WithContext(ctx).WithFields(map[string]any{"err": err.Error()}).Warn("nodeagentd: http server exited")
		}
	}()

	<-ctx.Done()
	logger.WithContext(context.Background()).Info("nodeagentd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

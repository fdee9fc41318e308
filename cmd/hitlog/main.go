package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coffersTech/hitlog/internal/config"
	"github.com/coffersTech/hitlog/internal/hitmap"
	"github.com/coffersTech/hitlog/internal/logging"
	"github.com/coffersTech/hitlog/internal/registry"
	"github.com/coffersTech/hitlog/internal/server"
	"github.com/coffersTech/hitlog/internal/storage"
)

func main() {
	// Command-line flags. Only flags given explicitly override the config file and environment.
	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address (e.g. :5000)")
	port := flag.Int("port", 0, "HTTP port to listen on (shorthand for -addr :PORT)")
	dataDir := flag.String("data", "", "Directory holding the partition files")
	webDir := flag.String("web", "", "Directory for static web files")
	retention := flag.String("retention", "", "Partition retention (e.g. 168h), 0 keeps everything")
	flag.Parse()

	overrides := make(map[string]interface{})
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			overrides["addr"] = *addr
		case "port":
			overrides["addr"] = fmt.Sprintf(":%d", *port)
		case "data":
			overrides["storage_dir"] = *dataDir
		case "web":
			overrides["web_dir"] = *webDir
		case "retention":
			overrides["retention"] = *retention
		}
	})

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hitlog: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logging.Info().Str("storage_dir", cfg.StorageDir).Msg("hitlog starting")

	policy, err := storage.ParseDecodePolicy(cfg.DecodePolicy)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid decode policy")
	}

	// 1. Record store
	store, err := storage.Open(cfg.StorageDir, storage.Options{})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open storage")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.RunCleaner(ctx, cfg.CleanerInterval, storage.CleanerConfig{
			Retention:         cfg.Retention,
			CompressAfterDays: cfg.CompressAfterDays,
		})
	}()

	// 2. Hitmap view and source registry
	agg := hitmap.NewAggregator(store, cfg.MaxHitmapRecords, policy)

	sources := registry.NewStore()
	if cfg.SourceTTL > 0 {
		sources.StartCleanupLoop(ctx, time.Minute, cfg.SourceTTL)
	}

	// 3. HTTP server
	srv := server.NewIngestServer(store, agg, registry.NewServer(sources), server.Options{
		MaxBodyBytes:   cfg.MaxBodyBytes,
		AllowedOrigins: cfg.AllowedOrigins,
		ViewerFile:     cfg.ViewerFile,
		WebDir:         cfg.WebDir,
		RateLimit:      cfg.RateLimit,
	})

	go func() {
		logging.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.Start(cfg.Addr); err != nil {
			logging.Fatal().Err(err).Msg("server stopped")
		}
	}()

	// 4. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logging.Info().Str("signal", sig.String()).Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}
	wg.Wait()
	if err := store.Close(); err != nil {
		logging.Error().Err(err).Msg("store close error")
	}

	logging.Info().Msg("hitlog exited")
}

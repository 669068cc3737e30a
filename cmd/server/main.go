package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"foodshare-chat/internal/api"
	"foodshare-chat/internal/auth"
	"foodshare-chat/internal/chat"
	"foodshare-chat/internal/config"
	"foodshare-chat/internal/db"
	"foodshare-chat/internal/repository"

	"github.com/cockroachdb/pebble"
	"golang.org/x/sync/errgroup"
)

func openStore(ctx context.Context, cfg *config.Config) (repository.MessageRepo, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return repository.NewMessagesRepo(pool), nil

	case config.DriverPebble:
		if err := os.MkdirAll(filepath.Dir(cfg.PebblePath), 0o755); err != nil {
			return nil, fmt.Errorf("create pebble dir: %w", err)
		}
		return repository.OpenPebbleRepo(cfg.PebblePath, &pebble.Options{})

	default:
		log.Println("[MAIN] ⚠️  Using in-memory store; messages are lost on restart")
		return repository.NewMemoryRepo(), nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open message store:", err)
	}
	defer store.Close()

	h := chat.NewHub(store, chat.Options{
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
		StoreTimeout:    cfg.StoreTimeout,
		RateBurst:       cfg.RateBurst,
		RateInterval:    cfg.RateInterval,
	})

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(api.Deps{
			Hub:            h,
			Store:          store,
			Resolver:       auth.NewResolver(cfg.AuthKey),
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		h.Run()
		return nil
	})

	g.Go(func() error {
		log.Printf("🚀 Chat server starting on %s...", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutdown signal received. Cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		h.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Printf("Server stopped with error: %v", err)
	}
	log.Println("Graceful shutdown complete. Goodnight!")
}

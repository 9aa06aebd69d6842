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

	"github.com/snbhowmik/care-x/internal/access"
	"github.com/snbhowmik/care-x/internal/api"
	"github.com/snbhowmik/care-x/internal/audit"
	"github.com/snbhowmik/care-x/internal/cache"
	"github.com/snbhowmik/care-x/internal/config"
	"github.com/snbhowmik/care-x/internal/ledger"
	"github.com/snbhowmik/care-x/internal/store"
)

func main() {
	log.Println("Starting care-x...")

	// Load configuration
	cfg := loadConfig()

	// Initialize document store
	documents, err := initStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize document store: %v", err)
	}
	defer documents.Close()

	// Initialize ledger client
	ledgerClient, err := ledger.NewClient(&ledger.Config{
		RPCURL:          cfg.Ledger.RPCURL,
		ContractAddress: cfg.Ledger.ContractAddress,
		ChainID:         cfg.Ledger.ChainID,
		PrivateKey:      cfg.Ledger.PrivateKey,
	})
	if err != nil {
		log.Fatalf("Failed to connect to ledger: %v", err)
	}
	defer ledgerClient.Close()

	// Initialize snapshot cache
	snapshots, err := cache.New(&cache.Config{
		Enabled:   cfg.Cache.Enabled,
		URL:       cfg.Cache.URL,
		KeyPrefix: cfg.Cache.KeyPrefix,
		TTL:       cfg.Cache.TTL,
	})
	if err != nil {
		log.Fatalf("Failed to connect to snapshot cache: %v", err)
	}
	defer snapshots.Close()

	// Initialize audit logger
	auditLogger := audit.NewLogger(&cfg.Audit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := auditLogger.Start(ctx); err != nil {
		log.Fatalf("Failed to start audit logger: %v", err)
	}

	// Wire the access facade
	facade := access.New(ledgerClient, ledgerClient, documents, snapshots, auditLogger)

	// Create API server
	server := api.NewServer(cfg, facade, auditLogger, documents)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("care-x API listening on port %d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down care-x...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	auditLogger.Stop()

	log.Println("care-x stopped")
}

func initStore(cfg *config.Config) (store.DocumentStore, error) {
	switch cfg.Store.Backend {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return store.NewPostgresStore(ctx, cfg.Store.PostgresURL)
	case "sqlite", "":
		return store.NewEmbeddedStore(cfg.Store.DataPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func loadConfig() *config.Config {
	configPath := os.Getenv("CAREX_CONFIG")
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Printf("Failed to load config from %s: %v, using defaults", configPath, err)
			return config.LoadFromEnv()
		}
		return cfg
	}
	return config.LoadFromEnv()
}

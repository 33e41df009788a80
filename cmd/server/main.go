package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/proxtag/proxtag/internal/api"
	"github.com/proxtag/proxtag/internal/config"
	"github.com/proxtag/proxtag/internal/engine"
	"github.com/proxtag/proxtag/internal/proxmox"
	"github.com/proxtag/proxtag/internal/scheduler"
	"github.com/proxtag/proxtag/internal/service"
	"github.com/proxtag/proxtag/internal/storage/sql"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				log.Fatalf("Failed to create data directory: %v", err)
			}
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Initialize Proxmox client (or file shim for testing)
	var inventory proxmox.InventoryClient
	if cfg.UseFileShim() {
		log.Printf("Using file shim for Proxmox API: %s", cfg.Proxmox.FileShim)
		inventory = proxmox.NewFileShim(cfg.Proxmox.FileShim)
	} else {
		inventory = proxmox.New(cfg.Proxmox.APIURL, cfg.Proxmox.APIToken, cfg.Proxmox.InsecureTLS, cfg.Proxmox.Timeout)
	}

	// Initialize engine and scheduler
	eng := engine.New(store, inventory)
	sched := scheduler.New(store, eng, cfg.Scheduler.TickInterval)
	if err := sched.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Create router
	rules := service.New(store, sched)
	router := api.NewRouter(rules, cfg.API.AuthToken)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting proxtag on http://%s", cfg.Server.Addr())
	log.Printf("Press Ctrl+C to stop")

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"wifi-attendance-agent/config"
	"wifi-attendance-agent/internal/api"
	"wifi-attendance-agent/internal/clock"
	"wifi-attendance-agent/internal/db"
	"wifi-attendance-agent/internal/queue"
	"wifi-attendance-agent/internal/session"
	"wifi-attendance-agent/internal/wifi"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "attendanced",
	})

	// .env is optional; real deployments set CONFIG_PATH in the unit file.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", "path", configPath, "err", err)
	}
	logger.Info("configuration loaded", "path", configPath, "student", cfg.Student.ID)

	if cfg.Student.ID == "" {
		logger.Fatal("student.id must be configured")
	}
	if cfg.Upstream.BaseURL == "" {
		logger.Fatal("upstream.base_url must be configured")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to initialize local store", "err", err)
	}
	logger.Info("local store initialized", "driver", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := queue.NewGormStore(gormDB)
	platform := &wifi.LinuxPlatform{Interface: cfg.Monitor.Interface}

	sess := session.New(cfg, platform, store, clock.System{}, logger)
	sess.Run(ctx)

	router := api.NewRouter(cfg, sess)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("local API listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "err", err)
	}

	// Stops the poll loop, cancels any grace countdown, idles the timer, and
	// attempts a final flush.
	sess.Stop()
	logger.Info("agent stopped")
}

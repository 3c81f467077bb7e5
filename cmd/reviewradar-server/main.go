// Package main provides the HTTP server for ReviewRadar.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reviewradar/reviewradar/internal/analysis"
	"github.com/reviewradar/reviewradar/internal/config"
	"github.com/reviewradar/reviewradar/internal/events"
	"github.com/reviewradar/reviewradar/internal/metrics"
	"github.com/reviewradar/reviewradar/internal/report"
	"github.com/reviewradar/reviewradar/internal/scrape"
	"github.com/reviewradar/reviewradar/internal/server"
	"github.com/reviewradar/reviewradar/internal/service"
	"github.com/reviewradar/reviewradar/internal/session"
)

// version is set at build time.
var version = "0.1.0"

func main() {
	cfg := config.Load()

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	}()
	slog.SetDefault(logger)

	slog.Info("starting reviewradar-server", "port", cfg.ServerPort, "provider", cfg.LLMProvider)

	provider, err := session.New(cfg)
	if err != nil {
		slog.Error("failed to create session provider", "error", err)
		os.Exit(1)
	}

	engine, err := analysis.NewEngine(cfg)
	if err != nil {
		slog.Error("failed to create analysis engine", "error", err)
		os.Exit(1)
	}

	sink, err := report.NewFileSink(cfg.OutputDir)
	if err != nil {
		slog.Error("failed to create report sink", "error", err)
		os.Exit(1)
	}

	jobs := service.NewJobManager(
		cfg,
		provider,
		scrape.NewHTTPFetcher(cfg.BaseURL),
		engine,
		sink,
		report.NewStore(),
		events.NewBus(cfg.EventBacklog),
		metrics.NewCollector(),
	)
	defer jobs.Close()

	srv := server.New(jobs, version, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("API available", "url", fmt.Sprintf("http://localhost:%s/", cfg.ServerPort))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

// Package main runs the Respondo knowledge-base service: the HTTP API plus MCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/respondo-rag/internal/app"
	"github.com/bull/respondo-rag/internal/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := app.NewLogger(cfg.LogLevel, os.Stderr)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var stdio func(context.Context) error
	if !cfg.Server.Mode {
		stdio = a.MCP.Run
	}
	if err := serve(ctx, httpServer, stdio, logger); err != nil {
		logger.Error("Server error", "error", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
		os.Exit(1)
	}
	logger.Info("Stopped")
}

// serve runs the HTTP server and, when stdio is set, MCP over stdin/stdout. In HTTP
// mode it returns when ctx is done or the listener fails. In stdio mode an HTTP
// failure is logged and MCP keeps running until its session ends or ctx is done.
func serve(ctx context.Context, srv *http.Server, stdio func(context.Context) error, logger *slog.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", srv.Addr, "mcp", "/mcp", "health", "/health")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if stdio == nil {
		// HTTP mode: MCP is only served over HTTP for remote clients
		select {
		case <-ctx.Done():
			return nil
		case err := <-serveErr:
			return err
		}
	}

	// Stdio mode: MCP over stdin/stdout for a local client, API in the background
	logger.Info("Starting MCP server (stdio mode)")
	mcpErr := make(chan error, 1)
	go func() { mcpErr <- stdio(ctx) }()

	for {
		select {
		case err, ok := <-serveErr:
			if ok && err != nil {
				logger.Error("HTTP server error, MCP continues over stdio", "addr", srv.Addr, "error", err)
			}
			serveErr = nil
		case err := <-mcpErr:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		}
	}
}

// Package main provides the respondo CLI for managing and querying the knowledge base.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/respondo-rag/internal/app"
	"github.com/bull/respondo-rag/internal/config"
)

var (
	configPath string
	userID     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "respondo",
	Short: "Respondo knowledge-base tool",
	Long: `CLI for ingesting business documents and asking questions about them.

Environment variables:
  OPENAI_API_KEY  API key for embeddings and chat (required)
  OPENAI_BASE_URL OpenAI-compatible endpoint (optional)
  VECTOR_BACKEND  qdrant or memory (default: qdrant)
  QDRANT_HOST     Qdrant hostname (default: localhost)
  QDRANT_PORT     Qdrant gRPC port (default: 6334)
  DATA_DIR        Metadata database and uploaded files (default: ~/.respondo)
  SIGNING_KEY     Key for signed file URLs, at least 16 characters (required)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "cli", "user id that owns ingested documents")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openApp loads configuration and builds the application. Logs go to stderr so
// command output stays clean.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := app.NewLogger(cfg.LogLevel, cmd.ErrOrStderr())
	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return a, nil
}

func closeApp(a *app.App, w io.Writer) {
	if err := a.Close(context.Background()); err != nil {
		fmt.Fprintf(w, "warning: %v\n", err)
	}
}

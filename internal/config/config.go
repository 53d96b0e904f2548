// Package config loads service configuration from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// OpenAIConfig holds the credentials shared by embeddings, chat and summaries.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" validate:"required"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	Model             string        `yaml:"model" validate:"required"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	RetryMaxElapsed   time.Duration `yaml:"retry_max_elapsed" validate:"gte=0"`
}

// ChatConfig configures the streaming chat client.
type ChatConfig struct {
	Model      string        `yaml:"model" validate:"required"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay  time.Duration `yaml:"base_delay" validate:"gt=0"`
	Summaries  bool          `yaml:"summaries"`
}

// ChunkerConfig configures the word window.
type ChunkerConfig struct {
	WindowSize int `yaml:"window_size" validate:"gt=0"`
	Overlap    int `yaml:"overlap" validate:"gte=0,ltfield=WindowSize"`
}

// RetrievalConfig configures context assembly.
type RetrievalConfig struct {
	Threshold float64 `yaml:"threshold" validate:"gte=0,lte=1"`
	TopK      int     `yaml:"top_k" validate:"gt=0"`
}

// QdrantConfig contains connection details for Qdrant.
type QdrantConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"gt=0,lt=65536"`
}

// VectorStoreConfig selects the vector backend.
type VectorStoreConfig struct {
	Backend string       `yaml:"backend" validate:"oneof=qdrant memory"`
	Qdrant  QdrantConfig `yaml:"qdrant"`
}

// StorageConfig configures the relational store and blob storage.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir" validate:"required"`
	SigningKey string `yaml:"signing_key" validate:"required,min=16"`
}

// ServerConfig configures the HTTP surfaces.
type ServerConfig struct {
	Port           string `yaml:"port" validate:"required,numeric"`
	BaseURL        string `yaml:"base_url" validate:"omitempty,url"`
	Mode           bool   `yaml:"mode"` // true serves MCP over HTTP instead of stdio
	MaxUploadBytes int64  `yaml:"max_upload_bytes" validate:"gt=0"`
}

// GitHubConfig configures the import-github command.
type GitHubConfig struct {
	Token    string `yaml:"token"`
	Owner    string `yaml:"owner"`
	Repo     string `yaml:"repo"`
	BasePath string `yaml:"base_path"`
	Ref      string `yaml:"ref"`
}

// Config is the root configuration.
type Config struct {
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Chat        ChatConfig        `yaml:"chat"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
	GitHub      GitHubConfig      `yaml:"github"`
	LogLevel    string            `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	dataDir := ".respondo"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".respondo")
	}
	return &Config{
		Embedding: EmbeddingConfig{
			Model:           "text-embedding-ada-002",
			RetryMaxElapsed: 30 * time.Second,
		},
		Chat: ChatConfig{
			Model:      "gpt-4o-mini",
			MaxRetries: 3,
			BaseDelay:  time.Second,
			Summaries:  true,
		},
		Chunker:   ChunkerConfig{WindowSize: 1000, Overlap: 200},
		Retrieval: RetrievalConfig{Threshold: 0.7, TopK: 5},
		VectorStore: VectorStoreConfig{
			Backend: "qdrant",
			Qdrant:  QdrantConfig{Host: "localhost", Port: 6334},
		},
		Storage: StorageConfig{DataDir: dataDir},
		Server: ServerConfig{
			Port:           "8080",
			MaxUploadBytes: 10 << 20,
		},
		LogLevel: "info",
	}
}

// Load reads path (if non-empty), overlays the environment and validates.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost:" + cfg.Server.Port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// BlobDir is where uploaded files are stored.
func (c *Config) BlobDir() string {
	return filepath.Join(c.Storage.DataDir, "blobs")
}

func applyEnv(cfg *Config) {
	cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.Embedding.Model = getEnv("EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Chat.Model = getEnv("CHAT_MODEL", cfg.Chat.Model)
	cfg.Chat.Summaries = getEnvBool("GENERATE_SUMMARIES", cfg.Chat.Summaries)
	cfg.VectorStore.Backend = getEnv("VECTOR_BACKEND", cfg.VectorStore.Backend)
	cfg.VectorStore.Qdrant.Host = getEnv("QDRANT_HOST", cfg.VectorStore.Qdrant.Host)
	cfg.VectorStore.Qdrant.Port = getEnvInt("QDRANT_PORT", cfg.VectorStore.Qdrant.Port)
	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.SigningKey = getEnv("SIGNING_KEY", cfg.Storage.SigningKey)
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.BaseURL = getEnv("BASE_URL", cfg.Server.BaseURL)
	cfg.Server.Mode = getEnvBool("SERVER_MODE", cfg.Server.Mode)
	cfg.GitHub.Token = getEnv("GITHUB_TOKEN", cfg.GitHub.Token)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

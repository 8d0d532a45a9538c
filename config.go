package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MLZ101/RAG-Document-Chat/chunker"
	"github.com/MLZ101/RAG-Document-Chat/docstore"
	"github.com/MLZ101/RAG-Document-Chat/embedder"
)

const (
	StoreBadger = "badger"
	StoreChroma = "chroma"

	ProviderLocal            = "local"
	ProviderOllama           = "ollama"
	ProviderOpenAICompatible = "openai_compatible"
	ProviderOpenAI           = "openai"
	ProviderGemini           = "gemini"

	PdfReaderNative  = "native"
	PdfReaderDocconv = "docconv"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	LogFile       string `yaml:"log"`
	LogLevel      string `yaml:"log_level"`
	ServerAddr    string `yaml:"server_addr"`
	UploadDir     string `yaml:"upload_dir"`
	InboxDir      string `yaml:"inbox_dir"`
	MergeEventsMs int    `yaml:"write_debounce_ms"`
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	Results       int    `yaml:"results"`
	Workers       int    `yaml:"workers"`
	PdfReader     string `yaml:"pdf_reader"`

	Store    StoreConfig    `yaml:"store"`
	Embedder EmbedderConfig `yaml:"embedder"`
}

type StoreConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`

	ChromaAddr  string `yaml:"chroma_addr"`
	Collection  string `yaml:"collection"`
	RequestSize int    `yaml:"request_size"`
}

type EmbedderConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	ApiKey    string `yaml:"api_key"`
	ModelsDir string `yaml:"models_dir"`
	BatchSize int    `yaml:"batch_size"`
	Dimension int    `yaml:"dimension"`
	CacheSize int    `yaml:"cache_size"`
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:      "info",
		ServerAddr:    "localhost:8080",
		UploadDir:     "uploaded_documents",
		MergeEventsMs: 500,
		ChunkSize:     chunker.DefaultSize,
		ChunkOverlap:  chunker.DefaultOverlap,
		Results:       docstore.DefaultTopK,
		Workers:       max(runtime.NumCPU()/2, 1),
		PdfReader:     PdfReaderNative,
		Store: StoreConfig{
			Kind:        StoreBadger,
			Path:        "chroma_data",
			Collection:  docstore.DefaultCollection,
			RequestSize: docstore.DefaultRequestSize,
		},
		Embedder: EmbedderConfig{
			Provider:  ProviderLocal,
			Model:     embedder.DefaultLocalModel,
			BatchSize: embedder.DefaultBatchSize,
			CacheSize: 1024,
		},
	}
}

// readConfig loads .env (when present), then the YAML file on top of the
// defaults. Secrets may reference environment variables as ${NAME}.
func readConfig(cfgPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("unable to load .env: %w", err)
	}

	cfg := defaultConfig()

	cfgFile, err := os.Open(cfgPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("unable to open config file: %w", err)
	default:
		defer cfgFile.Close()

		dec := yaml.NewDecoder(cfgFile)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("unable to parse config file: %w", err)
		}
	}

	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) expandEnv() {
	c.Embedder.ApiKey = os.ExpandEnv(c.Embedder.ApiKey)
	c.Embedder.BaseURL = os.ExpandEnv(c.Embedder.BaseURL)
	c.Store.ChromaAddr = os.ExpandEnv(c.Store.ChromaAddr)
}

func (c *Config) Validate() error {
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got size %d overlap %d",
			ErrInvalidConfig, c.ChunkSize, c.ChunkOverlap)
	}
	if c.Results <= 0 {
		return fmt.Errorf("%w: results must be positive", ErrInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.MergeEventsMs < 0 {
		return fmt.Errorf("%w: write_debounce_ms must not be negative", ErrInvalidConfig)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("%w: upload_dir is required", ErrInvalidConfig)
	}
	if c.InboxDir != "" && filepath.Clean(c.InboxDir) == filepath.Clean(c.UploadDir) {
		return fmt.Errorf("%w: inbox_dir must differ from upload_dir", ErrInvalidConfig)
	}

	switch c.PdfReader {
	case PdfReaderNative, PdfReaderDocconv:
	default:
		return fmt.Errorf("%w: unknown pdf_reader %q", ErrInvalidConfig, c.PdfReader)
	}

	switch c.Store.Kind {
	case StoreBadger:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required", ErrInvalidConfig)
		}
	case StoreChroma:
		if c.Store.ChromaAddr == "" {
			return fmt.Errorf("%w: store.chroma_addr is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store kind %q", ErrInvalidConfig, c.Store.Kind)
	}

	switch c.Embedder.Provider {
	case ProviderLocal:
	case ProviderOllama, ProviderOpenAI, ProviderGemini:
		if c.Embedder.Model == "" || c.Embedder.Model == embedder.DefaultLocalModel {
			return fmt.Errorf("%w: embedder.model is required for %s", ErrInvalidConfig, c.Embedder.Provider)
		}
	case ProviderOpenAICompatible:
		if c.Embedder.BaseURL == "" {
			return fmt.Errorf("%w: embedder.base_url is required for %s", ErrInvalidConfig, c.Embedder.Provider)
		}
	default:
		return fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, c.Embedder.Provider)
	}

	if c.Embedder.BatchSize <= 0 {
		return fmt.Errorf("%w: embedder.batch_size must be positive", ErrInvalidConfig)
	}
	if c.Embedder.Dimension < 0 {
		return fmt.Errorf("%w: embedder.dimension must not be negative", ErrInvalidConfig)
	}

	return nil
}

func (c *Config) logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

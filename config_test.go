package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func Test_readConfig_Defaults(t *testing.T) {
	cfg, err := readConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 5, cfg.Results)
	assert.Equal(t, max(runtime.NumCPU()/2, 1), cfg.Workers)
	assert.Equal(t, 500, cfg.MergeEventsMs)
	assert.Equal(t, "uploaded_documents", cfg.UploadDir)
	assert.Equal(t, StoreBadger, cfg.Store.Kind)
	assert.Equal(t, "chroma_data", cfg.Store.Path)
	assert.Equal(t, "knowledge_base", cfg.Store.Collection)
	assert.Equal(t, ProviderLocal, cfg.Embedder.Provider)
	assert.Equal(t, 32, cfg.Embedder.BatchSize)
	assert.Equal(t, PdfReaderNative, cfg.PdfReader)
}

func Test_readConfig_File(t *testing.T) {
	t.Setenv("RAG_TEST_KEY", "secret")

	path := writeConfig(t, `
log: rag.log
log_level: debug
server_addr: 0.0.0.0:9000
upload_dir: /tmp/uploads
inbox_dir: /tmp/inbox
write_debounce_ms: 100
chunk_size: 500
chunk_overlap: 50
results: 3
workers: 2
pdf_reader: docconv
store:
  kind: chroma
  chroma_addr: http://localhost:8000
  collection: docs
  request_size: 20
embedder:
  provider: openai
  model: text-embedding-3-small
  api_key: ${RAG_TEST_KEY}
  batch_size: 16
  dimension: 1536
`)

	cfg, err := readConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "rag.log", cfg.LogFile)
	assert.Equal(t, slog.LevelDebug, cfg.logLevel())
	assert.Equal(t, "0.0.0.0:9000", cfg.ServerAddr)
	assert.Equal(t, "/tmp/inbox", cfg.InboxDir)
	assert.Equal(t, 100, cfg.MergeEventsMs)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.Equal(t, 3, cfg.Results)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, PdfReaderDocconv, cfg.PdfReader)
	assert.Equal(t, StoreConfig{
		Kind:        StoreChroma,
		Path:        "chroma_data",
		ChromaAddr:  "http://localhost:8000",
		Collection:  "docs",
		RequestSize: 20,
	}, cfg.Store)
	assert.Equal(t, "secret", cfg.Embedder.ApiKey)
	assert.Equal(t, 16, cfg.Embedder.BatchSize)
	assert.Equal(t, 1536, cfg.Embedder.Dimension)
}

func Test_readConfig_UnknownField(t *testing.T) {
	_, err := readConfig(writeConfig(t, "chunk_sise: 10\n"))
	assert.Error(t, err)
}

func Test_readConfig_Invalid(t *testing.T) {
	_, err := readConfig(writeConfig(t, "chunk_size: 100\nchunk_overlap: 100\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func Test_Config_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero overlap", func(c *Config) { c.ChunkOverlap = 0 }, true},
		{"overlap equals size", func(c *Config) { c.ChunkOverlap = c.ChunkSize }, false},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }, false},
		{"zero size", func(c *Config) { c.ChunkSize = 0; c.ChunkOverlap = 0 }, false},
		{"zero results", func(c *Config) { c.Results = 0 }, false},
		{"zero workers", func(c *Config) { c.Workers = 0 }, false},
		{"unknown pdf reader", func(c *Config) { c.PdfReader = "ocr" }, false},
		{"unknown store", func(c *Config) { c.Store.Kind = "sqlite" }, false},
		{"chroma without address", func(c *Config) { c.Store.Kind = StoreChroma }, false},
		{"unknown provider", func(c *Config) { c.Embedder.Provider = "magic" }, false},
		{"ollama without model", func(c *Config) { c.Embedder.Provider = ProviderOllama }, false},
		{"ollama with model", func(c *Config) {
			c.Embedder.Provider = ProviderOllama
			c.Embedder.Model = "nomic-embed-text"
		}, true},
		{"compatible without url", func(c *Config) { c.Embedder.Provider = ProviderOpenAICompatible }, false},
		{"inbox is upload dir", func(c *Config) { c.InboxDir = c.UploadDir + "/" }, false},
		{"zero batch", func(c *Config) { c.Embedder.BatchSize = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func Test_Config_logLevel(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, slog.LevelInfo, cfg.logLevel())

	cfg.LogLevel = "WARN"
	assert.Equal(t, slog.LevelWarn, cfg.logLevel())

	cfg.LogLevel = "loud"
	assert.Equal(t, slog.LevelInfo, cfg.logLevel())
}

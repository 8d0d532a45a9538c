package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/MLZ101/RAG-Document-Chat/chunker"
	"github.com/MLZ101/RAG-Document-Chat/docstore"
	"github.com/MLZ101/RAG-Document-Chat/embedder"
	"github.com/MLZ101/RAG-Document-Chat/ingest"
	"github.com/MLZ101/RAG-Document-Chat/readers"
)

// App owns every long-lived component. It is built once and passed to the
// server, the inbox watcher and the CLI commands.
type App struct {
	cfg        *Config
	log        *slog.Logger
	embedder   embedder.Embedder
	collection *docstore.Collection
	queue      *ingest.Queue
}

func NewApp(ctx context.Context, cfg *Config, logger *slog.Logger, reset bool) (*App, error) {
	emb, err := createEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}

	index, err := createIndex(ctx, cfg, emb, logger, reset)
	if err != nil {
		return nil, err
	}

	return newApp(cfg, logger, emb, index)
}

func newApp(cfg *Config, logger *slog.Logger, emb embedder.Embedder, index docstore.Index) (*App, error) {
	col, err := docstore.NewCollection(index, emb,
		docstore.WithTopK(cfg.Results),
		docstore.WithLogger(logger))
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		_ = col.Close()
		return nil, err
	}

	var extractorOpts []readers.Option
	if cfg.PdfReader == PdfReaderDocconv {
		extractorOpts = append(extractorOpts, readers.WithPdfReader(&readers.DocconvFileReader{}))
	}

	orch, err := ingest.NewOrchestrator(readers.NewExtractor(extractorOpts...), ch, emb, col,
		ingest.WithOrchestratorLogger(logger))
	if err != nil {
		_ = col.Close()
		return nil, err
	}

	queue, err := ingest.NewQueue(orch,
		ingest.WithWorkers(cfg.Workers),
		ingest.WithQueueLogger(logger))
	if err != nil {
		_ = col.Close()
		return nil, err
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		_ = queue.Close(context.Background())
		_ = col.Close()
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	return &App{
		cfg:        cfg,
		log:        logger,
		embedder:   emb,
		collection: col,
		queue:      queue,
	}, nil
}

func createEmbedder(cfg *Config, logger *slog.Logger) (embedder.Embedder, error) {
	c := cfg.Embedder

	var (
		model embedder.Model
		err   error
	)
	switch c.Provider {
	case ProviderLocal:
		model, err = embedder.NewLocal(c.Model, c.ModelsDir)
	case ProviderOllama:
		model, err = embedder.NewOllama(c.BaseURL, c.Model)
	case ProviderOpenAICompatible:
		model, err = embedder.NewOpenAICompatible(c.BaseURL, c.ApiKey, c.Model)
	case ProviderOpenAI:
		model, err = embedder.NewOpenAI(c.ApiKey, c.Model)
	case ProviderGemini:
		model, err = embedder.NewGemini(c.ApiKey, c.Model)
	default:
		err = fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, c.Provider)
	}
	if err != nil {
		return nil, err
	}

	opts := []embedder.Option{
		embedder.WithBatchSize(c.BatchSize),
		embedder.WithCache(c.CacheSize),
		embedder.WithLogger(logger),
	}
	if c.Dimension > 0 {
		opts = append(opts, embedder.WithDimension(c.Dimension))
	}

	emb, err := embedder.New(model, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return emb, nil
}

func createIndex(ctx context.Context, cfg *Config, emb embedder.Embedder, logger *slog.Logger, reset bool) (docstore.Index, error) {
	switch cfg.Store.Kind {
	case StoreChroma:
		store, err := docstore.NewChromaStore(ctx, docstore.ChromaStoreConfig{
			BaseURL:     cfg.Store.ChromaAddr,
			Collection:  cfg.Store.Collection,
			RequestSize: cfg.Store.RequestSize,
			Reset:       reset,
			Embedder:    emb,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Chroma doc store: %w", err)
		}
		return store, nil

	case StoreBadger:
		store, err := docstore.NewBadgerStore(docstore.BadgerOptions{
			Path:   cfg.Store.Path,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize badger doc store: %w", err)
		}
		if reset {
			if err := store.Reset(); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("failed to reset doc store: %w", err)
			}
		}
		return store, nil
	}

	return nil, fmt.Errorf("%w: unknown store kind %q", ErrInvalidConfig, cfg.Store.Kind)
}

// Submit stages a copy of src as <document_id>_<basename> in the upload
// directory and queues it. The type is checked before anything is written.
// Chunks record filename exactly as given; only the staged path is reduced
// to the base name.
func (a *App) Submit(ctx context.Context, src io.Reader, filename string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + filename))
	if base == "/" || base == "." {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	if _, err := readers.ParseFileType(base); err != nil {
		return "", err
	}

	id := uuid.NewString()
	path := filepath.Join(a.cfg.UploadDir, id+"_"+base)

	if err := stage(path, src); err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", base, err)
	}

	id, err := a.queue.Submit(ctx, ingest.Submission{
		Path:       path,
		Filename:   filename,
		DocumentID: id,
	})
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}

	return id, nil
}

// SubmitFile stages a copy of a server-local file; the original is left alone.
func (a *App) SubmitFile(ctx context.Context, path string) (string, error) {
	if _, err := readers.ParseFileType(path); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return a.Submit(ctx, f, filepath.Base(path))
}

func stage(path string, src io.Reader) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	_, err = io.Copy(f, src)
	return err
}

// Delete removes a document's chunks and any upload still staged for it.
func (a *App) Delete(ctx context.Context, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return errors.New("document id is required")
	}

	if err := a.queue.Cancel(documentID); err != nil && !errors.Is(err, ingest.ErrUnknownJob) {
		a.log.Warn("failed to cancel ingestion", "document_id", documentID, "error", err)
	}

	if err := a.collection.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}

	staged, err := filepath.Glob(filepath.Join(a.cfg.UploadDir, globEscape(documentID)+"_*"))
	if err != nil {
		return nil
	}
	for _, p := range staged {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.log.Warn("failed to remove staged upload", "path", p, "error", err)
		}
	}

	return nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}

func (a *App) Close(ctx context.Context) error {
	qerr := a.queue.Close(ctx)
	cerr := a.collection.Close()
	return errors.Join(qerr, cerr)
}

func (a *App) Query(ctx context.Context, text string, topK int, documentID string) ([]docstore.SearchResult, error) {
	return a.collection.Query(ctx, text, topK, documentID)
}

func (a *App) ListDocuments(ctx context.Context) ([]docstore.DocumentInfo, error) {
	return a.collection.ListDocuments(ctx)
}

func (a *App) Status(documentID string) (ingest.Status, bool) {
	return a.queue.Status(documentID)
}

func (a *App) Statuses() []ingest.Status {
	return a.queue.Statuses()
}

func (a *App) Wait(ctx context.Context, documentID string) (ingest.Status, error) {
	return a.queue.Wait(ctx, documentID)
}

package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"

	"github.com/MLZ101/RAG-Document-Chat/embedder"
)

const (
	DocumentID = "document_id"
	Filename   = "filename"
	ChunkIndex = "chunk_index"

	DefaultCollection  = "knowledge_base"
	DefaultRequestSize = 100

	includeDistances chroma.Include = "distances"
)

// ChromaStore is an Index backed by a remote Chroma collection.
type ChromaStore struct {
	client      chroma.Client
	col         chroma.Collection
	requestSize int
	log         *slog.Logger
}

var _ Index = (*ChromaStore)(nil)

type ChromaStoreConfig struct {
	BaseURL    string
	Collection string
	// RequestSize caps the number of records sent in one request.
	RequestSize int
	Reset       bool
	Embedder    embedder.Embedder
	Logger      *slog.Logger
}

func NewChromaStore(ctx context.Context, cfg ChromaStoreConfig) (*ChromaStore, error) {
	if cfg.Embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.RequestSize <= 0 {
		cfg.RequestSize = DefaultRequestSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := chroma.NewHTTPClient(chroma.WithBaseURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}

	if cfg.Reset {
		if err := client.DeleteCollection(ctx, cfg.Collection); err != nil {
			logger.Warn("failed to delete collection", "collection", cfg.Collection, "error", err)
		}
	}

	col, err := client.GetOrCreateCollection(ctx, cfg.Collection,
		chroma.WithEmbeddingFunctionCreate(&embeddingFunction{emb: cfg.Embedder}),
		chroma.WithCollectionMetadataCreate(
			chroma.NewMetadata(chroma.NewStringAttribute("hnsw:space", "cosine")),
		),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to get collection %s: %w", cfg.Collection, err)
	}

	return &ChromaStore{
		client:      client,
		col:         col,
		requestSize: cfg.RequestSize,
		log:         logger.With("component", "chroma"),
	}, nil
}

func (ds *ChromaStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]chroma.DocumentID, len(records))
	for i, r := range records {
		ids[i] = chroma.DocumentID(r.ID)
	}

	existing, err := ds.col.Get(ctx, chroma.WithIDsGet(ids...), chroma.WithIncludeGet(chroma.IncludeMetadatas))
	if err != nil {
		return fmt.Errorf("failed to check existing chunks: %w", err)
	}
	if found := existing.GetIDs(); len(found) > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateChunk, found[0])
	}

	var added []chroma.DocumentID
	for _, bucket := range buckets(records, ds.requestSize) {
		bucketIDs := make([]chroma.DocumentID, len(bucket))
		texts := make([]string, len(bucket))
		embs := make([]embeddings.Embedding, len(bucket))
		metas := make([]chroma.DocumentMetadata, len(bucket))
		for i, r := range bucket {
			bucketIDs[i] = chroma.DocumentID(r.ID)
			texts[i] = r.Text
			embs[i] = embeddings.NewEmbeddingFromFloat32(r.Vector)
			metas[i] = toChromaMetadata(r.Metadata)
		}

		err := ds.col.Add(ctx,
			chroma.WithIDs(bucketIDs...),
			chroma.WithTexts(texts...),
			chroma.WithEmbeddings(embs...),
			chroma.WithMetadatas(metas...),
		)
		if err != nil {
			ds.rollback(added)
			return fmt.Errorf("failed to add chunks: %w", err)
		}
		added = append(added, bucketIDs...)
	}

	return nil
}

func (ds *ChromaStore) rollback(ids []chroma.DocumentID) {
	if len(ids) == 0 {
		return
	}

	// The caller's context may be the reason Add failed.
	ctx := context.Background()
	for _, bucket := range buckets(ids, ds.requestSize) {
		if err := ds.col.Delete(ctx, chroma.WithIDsDelete(bucket...)); err != nil {
			ds.log.Error("failed to roll back added chunks", "chunks", len(bucket), "error", err)
		}
	}
}

func (ds *ChromaStore) Search(ctx context.Context, vector []float32, topK int, documentID string) ([]SearchResult, error) {
	opts := []chroma.CollectionQueryOption{
		chroma.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chroma.WithNResults(topK),
		chroma.WithIncludeQuery(chroma.IncludeDocuments, chroma.IncludeMetadatas, includeDistances),
	}
	if documentID != "" {
		opts = append(opts, chroma.WithWhereQuery(chroma.EqString(DocumentID, documentID)))
	}

	r, err := ds.col.Query(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	idGroups := r.GetIDGroups()
	if len(idGroups) == 0 {
		return []SearchResult{}, nil
	}

	ids := idGroups[0]
	docs := r.GetDocumentsGroups()[0]
	metadatas := r.GetMetadatasGroups()[0]
	distances := r.GetDistancesGroups()[0]

	res := make([]SearchResult, 0, len(ids))
	for i := range ids {
		res = append(res, SearchResult{
			ID:       string(ids[i]),
			Text:     docs[i].ContentString(),
			Metadata: fromChromaMetadata(metadatas[i]),
			Score:    1 - float32(distances[i]),
		})
	}

	return rank(res, topK), nil
}

func (ds *ChromaStore) DeleteDocument(ctx context.Context, documentID string) error {
	err := ds.col.Delete(ctx, chroma.WithWhereDelete(chroma.EqString(DocumentID, documentID)))
	if err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
	}

	return nil
}

func (ds *ChromaStore) Metadatas(ctx context.Context) ([]Metadata, error) {
	var metas []Metadata

	for offset := 0; ; offset += ds.requestSize {
		res, err := ds.col.Get(ctx,
			chroma.WithIncludeGet(chroma.IncludeMetadatas),
			chroma.WithLimitGet(ds.requestSize),
			chroma.WithOffsetGet(offset),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to get metadatas: %w", err)
		}

		page := res.GetMetadatas()
		for _, m := range page {
			metas = append(metas, fromChromaMetadata(m))
		}
		if len(page) < ds.requestSize {
			break
		}
	}

	return metas, nil
}

func (ds *ChromaStore) Dimension(ctx context.Context) (int, error) {
	res, err := ds.col.Get(ctx,
		chroma.WithIncludeGet(chroma.IncludeEmbeddings),
		chroma.WithLimitGet(1),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sample collection: %w", err)
	}

	embs := res.GetEmbeddings()
	if len(embs) == 0 || embs[0] == nil {
		return 0, nil
	}

	return embs[0].Len(), nil
}

func (ds *ChromaStore) Close() error {
	return ds.client.Close()
}

func toChromaMetadata(m Metadata) chroma.DocumentMetadata {
	return chroma.NewDocumentMetadata(
		chroma.NewStringAttribute(DocumentID, m.DocumentID),
		chroma.NewStringAttribute(Filename, m.Filename),
		chroma.NewIntAttribute(ChunkIndex, int64(m.ChunkIndex)),
	)
}

func fromChromaMetadata(meta chroma.DocumentMetadata) Metadata {
	if meta == nil {
		return Metadata{}
	}

	id, _ := meta.GetString(DocumentID)
	name, _ := meta.GetString(Filename)
	idx, _ := meta.GetInt(ChunkIndex)

	return Metadata{
		DocumentID: id,
		Filename:   name,
		ChunkIndex: int(idx),
	}
}

func buckets[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}

	var res [][]T
	for chunk := range slices.Chunk(items, max(size, 1)) {
		res = append(res, chunk)
	}

	return res
}

// embeddingFunction lets Chroma embed with the collection's own embedder
// when a request carries texts instead of vectors.
type embeddingFunction struct {
	emb embedder.Embedder
}

func (ef *embeddingFunction) EmbedDocuments(ctx context.Context, texts []string) ([]embeddings.Embedding, error) {
	vecs, err := ef.emb.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	res := make([]embeddings.Embedding, len(vecs))
	for i, v := range vecs {
		res[i] = embeddings.NewEmbeddingFromFloat32(v)
	}

	return res, nil
}

func (ef *embeddingFunction) EmbedQuery(ctx context.Context, text string) (embeddings.Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty query")
	}

	res, err := ef.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return res[0], nil
}

package docstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/MLZ101/RAG-Document-Chat/embedder/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollection(t *testing.T, opts ...CollectionOption) (*Collection, *mock.MockEmbedder) {
	t.Helper()

	store, err := NewBadgerStore(BadgerOptions{InMemory: true})
	require.NoError(t, err)

	emb := mock.NewMockEmbedder(16)
	col, err := NewCollection(store, emb, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = col.Close() })

	return col, emb
}

func insertDoc(t *testing.T, col *Collection, docID, filename string, texts ...string) {
	t.Helper()

	ids := make([]string, len(texts))
	vecs := make([][]float32, len(texts))
	metas := make([]Metadata, len(texts))
	for i, text := range texts {
		ids[i] = ChunkID(docID, i)
		vecs[i] = mock.Vector(text, 16)
		metas[i] = Metadata{DocumentID: docID, Filename: filename, ChunkIndex: i}
	}

	require.NoError(t, col.Insert(context.Background(), ids, texts, vecs, metas))
}

func Test_ChunkID(t *testing.T) {
	assert.Equal(t, "abc_chunk_0", ChunkID("abc", 0))
	assert.Equal(t, "abc_chunk_12", ChunkID("abc", 12))
}

func Test_NewCollection_RequiresDependencies(t *testing.T) {
	store, err := NewBadgerStore(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	_, err = NewCollection(nil, mock.NewMockEmbedder(4))
	assert.ErrorIs(t, err, ErrIndexRequired)

	_, err = NewCollection(store, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
}

func Test_Query_FindsInsertedChunk(t *testing.T) {
	col, _ := newTestCollection(t)
	insertDoc(t, col, "d1", "facts.txt",
		"Bananas are berries.",
		"A day on Venus is longer than its year.",
		"Octopuses have three hearts.")

	res, err := col.Query(context.Background(), "A day on Venus is longer than its year.", 1, "")
	require.NoError(t, err)
	require.Len(t, res, 1)

	assert.Equal(t, "d1_chunk_1", res[0].ID)
	assert.Equal(t, "A day on Venus is longer than its year.", res[0].Text)
	assert.Equal(t, Metadata{DocumentID: "d1", Filename: "facts.txt", ChunkIndex: 1}, res[0].Metadata)
	assert.InDelta(t, 1.0, res[0].Score, 1e-5)
}

func Test_Query_OrderedByScore(t *testing.T) {
	col, _ := newTestCollection(t)
	insertDoc(t, col, "d1", "a.txt", "one", "two", "three", "four")

	res, err := col.Query(context.Background(), "three", 4, "")
	require.NoError(t, err)
	require.Len(t, res, 4)

	assert.Equal(t, "d1_chunk_2", res[0].ID)
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}
}

func Test_Query_DefaultTopK(t *testing.T) {
	col, _ := newTestCollection(t)

	texts := make([]string, 8)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk number %d", i)
	}
	insertDoc(t, col, "d1", "a.txt", texts...)

	res, err := col.Query(context.Background(), "chunk", 0, "")
	require.NoError(t, err)
	assert.Len(t, res, DefaultTopK)

	col, _ = newTestCollection(t, WithTopK(3))
	insertDoc(t, col, "d1", "a.txt", texts...)

	res, err = col.Query(context.Background(), "chunk", -1, "")
	require.NoError(t, err)
	assert.Len(t, res, 3)
}

func Test_Query_FewerChunksThanTopK(t *testing.T) {
	col, _ := newTestCollection(t)
	insertDoc(t, col, "d1", "a.txt", "only one")

	res, err := col.Query(context.Background(), "anything", 5, "")
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func Test_Query_EmptyCollection(t *testing.T) {
	col, _ := newTestCollection(t)

	res, err := col.Query(context.Background(), "anything", 5, "")
	require.NoError(t, err)
	assert.Empty(t, res)
}

func Test_Query_DocumentFilter(t *testing.T) {
	col, _ := newTestCollection(t)
	insertDoc(t, col, "d1", "a.txt", "shared text", "alpha")
	insertDoc(t, col, "d2", "b.txt", "shared text", "beta")

	res, err := col.Query(context.Background(), "shared text", 10, "d2")
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.Equal(t, "d2", r.Metadata.DocumentID)
	}

	res, err = col.Query(context.Background(), "shared text", 10, "missing")
	require.NoError(t, err)
	assert.Empty(t, res)
}

func Test_Query_TiesBreakByID(t *testing.T) {
	col, _ := newTestCollection(t)
	insertDoc(t, col, "d2", "b.txt", "same")
	insertDoc(t, col, "d1", "a.txt", "same")

	res, err := col.Query(context.Background(), "same", 2, "")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "d1_chunk_0", res[0].ID)
	assert.Equal(t, "d2_chunk_0", res[1].ID)
}

func Test_Query_EmbedderFailure(t *testing.T) {
	col, emb := newTestCollection(t)
	emb.EmbedDocumentsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, assert.AnError
	}

	_, err := col.Query(context.Background(), "anything", 5, "")
	assert.ErrorIs(t, err, assert.AnError)
}

func Test_Insert_Duplicate(t *testing.T) {
	col, _ := newTestCollection(t)
	insertDoc(t, col, "d1", "a.txt", "original")

	err := col.Insert(context.Background(),
		[]string{"d1_chunk_1", "d1_chunk_0"},
		[]string{"new", "replacement"},
		[][]float32{mock.Vector("new", 16), mock.Vector("replacement", 16)},
		[]Metadata{{DocumentID: "d1", Filename: "a.txt", ChunkIndex: 1}, {DocumentID: "d1", Filename: "a.txt", ChunkIndex: 0}})
	require.ErrorIs(t, err, ErrDuplicateChunk)

	res, err := col.Query(context.Background(), "original", 5, "d1")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "original", res[0].Text)
}

func Test_Insert_DuplicateWithinBatch(t *testing.T) {
	col, _ := newTestCollection(t)

	err := col.Insert(context.Background(),
		[]string{"x", "x"},
		[]string{"a", "b"},
		[][]float32{mock.Vector("a", 16), mock.Vector("b", 16)},
		[]Metadata{{DocumentID: "d"}, {DocumentID: "d", ChunkIndex: 1}})
	require.ErrorIs(t, err, ErrDuplicateChunk)

	docs, err := col.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func Test_Insert_LengthMismatch(t *testing.T) {
	col, _ := newTestCollection(t)

	err := col.Insert(context.Background(),
		[]string{"a", "b"},
		[]string{"a"},
		[][]float32{mock.Vector("a", 16)},
		[]Metadata{{DocumentID: "d"}})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func Test_Insert_DimensionMismatch(t *testing.T) {
	col, _ := newTestCollection(t)

	err := col.Insert(context.Background(),
		[]string{"a", "b"},
		[]string{"a", "b"},
		[][]float32{{1, 0}, {1, 0, 0}},
		[]Metadata{{DocumentID: "d"}, {DocumentID: "d", ChunkIndex: 1}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func Test_Insert_RejectsForeignDimension(t *testing.T) {
	col, _ := newTestCollection(t)
	insertDoc(t, col, "d1", "a.txt", "first")

	err := col.Insert(context.Background(),
		[]string{ChunkID("d2", 0)},
		[]string{"short"},
		[][]float32{{1, 0, 0}},
		[]Metadata{{DocumentID: "d2", Filename: "b.txt"}})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	res, err := col.Query(context.Background(), "first", 5, "")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d1_chunk_0", res[0].ID)

	docs, err := col.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func Test_Insert_Empty(t *testing.T) {
	col, _ := newTestCollection(t)
	require.NoError(t, col.Insert(context.Background(), nil, nil, nil, nil))
}

func Test_DeleteByDocument(t *testing.T) {
	col, _ := newTestCollection(t)
	insertDoc(t, col, "d1", "a.txt", "first", "second")
	insertDoc(t, col, "d2", "b.txt", "third")

	require.NoError(t, col.DeleteByDocument(context.Background(), "d1"))

	res, err := col.Query(context.Background(), "first", 10, "")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d2_chunk_0", res[0].ID)

	require.NoError(t, col.DeleteByDocument(context.Background(), "d1"))
	require.NoError(t, col.DeleteByDocument(context.Background(), "never-existed"))

	// ids are free again once the document is gone
	insertDoc(t, col, "d1", "a.txt", "first again")
}

func Test_ListDocuments(t *testing.T) {
	col, _ := newTestCollection(t)
	insertDoc(t, col, "d2", "b.txt", "x", "y", "z")
	insertDoc(t, col, "d1", "a.pdf", "only")

	docs, err := col.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []DocumentInfo{
		{ID: "d1", Filename: "a.pdf", Chunks: 1},
		{ID: "d2", Filename: "b.txt", Chunks: 3},
	}, docs)
}

func Test_ListDocuments_Empty(t *testing.T) {
	col, _ := newTestCollection(t)

	docs, err := col.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func Test_DistinctDocuments_FilenameFromFirstChunk(t *testing.T) {
	docs := distinctDocuments([]Metadata{
		{DocumentID: "d", Filename: "late.txt", ChunkIndex: 3},
		{DocumentID: "d", Filename: "first.txt", ChunkIndex: 0},
		{DocumentID: "d", Filename: "mid.txt", ChunkIndex: 1},
		{DocumentID: "", Filename: "orphan.txt"},
	})

	assert.Equal(t, []DocumentInfo{{ID: "d", Filename: "first.txt", Chunks: 3}}, docs)
}

func Test_Insert_ConcurrentDocuments(t *testing.T) {
	col, _ := newTestCollection(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			docID := fmt.Sprintf("doc%d", i)
			err := col.Insert(context.Background(),
				[]string{ChunkID(docID, 0), ChunkID(docID, 1)},
				[]string{"one", "two"},
				[][]float32{mock.Vector("one", 16), mock.Vector("two", 16)},
				[]Metadata{{DocumentID: docID, ChunkIndex: 0}, {DocumentID: docID, ChunkIndex: 1}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	docs, err := col.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 8)
	for _, d := range docs {
		assert.Equal(t, 2, d.Chunks)
	}
}

package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/sethvargo/go-retry"
)

const (
	chunkPrefix = "chunk\x00"
	docPrefix   = "doc\x00"

	dimensionKey = "meta\x00dimension"

	conflictRetries = 5
	conflictBackoff = 10 * time.Millisecond
)

// BadgerStore is an embedded Index. Chunks live under chunk\x00<chunk_id>;
// doc\x00<document_id>\x00<chunk_id> holds the chunk's metadata and
// meta\x00dimension the vector size fixed by the first insert.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

var _ Index = (*BadgerStore)(nil)

type BadgerOptions struct {
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

type chunkRecord struct {
	Text     string    `json:"text"`
	Vector   []float32 `json:"vector"`
	Metadata Metadata  `json:"metadata"`
}

type badgerLogger struct {
	log *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (bl *badgerLogger) Errorf(msg string, items ...any) {
	bl.log.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Warningf(msg string, items ...any) {
	bl.log.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Infof(msg string, items ...any) {
	bl.log.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Debugf(msg string, items ...any) {
	bl.log.Debug(fmt.Sprintf(msg, items...))
}

func NewBadgerStore(o BadgerOptions) (*BadgerStore, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "badger")

	var opts badger.Options
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(o.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", o.Path, err)
		}
		opts = badger.DefaultOptions(o.Path)
	}
	opts.Logger = &badgerLogger{log: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	return &BadgerStore{db: db, log: logger}, nil
}

func chunkKey(id string) []byte {
	return []byte(chunkPrefix + id)
}

func docKey(documentID, id string) []byte {
	return []byte(docPrefix + documentID + "\x00" + id)
}

func docKeyPrefix(documentID string) []byte {
	return []byte(docPrefix + documentID + "\x00")
}

type encodedRecord struct {
	id    string
	docID string
	dim   int
	chunk []byte
	meta  []byte
}

func encodeRecords(records []Record) ([]encodedRecord, error) {
	res := make([]encodedRecord, len(records))
	for i, r := range records {
		chunk, err := json.Marshal(chunkRecord{Text: r.Text, Vector: r.Vector, Metadata: r.Metadata})
		if err != nil {
			return nil, fmt.Errorf("failed to encode chunk %s: %w", r.ID, err)
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata of %s: %w", r.ID, err)
		}
		res[i] = encodedRecord{id: r.ID, docID: r.Metadata.DocumentID, dim: len(r.Vector), chunk: chunk, meta: meta}
	}

	return res, nil
}

func (s *BadgerStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	encoded, err := encodeRecords(records)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(conflictRetries, retry.NewExponential(conflictBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.db.Update(func(txn *badger.Txn) error {
			if err := checkAbsent(txn, encoded); err != nil {
				return err
			}
			stored, err := readDimension(txn)
			if err != nil {
				return err
			}
			if err := matchDimension(stored, encoded); err != nil {
				return err
			}
			if stored == 0 {
				if err := txn.Set([]byte(dimensionKey), encodeDimension(encoded[0].dim)); err != nil {
					return err
				}
			}
			for _, r := range encoded {
				if err := txn.Set(chunkKey(r.id), r.chunk); err != nil {
					return err
				}
				if err := txn.Set(docKey(r.docID, r.id), r.meta); err != nil {
					return err
				}
			}
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			s.log.Debug("insert conflict, retrying", "chunks", len(encoded))
			return retry.RetryableError(err)
		}
		return err
	})

	if errors.Is(err, badger.ErrTxnTooBig) {
		return s.addBatched(ctx, encoded)
	}

	return err
}

// addBatched writes a document too large for one transaction. The existence
// check and the writes are no longer atomic with respect to other writers of
// the same ids, and written keys are removed again if the batch fails.
func (s *BadgerStore) addBatched(ctx context.Context, encoded []encodedRecord) error {
	var stored int
	if err := s.db.View(func(txn *badger.Txn) error {
		if err := checkAbsent(txn, encoded); err != nil {
			return err
		}
		var err error
		if stored, err = readDimension(txn); err != nil {
			return err
		}
		return matchDimension(stored, encoded)
	}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.log.Info("insert exceeds transaction size, writing in batches", "chunks", len(encoded))

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	var err error
	if stored == 0 {
		err = wb.Set([]byte(dimensionKey), encodeDimension(encoded[0].dim))
	}
	for _, r := range encoded {
		if err != nil {
			break
		}
		if err = wb.Set(chunkKey(r.id), r.chunk); err != nil {
			break
		}
		if err = wb.Set(docKey(r.docID, r.id), r.meta); err != nil {
			break
		}
	}
	if err == nil {
		err = wb.Flush()
	}
	if err == nil {
		return nil
	}

	rollback := s.db.NewWriteBatch()
	defer rollback.Cancel()
	if stored == 0 {
		_ = rollback.Delete([]byte(dimensionKey))
	}
	for _, r := range encoded {
		_ = rollback.Delete(chunkKey(r.id))
		_ = rollback.Delete(docKey(r.docID, r.id))
	}
	if rerr := rollback.Flush(); rerr != nil {
		s.log.Error("failed to roll back partial insert", "error", rerr)
	}

	return fmt.Errorf("failed to write chunks: %w", err)
}

func checkAbsent(txn *badger.Txn, encoded []encodedRecord) error {
	for _, r := range encoded {
		_, err := txn.Get(chunkKey(r.id))
		if err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateChunk, r.id)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
	}

	return nil
}

func readDimension(txn *badger.Txn) (int, error) {
	item, err := txn.Get([]byte(dimensionKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var dim int
	err = item.Value(func(val []byte) error {
		dim, err = strconv.Atoi(string(val))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to decode dimension: %w", err)
	}

	return dim, nil
}

func encodeDimension(dim int) []byte {
	return []byte(strconv.Itoa(dim))
}

// matchDimension checks every record against the stored dimension, or
// against the first record when nothing is stored yet.
func matchDimension(stored int, encoded []encodedRecord) error {
	want := stored
	if want == 0 {
		want = encoded[0].dim
	}
	for _, r := range encoded {
		if r.dim != want {
			return fmt.Errorf("%w: chunk %s has %d values, expected %d",
				ErrDimensionMismatch, r.id, r.dim, want)
		}
	}

	return nil
}

func (s *BadgerStore) Dimension(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var dim int
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		dim, err = readDimension(txn)
		return err
	})

	return dim, err
}

func (s *BadgerStore) Search(ctx context.Context, vector []float32, topK int, documentID string) ([]SearchResult, error) {
	var results []SearchResult

	visit := func(id string, rec chunkRecord) error {
		if len(rec.Vector) != len(vector) {
			return fmt.Errorf("%w: chunk %s has %d values, query has %d",
				ErrDimensionMismatch, id, len(rec.Vector), len(vector))
		}

		results = append(results, SearchResult{
			ID:       id,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Score:    cosine(vector, rec.Vector),
		})
		return nil
	}

	err := s.db.View(func(txn *badger.Txn) error {
		if documentID == "" {
			return scanChunks(ctx, txn, visit)
		}
		return scanDocument(ctx, txn, documentID, visit)
	})
	if err != nil {
		return nil, err
	}

	return rank(results, topK), nil
}

func scanChunks(ctx context.Context, txn *badger.Txn, visit func(string, chunkRecord) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(chunkPrefix)
	iter := txn.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		item := iter.Item()
		id := string(bytes.TrimPrefix(item.Key(), opts.Prefix))

		var rec chunkRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return fmt.Errorf("failed to decode chunk %s: %w", id, err)
		}
		if err := visit(id, rec); err != nil {
			return err
		}
	}

	return nil
}

func scanDocument(ctx context.Context, txn *badger.Txn, documentID string, visit func(string, chunkRecord) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = docKeyPrefix(documentID)
	opts.PrefetchValues = false
	iter := txn.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		id := string(bytes.TrimPrefix(iter.Item().Key(), opts.Prefix))
		item, err := txn.Get(chunkKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		var rec chunkRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return fmt.Errorf("failed to decode chunk %s: %w", id, err)
		}
		if err := visit(id, rec); err != nil {
			return err
		}
	}

	return nil
}

func (s *BadgerStore) DeleteDocument(ctx context.Context, documentID string) error {
	prefix := docKeyPrefix(documentID)

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().KeyCopy(nil)
			keys = append(keys, key, chunkKey(string(bytes.TrimPrefix(key, prefix))))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	s.log.Debug("document removed", "document_id", documentID, "chunks", len(keys)/2)
	return nil
}

func (s *BadgerStore) Metadatas(ctx context.Context) ([]Metadata, error) {
	var metas []Metadata

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(docPrefix)
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var m Metadata
			if err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return fmt.Errorf("failed to decode metadata: %w", err)
			}
			metas = append(metas, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return metas, nil
}

// Reset drops every stored chunk.
func (s *BadgerStore) Reset() error {
	return s.db.DropAll()
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

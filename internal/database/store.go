package database

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
)

// Default artifact names inside the index directory.
const (
	DefaultIndexFile    = "face_index.bin"
	DefaultMetadataFile = "metadata.json"
)

// maxAutoTruncate bounds how many trailing vectors RecoveryTruncate may drop.
// A single writer can leave the index at most one entry ahead of the metadata.
const maxAutoTruncate = 1

// StoreConfig configures an EmbeddingStore.
type StoreConfig struct {
	Dir            string // directory holding both artifacts
	IndexFile      string // defaults to DefaultIndexFile
	MetadataFile   string // defaults to DefaultMetadataFile
	IndexKind      string // IndexKindFlat (default) or IndexKindHNSW
	Dim            int    // defaults to DefaultEmbeddingDim
	RecoveryPolicy string // RecoveryTruncate (default) or RecoveryReject
	Logger         *slog.Logger

	// AfterIngest, when set, is called with every persisted entry while the
	// write lock is still held. It must not block or call back into the store.
	AfterIngest func(Entry)
}

func (c *StoreConfig) applyDefaults() {
	if c.IndexFile == "" {
		c.IndexFile = DefaultIndexFile
	}
	if c.MetadataFile == "" {
		c.MetadataFile = DefaultMetadataFile
	}
	if c.IndexKind == "" {
		c.IndexKind = IndexKindFlat
	}
	if c.Dim == 0 {
		c.Dim = DefaultEmbeddingDim
	}
	if c.RecoveryPolicy == "" {
		c.RecoveryPolicy = RecoveryTruncate
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is the EmbeddingStore: a VectorIndex and an IdentityLedger kept in
// positional lockstep and persisted as two companion artifacts.
//
// mu is the store's single-writer lock. Ingest holds it exclusively from the
// duplicate check until both artifacts are on disk, so readers never see a
// partially applied write.
type Store struct {
	mu      sync.RWMutex
	cfg     StoreConfig
	index   VectorIndex
	ledger  *IdentityLedger
	suspect error
	log     *slog.Logger
}

// OpenStore loads the artifacts in cfg.Dir, or starts an empty store when
// none exist yet.
func OpenStore(cfg StoreConfig) (*Store, error) {
	cfg.applyDefaults()
	if cfg.Dir == "" {
		return nil, errors.New("index directory is required")
	}
	if cfg.RecoveryPolicy != RecoveryTruncate && cfg.RecoveryPolicy != RecoveryReject {
		return nil, fmt.Errorf("unknown recovery policy %q", cfg.RecoveryPolicy)
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	s := &Store{cfg: cfg, log: cfg.Logger.With("module", "database")}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// IndexPath is the location of the vector index artifact.
func (s *Store) IndexPath() string { return filepath.Join(s.cfg.Dir, s.cfg.IndexFile) }

// MetadataPath is the location of the metadata artifact.
func (s *Store) MetadataPath() string { return filepath.Join(s.cfg.Dir, s.cfg.MetadataFile) }

// Reload discards the in-memory state and loads both artifacts again. It is
// the only way to clear the suspect state left by a failed persist.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() error {
	ledger := NewIdentityLedger()
	if err := ledger.Load(s.MetadataPath()); err != nil {
		return err
	}

	idx, err := LoadVectorIndex(s.cfg.IndexKind, s.cfg.Dim, s.IndexPath())
	switch {
	case errors.Is(err, ErrIndexNotFound):
		idx, err = NewVectorIndex(s.cfg.IndexKind, s.cfg.Dim)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	}

	s.index = idx
	s.ledger = ledger
	s.suspect = nil

	if err := s.reconcile(); err != nil {
		return err
	}

	s.log.Info("embedding store loaded",
		"kind", idx.Kind(), "entries", idx.Len(), "dir", s.cfg.Dir)
	return nil
}

// reconcile applies the recovery policy when the artifacts disagree.
func (s *Store) reconcile() error {
	vectors, records := s.index.Len(), s.ledger.Len()
	if vectors == records {
		return nil
	}
	if vectors < records {
		return fmt.Errorf("%w: metadata has %d records but index only %d vectors",
			ErrMisaligned, records, vectors)
	}

	surplus := vectors - records
	if s.cfg.RecoveryPolicy == RecoveryReject || surplus > maxAutoTruncate {
		return fmt.Errorf("%w: index has %d vectors but metadata only %d records",
			ErrMisaligned, vectors, records)
	}

	s.log.Warn("index ahead of metadata, dropping unmatched trailing vectors",
		"vectors", vectors, "records", records)
	if err := s.index.Truncate(records); err != nil {
		return fmt.Errorf("truncating index: %w", err)
	}
	if err := s.persist(); err != nil {
		return err
	}
	return nil
}

// Ingest appends embedding and rec as one transaction. A record whose content
// hash is already present is skipped without touching the store. IngestOK is
// returned only after both artifacts were written.
//
// A *PersistenceError comes with IngestSkipped, since the entry is not durable,
// and leaves the store suspect: further ingests fail with ErrStoreSuspect until
// Reload succeeds.
func (s *Store) Ingest(embedding []float32, rec IdentityRecord) (IngestStatus, error) {
	if len(embedding) != s.cfg.Dim {
		return IngestSkipped, &DimensionMismatchError{Expected: s.cfg.Dim, Actual: len(embedding)}
	}
	if !IsUnit(embedding) {
		return IngestSkipped, fmt.Errorf("%w: norm %.6f", ErrNotNormalized, Norm(embedding))
	}
	if rec.ContentHash == "" {
		return IngestSkipped, errors.New("content hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.suspect != nil {
		return IngestSkipped, fmt.Errorf("%w: %w", ErrStoreSuspect, s.suspect)
	}
	if s.ledger.ContainsHash(rec.ContentHash) {
		return IngestSkipped, nil
	}

	ord, err := s.index.Add(embedding)
	if err != nil {
		return IngestSkipped, fmt.Errorf("adding vector: %w", err)
	}
	s.ledger.Append(rec)

	if err := s.persist(); err != nil {
		s.suspect = err
		s.log.Error("persist failed, store marked suspect",
			"func", "Ingest", "ordinal", ord, "error", err)
		return IngestSkipped, err
	}

	s.log.Debug("ingested embedding", "ordinal", ord, "user_id", rec.UserID)
	if s.cfg.AfterIngest != nil {
		vec := make([]float32, len(embedding))
		copy(vec, embedding)
		s.cfg.AfterIngest(Entry{Ordinal: ord, Record: rec, Embedding: vec})
	}
	return IngestOK, nil
}

// persist writes both artifacts to temporary files and renames them into
// place, index first, only after both writes succeeded. A crash between the
// two renames leaves the index one entry ahead, which reconcile repairs.
func (s *Store) persist() error {
	indexPath, metaPath := s.IndexPath(), s.MetadataPath()

	idxFile, err := renameio.TempFile(filepath.Dir(indexPath), indexPath)
	if err != nil {
		return newPersistenceError("index", err)
	}
	defer idxFile.Cleanup() //nolint:errcheck // no-op after a successful replace

	if _, err := s.index.WriteTo(idxFile); err != nil {
		return newPersistenceError("index", err)
	}

	metaFile, err := renameio.TempFile(filepath.Dir(metaPath), metaPath)
	if err != nil {
		return newPersistenceError("metadata", err)
	}
	defer metaFile.Cleanup() //nolint:errcheck // no-op after a successful replace

	if _, err := s.ledger.WriteTo(metaFile); err != nil {
		return newPersistenceError("metadata", err)
	}

	if err := idxFile.CloseAtomicallyReplace(); err != nil {
		return newPersistenceError("index", err)
	}
	if err := metaFile.CloseAtomicallyReplace(); err != nil {
		return newPersistenceError("metadata", err)
	}
	return nil
}

// ContainsHash reports whether an image with this content hash was ingested.
func (s *Store) ContainsHash(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.ContainsHash(hash)
}

// Count returns the number of stored embeddings.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// IsEmpty reports whether the store holds no embeddings.
func (s *Store) IsEmpty() bool {
	return s.Count() == 0
}

// Dim returns the configured embedding width.
func (s *Store) Dim() int { return s.cfg.Dim }

// Search returns the k nearest stored vectors to query.
func (s *Store) Search(query []float32, k int) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Search(query, k)
}

// Record returns the ledger entry at ordinal.
func (s *Store) Record(ordinal int) (IdentityRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Get(ordinal)
}

// Label returns the user id at ordinal, or UnknownLabel.
func (s *Store) Label(ordinal int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Label(ordinal)
}

// Records returns a copy of the whole ledger in ordinal order.
func (s *Store) Records() []IdentityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]IdentityRecord, s.ledger.Len())
	copy(out, s.ledger.records)
	return out
}

// Entries returns every stored vector with its record, in ordinal order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, s.ledger.Len())
	for i := range s.ledger.Len() {
		vec, ok := s.index.Vector(i)
		if !ok {
			continue
		}
		rec, _ := s.ledger.Get(i)
		out = append(out, Entry{Ordinal: i, Record: rec, Embedding: vec})
	}
	return out
}

// Stats summarises the store.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreStats{
		Count:      s.index.Len(),
		Dimension:  s.cfg.Dim,
		IndexKind:  s.index.Kind(),
		Identities: s.ledger.Identities(),
		Suspect:    s.suspect != nil,
	}
}

// view runs fn with both structures under the read lock.
func (s *Store) view(fn func(idx VectorIndex, ledger *IdentityLedger) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.index, s.ledger)
}

// Package kb implements knowledge bases: document ingestion into a vector
// store and top-k retrieval for prompt augmentation.
package kb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/lifecycle"
	"github.com/conduitbot/conduit/internal/observability"
)

// ErrNotFound is returned when a base or file UUID is unknown.
var ErrNotFound = errors.New("knowledge base not found")

// FileStatus is the ingestion state of a stored file.
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusProcessing FileStatus = "processing"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
)

// File is one document registered with a base. Status moves pending to
// processing to completed or failed; FailReason is set on failure.
type File struct {
	UUID       string
	BaseUUID   string
	Name       string
	Extension  string
	Status     FileStatus
	FailReason string
	ChunkCount int
	StoredAt   time.Time

	data []byte
}

// SearchResult is one retrieval hit, closest first.
type SearchResult struct {
	ChunkID  int
	Text     string
	Distance float64
	FileID   string
}

// Base is one knowledge base: its config, embedder, and file registry.
type Base struct {
	cfg      config.KnowledgeBaseConfig
	embedder Embedder
	chunker  *Chunker

	mu    sync.Mutex
	files map[string]*File
}

// UUID returns the base identifier used as the vector collection name.
func (b *Base) UUID() string { return b.cfg.UUID }

func (b *Base) Name() string { return b.cfg.Name }

// Files returns a snapshot of the registered files.
func (b *Base) Files() []File {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]File, 0, len(b.files))
	for _, f := range b.files {
		out = append(out, *f)
	}
	return out
}

// File returns a snapshot of one file record.
func (b *Base) File(fileUUID string) (File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[fileUUID]
	if !ok {
		return File{}, fmt.Errorf("file %s: %w", fileUUID, ErrNotFound)
	}
	return *f, nil
}

func (b *Base) setStatus(fileUUID string, status FileStatus, reason string, chunks int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.files[fileUUID]; ok {
		f.Status = status
		f.FailReason = reason
		f.ChunkCount = chunks
		if status == StatusCompleted {
			// The blob is only needed during ingestion.
			f.data = nil
		}
	}
}

// Service owns all configured bases and the shared vector store.
type Service struct {
	log   *observability.Logger
	tasks *lifecycle.Manager
	store VectorStore
	bases map[string]*Base
}

// NewService builds bases from config. embedders is keyed by embedding
// model UUID; every base must reference a known model.
func NewService(
	log *observability.Logger,
	tasks *lifecycle.Manager,
	store VectorStore,
	embedders map[string]Embedder,
	cfgs []config.KnowledgeBaseConfig,
) (*Service, error) {
	s := &Service{
		log:   log,
		tasks: tasks,
		store: store,
		bases: make(map[string]*Base, len(cfgs)),
	}
	for _, cfg := range cfgs {
		emb, ok := embedders[cfg.EmbeddingModelUUID]
		if !ok {
			return nil, fmt.Errorf("knowledge base %q: unknown embedding model %q", cfg.UUID, cfg.EmbeddingModelUUID)
		}
		s.bases[cfg.UUID] = &Base{
			cfg:      cfg,
			embedder: emb,
			chunker:  NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
			files:    make(map[string]*File),
		}
	}
	return s, nil
}

// Base looks up a base by UUID.
func (s *Service) Base(baseUUID string) (*Base, error) {
	b, ok := s.bases[baseUUID]
	if !ok {
		return nil, fmt.Errorf("base %s: %w", baseUUID, ErrNotFound)
	}
	return b, nil
}

// StoreFile registers the document and schedules its ingestion on a
// background task. The returned snapshot has status pending; poll the base
// for the final state. Storing the same bytes twice creates two files.
func (s *Service) StoreFile(baseUUID, name, extension string, data []byte) (File, error) {
	b, err := s.Base(baseUUID)
	if err != nil {
		return File{}, err
	}
	f := &File{
		UUID:      uuid.NewString(),
		BaseUUID:  baseUUID,
		Name:      name,
		Extension: strings.TrimPrefix(strings.ToLower(extension), "."),
		Status:    StatusPending,
		StoredAt:  time.Now(),
		data:      data,
	}
	b.mu.Lock()
	b.files[f.UUID] = f
	b.mu.Unlock()

	fileUUID := f.UUID
	s.tasks.Go(lifecycle.ScopeApplication, func(ctx context.Context) {
		s.ingest(ctx, b, fileUUID)
	})
	return *f, nil
}

// ingest runs parse, chunk, embed, store for one file and records the
// resulting status.
func (s *Service) ingest(ctx context.Context, b *Base, fileUUID string) {
	b.mu.Lock()
	f, ok := b.files[fileUUID]
	if !ok {
		b.mu.Unlock()
		return
	}
	f.Status = StatusProcessing
	name, ext, data := f.Name, f.Extension, f.data
	b.mu.Unlock()

	fail := func(err error) {
		b.setStatus(fileUUID, StatusFailed, err.Error(), 0)
		s.log.Error(ctx, "knowledge base ingestion failed",
			"base", b.cfg.UUID, "file", fileUUID, "name", name, "error", err)
	}

	text, err := ParseDocument(ext, data)
	if err != nil {
		fail(err)
		return
	}
	chunks := b.chunker.Split(text)
	if len(chunks) == 0 {
		fail(fmt.Errorf("document %q produced no chunks", name))
		return
	}
	vectors, err := b.embedder.Embed(ctx, chunks)
	if err != nil {
		fail(fmt.Errorf("embed chunks: %w", err))
		return
	}
	if len(vectors) != len(chunks) {
		fail(fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
		return
	}

	records := make([]VectorRecord, len(chunks))
	for i := range chunks {
		records[i] = VectorRecord{
			ID:        fmt.Sprintf("%s_%d", fileUUID, i),
			FileID:    fileUUID,
			ChunkID:   i,
			Embedding: vectors[i],
			Document:  chunks[i],
		}
	}
	if err := s.store.Add(ctx, b.cfg.UUID, records); err != nil {
		fail(fmt.Errorf("store vectors: %w", err))
		return
	}

	b.setStatus(fileUUID, StatusCompleted, "", len(chunks))
	s.log.Info(ctx, "knowledge base file ingested",
		"base", b.cfg.UUID, "file", fileUUID, "name", name, "chunks", len(chunks))
}

// Retrieve embeds the query once and returns the base's top-k nearest
// chunks, closest first. Safe to call while ingestion is running.
func (s *Service) Retrieve(ctx context.Context, baseUUID, query string) ([]SearchResult, error) {
	b, err := s.Base(baseUUID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vectors, err := b.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	matches, err := s.store.Search(ctx, b.cfg.UUID, vectors[0], b.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	results := make([]SearchResult, len(matches))
	for i, m := range matches {
		results[i] = SearchResult{
			ChunkID:  m.Record.ChunkID,
			Text:     m.Record.Document,
			Distance: m.Distance,
			FileID:   m.Record.FileID,
		}
	}
	return results, nil
}

// DeleteFile removes the file's vectors, then its registry entry and blob.
func (s *Service) DeleteFile(ctx context.Context, baseUUID, fileUUID string) error {
	b, err := s.Base(baseUUID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	_, ok := b.files[fileUUID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("file %s: %w", fileUUID, ErrNotFound)
	}
	if err := s.store.DeleteByFile(ctx, b.cfg.UUID, fileUUID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	b.mu.Lock()
	delete(b.files, fileUUID)
	b.mu.Unlock()
	return nil
}

package kb

import (
	"context"
	"math"
	"sort"
	"sync"
)

// VectorRecord is one stored chunk embedding. ID is unique within a
// collection; FileID and ChunkID tie the vector back to its source file.
type VectorRecord struct {
	ID        string
	FileID    string
	ChunkID   int
	Embedding []float32
	Document  string
}

// VectorMatch is one nearest-neighbour hit. Distance grows with
// dissimilarity; results are returned ascending.
type VectorMatch struct {
	Record   VectorRecord
	Distance float64
}

// VectorStore holds chunk embeddings grouped into per-base collections.
// Implementations must be safe for concurrent use.
type VectorStore interface {
	Add(ctx context.Context, collection string, records []VectorRecord) error
	Search(ctx context.Context, collection string, query []float32, topK int) ([]VectorMatch, error)
	DeleteByFile(ctx context.Context, collection string, fileID string) error
}

// MemoryVectorStore is an in-process cosine-distance store.
type MemoryVectorStore struct {
	mu          sync.RWMutex
	collections map[string][]VectorRecord
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{collections: make(map[string][]VectorRecord)}
}

func (s *MemoryVectorStore) Add(_ context.Context, collection string, records []VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], records...)
	return nil
}

func (s *MemoryVectorStore) Search(_ context.Context, collection string, query []float32, topK int) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.collections[collection]
	matches := make([]VectorMatch, 0, len(records))
	for _, rec := range records {
		matches = append(matches, VectorMatch{
			Record:   rec,
			Distance: cosineDistance(query, rec.Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryVectorStore) DeleteByFile(_ context.Context, collection string, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.collections[collection]
	kept := records[:0]
	for _, rec := range records {
		if rec.FileID != fileID {
			kept = append(kept, rec)
		}
	}
	s.collections[collection] = kept
	return nil
}

// cosineDistance is 1 minus cosine similarity. Mismatched or zero-norm
// vectors are treated as maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

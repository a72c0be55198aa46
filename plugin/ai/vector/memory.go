package vector

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
)

// MemoryIndex is an in-process Index using brute-force cosine similarity.
// It backs the SQLite deployment and tests.
type MemoryIndex struct {
	mu         sync.RWMutex
	dimensions int
	records    map[string]*storedRecord
}

type storedRecord struct {
	vector   []float32
	metadata Metadata
	tagIDs   string
}

// NewMemoryIndex creates an empty index. A positive dimensions value rejects vectors of any other length.
func NewMemoryIndex(dimensions int) *MemoryIndex {
	return &MemoryIndex{
		dimensions: dimensions,
		records:    make(map[string]*storedRecord),
	}
}

func (m *MemoryIndex) Upsert(_ context.Context, id string, vector []float32, metadata Metadata) error {
	if id == "" {
		return errors.New("vector id is required")
	}
	if m.dimensions > 0 && len(vector) != m.dimensions {
		return errors.Errorf("vector has %d dimensions, index expects %d", len(vector), m.dimensions)
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)
	tagIDs := EncodeTagIDs(metadata.TagIDs)
	metadata.TagIDs = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = &storedRecord{
		vector:   stored,
		metadata: metadata,
		tagIDs:   tagIDs,
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	if opts.Filter.OrganizationID == "" {
		return nil, errors.New("organization filter is required")
	}
	topK := clampTopK(opts.TopK)

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := []Match{}
	for id, stored := range m.records {
		if !matchesFilter(stored.metadata, opts.Filter) {
			continue
		}
		metadata := stored.metadata
		metadata.TagIDs = DecodeTagIDs(stored.tagIDs)
		results = append(results, Match{
			ID:       id,
			Score:    cosineSimilarity(vector, stored.vector),
			Metadata: metadata,
		})
	}

	sortMatches(results)
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryIndex) DeleteByIDs(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

// Len returns the number of stored records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Has reports whether a record exists for id.
func (m *MemoryIndex) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[id]
	return ok
}

// matchesFilter checks the equality predicates of filter.
// A record without the filtered organization never matches.
func matchesFilter(metadata Metadata, filter Filter) bool {
	if metadata.OrganizationID != filter.OrganizationID {
		return false
	}
	if filter.FolderID != nil && metadata.FolderID != *filter.FolderID {
		return false
	}
	return true
}

// cosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value clamped to [0, 1].
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return clampScore(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ Index = (*MemoryIndex)(nil)

// Package vector provides the similarity index holding one embedding per asset.
package vector

import (
	"context"
	"encoding/json"
	"sort"
)

// MaxTopK is the largest number of neighbors a single query may return.
const MaxTopK = 50

// Index defines the vector index contract.
// The index filter supports equality predicates only; tag membership and
// mime type prefixes are filtered by callers on the returned metadata.
type Index interface {
	// Upsert stores the vector for id, replacing any previous record.
	Upsert(ctx context.Context, id string, vector []float32, metadata Metadata) error

	// Query returns the nearest records that match the filter, most similar first.
	Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error)

	// DeleteByIDs removes the records for ids. Missing ids are ignored.
	DeleteByIDs(ctx context.Context, ids []string) error
}

// Metadata is stored alongside every vector.
type Metadata struct {
	OrganizationID string `json:"organizationId"`
	// FolderID is empty when the asset is not in a folder.
	FolderID string `json:"folderId"`
	MimeType string `json:"mimeType"`
	// CreatedAt is the asset creation time in epoch milliseconds.
	CreatedAt int64    `json:"createdAt"`
	TagIDs    []string `json:"-"`
}

// Filter restricts a query. OrganizationID is mandatory.
type Filter struct {
	OrganizationID string
	FolderID       *string
}

type QueryOptions struct {
	TopK   int
	Filter Filter
}

// Match is a single query result.
type Match struct {
	ID string
	// Score is the cosine similarity clamped to [0, 1]. Opposed vectors score 0.
	Score    float32
	Metadata Metadata
}

// EncodeTagIDs renders tag ids the way they are stored in the index.
func EncodeTagIDs(tagIDs []string) string {
	if tagIDs == nil {
		tagIDs = []string{}
	}
	b, _ := json.Marshal(tagIDs)
	return string(b)
}

// DecodeTagIDs parses stored tag ids. Malformed input yields no tags.
func DecodeTagIDs(raw string) []string {
	tagIDs := []string{}
	if raw == "" {
		return tagIDs
	}
	if err := json.Unmarshal([]byte(raw), &tagIDs); err != nil {
		return []string{}
	}
	return tagIDs
}

// sortMatches orders matches by score descending, id ascending between equal scores.
func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
}

func clampScore(score float64) float32 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return float32(score)
}

func clampTopK(topK int) int {
	if topK <= 0 || topK > MaxTopK {
		return MaxTopK
	}
	return topK
}

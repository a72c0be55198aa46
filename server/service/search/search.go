// Package search ranks assets by combining vector similarity with keyword matches.
package search

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/assetvault/plugin/ai"
	"github.com/hrygo/assetvault/plugin/ai/timeout"
	"github.com/hrygo/assetvault/plugin/ai/vector"
	"github.com/hrygo/assetvault/plugin/storage"
	apperrors "github.com/hrygo/assetvault/server/internal/errors"
	"github.com/hrygo/assetvault/server/internal/observability"
	"github.com/hrygo/assetvault/store"
)

// Search defaults.
// 搜索默认参数。
const (
	DefaultLimit        = 20
	MaxLimit            = 100
	DefaultMinScore     = float32(0.2)
	DefaultKeywordBoost = float32(0.3)
)

// MatchType tells which branch produced a result.
type MatchType string

const (
	MatchTypeSemantic MatchType = "semantic"
	MatchTypeKeyword  MatchType = "keyword"
	MatchTypeBoth     MatchType = "both"
)

// Options are the parameters of one search request.
// 单次搜索请求的参数。
type Options struct {
	// OrganizationID comes from the caller's credentials, never from the query.
	OrganizationID string
	Query          string
	Limit          int
	FolderID       *string
	// TagIDs keeps semantic matches tagged with at least one of the ids.
	TagIDs []string
	// MimeTypePrefix keeps semantic matches whose mime type starts with it, e.g. "image/".
	MimeTypePrefix string
	MinScore       *float32
	KeywordBoost   *float32
}

// Result is one ranked asset.
type Result struct {
	Asset     *store.Asset
	URL       string
	Score     float32
	MatchType MatchType
}

// assetStore is the part of *store.Store that search reads.
type assetStore interface {
	KeywordSearch(ctx context.Context, opts *store.KeywordSearchOptions) ([]*store.Asset, error)
	ListAssets(ctx context.Context, find *store.FindAsset) ([]*store.Asset, error)
}

// Service runs vector and hybrid searches for one deployment.
type Service struct {
	store    assetStore
	embedder ai.EmbeddingService
	index    vector.Index
	objects  storage.ObjectStorage
	metrics  *observability.Metrics
}

// NewService creates a search service. objects and metrics may be nil.
func NewService(st *store.Store, embedder ai.EmbeddingService, index vector.Index, objects storage.ObjectStorage, metrics *observability.Metrics) *Service {
	return &Service{
		store:    st,
		embedder: embedder,
		index:    index,
		objects:  objects,
		metrics:  metrics,
	}
}

// scored is a fusion candidate before hydration.
type scored struct {
	id           string
	vectorScore  float32
	keywordMatch bool
}

func (c *scored) combined(keywordBoost float32) float32 {
	if c.keywordMatch {
		return c.vectorScore + keywordBoost
	}
	return c.vectorScore
}

func (c *scored) matchType() MatchType {
	switch {
	case c.vectorScore > 0 && c.keywordMatch:
		return MatchTypeBoth
	case c.keywordMatch:
		return MatchTypeKeyword
	default:
		return MatchTypeSemantic
	}
}

// HybridSearch fuses the semantic and keyword branches into one ranked list.
// An empty query returns no results without touching any backend.
//
// 混合检索：语义分支与关键词分支并行执行，任一失败则整体失败。
func (s *Service) HybridSearch(ctx context.Context, opts *Options) (results []*Result, err error) {
	if strings.TrimSpace(opts.Query) == "" {
		return []*Result{}, nil
	}
	start := time.Now()
	defer func() { s.metrics.RecordSearch("hybrid", time.Since(start), len(results), err) }()

	opts, err = normalize(opts)
	if err != nil {
		return nil, err
	}

	var matches []vector.Match
	var keywordHits []*store.Asset
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		matches, err = s.semantic(gctx, opts)
		return err
	})
	g.Go(func() error {
		var err error
		keywordHits, err = s.store.KeywordSearch(gctx, &store.KeywordSearchOptions{
			OrganizationID: opts.OrganizationID,
			Query:          opts.Query,
			FolderID:       opts.FolderID,
			Limit:          opts.Limit,
		})
		if err != nil {
			return apperrors.Transient(err, "keyword search failed")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	order := []string{}
	candidates := map[string]*scored{}
	for _, match := range matches {
		order = append(order, match.ID)
		candidates[match.ID] = &scored{id: match.ID, vectorScore: match.Score}
	}
	for _, asset := range keywordHits {
		if c, ok := candidates[asset.ID]; ok {
			c.keywordMatch = true
			continue
		}
		order = append(order, asset.ID)
		candidates[asset.ID] = &scored{id: asset.ID, keywordMatch: true}
	}

	ranked := make([]*scored, 0, len(order))
	for _, id := range order {
		ranked = append(ranked, candidates[id])
	}
	boost := *opts.KeywordBoost
	// Equal scores keep insertion order: semantic hits first, then keyword-only hits.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].combined(boost) > ranked[j].combined(boost)
	})
	if len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}

	results, err = s.hydrate(ctx, opts.OrganizationID, ranked, func(c *scored) (float32, MatchType) {
		return c.combined(boost), c.matchType()
	})
	if err != nil {
		return nil, err
	}
	observability.LoggerFromContext(ctx).Debug("hybrid search",
		slog.Int("semantic", len(matches)),
		slog.Int("keyword", len(keywordHits)),
		slog.Int(observability.LogFieldResultCount, len(results)))
	return results, nil
}

// VectorSearch ranks assets by similarity alone.
func (s *Service) VectorSearch(ctx context.Context, opts *Options) (results []*Result, err error) {
	if strings.TrimSpace(opts.Query) == "" {
		return []*Result{}, nil
	}
	start := time.Now()
	defer func() { s.metrics.RecordSearch("vector", time.Since(start), len(results), err) }()

	opts, err = normalize(opts)
	if err != nil {
		return nil, err
	}
	matches, err := s.semantic(ctx, opts)
	if err != nil {
		return nil, err
	}

	ranked := make([]*scored, 0, len(matches))
	for _, match := range matches {
		ranked = append(ranked, &scored{id: match.ID, vectorScore: match.Score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].vectorScore > ranked[j].vectorScore
	})
	if len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}
	return s.hydrate(ctx, opts.OrganizationID, ranked, func(c *scored) (float32, MatchType) {
		return c.vectorScore, MatchTypeSemantic
	})
}

// semantic embeds the query, queries the index and applies the filters the
// index cannot express.
func (s *Service) semantic(ctx context.Context, opts *Options) ([]vector.Match, error) {
	embedCtx, cancel := context.WithTimeout(ctx, timeout.EmbeddingTimeout)
	queryVector, err := s.embedder.Embed(embedCtx, opts.Query)
	cancel()
	if err != nil {
		return nil, apperrors.Transient(err, "failed to embed query")
	}

	indexCtx, cancel := context.WithTimeout(ctx, timeout.VectorIndexTimeout)
	defer cancel()
	matches, err := s.index.Query(indexCtx, queryVector, vector.QueryOptions{
		TopK: min(opts.Limit, vector.MaxTopK),
		Filter: vector.Filter{
			OrganizationID: opts.OrganizationID,
			FolderID:       opts.FolderID,
		},
	})
	if err != nil {
		return nil, apperrors.Transient(err, "vector query failed")
	}

	kept := make([]vector.Match, 0, len(matches))
	for _, match := range matches {
		if match.Score < *opts.MinScore {
			continue
		}
		// The index filter is trusted but not relied upon.
		if match.Metadata.OrganizationID != "" && match.Metadata.OrganizationID != opts.OrganizationID {
			continue
		}
		if opts.MimeTypePrefix != "" && !strings.HasPrefix(match.Metadata.MimeType, opts.MimeTypePrefix) {
			continue
		}
		if len(opts.TagIDs) > 0 && !hasAnyTag(match.Metadata.TagIDs, opts.TagIDs) {
			continue
		}
		kept = append(kept, match)
	}
	return kept, nil
}

// hydrate loads the ranked assets in one tenant scoped query and drops ids
// that no longer exist.
func (s *Service) hydrate(ctx context.Context, organizationID string, ranked []*scored, score func(*scored) (float32, MatchType)) ([]*Result, error) {
	if len(ranked) == 0 {
		return []*Result{}, nil
	}
	ids := make([]string, 0, len(ranked))
	for _, c := range ranked {
		ids = append(ids, c.id)
	}
	assets, err := s.store.ListAssets(ctx, &store.FindAsset{IDList: ids, OrganizationID: &organizationID})
	if err != nil {
		return nil, apperrors.Transient(err, "failed to load search results")
	}
	byID := make(map[string]*store.Asset, len(assets))
	for _, asset := range assets {
		byID[asset.ID] = asset
	}

	results := make([]*Result, 0, len(ranked))
	for _, c := range ranked {
		asset, ok := byID[c.id]
		if !ok {
			continue
		}
		value, matchType := score(c)
		result := &Result{Asset: asset, Score: value, MatchType: matchType}
		if s.objects != nil {
			result.URL = s.objects.PublicURL(asset.StorageKey)
		}
		results = append(results, result)
	}
	return results, nil
}

// normalize validates opts and returns a copy with defaults applied.
func normalize(opts *Options) (*Options, error) {
	if opts.OrganizationID == "" {
		return nil, apperrors.InvalidArgument("organization id is required")
	}
	normalized := *opts
	normalized.Query = strings.TrimSpace(opts.Query)
	if normalized.Limit <= 0 {
		normalized.Limit = DefaultLimit
	}
	if normalized.Limit > MaxLimit {
		normalized.Limit = MaxLimit
	}
	if normalized.MinScore == nil {
		minScore := DefaultMinScore
		normalized.MinScore = &minScore
	}
	if normalized.KeywordBoost == nil {
		boost := DefaultKeywordBoost
		normalized.KeywordBoost = &boost
	}
	if *normalized.KeywordBoost < 0 {
		return nil, apperrors.InvalidArgument("keyword boost must not be negative")
	}
	return &normalized, nil
}

func hasAnyTag(tagIDs, wanted []string) bool {
	for _, id := range wanted {
		if slices.Contains(tagIDs, id) {
			return true
		}
	}
	return false
}

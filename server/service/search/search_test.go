package search

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/assetvault/plugin/ai/vector"
	apperrors "github.com/hrygo/assetvault/server/internal/errors"
	"github.com/hrygo/assetvault/server/internal/observability"
	"github.com/hrygo/assetvault/store"
	storetest "github.com/hrygo/assetvault/store/test"
)

// queryVector is returned for every query; assets get vectors with a chosen cosine to it.
var queryVector = []float32{1, 0, 0, 0}

// vectorWithScore returns a unit vector whose cosine similarity with queryVector is score.
func vectorWithScore(score float64) []float32 {
	return []float32{float32(score), float32(math.Sqrt(1 - score*score)), 0, 0}
}

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return queryVector, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := [][]float32{}
	for _, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (*fakeEmbedder) Dimensions() int { return len(queryVector) }

func (*fakeEmbedder) Model() string { return "fake" }

type fakeObjects struct{}

func (fakeObjects) Get(context.Context, string) ([]byte, error) { return nil, errors.New("unused") }

func (fakeObjects) PublicURL(key string) string { return "https://cdn.example.com/" + key }

// countingIndex records calls and can return canned matches or errors.
type countingIndex struct {
	vector.Index
	calls   atomic.Int32
	err     error
	matches []vector.Match
}

func (i *countingIndex) Query(ctx context.Context, v []float32, opts vector.QueryOptions) ([]vector.Match, error) {
	i.calls.Add(1)
	if i.err != nil {
		return nil, i.err
	}
	if i.matches != nil {
		return i.matches, nil
	}
	return i.Index.Query(ctx, v, opts)
}

type testEnv struct {
	store    *store.Store
	embedder *fakeEmbedder
	index    *countingIndex
	service  *Service
}

func newTestEnv(ctx context.Context, t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    storetest.NewTestingStore(ctx, t),
		embedder: &fakeEmbedder{},
		index:    &countingIndex{Index: vector.NewMemoryIndex(len(queryVector))},
	}
	env.service = NewService(env.store, env.embedder, env.index, fakeObjects{}, observability.NewMetrics(observability.DefaultMetricsConfig()))
	return env
}

type assetSpec struct {
	org         string
	filename    string
	mimeType    string
	description string
	folderID    string
	tagIDs      []string
	// score is the similarity to queryVector; negative means no vector.
	score float64
}

func (env *testEnv) add(ctx context.Context, t *testing.T, fixture assetSpec) *store.Asset {
	t.Helper()
	if fixture.mimeType == "" {
		fixture.mimeType = "image/jpeg"
	}
	create := &store.Asset{
		OrganizationID: fixture.org,
		Filename:       fixture.filename,
		MimeType:       fixture.mimeType,
		StorageKey:     fixture.org + "/" + fixture.filename,
	}
	if fixture.description != "" {
		create.Description = &fixture.description
	}
	if fixture.folderID != "" {
		create.FolderID = &fixture.folderID
	}
	asset, err := env.store.CreateAsset(ctx, create)
	require.NoError(t, err)
	if fixture.score >= 0 {
		require.NoError(t, env.index.Upsert(ctx, asset.ID, vectorWithScore(fixture.score), vector.Metadata{
			OrganizationID: fixture.org,
			FolderID:       fixture.folderID,
			MimeType:       fixture.mimeType,
			CreatedAt:      asset.CreatedTs * 1000,
			TagIDs:         fixture.tagIDs,
		}))
	}
	return asset
}

func ids(results []*Result) []string {
	out := []string{}
	for _, r := range results {
		out = append(out, r.Asset.ID)
	}
	return out
}

func TestHybridSearchScoring(t *testing.T) {
	ctx := context.Background()

	t.Run("semantic and keyword only", func(t *testing.T) {
		env := newTestEnv(ctx, t)
		x := env.add(ctx, t, assetSpec{org: "org-1", filename: "report.jpg", score: 0.5})
		y := env.add(ctx, t, assetSpec{org: "org-1", filename: "sunset-beach.jpg", score: -1})

		results, err := env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "sunset"})
		require.NoError(t, err)
		require.Equal(t, []string{x.ID, y.ID}, ids(results))

		assert.InDelta(t, 0.5, results[0].Score, 1e-4)
		assert.Equal(t, MatchTypeSemantic, results[0].MatchType)
		assert.InDelta(t, 0.3, results[1].Score, 1e-6)
		assert.Equal(t, MatchTypeKeyword, results[1].MatchType)
		assert.Equal(t, "https://cdn.example.com/org-1/sunset-beach.jpg", results[1].URL)
	})

	t.Run("both branches", func(t *testing.T) {
		env := newTestEnv(ctx, t)
		x := env.add(ctx, t, assetSpec{org: "org-1", filename: "report.jpg", description: "Sunset over hills", score: 0.5})
		y := env.add(ctx, t, assetSpec{org: "org-1", filename: "sunset-beach.jpg", score: -1})

		results, err := env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "sunset"})
		require.NoError(t, err)
		require.Equal(t, []string{x.ID, y.ID}, ids(results))
		assert.InDelta(t, 0.8, results[0].Score, 1e-4)
		assert.Equal(t, MatchTypeBoth, results[0].MatchType)
		assert.Equal(t, MatchTypeKeyword, results[1].MatchType)
	})

	t.Run("custom boost", func(t *testing.T) {
		env := newTestEnv(ctx, t)
		x := env.add(ctx, t, assetSpec{org: "org-1", filename: "report.jpg", score: 0.5})
		y := env.add(ctx, t, assetSpec{org: "org-1", filename: "sunset.jpg", score: -1})

		boost := float32(0.7)
		results, err := env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "sunset", KeywordBoost: &boost})
		require.NoError(t, err)
		assert.Equal(t, []string{y.ID, x.ID}, ids(results))
	})
}

func TestHybridSearchMinScore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	weakKeyword := env.add(ctx, t, assetSpec{org: "org-1", filename: "dusk.jpg", description: "sunset colors", score: 0.1})
	env.add(ctx, t, assetSpec{org: "org-1", filename: "unrelated.jpg", score: 0.1})
	strong := env.add(ctx, t, assetSpec{org: "org-1", filename: "sky.jpg", score: 0.9})

	results, err := env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "sunset"})
	require.NoError(t, err)
	require.Equal(t, []string{strong.ID, weakKeyword.ID}, ids(results))
	assert.Equal(t, MatchTypeKeyword, results[1].MatchType)
	assert.InDelta(t, 0.3, results[1].Score, 1e-6)

	minScore := float32(0.95)
	results, err = env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "sunset", MinScore: &minScore})
	require.NoError(t, err)
	assert.Equal(t, []string{weakKeyword.ID}, ids(results))
}

func TestHybridSearchTenantIsolation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	mine := env.add(ctx, t, assetSpec{org: "org-a", filename: "sunset.jpg", score: 0.4})
	theirs := env.add(ctx, t, assetSpec{org: "org-b", filename: "sunset-best.jpg", score: 0.99})

	results, err := env.service.HybridSearch(ctx, &Options{OrganizationID: "org-a", Query: "sunset"})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, ids(results))

	// A misconfigured index leaking another tenant's vector is caught at hydration.
	env.index.matches = []vector.Match{
		{ID: theirs.ID, Score: 0.99},
		{ID: mine.ID, Score: 0.4, Metadata: vector.Metadata{OrganizationID: "org-a"}},
	}
	results, err = env.service.HybridSearch(ctx, &Options{OrganizationID: "org-a", Query: "sunset"})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, ids(results))
	for _, r := range results {
		assert.Equal(t, "org-a", r.Asset.OrganizationID)
	}
}

func TestHybridSearchEmptyQuery(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{}
	index := &countingIndex{}
	service := NewService(nil, embedder, index, nil, nil)

	for _, query := range []string{"", "   "} {
		results, err := service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: query})
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = service.VectorSearch(ctx, &Options{OrganizationID: "org-1", Query: query})
		require.NoError(t, err)
		assert.Empty(t, results)
	}
	assert.Zero(t, embedder.calls.Load())
	assert.Zero(t, index.calls.Load())
}

func TestHybridSearchFilters(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	photo := env.add(ctx, t, assetSpec{org: "org-1", filename: "a.jpg", mimeType: "image/jpeg", tagIDs: []string{"t-nature"}, score: 0.9})
	video := env.add(ctx, t, assetSpec{org: "org-1", filename: "b.mp4", mimeType: "video/mp4", tagIDs: []string{"t-nature"}, score: 0.8})
	untagged := env.add(ctx, t, assetSpec{org: "org-1", filename: "c.png", mimeType: "image/png", score: 0.7})
	inFolder := env.add(ctx, t, assetSpec{org: "org-1", filename: "d.png", mimeType: "image/png", folderID: "f-1", score: 0.6})

	results, err := env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "zzz", MimeTypePrefix: "image/"})
	require.NoError(t, err)
	assert.Equal(t, []string{photo.ID, untagged.ID, inFolder.ID}, ids(results))

	results, err = env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "zzz", TagIDs: []string{"t-nature", "t-city"}})
	require.NoError(t, err)
	assert.Equal(t, []string{photo.ID, video.ID}, ids(results))

	folderID := "f-1"
	results, err = env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "zzz", FolderID: &folderID})
	require.NoError(t, err)
	assert.Equal(t, []string{inFolder.ID}, ids(results))
}

func TestHybridSearchLimitAndHydration(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	first := env.add(ctx, t, assetSpec{org: "org-1", filename: "a.jpg", score: 0.9})
	deleted := env.add(ctx, t, assetSpec{org: "org-1", filename: "b.jpg", score: 0.8})
	third := env.add(ctx, t, assetSpec{org: "org-1", filename: "c.jpg", score: 0.7})
	env.add(ctx, t, assetSpec{org: "org-1", filename: "d.jpg", score: 0.6})

	results, err := env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "zzz", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, deleted.ID}, ids(results))

	// Deleted between the index query and hydration: the vector is still there.
	require.NoError(t, env.store.DeleteAsset(ctx, &store.DeleteAsset{ID: deleted.ID}))
	results, err = env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "zzz", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, third.ID}, ids(results))
}

func TestHybridSearchFailsWhenABranchFails(t *testing.T) {
	ctx := context.Background()

	t.Run("embedding", func(t *testing.T) {
		env := newTestEnv(ctx, t)
		env.add(ctx, t, assetSpec{org: "org-1", filename: "sunset.jpg", score: -1})
		env.embedder.err = errors.New("model timeout")

		_, err := env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "sunset"})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeTransient, apperrors.CodeOf(err))
	})

	t.Run("index", func(t *testing.T) {
		env := newTestEnv(ctx, t)
		env.add(ctx, t, assetSpec{org: "org-1", filename: "sunset.jpg", score: -1})
		env.index.err = errors.New("index unavailable")

		_, err := env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "sunset"})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeTransient, apperrors.CodeOf(err))
	})
}

// gatedStore signals when the keyword query starts and can fail it.
type gatedStore struct {
	assetStore
	keywordStarted chan struct{}
	keywordErr     error
}

func (s *gatedStore) KeywordSearch(ctx context.Context, opts *store.KeywordSearchOptions) ([]*store.Asset, error) {
	if s.keywordStarted != nil {
		close(s.keywordStarted)
	}
	if s.keywordErr != nil {
		return nil, s.keywordErr
	}
	return s.assetStore.KeywordSearch(ctx, opts)
}

// gatedEmbedder blocks until release is closed or ctx is done.
type gatedEmbedder struct {
	fakeEmbedder
	release <-chan struct{}
}

func (e *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-e.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.fakeEmbedder.Embed(ctx, text)
}

func TestHybridSearchRunsBranchesConcurrently(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	both := env.add(ctx, t, assetSpec{org: "org-1", filename: "sunset-beach.jpg", score: 0.9})

	// The embedder only returns once the keyword query is running, so a
	// sequential implementation would wait for the deadline and fail.
	keywordStarted := make(chan struct{})
	env.service.store = &gatedStore{assetStore: env.store, keywordStarted: keywordStarted}
	env.service.embedder = &gatedEmbedder{release: keywordStarted}

	searchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	results, err := env.service.HybridSearch(searchCtx, &Options{OrganizationID: "org-1", Query: "sunset"})
	require.NoError(t, err)
	require.Equal(t, []string{both.ID}, ids(results))
	assert.Equal(t, MatchTypeBoth, results[0].MatchType)
}

func TestHybridSearchFailsWhenKeywordBranchFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.add(ctx, t, assetSpec{org: "org-1", filename: "sunset.jpg", score: 0.9})
	env.service.store = &gatedStore{assetStore: env.store, keywordErr: errors.New("database is locked")}

	results, err := env.service.HybridSearch(ctx, &Options{OrganizationID: "org-1", Query: "sunset"})
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Equal(t, apperrors.ErrCodeTransient, apperrors.CodeOf(err))
}

func TestHybridSearchRequiresOrganization(t *testing.T) {
	env := newTestEnv(context.Background(), t)
	_, err := env.service.HybridSearch(context.Background(), &Options{Query: "sunset"})
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.CodeOf(err))
}

func TestVectorSearch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	high := env.add(ctx, t, assetSpec{org: "org-1", filename: "sunset-a.jpg", score: 0.9})
	low := env.add(ctx, t, assetSpec{org: "org-1", filename: "b.jpg", score: 0.3})
	env.add(ctx, t, assetSpec{org: "org-1", filename: "sunset-only-keyword.jpg", score: -1})
	env.add(ctx, t, assetSpec{org: "org-1", filename: "c.jpg", score: 0.1})

	results, err := env.service.VectorSearch(ctx, &Options{OrganizationID: "org-1", Query: "sunset"})
	require.NoError(t, err)
	require.Equal(t, []string{high.ID, low.ID}, ids(results))
	for _, r := range results {
		assert.Equal(t, MatchTypeSemantic, r.MatchType)
	}
	assert.InDelta(t, 0.9, results[0].Score, 1e-4)
}

func TestNormalize(t *testing.T) {
	opts, err := normalize(&Options{OrganizationID: "org-1", Query: "  cat ", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, "cat", opts.Query)
	assert.Equal(t, MaxLimit, opts.Limit)
	assert.Equal(t, DefaultMinScore, *opts.MinScore)
	assert.Equal(t, DefaultKeywordBoost, *opts.KeywordBoost)

	opts, err = normalize(&Options{OrganizationID: "org-1", Query: "cat"})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, opts.Limit)

	boost := float32(-1)
	_, err = normalize(&Options{OrganizationID: "org-1", Query: "cat", KeywordBoost: &boost})
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.CodeOf(err))
}

package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/assetvault/plugin/ai/vector"
	"github.com/hrygo/assetvault/plugin/queue"
	apperrors "github.com/hrygo/assetvault/server/internal/errors"
	"github.com/hrygo/assetvault/store"
)

func TestGenerateAssetEmbedding(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.captioner = nil
	env.pipeline.captioner = nil

	folderID := "folder-1"
	altText := "Golden retriever"
	asset, err := env.store.CreateAsset(ctx, &store.Asset{
		OrganizationID: "org-1",
		FolderID:       &folderID,
		Filename:       "Dog_Park-2024.png",
		MimeType:       "image/png",
		AltText:        &altText,
		StorageKey:     "org-1/dog.png",
	})
	require.NoError(t, err)
	tag, err := env.store.CreateTag(ctx, &store.Tag{OrganizationID: "org-1", Name: "pets"})
	require.NoError(t, err)
	require.NoError(t, env.store.UpsertAssetTag(ctx, &store.AssetTag{AssetID: asset.ID, TagID: tag.ID}))
	env.setStatus(ctx, t, asset.ID, store.EmbeddingStatusProcessing, nil)

	require.NoError(t, env.pipeline.GenerateAssetEmbedding(ctx, asset.ID))

	assert.Equal(t, []string{"dog park 2024 | Golden retriever | pets"}, env.embedder.calls())

	got := env.getAsset(ctx, t, asset.ID)
	assert.Equal(t, store.EmbeddingStatusCompleted, got.EmbeddingStatus)
	assert.NotNil(t, got.EmbeddedTs)
	assert.Nil(t, got.EmbeddingError)

	vec, err := env.embedder.Embed(ctx, "dog park 2024 | Golden retriever | pets")
	require.NoError(t, err)
	matches, err := env.index.Query(ctx, vec, vector.QueryOptions{TopK: 5, Filter: vector.Filter{OrganizationID: "org-1"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, asset.ID, matches[0].ID)
	assert.Equal(t, vector.Metadata{
		OrganizationID: "org-1",
		FolderID:       "folder-1",
		MimeType:       "image/png",
		CreatedAt:      asset.CreatedTs * 1000,
		TagIDs:         []string{tag.ID},
	}, matches[0].Metadata)
}

func TestGenerateAssetEmbeddingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	asset := env.createAsset(ctx, t, "org-1", "report.pdf", "application/pdf")

	require.NoError(t, env.pipeline.GenerateAssetEmbedding(ctx, asset.ID))
	require.NoError(t, env.pipeline.GenerateAssetEmbedding(ctx, asset.ID))

	assert.Equal(t, 1, env.index.Len())
	assert.True(t, env.index.Has(asset.ID))
	assert.Equal(t, store.EmbeddingStatusCompleted, env.getAsset(ctx, t, asset.ID).EmbeddingStatus)
	assert.Equal(t, 0, env.captioner.calls, "pdf is not captionable")
}

func TestGenerateAssetEmbeddingCaptionsOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	asset := env.createAsset(ctx, t, "org-1", "IMG_0042.jpg", "image/jpeg")

	require.NoError(t, env.pipeline.GenerateAssetEmbedding(ctx, asset.ID))
	require.NoError(t, env.pipeline.GenerateAssetEmbedding(ctx, asset.ID))

	assert.Equal(t, 1, env.captioner.calls)
	got := env.getAsset(ctx, t, asset.ID)
	require.NotNil(t, got.AICaption)
	assert.Equal(t, "a dog running on a beach", *got.AICaption)
	assert.Equal(t, "fake-vision", *got.AICaptionModel)
	assert.Equal(t, []string{
		"img 0042 | a dog running on a beach",
		"img 0042 | a dog running on a beach",
	}, env.embedder.calls())
}

func TestGenerateAssetEmbeddingSkipsSVGCaption(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	asset := env.createAsset(ctx, t, "org-1", "logo.svg", "image/svg+xml")

	require.NoError(t, env.pipeline.GenerateAssetEmbedding(ctx, asset.ID))
	assert.Equal(t, 0, env.captioner.calls)
}

func TestGenerateAssetEmbeddingCaptionFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.captioner.err = errors.New("vision model overloaded")
	asset := env.createAsset(ctx, t, "org-1", "sunset.webp", "image/webp")

	require.NoError(t, env.pipeline.GenerateAssetEmbedding(ctx, asset.ID))

	got := env.getAsset(ctx, t, asset.ID)
	assert.Equal(t, store.EmbeddingStatusCompleted, got.EmbeddingStatus)
	assert.Nil(t, got.AICaption)
	assert.True(t, env.index.Has(asset.ID))
	assert.Equal(t, []string{"sunset"}, env.embedder.calls())
}

func TestGenerateAssetEmbeddingMissingObjectIsNotFatal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	asset := env.createAsset(ctx, t, "org-1", "missing.gif", "image/gif")
	delete(env.objects, asset.StorageKey)

	require.NoError(t, env.pipeline.GenerateAssetEmbedding(ctx, asset.ID))
	assert.Equal(t, 0, env.captioner.calls)
	assert.True(t, env.index.Has(asset.ID))
}

func TestGenerateAssetEmbeddingKeepsCaptionWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.embedder.err = errors.New("connection reset")
	asset := env.createAsset(ctx, t, "org-1", "cat.png", "image/png")
	env.setStatus(ctx, t, asset.ID, store.EmbeddingStatusProcessing, nil)

	err := env.pipeline.GenerateAssetEmbedding(ctx, asset.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTransient, apperrors.CodeOf(err))

	got := env.getAsset(ctx, t, asset.ID)
	require.NotNil(t, got.AICaption)
	assert.Equal(t, store.EmbeddingStatusProcessing, got.EmbeddingStatus)
	assert.False(t, env.index.Has(asset.ID))
}

func TestGenerateAssetEmbeddingNotFound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)

	err := env.pipeline.GenerateAssetEmbedding(ctx, "missing")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
	assert.Empty(t, env.embedder.calls())
}

func TestQueueEmbedding(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	asset := env.createAsset(ctx, t, "org-1", "a.jpg", "image/jpeg")

	require.NoError(t, env.pipeline.QueueEmbedding(ctx, "org-1", asset.ID))
	assert.Equal(t, store.EmbeddingStatusProcessing, env.getAsset(ctx, t, asset.ID).EmbeddingStatus)
	require.Len(t, env.queue.sent, 1)
	assert.Equal(t, asset.ID, env.queue.sent[0].AssetID)
	assert.Zero(t, env.queue.sent[0].RetryCount)
	assert.NotZero(t, env.queue.sent[0].EnqueuedAt)

	// Already in flight: sent again, status unchanged.
	require.NoError(t, env.pipeline.QueueEmbedding(ctx, "org-1", asset.ID))
	assert.Equal(t, store.EmbeddingStatusProcessing, env.getAsset(ctx, t, asset.ID).EmbeddingStatus)
	assert.Len(t, env.queue.sent, 2)

	// Re-embedding a completed asset is allowed.
	env.setStatus(ctx, t, asset.ID, store.EmbeddingStatusCompleted, nil)
	require.NoError(t, env.pipeline.QueueEmbedding(ctx, "org-1", asset.ID))
	assert.Len(t, env.queue.sent, 3)

	// Failed assets must be reset first.
	reason := "boom"
	env.setStatus(ctx, t, asset.ID, store.EmbeddingStatusFailed, &reason)
	err := env.pipeline.QueueEmbedding(ctx, "org-1", asset.ID)
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.CodeOf(err))

	err = env.pipeline.QueueEmbedding(ctx, "org-2", asset.ID)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
}

func TestQueueEmbeddingRevertsOnSendFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.queue.err = queue.ErrQueueFull
	asset := env.createAsset(ctx, t, "org-1", "a.jpg", "image/jpeg")

	err := env.pipeline.QueueEmbedding(ctx, "org-1", asset.ID)
	assert.Equal(t, apperrors.ErrCodeTransient, apperrors.CodeOf(err))
	assert.ErrorIs(t, err, queue.ErrQueueFull)
	assert.Equal(t, store.EmbeddingStatusPending, env.getAsset(ctx, t, asset.ID).EmbeddingStatus)
}

func TestQueueEmbeddingRecoversLostMessage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	asset := env.createAsset(ctx, t, "org-1", "a.jpg", "image/jpeg")

	lost := queue.NewMemoryQueue(10)
	env.pipeline.queue = lost
	require.NoError(t, env.pipeline.QueueEmbedding(ctx, "org-1", asset.ID))
	require.NoError(t, lost.Close())

	// A restarted process gets a fresh, empty queue.
	fresh := queue.NewMemoryQueue(10)
	t.Cleanup(func() { fresh.Close() })
	env.pipeline.queue = fresh
	require.NoError(t, env.pipeline.QueueEmbedding(ctx, "org-1", asset.ID))
	assert.Equal(t, 1, fresh.Len())
	assert.Equal(t, store.EmbeddingStatusProcessing, env.getAsset(ctx, t, asset.ID).EmbeddingStatus)

	deliveries, err := fresh.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.NoError(t, env.pipeline.GenerateAssetEmbedding(ctx, deliveries[0].Message().AssetID))
	assert.Equal(t, store.EmbeddingStatusCompleted, env.getAsset(ctx, t, asset.ID).EmbeddingStatus)
}

func TestQueueEmbeddingResendFailureKeepsProcessing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	asset := env.createAsset(ctx, t, "org-1", "a.jpg", "image/jpeg")
	env.setStatus(ctx, t, asset.ID, store.EmbeddingStatusProcessing, nil)
	env.queue.err = queue.ErrQueueFull

	err := env.pipeline.QueueEmbedding(ctx, "org-1", asset.ID)
	assert.Equal(t, apperrors.ErrCodeTransient, apperrors.CodeOf(err))
	assert.Equal(t, store.EmbeddingStatusProcessing, env.getAsset(ctx, t, asset.ID).EmbeddingStatus)
}

func TestGenerateAssetEmbeddingDeletedMidway(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	asset := env.createAsset(ctx, t, "org-1", "a.pdf", "application/pdf")
	env.setStatus(ctx, t, asset.ID, store.EmbeddingStatusProcessing, nil)

	deleted := false
	env.embedder.onEmbed = func() {
		if !deleted {
			deleted = true
			require.NoError(t, env.pipeline.DeleteAsset(ctx, "org-1", asset.ID))
		}
	}

	err := env.pipeline.GenerateAssetEmbedding(ctx, asset.ID)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
	assert.Nil(t, env.getAsset(ctx, t, asset.ID))
	assert.False(t, env.index.Has(asset.ID))
	assert.Zero(t, env.index.Len())
}

func TestDeleteAssetRemovesVector(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	asset := env.createAsset(ctx, t, "org-1", "a.pdf", "application/pdf")
	require.NoError(t, env.pipeline.GenerateAssetEmbedding(ctx, asset.ID))
	require.True(t, env.index.Has(asset.ID))

	err := env.pipeline.DeleteAsset(ctx, "org-2", asset.ID)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
	assert.True(t, env.index.Has(asset.ID))

	require.NoError(t, env.pipeline.DeleteAsset(ctx, "org-1", asset.ID))
	assert.False(t, env.index.Has(asset.ID))
	assert.Nil(t, env.getAsset(ctx, t, asset.ID))

	vec, err := env.embedder.Embed(ctx, "a")
	require.NoError(t, err)
	matches, err := env.index.Query(ctx, vec, vector.QueryOptions{TopK: 10, Filter: vector.Filter{OrganizationID: "org-1"}})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDeleteAssetsIsTenantScoped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	mine1 := env.createAsset(ctx, t, "org-1", "one.pdf", "application/pdf")
	mine2 := env.createAsset(ctx, t, "org-1", "two.pdf", "application/pdf")
	theirs := env.createAsset(ctx, t, "org-2", "three.pdf", "application/pdf")
	for _, asset := range []*store.Asset{mine1, mine2, theirs} {
		require.NoError(t, env.pipeline.GenerateAssetEmbedding(ctx, asset.ID))
	}

	deleted, err := env.pipeline.DeleteAssets(ctx, "org-1", []string{mine1.ID, mine2.ID, theirs.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	assert.False(t, env.index.Has(mine1.ID))
	assert.False(t, env.index.Has(mine2.ID))
	assert.True(t, env.index.Has(theirs.ID))
	assert.NotNil(t, env.getAsset(ctx, t, theirs.ID))

	deleted, err = env.pipeline.DeleteAssets(ctx, "org-1", nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestMarkEmbeddingFailed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	asset := env.createAsset(ctx, t, "org-1", "a.pdf", "application/pdf")
	env.setStatus(ctx, t, asset.ID, store.EmbeddingStatusProcessing, nil)

	require.NoError(t, env.pipeline.MarkEmbeddingFailed(ctx, asset.ID, "model unavailable"))
	got := env.getAsset(ctx, t, asset.ID)
	assert.Equal(t, store.EmbeddingStatusFailed, got.EmbeddingStatus)
	require.NotNil(t, got.EmbeddingError)
	assert.Equal(t, "model unavailable", *got.EmbeddingError)

	// A completed asset is not downgraded by a late failure.
	other := env.createAsset(ctx, t, "org-1", "b.pdf", "application/pdf")
	require.NoError(t, env.pipeline.GenerateAssetEmbedding(ctx, other.ID))
	require.NoError(t, env.pipeline.MarkEmbeddingFailed(ctx, other.ID, "late"))
	assert.Equal(t, store.EmbeddingStatusCompleted, env.getAsset(ctx, t, other.ID).EmbeddingStatus)
}

func TestRetryAllFailed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	reason := "timeout"
	failed := env.createAsset(ctx, t, "org-1", "a.pdf", "application/pdf")
	env.setStatus(ctx, t, failed.ID, store.EmbeddingStatusFailed, &reason)
	completed := env.createAsset(ctx, t, "org-1", "b.pdf", "application/pdf")
	env.setStatus(ctx, t, completed.ID, store.EmbeddingStatusCompleted, nil)
	otherTenant := env.createAsset(ctx, t, "org-2", "c.pdf", "application/pdf")
	env.setStatus(ctx, t, otherTenant.ID, store.EmbeddingStatusFailed, &reason)

	count, err := env.pipeline.RetryAllFailed(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got := env.getAsset(ctx, t, failed.ID)
	assert.Equal(t, store.EmbeddingStatusPending, got.EmbeddingStatus)
	assert.Nil(t, got.EmbeddingError)
	assert.Equal(t, store.EmbeddingStatusCompleted, env.getAsset(ctx, t, completed.ID).EmbeddingStatus)
	assert.Equal(t, store.EmbeddingStatusFailed, env.getAsset(ctx, t, otherTenant.ID).EmbeddingStatus)
	assert.Empty(t, env.queue.sent, "retry does not enqueue")

	_, err = env.pipeline.RetryAllFailed(ctx, "")
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.CodeOf(err))
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		env.createAsset(ctx, t, "org-1", name, "application/pdf")
	}
	done := env.createAsset(ctx, t, "org-1", "d.pdf", "application/pdf")
	env.setStatus(ctx, t, done.ID, store.EmbeddingStatusCompleted, nil)
	env.createAsset(ctx, t, "org-2", "e.pdf", "application/pdf")

	progress := []int{}
	result, err := env.pipeline.Backfill(ctx, "org-1", 2, func(n, total int) {
		assert.Equal(t, 2, total)
		progress = append(progress, n)
	})
	require.NoError(t, err)
	assert.Equal(t, &BackfillResult{Queued: 2}, result)
	assert.Equal(t, []int{1, 2}, progress)
	assert.Len(t, env.queue.sent, 2)

	counts, err := env.pipeline.StatusCounts(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[store.EmbeddingStatusPending])
	assert.Equal(t, int64(2), counts[store.EmbeddingStatusProcessing])
	assert.Equal(t, int64(1), counts[store.EmbeddingStatusCompleted])
	assert.Equal(t, int64(0), counts[store.EmbeddingStatusFailed])
}

func TestBackfillRequeuesStaleProcessing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	pending := env.createAsset(ctx, t, "org-1", "a.pdf", "application/pdf")
	stuck := env.createAsset(ctx, t, "org-1", "b.pdf", "application/pdf")
	env.setStatus(ctx, t, stuck.ID, store.EmbeddingStatusProcessing, nil)
	recent := env.createAsset(ctx, t, "org-1", "c.pdf", "application/pdf")
	env.setStatus(ctx, t, recent.ID, store.EmbeddingStatusProcessing, nil)

	old := time.Now().Add(-2 * DefaultStaleProcessingAfter).Unix()
	require.NoError(t, env.store.UpdateAsset(ctx, &store.UpdateAsset{ID: stuck.ID, UpdatedTs: &old}))

	result, err := env.pipeline.Backfill(ctx, "org-1", 10, nil)
	require.NoError(t, err)
	assert.Equal(t, &BackfillResult{Queued: 2}, result)

	sent := []string{}
	for _, msg := range env.queue.sent {
		sent = append(sent, msg.AssetID)
	}
	assert.ElementsMatch(t, []string{pending.ID, stuck.ID}, sent)

	// Pending assets fill the batch first.
	env.queue.sent = nil
	require.NoError(t, env.store.UpdateAsset(ctx, &store.UpdateAsset{ID: stuck.ID, UpdatedTs: &old}))
	another := env.createAsset(ctx, t, "org-1", "d.pdf", "application/pdf")
	result, err = env.pipeline.Backfill(ctx, "org-1", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, &BackfillResult{Queued: 1}, result)
	require.Len(t, env.queue.sent, 1)
	assert.Equal(t, another.ID, env.queue.sent[0].AssetID)
}

func TestBackfillCountsEnqueueFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.createAsset(ctx, t, "org-1", "a.pdf", "application/pdf")
	env.createAsset(ctx, t, "org-1", "b.pdf", "application/pdf")
	env.queue.err = queue.ErrQueueFull

	result, err := env.pipeline.Backfill(ctx, "org-1", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, &BackfillResult{Failed: 2}, result)

	counts, err := env.pipeline.StatusCounts(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[store.EmbeddingStatusPending])
}

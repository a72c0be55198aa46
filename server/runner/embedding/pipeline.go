// Package embedding keeps asset vectors in the vector index in sync with the relational store.
package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/assetvault/plugin/ai"
	"github.com/hrygo/assetvault/plugin/ai/timeout"
	"github.com/hrygo/assetvault/plugin/ai/vector"
	"github.com/hrygo/assetvault/plugin/queue"
	"github.com/hrygo/assetvault/plugin/storage"
	apperrors "github.com/hrygo/assetvault/server/internal/errors"
	"github.com/hrygo/assetvault/server/internal/observability"
	"github.com/hrygo/assetvault/store"
)

// DefaultBackfillBatchSize is used when a backfill does not name a batch size.
const DefaultBackfillBatchSize = 100

// DefaultStaleProcessingAfter is how long an asset may sit in processing
// before a backfill assumes its queue message was lost and queues it again.
const DefaultStaleProcessingAfter = 15 * time.Minute

// Pipeline generates, stores and removes asset embeddings.
type Pipeline struct {
	store     *store.Store
	embedder  ai.EmbeddingService
	captioner ai.CaptionService
	index     vector.Index
	queue     queue.Queue
	objects   storage.ObjectStorage
	metrics   *observability.Metrics

	staleProcessingAfter time.Duration
}

// Dependencies are the collaborators of a Pipeline.
// Captioner, Objects and Metrics are optional.
type Dependencies struct {
	Store     *store.Store
	Embedder  ai.EmbeddingService
	Captioner ai.CaptionService
	Index     vector.Index
	Queue     queue.Queue
	Objects   storage.ObjectStorage
	Metrics   *observability.Metrics

	// StaleProcessingAfter defaults to DefaultStaleProcessingAfter.
	StaleProcessingAfter time.Duration
}

func NewPipeline(deps Dependencies) *Pipeline {
	staleAfter := deps.StaleProcessingAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleProcessingAfter
	}
	return &Pipeline{
		store:                deps.Store,
		embedder:             deps.Embedder,
		captioner:            deps.Captioner,
		index:                deps.Index,
		queue:                deps.Queue,
		objects:              deps.Objects,
		metrics:              deps.Metrics,
		staleProcessingAfter: staleAfter,
	}
}

// GenerateAssetEmbedding captions (when possible), embeds and indexes one asset,
// then marks it completed. It is safe to run repeatedly for the same asset.
func (p *Pipeline) GenerateAssetEmbedding(ctx context.Context, assetID string) error {
	start := time.Now()
	defer func() { p.metrics.RecordGenerate(time.Since(start)) }()

	asset, err := p.store.GetAsset(ctx, &store.FindAsset{ID: &assetID})
	if err != nil {
		return apperrors.Transient(err, "failed to load asset")
	}
	if asset == nil {
		return apperrors.NotFound("asset %s not found", assetID)
	}

	caption := asset.AICaption
	if p.shouldCaption(asset) {
		if generated := p.generateCaption(ctx, asset); generated != nil {
			caption = generated
		}
	}

	tags, err := p.store.ListAssetTags(ctx, asset.ID)
	if err != nil {
		return apperrors.Transient(err, "failed to list asset tags")
	}
	tagNames := make([]string, 0, len(tags))
	tagIDs := make([]string, 0, len(tags))
	for _, tag := range tags {
		tagNames = append(tagNames, tag.Name)
		tagIDs = append(tagIDs, tag.ID)
	}

	text := ComposeEmbeddingText(asset.Filename, asset.AltText, asset.Description, caption, tagNames)
	if text == "" {
		return apperrors.Permanent(nil, "asset has no text to embed")
	}

	embedCtx, cancel := context.WithTimeout(ctx, timeout.EmbeddingTimeout)
	vec, err := p.embedder.Embed(embedCtx, text)
	cancel()
	if err != nil {
		return apperrors.Transient(err, "failed to embed asset text")
	}
	if len(vec) == 0 {
		return apperrors.Permanent(nil, "embedding model returned an empty vector")
	}

	folderID := ""
	if asset.FolderID != nil {
		folderID = *asset.FolderID
	}
	indexCtx, cancel := context.WithTimeout(ctx, timeout.VectorIndexTimeout)
	err = p.index.Upsert(indexCtx, asset.ID, vec, vector.Metadata{
		OrganizationID: asset.OrganizationID,
		FolderID:       folderID,
		MimeType:       asset.MimeType,
		CreatedAt:      asset.CreatedTs * 1000,
		TagIDs:         tagIDs,
	})
	cancel()
	if err != nil {
		return apperrors.Transient(err, "failed to upsert asset vector")
	}

	affected, err := p.store.TransitionEmbeddingStatus(ctx, &store.TransitionEmbeddingStatus{
		ID: &asset.ID,
		To: store.EmbeddingStatusCompleted,
	})
	if err != nil {
		return apperrors.Transient(err, "failed to mark asset completed")
	}
	if affected == 0 {
		// Deleted while embedding; the vector written above has no owner.
		if err := p.DeleteAssetVector(ctx, asset.ID); err != nil {
			return err
		}
		return apperrors.NotFound("asset %s was deleted during embedding", asset.ID)
	}
	return nil
}

func (p *Pipeline) shouldCaption(asset *store.Asset) bool {
	if p.captioner == nil || p.objects == nil {
		return false
	}
	if asset.AICaption != nil && *asset.AICaption != "" {
		return false
	}
	return ai.CaptionableMimeTypes[asset.MimeType]
}

// generateCaption captions the asset image and persists the caption right away.
// Failures are logged and yield nil.
func (p *Pipeline) generateCaption(ctx context.Context, asset *store.Asset) *string {
	logger := slog.With(slog.String(observability.LogFieldAssetID, asset.ID), slog.String("mime_type", asset.MimeType))

	fetchCtx, cancel := context.WithTimeout(ctx, timeout.ObjectFetchTimeout)
	data, err := p.objects.Get(fetchCtx, asset.StorageKey)
	cancel()
	if err != nil {
		p.metrics.RecordCaptionFailure()
		logger.Warn("failed to fetch asset for captioning", slog.String("error", err.Error()))
		return nil
	}

	captionCtx, cancel := context.WithTimeout(ctx, timeout.CaptionTimeout)
	caption, err := p.captioner.Caption(captionCtx, data, asset.MimeType)
	cancel()
	if err != nil {
		p.metrics.RecordCaptionFailure()
		logger.Warn("failed to caption asset", slog.String("error", err.Error()))
		return nil
	}

	model := p.captioner.Model()
	if err := p.store.UpdateAsset(ctx, &store.UpdateAsset{
		ID:             asset.ID,
		AICaption:      &caption,
		AICaptionModel: &model,
	}); err != nil {
		logger.Warn("failed to save asset caption", slog.String("error", err.Error()))
	}
	return &caption
}

// QueueEmbedding marks the asset as processing and sends it to the queue.
// Pending and completed assets are moved to processing. An asset already in
// processing is sent again unchanged, which recovers messages lost by the
// queue. Failed assets must be reset with RetryAllFailed first.
func (p *Pipeline) QueueEmbedding(ctx context.Context, organizationID, assetID string) error {
	asset, err := p.store.GetAsset(ctx, &store.FindAsset{ID: &assetID, OrganizationID: &organizationID})
	if err != nil {
		return apperrors.Transient(err, "failed to load asset")
	}
	if asset == nil {
		return apperrors.NotFound("asset %s not found", assetID)
	}
	if asset.EmbeddingStatus == store.EmbeddingStatusProcessing {
		err := p.queue.Send(ctx, queue.NewMessage(asset.ID))
		p.metrics.RecordEnqueue(err)
		if err != nil {
			return apperrors.Transient(err, "failed to enqueue embedding")
		}
		return nil
	}
	if !CanTransition(asset.EmbeddingStatus, store.EmbeddingStatusProcessing) {
		return apperrors.InvalidArgument("asset %s is %s and cannot be queued", assetID, asset.EmbeddingStatus)
	}

	affected, err := p.store.TransitionEmbeddingStatus(ctx, &store.TransitionEmbeddingStatus{
		ID:             &asset.ID,
		OrganizationID: &organizationID,
		From:           []store.EmbeddingStatus{asset.EmbeddingStatus},
		To:             store.EmbeddingStatusProcessing,
	})
	if err != nil {
		return apperrors.Transient(err, "failed to mark asset processing")
	}
	if affected == 0 {
		return apperrors.InvalidArgument("asset %s changed status concurrently", assetID)
	}

	err = p.queue.Send(ctx, queue.NewMessage(asset.ID))
	p.metrics.RecordEnqueue(err)
	if err != nil {
		// Put the asset back so a later backfill or manual trigger can pick it up.
		if _, revertErr := p.store.TransitionEmbeddingStatus(ctx, &store.TransitionEmbeddingStatus{
			ID:   &asset.ID,
			From: []store.EmbeddingStatus{store.EmbeddingStatusProcessing},
			To:   asset.EmbeddingStatus,
		}); revertErr != nil {
			slog.Error("failed to revert asset status after enqueue error",
				slog.String(observability.LogFieldAssetID, asset.ID), slog.String("error", revertErr.Error()))
		}
		return apperrors.Transient(err, "failed to enqueue embedding")
	}
	return nil
}

// DeleteAssetVector removes one asset vector from the index.
func (p *Pipeline) DeleteAssetVector(ctx context.Context, assetID string) error {
	return p.DeleteAssetVectors(ctx, []string{assetID})
}

// DeleteAssetVectors removes asset vectors from the index in one call.
func (p *Pipeline) DeleteAssetVectors(ctx context.Context, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout.VectorIndexTimeout)
	defer cancel()
	if err := p.index.DeleteByIDs(ctx, assetIDs); err != nil {
		return apperrors.Transient(err, "failed to delete asset vectors")
	}
	return nil
}

// DeleteAsset deletes an asset and its vector.
// The vector goes first so a failed call can simply be repeated.
func (p *Pipeline) DeleteAsset(ctx context.Context, organizationID, assetID string) error {
	asset, err := p.store.GetAsset(ctx, &store.FindAsset{ID: &assetID, OrganizationID: &organizationID})
	if err != nil {
		return apperrors.Transient(err, "failed to load asset")
	}
	if asset == nil {
		return apperrors.NotFound("asset %s not found", assetID)
	}
	if err := p.DeleteAssetVector(ctx, asset.ID); err != nil {
		return err
	}
	if err := p.store.DeleteAsset(ctx, &store.DeleteAsset{ID: asset.ID, OrganizationID: &organizationID}); err != nil {
		return apperrors.Transient(err, "failed to delete asset")
	}
	return nil
}

// DeleteAssets deletes the listed assets owned by the organization together
// with their vectors and returns how many assets were removed.
// IDs that do not exist or belong to another organization are ignored.
func (p *Pipeline) DeleteAssets(ctx context.Context, organizationID string, assetIDs []string) (int64, error) {
	if len(assetIDs) == 0 {
		return 0, nil
	}
	owned, err := p.store.ListAssets(ctx, &store.FindAsset{IDList: assetIDs, OrganizationID: &organizationID})
	if err != nil {
		return 0, apperrors.Transient(err, "failed to load assets")
	}
	if len(owned) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(owned))
	for _, asset := range owned {
		ids = append(ids, asset.ID)
	}

	if err := p.DeleteAssetVectors(ctx, ids); err != nil {
		return 0, err
	}
	deleted, err := p.store.DeleteAssets(ctx, &store.DeleteAssets{IDList: ids, OrganizationID: organizationID})
	if err != nil {
		return 0, apperrors.Transient(err, "failed to delete assets")
	}
	return deleted, nil
}

// MarkEmbeddingFailed records a permanent embedding failure on an in-flight asset.
func (p *Pipeline) MarkEmbeddingFailed(ctx context.Context, assetID string, reason string) error {
	if _, err := p.store.TransitionEmbeddingStatus(ctx, &store.TransitionEmbeddingStatus{
		ID:    &assetID,
		From:  sourcesOf(store.EmbeddingStatusFailed),
		To:    store.EmbeddingStatusFailed,
		Error: &reason,
	}); err != nil {
		return errors.Wrap(err, "failed to mark embedding failed")
	}
	return nil
}

// RetryAllFailed moves every failed asset of the organization back to pending.
// Nothing is queued; run a backfill afterwards.
func (p *Pipeline) RetryAllFailed(ctx context.Context, organizationID string) (int64, error) {
	if organizationID == "" {
		return 0, apperrors.InvalidArgument("organization id is required")
	}
	count, err := p.store.TransitionEmbeddingStatus(ctx, &store.TransitionEmbeddingStatus{
		OrganizationID: &organizationID,
		From:           sourcesOf(store.EmbeddingStatusPending),
		To:             store.EmbeddingStatusPending,
	})
	if err != nil {
		return 0, apperrors.Transient(err, "failed to reset failed assets")
	}
	return count, nil
}

// BackfillResult reports how many assets a backfill queued.
type BackfillResult struct {
	Queued int `json:"queued"`
	Failed int `json:"failed"`
}

// Backfill queues up to batchSize pending assets of the organization. Remaining
// room in the batch goes to assets stuck in processing for longer than the
// stale threshold. Per asset enqueue errors are logged and counted, not returned.
// progress, when non-nil, is called after every asset.
func (p *Pipeline) Backfill(ctx context.Context, organizationID string, batchSize int, progress func(done, total int)) (*BackfillResult, error) {
	if organizationID == "" {
		return nil, apperrors.InvalidArgument("organization id is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBackfillBatchSize
	}
	pending := store.EmbeddingStatusPending
	assets, err := p.store.ListAssets(ctx, &store.FindAsset{
		OrganizationID:  &organizationID,
		EmbeddingStatus: &pending,
		Limit:           &batchSize,
	})
	if err != nil {
		return nil, apperrors.Transient(err, "failed to list pending assets")
	}
	if remaining := batchSize - len(assets); remaining > 0 {
		processing := store.EmbeddingStatusProcessing
		staleBefore := time.Now().Add(-p.staleProcessingAfter).Unix()
		stale, err := p.store.ListAssets(ctx, &store.FindAsset{
			OrganizationID:  &organizationID,
			EmbeddingStatus: &processing,
			UpdatedBefore:   &staleBefore,
			Limit:           &remaining,
		})
		if err != nil {
			return nil, apperrors.Transient(err, "failed to list stale processing assets")
		}
		assets = append(assets, stale...)
	}

	result := &BackfillResult{}
	for i, asset := range assets {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := p.QueueEmbedding(ctx, organizationID, asset.ID); err != nil {
			result.Failed++
			slog.Error("failed to queue asset during backfill",
				slog.String(observability.LogFieldOrganizationID, organizationID),
				slog.String(observability.LogFieldAssetID, asset.ID),
				slog.String("error", err.Error()))
		} else {
			result.Queued++
		}
		if progress != nil {
			progress(i+1, len(assets))
		}
	}
	return result, nil
}

// StatusCounts returns the number of assets in each embedding status.
func (p *Pipeline) StatusCounts(ctx context.Context, organizationID string) (map[store.EmbeddingStatus]int64, error) {
	counts, err := p.store.CountAssetsByEmbeddingStatus(ctx, organizationID)
	if err != nil {
		return nil, apperrors.Transient(err, "failed to count assets")
	}
	return counts, nil
}

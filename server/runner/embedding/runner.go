package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/assetvault/plugin/queue"
	"github.com/hrygo/assetvault/server/internal/observability"
)

const receiveErrorBackoff = 5 * time.Second

// Runner consumes embedding requests from the queue.
type Runner struct {
	queue       queue.Queue
	handler     *Handler
	pipeline    *Pipeline
	metrics     *observability.Metrics
	concurrency int
	batchSize   int
}

// NewRunner creates a queue consumer.
// Parameters default to 4 concurrent messages out of batches of 10.
func NewRunner(q queue.Queue, pipeline *Pipeline, metrics *observability.Metrics, concurrency, batchSize int) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Runner{
		queue:       q,
		handler:     NewHandler(pipeline),
		pipeline:    pipeline,
		metrics:     metrics,
		concurrency: concurrency,
		batchSize:   batchSize,
	}
}

// Run receives and processes batches until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	for {
		if err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				slog.Info("embedding runner stopped")
				return
			}
			slog.Error("failed to receive embedding messages", "error", err)
			select {
			case <-time.After(receiveErrorBackoff):
			case <-ctx.Done():
				slog.Info("embedding runner stopped")
				return
			}
		}
	}
}

// RunOnce waits for one batch and processes it.
func (r *Runner) RunOnce(ctx context.Context) error {
	deliveries, err := r.queue.Receive(ctx, r.batchSize)
	if err != nil {
		return err
	}
	r.processBatch(ctx, deliveries)
	return nil
}

func (r *Runner) processBatch(ctx context.Context, deliveries []queue.Delivery) {
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, delivery := range deliveries {
		g.Go(func() error {
			r.process(ctx, delivery)
			return nil
		})
	}
	_ = g.Wait()
}

// settleTimeout bounds Ack, Retry and Release, which outlive a cancelled ctx.
const settleTimeout = 5 * time.Second

// process handles one delivery and settles it with Ack, Retry or Release.
func (r *Runner) process(ctx context.Context, delivery queue.Delivery) {
	msg := delivery.Message()
	outcome := r.handler.Handle(ctx, msg)
	logger := slog.With(
		slog.String(observability.LogFieldAssetID, msg.AssetID),
		slog.Int("retry_count", msg.RetryCount),
	)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	label := outcome.Kind.String()
	var err error
	switch {
	case ctx.Err() != nil && outcome.Kind != OutcomeSuccess:
		// Interrupted by shutdown; the attempt does not count against the asset.
		logger.Info("embedding interrupted, releasing message")
		label = observability.OutcomeReleased
		err = delivery.Release(settleCtx)
	case outcome.Kind == OutcomeSuccess:
		err = delivery.Ack(settleCtx)
	case outcome.Kind == OutcomeDrop:
		logger.Warn("dropping embedding message", slog.String("reason", outcome.Reason))
		err = delivery.Ack(settleCtx)
	case outcome.Kind == OutcomeRetryAfter:
		logger.Warn("embedding failed, retrying",
			slog.Duration("delay", outcome.Delay),
			slog.String("error", outcome.Reason))
		err = delivery.Retry(settleCtx, outcome.Delay)
	case outcome.Kind == OutcomePermanentFailure:
		logger.Error("embedding failed permanently", slog.String("error", outcome.Reason))
		if markErr := r.pipeline.MarkEmbeddingFailed(settleCtx, msg.AssetID, outcome.Reason); markErr != nil {
			// Keep the message so the failure is recorded on a later delivery.
			logger.Error("failed to record embedding failure", slog.String("error", markErr.Error()))
			err = delivery.Retry(settleCtx, RetryDelay(MaxRetries-1))
		} else {
			err = delivery.Ack(settleCtx)
		}
	}
	r.metrics.RecordPipelineOutcome(label)
	if err != nil {
		logger.Error("failed to settle embedding message", slog.String("error", err.Error()))
	}
}

package embedding

import (
	"context"
	"time"

	"github.com/hrygo/assetvault/plugin/queue"
	apperrors "github.com/hrygo/assetvault/server/internal/errors"
	"github.com/hrygo/assetvault/server/internal/observability"
)

// MaxRetries is the number of redeliveries before an asset is marked failed.
const MaxRetries = 3

// OutcomeKind says how a queue message should be settled.
type OutcomeKind int

const (
	// OutcomeSuccess acknowledges the message.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetryAfter redelivers the message after Outcome.Delay.
	OutcomeRetryAfter
	// OutcomePermanentFailure marks the asset failed and acknowledges the message.
	OutcomePermanentFailure
	// OutcomeDrop acknowledges the message without touching the asset.
	OutcomeDrop
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return observability.OutcomeSuccess
	case OutcomeRetryAfter:
		return observability.OutcomeRetry
	case OutcomePermanentFailure:
		return observability.OutcomeFailed
	case OutcomeDrop:
		return observability.OutcomeDropped
	default:
		return "unknown"
	}
}

// Outcome is the result of handling one message.
type Outcome struct {
	Kind   OutcomeKind
	Delay  time.Duration
	Reason string
}

// RetryDelay returns the backoff before redelivering a message that has
// already been retried retryCount times: 20s, 40s, 80s.
func RetryDelay(retryCount int) time.Duration {
	return 10 * time.Second << (retryCount + 1)
}

type generator interface {
	GenerateAssetEmbedding(ctx context.Context, assetID string) error
}

// Handler turns the result of one embedding attempt into an Outcome.
type Handler struct {
	pipeline generator
}

func NewHandler(pipeline generator) *Handler {
	return &Handler{pipeline: pipeline}
}

// Handle runs the pipeline for msg and classifies the result.
func (h *Handler) Handle(ctx context.Context, msg queue.Message) Outcome {
	err := h.pipeline.GenerateAssetEmbedding(ctx, msg.AssetID)
	return classify(err, msg.RetryCount)
}

func classify(err error, retryCount int) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSuccess}
	}
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeNotFound:
		return Outcome{Kind: OutcomeDrop, Reason: err.Error()}
	case apperrors.ErrCodeInvalidArgument, apperrors.ErrCodePermanent:
		return Outcome{Kind: OutcomePermanentFailure, Reason: err.Error()}
	}
	if retryCount < MaxRetries {
		return Outcome{Kind: OutcomeRetryAfter, Delay: RetryDelay(retryCount), Reason: err.Error()}
	}
	return Outcome{Kind: OutcomePermanentFailure, Reason: err.Error()}
}

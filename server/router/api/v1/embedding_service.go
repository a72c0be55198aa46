package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/hrygo/assetvault/server/internal/errors"
	"github.com/hrygo/assetvault/store"
)

// maxBackfillBatchSize bounds one backfill request.
const maxBackfillBatchSize = 1000

func (s *APIV1Service) RetryFailedEmbeddings(ctx context.Context, organizationID string) (*RetryFailedResponse, error) {
	count, err := s.Pipeline.RetryAllFailed(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	return &RetryFailedResponse{Count: count}, nil
}

func (s *APIV1Service) BackfillEmbeddings(ctx context.Context, organizationID string, request *BackfillRequest) (*BackfillResponse, error) {
	if request.BatchSize < 0 || request.BatchSize > maxBackfillBatchSize {
		return nil, apperrors.InvalidArgument("batch size must be between 1 and %d", maxBackfillBatchSize)
	}
	result, err := s.Pipeline.Backfill(ctx, organizationID, request.BatchSize, nil)
	if err != nil {
		return nil, err
	}
	return &BackfillResponse{Queued: result.Queued, Failed: result.Failed}, nil
}

func (s *APIV1Service) GetEmbeddingStatus(ctx context.Context, organizationID string) (*EmbeddingStatusResponse, error) {
	counts, err := s.Pipeline.StatusCounts(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	return &EmbeddingStatusResponse{
		Pending:    counts[store.EmbeddingStatusPending],
		Processing: counts[store.EmbeddingStatusProcessing],
		Completed:  counts[store.EmbeddingStatusCompleted],
		Failed:     counts[store.EmbeddingStatusFailed],
	}, nil
}

func (s *APIV1Service) handleRetryFailed(c echo.Context) error {
	orgID, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}
	response, err := s.RetryFailedEmbeddings(c.Request().Context(), orgID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, response)
}

func (s *APIV1Service) handleBackfill(c echo.Context) error {
	orgID, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}
	request := &BackfillRequest{}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(request); err != nil {
			return respondError(c, apperrors.InvalidArgument("invalid backfill request"))
		}
	}
	response, err := s.BackfillEmbeddings(c.Request().Context(), orgID, request)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, response)
}

func (s *APIV1Service) handleEmbeddingStatus(c echo.Context) error {
	orgID, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}
	response, err := s.GetEmbeddingStatus(c.Request().Context(), orgID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, response)
}

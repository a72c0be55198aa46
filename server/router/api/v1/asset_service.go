package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/hrygo/assetvault/server/internal/errors"
)

// maxBatchDeleteSize bounds the ids accepted by one batch delete.
const maxBatchDeleteSize = 500

func (s *APIV1Service) QueueAssetEmbedding(ctx context.Context, organizationID, assetID string) error {
	if assetID == "" {
		return apperrors.InvalidArgument("asset id is required")
	}
	return s.Pipeline.QueueEmbedding(ctx, organizationID, assetID)
}

func (s *APIV1Service) DeleteAsset(ctx context.Context, organizationID, assetID string) error {
	if assetID == "" {
		return apperrors.InvalidArgument("asset id is required")
	}
	return s.Pipeline.DeleteAsset(ctx, organizationID, assetID)
}

func (s *APIV1Service) BatchDeleteAssets(ctx context.Context, organizationID string, request *BatchDeleteAssetsRequest) (*BatchDeleteAssetsResponse, error) {
	if len(request.IDs) == 0 {
		return nil, apperrors.InvalidArgument("ids are required")
	}
	if len(request.IDs) > maxBatchDeleteSize {
		return nil, apperrors.InvalidArgument("at most %d ids can be deleted at once", maxBatchDeleteSize)
	}
	deleted, err := s.Pipeline.DeleteAssets(ctx, organizationID, request.IDs)
	if err != nil {
		return nil, err
	}
	return &BatchDeleteAssetsResponse{Deleted: deleted}, nil
}

func (s *APIV1Service) handleQueueEmbedding(c echo.Context) error {
	orgID, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := s.QueueAssetEmbedding(c.Request().Context(), orgID, c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *APIV1Service) handleDeleteAsset(c echo.Context) error {
	orgID, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := s.DeleteAsset(c.Request().Context(), orgID, c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) handleBatchDeleteAssets(c echo.Context) error {
	orgID, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}
	request := &BatchDeleteAssetsRequest{}
	if err := c.Bind(request); err != nil {
		return respondError(c, apperrors.InvalidArgument("invalid batch delete request"))
	}
	response, err := s.BatchDeleteAssets(c.Request().Context(), orgID, request)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, response)
}

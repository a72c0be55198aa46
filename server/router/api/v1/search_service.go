package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/hrygo/assetvault/server/internal/errors"
)

func (s *APIV1Service) HybridSearch(ctx context.Context, organizationID string, request *SearchRequest) (*SearchResponse, error) {
	results, err := s.Search.HybridSearch(ctx, convertSearchOptions(organizationID, request))
	if err != nil {
		return nil, err
	}
	return convertSearchResultsFromService(results), nil
}

func (s *APIV1Service) VectorSearch(ctx context.Context, organizationID string, request *SearchRequest) (*SearchResponse, error) {
	results, err := s.Search.VectorSearch(ctx, convertSearchOptions(organizationID, request))
	if err != nil {
		return nil, err
	}
	return convertSearchResultsFromService(results), nil
}

func (s *APIV1Service) handleHybridSearch(c echo.Context) error {
	return s.handleSearch(c, s.HybridSearch)
}

func (s *APIV1Service) handleVectorSearch(c echo.Context) error {
	return s.handleSearch(c, s.VectorSearch)
}

func (s *APIV1Service) handleSearch(c echo.Context, run func(context.Context, string, *SearchRequest) (*SearchResponse, error)) error {
	orgID, err := organizationID(c)
	if err != nil {
		return respondError(c, err)
	}
	request := &SearchRequest{}
	if err := c.Bind(request); err != nil {
		return respondError(c, apperrors.InvalidArgument("invalid search request"))
	}
	response, err := run(c.Request().Context(), orgID, request)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, response)
}

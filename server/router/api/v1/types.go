package v1

import (
	"github.com/hrygo/assetvault/server/service/search"
	"github.com/hrygo/assetvault/store"
)

type Asset struct {
	ID              string  `json:"id"`
	OrganizationID  string  `json:"organizationId"`
	FolderID        *string `json:"folderId"`
	Filename        string  `json:"filename"`
	MimeType        string  `json:"mimeType"`
	Size            int64   `json:"size"`
	Width           *int32  `json:"width,omitempty"`
	Height          *int32  `json:"height,omitempty"`
	AltText         *string `json:"altText"`
	Description     *string `json:"description"`
	AICaption       *string `json:"aiCaption"`
	AICaptionModel  *string `json:"aiCaptionModel"`
	EmbeddingStatus string  `json:"embeddingStatus"`
	EmbeddingError  *string `json:"embeddingError"`
	EmbeddedAt      *int64  `json:"embeddedAt"`
	CreatedAt       int64   `json:"createdAt"`
	UpdatedAt       int64   `json:"updatedAt"`
}

type SearchRequest struct {
	Query          string   `json:"query"`
	Limit          int      `json:"limit"`
	FolderID       *string  `json:"folderId"`
	TagIDs         []string `json:"tagIds"`
	MimeTypePrefix string   `json:"mimeTypePrefix"`
	MinScore       *float32 `json:"minScore"`
	KeywordBoost   *float32 `json:"keywordBoost"`
}

type SearchResult struct {
	Asset     *Asset  `json:"asset"`
	URL       string  `json:"url"`
	Score     float32 `json:"score"`
	MatchType string  `json:"matchType"`
}

type SearchResponse struct {
	Results []*SearchResult `json:"results"`
}

type BatchDeleteAssetsRequest struct {
	IDs []string `json:"ids"`
}

type BatchDeleteAssetsResponse struct {
	Deleted int64 `json:"deleted"`
}

type RetryFailedResponse struct {
	Count int64 `json:"count"`
}

type BackfillRequest struct {
	BatchSize int `json:"batchSize"`
}

type BackfillResponse struct {
	Queued int `json:"queued"`
	Failed int `json:"failed"`
}

type EmbeddingStatusResponse struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

func convertAssetFromStore(asset *store.Asset) *Asset {
	return &Asset{
		ID:              asset.ID,
		OrganizationID:  asset.OrganizationID,
		FolderID:        asset.FolderID,
		Filename:        asset.Filename,
		MimeType:        asset.MimeType,
		Size:            asset.Size,
		Width:           asset.Width,
		Height:          asset.Height,
		AltText:         asset.AltText,
		Description:     asset.Description,
		AICaption:       asset.AICaption,
		AICaptionModel:  asset.AICaptionModel,
		EmbeddingStatus: string(asset.EmbeddingStatus),
		EmbeddingError:  asset.EmbeddingError,
		EmbeddedAt:      asset.EmbeddedTs,
		CreatedAt:       asset.CreatedTs,
		UpdatedAt:       asset.UpdatedTs,
	}
}

func convertSearchResultsFromService(results []*search.Result) *SearchResponse {
	response := &SearchResponse{Results: make([]*SearchResult, 0, len(results))}
	for _, result := range results {
		response.Results = append(response.Results, &SearchResult{
			Asset:     convertAssetFromStore(result.Asset),
			URL:       result.URL,
			Score:     result.Score,
			MatchType: string(result.MatchType),
		})
	}
	return response
}

func convertSearchOptions(organizationID string, request *SearchRequest) *search.Options {
	return &search.Options{
		OrganizationID: organizationID,
		Query:          request.Query,
		Limit:          request.Limit,
		FolderID:       request.FolderID,
		TagIDs:         request.TagIDs,
		MimeTypePrefix: request.MimeTypePrefix,
		MinScore:       request.MinScore,
		KeywordBoost:   request.KeywordBoost,
	}
}

package store

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
)

// Tag is a named, colored label scoped to an organization.
type Tag struct {
	ID             string
	OrganizationID string
	Name           string
	Color          string
	CreatedTs      int64
}

type FindTag struct {
	ID             *string
	OrganizationID *string
	Name           *string
	// AssetID restricts the result to tags attached to this asset.
	AssetID *string
}

type DeleteTag struct {
	ID             string
	OrganizationID *string
}

// AssetTag is the join between an asset and a tag.
type AssetTag struct {
	AssetID string
	TagID   string
}

func (s *Store) CreateTag(ctx context.Context, create *Tag) (*Tag, error) {
	if create.OrganizationID == "" {
		return nil, errors.New("organization id is required")
	}
	if create.Name == "" {
		return nil, errors.New("tag name is required")
	}
	if create.ID == "" {
		create.ID = shortuuid.New()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	return s.driver.CreateTag(ctx, create)
}

func (s *Store) ListTags(ctx context.Context, find *FindTag) ([]*Tag, error) {
	return s.driver.ListTags(ctx, find)
}

// ListAssetTags returns the tags attached to an asset, ordered by name.
func (s *Store) ListAssetTags(ctx context.Context, assetID string) ([]*Tag, error) {
	return s.driver.ListTags(ctx, &FindTag{AssetID: &assetID})
}

func (s *Store) DeleteTag(ctx context.Context, delete *DeleteTag) error {
	return s.driver.DeleteTag(ctx, delete)
}

func (s *Store) UpsertAssetTag(ctx context.Context, upsert *AssetTag) error {
	return s.driver.UpsertAssetTag(ctx, upsert)
}

func (s *Store) DeleteAssetTag(ctx context.Context, delete *AssetTag) error {
	return s.driver.DeleteAssetTag(ctx, delete)
}

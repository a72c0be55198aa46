package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// SystemSetting model related methods.
	GetSystemSetting(ctx context.Context, name string) (string, error)
	UpsertSystemSetting(ctx context.Context, name, value string) error

	// Asset model related methods.
	CreateAsset(ctx context.Context, create *Asset) (*Asset, error)
	ListAssets(ctx context.Context, find *FindAsset) ([]*Asset, error)
	UpdateAsset(ctx context.Context, update *UpdateAsset) error
	DeleteAsset(ctx context.Context, delete *DeleteAsset) error
	DeleteAssets(ctx context.Context, delete *DeleteAssets) (int64, error)

	// TransitionEmbeddingStatus moves matching assets to a new embedding status.
	// It returns the number of assets that were moved.
	TransitionEmbeddingStatus(ctx context.Context, transition *TransitionEmbeddingStatus) (int64, error)
	CountAssetsByEmbeddingStatus(ctx context.Context, organizationID string) (map[EmbeddingStatus]int64, error)

	// KeywordSearch performs a case-insensitive substring match over filename, alt text and description.
	KeywordSearch(ctx context.Context, opts *KeywordSearchOptions) ([]*Asset, error)

	// Tag model related methods.
	CreateTag(ctx context.Context, create *Tag) (*Tag, error)
	ListTags(ctx context.Context, find *FindTag) ([]*Tag, error)
	DeleteTag(ctx context.Context, delete *DeleteTag) error

	// AssetTag model related methods.
	UpsertAssetTag(ctx context.Context, upsert *AssetTag) error
	DeleteAssetTag(ctx context.Context, delete *AssetTag) error
}

package store

import (
	"context"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
)

// EmbeddingStatus is the lifecycle state of an asset's vector embedding.
type EmbeddingStatus string

const (
	EmbeddingStatusPending    EmbeddingStatus = "pending"
	EmbeddingStatusProcessing EmbeddingStatus = "processing"
	EmbeddingStatusCompleted  EmbeddingStatus = "completed"
	EmbeddingStatusFailed     EmbeddingStatus = "failed"
)

// EmbeddingStatuses lists every embedding status in lifecycle order.
var EmbeddingStatuses = []EmbeddingStatus{
	EmbeddingStatusPending,
	EmbeddingStatusProcessing,
	EmbeddingStatusCompleted,
	EmbeddingStatusFailed,
}

func (s EmbeddingStatus) IsValid() bool {
	for _, status := range EmbeddingStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type Asset struct {
	// ID is the system generated unique identifier for the asset.
	ID string
	// OrganizationID is the owning tenant. It never changes after creation.
	OrganizationID string

	// Standard fields
	CreatedTs int64
	UpdatedTs int64

	// Domain specific fields
	FolderID    *string
	Filename    string
	MimeType    string
	Size        int64
	Width       *int32
	Height      *int32
	AltText     *string
	Description *string
	StorageKey  string

	// AI generated caption
	AICaption      *string
	AICaptionModel *string

	// Embedding lifecycle
	EmbeddingStatus EmbeddingStatus
	EmbeddingError  *string
	EmbeddedTs      *int64
}

type FindAsset struct {
	ID              *string
	IDList          []string
	OrganizationID  *string
	FolderID        *string
	EmbeddingStatus *EmbeddingStatus
	// UpdatedBefore matches assets last updated before this epoch second.
	UpdatedBefore *int64
	Limit         *int
	Offset        *int
}

type UpdateAsset struct {
	ID             string
	OrganizationID *string

	UpdatedTs      *int64
	FolderID       *string
	Filename       *string
	AltText        *string
	Description    *string
	AICaption      *string
	AICaptionModel *string
}

type DeleteAsset struct {
	ID             string
	OrganizationID *string
}

type DeleteAssets struct {
	IDList         []string
	OrganizationID string
}

// TransitionEmbeddingStatus moves assets to status To.
// Either ID or OrganizationID (or both) must be set. When From is non-empty only
// assets currently in one of those statuses are moved.
type TransitionEmbeddingStatus struct {
	ID             *string
	OrganizationID *string
	From           []EmbeddingStatus
	To             EmbeddingStatus

	// Error is recorded for the failed status and cleared otherwise.
	Error *string
	// EmbeddedTs is recorded for the completed status and cleared otherwise.
	EmbeddedTs *int64
}

type KeywordSearchOptions struct {
	OrganizationID string
	Query          string
	FolderID       *string
	Limit          int
}

func (s *Store) CreateAsset(ctx context.Context, create *Asset) (*Asset, error) {
	if create.OrganizationID == "" {
		return nil, errors.New("organization id is required")
	}
	if create.ID == "" {
		create.ID = shortuuid.New()
	}
	if create.EmbeddingStatus == "" {
		create.EmbeddingStatus = EmbeddingStatusPending
	}
	if !create.EmbeddingStatus.IsValid() {
		return nil, errors.Errorf("invalid embedding status %q", create.EmbeddingStatus)
	}
	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = create.CreatedTs
	}
	return s.driver.CreateAsset(ctx, create)
}

func (s *Store) ListAssets(ctx context.Context, find *FindAsset) ([]*Asset, error) {
	if find.IDList != nil && len(find.IDList) == 0 {
		return []*Asset{}, nil
	}
	if find.Limit == nil && len(find.IDList) == 0 && find.ID == nil {
		defaultLimit := 100
		find.Limit = &defaultLimit
	}
	return s.driver.ListAssets(ctx, find)
}

// GetAsset returns the first matching asset, or nil when there is none.
func (s *Store) GetAsset(ctx context.Context, find *FindAsset) (*Asset, error) {
	assets, err := s.ListAssets(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, nil
	}
	return assets[0], nil
}

func (s *Store) UpdateAsset(ctx context.Context, update *UpdateAsset) error {
	if update.UpdatedTs == nil {
		now := time.Now().Unix()
		update.UpdatedTs = &now
	}
	return s.driver.UpdateAsset(ctx, update)
}

func (s *Store) DeleteAsset(ctx context.Context, delete *DeleteAsset) error {
	asset, err := s.GetAsset(ctx, &FindAsset{ID: &delete.ID, OrganizationID: delete.OrganizationID})
	if err != nil {
		return errors.Wrap(err, "failed to get asset")
	}
	if asset == nil {
		return errors.New("asset not found")
	}
	return s.driver.DeleteAsset(ctx, delete)
}

// DeleteAssets deletes every listed asset owned by the organization and
// returns how many rows were removed.
func (s *Store) DeleteAssets(ctx context.Context, delete *DeleteAssets) (int64, error) {
	if len(delete.IDList) == 0 {
		return 0, nil
	}
	return s.driver.DeleteAssets(ctx, delete)
}

func (s *Store) TransitionEmbeddingStatus(ctx context.Context, transition *TransitionEmbeddingStatus) (int64, error) {
	if transition.ID == nil && transition.OrganizationID == nil {
		return 0, errors.New("transition requires an asset id or an organization id")
	}
	if !transition.To.IsValid() {
		return 0, errors.Errorf("invalid embedding status %q", transition.To)
	}
	if transition.To != EmbeddingStatusFailed {
		transition.Error = nil
	}
	if transition.To != EmbeddingStatusCompleted {
		transition.EmbeddedTs = nil
	} else if transition.EmbeddedTs == nil {
		now := time.Now().Unix()
		transition.EmbeddedTs = &now
	}
	return s.driver.TransitionEmbeddingStatus(ctx, transition)
}

func (s *Store) CountAssetsByEmbeddingStatus(ctx context.Context, organizationID string) (map[EmbeddingStatus]int64, error) {
	counts, err := s.driver.CountAssetsByEmbeddingStatus(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	for _, status := range EmbeddingStatuses {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}
	return counts, nil
}

func (s *Store) KeywordSearch(ctx context.Context, opts *KeywordSearchOptions) ([]*Asset, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return []*Asset{}, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	return s.driver.KeywordSearch(ctx, opts)
}

// EscapeLike escapes the LIKE wildcards in s using backslash as the escape character.
func EscapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

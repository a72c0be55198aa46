package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/assetvault/store"
)

const assetColumns = `id, organization_id, folder_id, filename, mime_type, size, width, height,
	alt_text, description, storage_key, ai_caption, ai_caption_model,
	embedding_status, embedding_error, embedded_ts, created_ts, updated_ts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(scanner rowScanner) (*store.Asset, error) {
	var asset store.Asset
	var folderID, altText, description, aiCaption, aiCaptionModel, embeddingError sql.NullString
	var width, height sql.NullInt32
	var embeddedTs sql.NullInt64
	var status string
	if err := scanner.Scan(
		&asset.ID,
		&asset.OrganizationID,
		&folderID,
		&asset.Filename,
		&asset.MimeType,
		&asset.Size,
		&width,
		&height,
		&altText,
		&description,
		&asset.StorageKey,
		&aiCaption,
		&aiCaptionModel,
		&status,
		&embeddingError,
		&embeddedTs,
		&asset.CreatedTs,
		&asset.UpdatedTs,
	); err != nil {
		return nil, err
	}
	asset.EmbeddingStatus = store.EmbeddingStatus(status)
	if folderID.Valid {
		asset.FolderID = &folderID.String
	}
	if width.Valid {
		asset.Width = &width.Int32
	}
	if height.Valid {
		asset.Height = &height.Int32
	}
	if altText.Valid {
		asset.AltText = &altText.String
	}
	if description.Valid {
		asset.Description = &description.String
	}
	if aiCaption.Valid {
		asset.AICaption = &aiCaption.String
	}
	if aiCaptionModel.Valid {
		asset.AICaptionModel = &aiCaptionModel.String
	}
	if embeddingError.Valid {
		asset.EmbeddingError = &embeddingError.String
	}
	if embeddedTs.Valid {
		asset.EmbeddedTs = &embeddedTs.Int64
	}
	return &asset, nil
}

func (d *DB) CreateAsset(ctx context.Context, create *store.Asset) (*store.Asset, error) {
	stmt := `INSERT INTO asset (` + assetColumns + `) VALUES (` + placeholders(18) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.OrganizationID,
		create.FolderID,
		create.Filename,
		create.MimeType,
		create.Size,
		create.Width,
		create.Height,
		create.AltText,
		create.Description,
		create.StorageKey,
		create.AICaption,
		create.AICaptionModel,
		string(create.EmbeddingStatus),
		create.EmbeddingError,
		create.EmbeddedTs,
		create.CreatedTs,
		create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create asset")
	}
	return create, nil
}

func (d *DB) ListAssets(ctx context.Context, find *store.FindAsset) ([]*store.Asset, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(find.IDList) > 0 {
		holders := []string{}
		for _, id := range find.IDList {
			args = append(args, id)
			holders = append(holders, placeholder(len(args)))
		}
		where = append(where, "id IN ("+strings.Join(holders, ", ")+")")
	}
	if v := find.OrganizationID; v != nil {
		where, args = append(where, "organization_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.FolderID; v != nil {
		where, args = append(where, "folder_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.EmbeddingStatus; v != nil {
		where, args = append(where, "embedding_status = "+placeholder(len(args)+1)), append(args, string(*v))
	}
	if v := find.UpdatedBefore; v != nil {
		where, args = append(where, "updated_ts < "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `SELECT ` + assetColumns + ` FROM asset WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC, id ASC`
	if find.Limit != nil {
		query, args = query+" LIMIT "+placeholder(len(args)+1), append(args, *find.Limit)
		if find.Offset != nil {
			query, args = query+" OFFSET "+placeholder(len(args)+1), append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list assets")
	}
	defer rows.Close()

	list := []*store.Asset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan asset")
		}
		list = append(list, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateAsset(ctx context.Context, update *store.UpdateAsset) error {
	set, args := []string{}, []any{}
	if v := update.UpdatedTs; v != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.FolderID; v != nil {
		set, args = append(set, "folder_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Filename; v != nil {
		set, args = append(set, "filename = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AltText; v != nil {
		set, args = append(set, "alt_text = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Description; v != nil {
		set, args = append(set, "description = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AICaption; v != nil {
		set, args = append(set, "ai_caption = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AICaptionModel; v != nil {
		set, args = append(set, "ai_caption_model = "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(set) == 0 {
		return nil
	}

	where := []string{"id = " + placeholder(len(args)+1)}
	args = append(args, update.ID)
	if v := update.OrganizationID; v != nil {
		where, args = append(where, "organization_id = "+placeholder(len(args)+1)), append(args, *v)
	}

	stmt := `UPDATE asset SET ` + strings.Join(set, ", ") + ` WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to update asset")
	}
	return nil
}

func (d *DB) DeleteAsset(ctx context.Context, delete *store.DeleteAsset) error {
	where, args := []string{"id = " + placeholder(1)}, []any{delete.ID}
	if v := delete.OrganizationID; v != nil {
		where, args = append(where, "organization_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	stmt := `DELETE FROM asset WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete asset")
	}
	return nil
}

func (d *DB) DeleteAssets(ctx context.Context, delete *store.DeleteAssets) (int64, error) {
	args := []any{delete.OrganizationID}
	holders := []string{}
	for _, id := range delete.IDList {
		args = append(args, id)
		holders = append(holders, placeholder(len(args)))
	}
	stmt := `DELETE FROM asset WHERE organization_id = ` + placeholder(1) + ` AND id IN (` + strings.Join(holders, ", ") + `)`
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete assets")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get affected rows")
	}
	return affected, nil
}

func (d *DB) TransitionEmbeddingStatus(ctx context.Context, transition *store.TransitionEmbeddingStatus) (int64, error) {
	args := []any{string(transition.To), transition.Error, transition.EmbeddedTs}
	where := []string{}
	if v := transition.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := transition.OrganizationID; v != nil {
		where, args = append(where, "organization_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(transition.From) > 0 {
		holders := []string{}
		for _, status := range transition.From {
			args = append(args, string(status))
			holders = append(holders, placeholder(len(args)))
		}
		where = append(where, "embedding_status IN ("+strings.Join(holders, ", ")+")")
	}

	stmt := `UPDATE asset SET embedding_status = ` + placeholder(1) +
		`, embedding_error = ` + placeholder(2) +
		`, embedded_ts = ` + placeholder(3) +
		`, updated_ts = CAST(strftime('%s', 'now') AS INTEGER)` +
		` WHERE ` + strings.Join(where, " AND ")
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to transition embedding status")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get affected rows")
	}
	return affected, nil
}

func (d *DB) CountAssetsByEmbeddingStatus(ctx context.Context, organizationID string) (map[store.EmbeddingStatus]int64, error) {
	query := `SELECT embedding_status, COUNT(*) FROM asset WHERE organization_id = ` + placeholder(1) + ` GROUP BY embedding_status`
	rows, err := d.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count assets")
	}
	defer rows.Close()

	counts := map[store.EmbeddingStatus]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan asset count")
		}
		counts[store.EmbeddingStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// KeywordSearch matches the query against filename, alt text and description.
// SQLite LIKE is case-insensitive for ASCII; LOWER covers the rest of the common cases.
func (d *DB) KeywordSearch(ctx context.Context, opts *store.KeywordSearchOptions) ([]*store.Asset, error) {
	pattern := "%" + store.EscapeLike(strings.ToLower(strings.TrimSpace(opts.Query))) + "%"
	where, args := []string{"organization_id = ?"}, []any{opts.OrganizationID}
	where = append(where, `(LOWER(filename) LIKE ? ESCAPE '\' OR LOWER(alt_text) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`)
	args = append(args, pattern, pattern, pattern)
	if v := opts.FolderID; v != nil {
		where, args = append(where, "folder_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	args = append(args, opts.Limit)

	query := `SELECT ` + assetColumns + ` FROM asset WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_ts DESC, id ASC LIMIT ` + placeholder(len(args))
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to keyword search assets")
	}
	defer rows.Close()

	list := []*store.Asset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan asset")
		}
		list = append(list, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

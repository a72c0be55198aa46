package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/assetvault/store"
)

func (d *DB) CreateTag(ctx context.Context, create *store.Tag) (*store.Tag, error) {
	stmt := `INSERT INTO tag (id, organization_id, name, color, created_ts) VALUES (` + placeholders(5) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, create.ID, create.OrganizationID, create.Name, create.Color, create.CreatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to create tag")
	}
	return create, nil
}

func (d *DB) ListTags(ctx context.Context, find *store.FindTag) ([]*store.Tag, error) {
	where, args := []string{"1 = 1"}, []any{}
	from := "tag"
	if v := find.AssetID; v != nil {
		from = "tag INNER JOIN asset_tag ON asset_tag.tag_id = tag.id"
		where, args = append(where, "asset_tag.asset_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.ID; v != nil {
		where, args = append(where, "tag.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.OrganizationID; v != nil {
		where, args = append(where, "tag.organization_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Name; v != nil {
		where, args = append(where, "tag.name = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `SELECT tag.id, tag.organization_id, tag.name, tag.color, tag.created_ts FROM ` + from +
		` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY tag.name ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tags")
	}
	defer rows.Close()

	list := []*store.Tag{}
	for rows.Next() {
		tag := &store.Tag{}
		if err := rows.Scan(&tag.ID, &tag.OrganizationID, &tag.Name, &tag.Color, &tag.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan tag")
		}
		list = append(list, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) DeleteTag(ctx context.Context, delete *store.DeleteTag) error {
	where, args := []string{"id = " + placeholder(1)}, []any{delete.ID}
	if v := delete.OrganizationID; v != nil {
		where, args = append(where, "organization_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM tag WHERE `+strings.Join(where, " AND "), args...); err != nil {
		return errors.Wrap(err, "failed to delete tag")
	}
	return nil
}

func (d *DB) UpsertAssetTag(ctx context.Context, upsert *store.AssetTag) error {
	stmt := `INSERT INTO asset_tag (asset_id, tag_id) VALUES (` + placeholders(2) + `) ON CONFLICT (asset_id, tag_id) DO NOTHING`
	if _, err := d.db.ExecContext(ctx, stmt, upsert.AssetID, upsert.TagID); err != nil {
		return errors.Wrap(err, "failed to upsert asset tag")
	}
	return nil
}

func (d *DB) DeleteAssetTag(ctx context.Context, delete *store.AssetTag) error {
	stmt := `DELETE FROM asset_tag WHERE asset_id = ` + placeholder(1) + ` AND tag_id = ` + placeholder(2)
	if _, err := d.db.ExecContext(ctx, stmt, delete.AssetID, delete.TagID); err != nil {
		return errors.Wrap(err, "failed to delete asset tag")
	}
	return nil
}

package vector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
)

// PGVectorIndex stores vectors in a PostgreSQL table using the pgvector extension.
// The table is independent of the relational asset schema.
type PGVectorIndex struct {
	db         *sql.DB
	dimensions int
}

func NewPGVectorIndex(db *sql.DB, dimensions int) *PGVectorIndex {
	return &PGVectorIndex{
		db:         db,
		dimensions: dimensions,
	}
}

// EnsureSchema creates the vector extension, table and indexes when missing.
func (p *PGVectorIndex) EnsureSchema(ctx context.Context) error {
	if p.dimensions <= 0 {
		return errors.New("vector dimensions must be positive")
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS asset_vector (
			id TEXT NOT NULL PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			organization_id TEXT NOT NULL,
			folder_id TEXT NOT NULL DEFAULT '',
			mime_type TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL DEFAULT 0,
			tag_ids TEXT NOT NULL DEFAULT '[]'
		)`, p.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_asset_vector_organization ON asset_vector (organization_id, folder_id)`,
		`CREATE INDEX IF NOT EXISTS idx_asset_vector_embedding ON asset_vector USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute %q", strings.SplitN(stmt, "(", 2)[0])
		}
	}
	return nil
}

func (p *PGVectorIndex) Upsert(ctx context.Context, id string, vector []float32, metadata Metadata) error {
	if id == "" {
		return errors.New("vector id is required")
	}
	if len(vector) != p.dimensions {
		return errors.Errorf("vector has %d dimensions, index expects %d", len(vector), p.dimensions)
	}

	stmt := `
		INSERT INTO asset_vector (id, embedding, organization_id, folder_id, mime_type, created_at, tag_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			organization_id = EXCLUDED.organization_id,
			folder_id = EXCLUDED.folder_id,
			mime_type = EXCLUDED.mime_type,
			created_at = EXCLUDED.created_at,
			tag_ids = EXCLUDED.tag_ids
	`
	if _, err := p.db.ExecContext(ctx, stmt,
		id,
		pgvector.NewVector(vector),
		metadata.OrganizationID,
		metadata.FolderID,
		metadata.MimeType,
		metadata.CreatedAt,
		EncodeTagIDs(metadata.TagIDs),
	); err != nil {
		return errors.Wrap(err, "failed to upsert vector")
	}
	return nil
}

// hnswEFSearch is the candidate list size for filtered scans.
const hnswEFSearch = 200

// Query uses the <=> operator, which computes cosine distance (1 - cosine similarity).
//
// The tenant filter is applied after the HNSW scan, so the query runs with
// iterative scans enabled (pgvector 0.8+) to keep searching until enough rows
// pass the filter. Relaxed ordering is restored by sorting the rows here.
func (p *PGVectorIndex) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	if opts.Filter.OrganizationID == "" {
		return nil, errors.New("organization filter is required")
	}

	where, args := []string{"organization_id = $2"}, []any{pgvector.NewVector(vector), opts.Filter.OrganizationID}
	if v := opts.Filter.FolderID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("folder_id = $%d", len(args)))
	}
	args = append(args, clampTopK(opts.TopK))

	query := `
		SELECT id, organization_id, folder_id, mime_type, created_at, tag_ids,
			1 - (embedding <=> $1) AS score
		FROM asset_vector
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY embedding <=> $1
		LIMIT ` + fmt.Sprintf("$%d", len(args))

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin vector query")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`SET LOCAL hnsw.iterative_scan = relaxed_order`,
		fmt.Sprintf(`SET LOCAL hnsw.ef_search = %d`, hnswEFSearch),
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrapf(err, "failed to execute %q", stmt)
		}
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query vectors")
	}
	defer rows.Close()

	results := []Match{}
	for rows.Next() {
		var match Match
		var tagIDs string
		var score float64
		if err := rows.Scan(
			&match.ID,
			&match.Metadata.OrganizationID,
			&match.Metadata.FolderID,
			&match.Metadata.MimeType,
			&match.Metadata.CreatedAt,
			&tagIDs,
			&score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector match")
		}
		match.Score = clampScore(score)
		match.Metadata.TagIDs = DecodeTagIDs(tagIDs)
		results = append(results, match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortMatches(results)
	return results, nil
}

func (p *PGVectorIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM asset_vector WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return errors.Wrap(err, "failed to delete vectors")
	}
	return nil
}

var _ Index = (*PGVectorIndex)(nil)

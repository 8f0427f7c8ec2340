package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wolfganghq/centurion/internal/store"
)

// MediaStore searches core.media_assets.
type MediaStore struct {
	db *sql.DB
}

func NewMediaStore(db *sql.DB) *MediaStore {
	return &MediaStore{db: db}
}

const mediaCols = `id, company_id, centurion_id, name, description, media_type, mime_type,
	tags, file_size_bytes, created_at`

// Search returns active assets for the company, optionally filtered by a
// name/description substring, tags, and media type. limit is clamped to 1-10.
func (s *MediaStore) Search(ctx context.Context, companyID, centurionID uuid.UUID, query string, tags []string, mediaType string, limit int) ([]*store.MediaAsset, error) {
	if limit < 1 {
		limit = 5
	}
	if limit > 10 {
		limit = 10
	}

	where := []string{
		"company_id = $1",
		"is_active = true",
		"(centurion_id IS NULL OR centurion_id = $2)",
	}
	args := []any{companyID, centurionID}

	query = strings.TrimSpace(query)
	if len(query) > 200 {
		query = query[:200]
	}
	if query != "" {
		args = append(args, "%"+query+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	if mediaType != "" {
		args = append(args, mediaType)
		where = append(where, fmt.Sprintf("media_type = $%d", len(args)))
	}
	if len(tags) > 0 {
		args = append(args, pq.Array(tags))
		where = append(where, fmt.Sprintf("tags && $%d", len(args)))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT %s FROM core.media_assets WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		mediaCols, strings.Join(where, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search media assets: %w", err)
	}
	defer rows.Close()

	var out []*store.MediaAsset
	for rows.Next() {
		asset, err := scanAsset(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, asset)
	}
	return out, rows.Err()
}

func (s *MediaStore) Get(ctx context.Context, id uuid.UUID) (*store.MediaAsset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mediaCols+` FROM core.media_assets WHERE id = $1`, id)
	asset, err := scanAsset(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get media asset: %w", err)
	}
	return asset, nil
}

func scanAsset(scan func(dest ...any) error) (*store.MediaAsset, error) {
	var (
		a           store.MediaAsset
		centurion   uuid.NullUUID
		description sql.NullString
		mime        sql.NullString
		tags        pq.StringArray
		size        sql.NullInt64
	)
	if err := scan(&a.ID, &a.CompanyID, &centurion, &a.Name, &description, &a.MediaType, &mime,
		&tags, &size, &a.CreatedAt); err != nil {
		return nil, err
	}
	if centurion.Valid {
		a.CenturionID = &centurion.UUID
	}
	a.Description = derefStr(description)
	a.MimeType = derefStr(mime)
	a.Tags = []string(tags)
	if size.Valid {
		a.FileSizeBytes = &size.Int64
	}
	return &a, nil
}

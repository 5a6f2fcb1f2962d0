package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/pagination"
	"github.com/stadtwerk-labs/wissen/internal/service"
)

const kbItemColumns = `kb_id, version, client_scope, client_code, type, title, normalized_title,
	content_md, tags, sap_objects, signals, sources, is_current, status, content_hash, created_at, updated_at`

type KBItemRepository struct {
	db dbtx
}

func NewKBItemRepository(pool *pgxpool.Pool) *KBItemRepository {
	return &KBItemRepository{db: pool}
}

func NewKBItemRepositoryWithTx(tx pgx.Tx) *KBItemRepository {
	return &KBItemRepository{db: tx}
}

func (r *KBItemRepository) Insert(ctx context.Context, item *domain.KBItem) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO kb_items (kb_id, version, client_scope, client_code, type, title, normalized_title,
		      content_md, tags, sap_objects, signals, sources, is_current, status, content_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		item.ID, item.Version, item.Scope, nullableString(item.ClientCode), item.Type,
		item.Title, domain.NormalizeTitle(item.Title), item.ContentMD,
		item.Tags, item.SAPObjects, item.Signals, item.Sources,
		item.Current, item.Status, item.ContentHash, item.CreatedAt, item.UpdatedAt,
	)
	if isUniqueViolation(err, "") {
		return domain.ErrVersionRace
	}
	return err
}

// MarkSuperseded clears the is_current flag on one version. The caller inserts
// the successor in the same transaction so the dedupe index never sees two
// current rows for the same key.
func (r *KBItemRepository) MarkSuperseded(ctx context.Context, kbID string, version int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE kb_items SET is_current = FALSE WHERE kb_id = $1 AND version = $2 AND is_current`,
		kbID, version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionRace
	}
	return nil
}

func (r *KBItemRepository) FindCurrentByKey(ctx context.Context, scope domain.Scope, clientCode string, itemType domain.KBItemType, normalizedTitle string) (*domain.KBItem, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+kbItemColumns+`
		 FROM kb_items
		 WHERE client_scope = $1 AND COALESCE(client_code, '') = $2 AND type = $3 AND normalized_title = $4 AND is_current`,
		scope, clientCode, itemType, normalizedTitle,
	)
	return scanKBItem(row)
}

func (r *KBItemRepository) GetCurrent(ctx context.Context, id string) (*domain.KBItem, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+kbItemColumns+` FROM kb_items WHERE kb_id = $1 AND is_current`,
		id,
	)
	return scanKBItem(row)
}

func (r *KBItemRepository) GetVersion(ctx context.Context, id string, version int) (*domain.KBItem, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+kbItemColumns+` FROM kb_items WHERE kb_id = $1 AND version = $2`,
		id, version,
	)
	return scanKBItem(row)
}

func (r *KBItemRepository) ListVersions(ctx context.Context, id string) ([]*domain.KBItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+kbItemColumns+` FROM kb_items WHERE kb_id = $1 ORDER BY version DESC`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items, err := scanKBItemRows(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.ErrKBItemNotFound
	}
	return items, nil
}

func (r *KBItemRepository) ListCurrent(ctx context.Context, filter service.KBItemFilter, cursor *pagination.Cursor, limit int) (*service.KBItemPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + kbItemColumns + `
		 FROM kb_items
		 WHERE is_current AND client_scope = $1 AND COALESCE(client_code, '') = $2`
	args := []any{filter.Scope, filter.ClientCode}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += ` AND type = $` + strconv.Itoa(len(args))
	}
	if cursor != nil {
		args = append(args, cursor.Timestamp, cursor.LastID)
		query += ` AND (updated_at, kb_id) < ($` + strconv.Itoa(len(args)-1) + `, $` + strconv.Itoa(len(args)) + `)`
	}
	args = append(args, limit+1)
	query += ` ORDER BY updated_at DESC, kb_id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanKBItemRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	result := &service.KBItemPageResult{
		Items:   items,
		HasMore: hasMore,
	}
	if hasMore {
		last := items[len(items)-1]
		result.NextCursor = pagination.EncodeCursor(last.ID, last.UpdatedAt)
	}
	return result, nil
}

// GetCurrentByIDs returns only the current version of each requested item.
// IDs without a current row are silently absent from the result.
func (r *KBItemRepository) GetCurrentByIDs(ctx context.Context, ids []string) ([]*domain.KBItem, error) {
	if len(ids) == 0 {
		return []*domain.KBItem{}, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+kbItemColumns+` FROM kb_items WHERE kb_id = ANY($1) AND is_current`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKBItemRows(rows)
}

func (r *KBItemRepository) ListCurrentByStatus(ctx context.Context, scope domain.Scope, clientCode string, status domain.KBItemStatus) ([]*domain.KBItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+kbItemColumns+`
		 FROM kb_items
		 WHERE is_current AND client_scope = $1 AND COALESCE(client_code, '') = $2 AND status = $3
		 ORDER BY updated_at DESC, kb_id DESC`,
		scope, clientCode, status,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKBItemRows(rows)
}

// UpdateContent rewrites the mutable fields of the current version in place.
// Edits do not bump the version; only re-ingestion does.
func (r *KBItemRepository) UpdateContent(ctx context.Context, item *domain.KBItem) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE kb_items
		 SET title = $1, normalized_title = $2, content_md = $3, tags = $4, sap_objects = $5,
		     signals = $6, status = $7, content_hash = $8, updated_at = $9
		 WHERE kb_id = $10 AND version = $11 AND is_current`,
		item.Title, domain.NormalizeTitle(item.Title), item.ContentMD, item.Tags, item.SAPObjects,
		item.Signals, item.Status, item.ContentHash, item.UpdatedAt,
		item.ID, item.Version,
	)
	if isUniqueViolation(err, "idx_kb_items_dedupe_key") {
		return domain.ErrDuplicateItem
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrKBItemNotFound
	}
	return nil
}

func (r *KBItemRepository) UpdateStatus(ctx context.Context, id string, status domain.KBItemStatus, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE kb_items SET status = $1, updated_at = $2 WHERE kb_id = $3 AND is_current`,
		status, now, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrKBItemNotFound
	}
	return nil
}

func scanKBItem(row pgx.Row) (*domain.KBItem, error) {
	var item domain.KBItem
	var clientCode *string
	err := row.Scan(
		&item.ID, &item.Version, &item.Scope, &clientCode, &item.Type, &item.Title, new(string),
		&item.ContentMD, &item.Tags, &item.SAPObjects, &item.Signals, &item.Sources,
		&item.Current, &item.Status, &item.ContentHash, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKBItemNotFound
		}
		return nil, err
	}
	if clientCode != nil {
		item.ClientCode = *clientCode
	}
	return &item, nil
}

func scanKBItemRows(rows pgx.Rows) ([]*domain.KBItem, error) {
	items := make([]*domain.KBItem, 0)
	for rows.Next() {
		var item domain.KBItem
		var clientCode *string
		if err := rows.Scan(
			&item.ID, &item.Version, &item.Scope, &clientCode, &item.Type, &item.Title, new(string),
			&item.ContentMD, &item.Tags, &item.SAPObjects, &item.Signals, &item.Sources,
			&item.Current, &item.Status, &item.ContentHash, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if clientCode != nil {
			item.ClientCode = *clientCode
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

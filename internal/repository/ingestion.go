package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/pagination"
	"github.com/stadtwerk-labs/wissen/internal/service"
)

const ingestionColumns = `ingestion_id, client_scope, client_code, input_kind, input_hash, input_name,
	status, failure_reason, model, reasoning_effort, created_at, updated_at`

type IngestionRepository struct {
	db dbtx
}

func NewIngestionRepository(pool *pgxpool.Pool) *IngestionRepository {
	return &IngestionRepository{db: pool}
}

func NewIngestionRepositoryWithTx(tx pgx.Tx) *IngestionRepository {
	return &IngestionRepository{db: tx}
}

func (r *IngestionRepository) Create(ctx context.Context, ing *domain.Ingestion, extractedText string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO ingestions (ingestion_id, client_scope, client_code, input_kind, input_hash, input_name,
		      extracted_text, status, failure_reason, model, reasoning_effort, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ing.ID, ing.Scope, nullableString(ing.ClientCode), ing.InputKind, ing.InputHash,
		nullableString(ing.InputName), extractedText, ing.Status, nullableString(ing.FailureReason),
		ing.Model, ing.ReasoningEffort, ing.CreatedAt, ing.UpdatedAt,
	)
	if isUniqueViolation(err, "idx_ingestions_intake_key") {
		return domain.ErrDuplicateItem
	}
	return err
}

func (r *IngestionRepository) GetByID(ctx context.Context, id string) (*domain.Ingestion, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+ingestionColumns+` FROM ingestions WHERE ingestion_id = $1`,
		id,
	)
	return scanIngestion(row)
}

// FindByIntakeKey looks up a prior ingestion of the same raw input in the same
// scope. Used for raw intake dedupe before any model call is made.
func (r *IngestionRepository) FindByIntakeKey(ctx context.Context, scope domain.Scope, clientCode, inputHash string) (*domain.Ingestion, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+ingestionColumns+`
		 FROM ingestions
		 WHERE client_scope = $1 AND COALESCE(client_code, '') = $2 AND input_hash = $3`,
		scope, clientCode, inputHash,
	)
	return scanIngestion(row)
}

func (r *IngestionRepository) List(ctx context.Context, filter service.IngestionFilter, cursor *pagination.Cursor, limit int) (*service.IngestionPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + ingestionColumns + `
		 FROM ingestions
		 WHERE client_scope = $1 AND COALESCE(client_code, '') = $2`
	args := []any{filter.Scope, filter.ClientCode}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if cursor != nil {
		args = append(args, cursor.Timestamp, cursor.LastID)
		query += ` AND (created_at, ingestion_id) < ($` + strconv.Itoa(len(args)-1) + `, $` + strconv.Itoa(len(args)) + `)`
	}
	args = append(args, limit+1)
	query += ` ORDER BY created_at DESC, ingestion_id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*domain.Ingestion, 0)
	for rows.Next() {
		ing, err := scanIngestionValues(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ing)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	result := &service.IngestionPageResult{
		Items:   items,
		HasMore: hasMore,
	}
	if hasMore {
		last := items[len(items)-1]
		result.NextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}
	return result, nil
}

// ClaimPending atomically claims DRAFT ingestions for the synthesis worker.
// FOR UPDATE SKIP LOCKED keeps concurrent workers from claiming the same row;
// claims older than staleAfter are reclaimed so a crashed worker cannot strand
// an ingestion in DRAFT forever.
func (r *IngestionRepository) ClaimPending(ctx context.Context, limit int, staleAfter time.Duration, now time.Time) ([]*service.PendingIngestion, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT ingestion_id
			 FROM ingestions
			 WHERE status = $1 AND (claimed_at IS NULL OR claimed_at < $2)
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $3
		 )
		 UPDATE ingestions
		 SET claimed_at = $4
		 FROM cte
		 WHERE ingestions.ingestion_id = cte.ingestion_id
		 RETURNING ingestions.ingestion_id, ingestions.client_scope, ingestions.client_code,
		           ingestions.input_kind, ingestions.input_hash, ingestions.input_name,
		           ingestions.status, ingestions.failure_reason, ingestions.model,
		           ingestions.reasoning_effort, ingestions.created_at, ingestions.updated_at,
		           ingestions.extracted_text`,
		domain.IngestionStatusDraft, now.Add(-staleAfter), limit, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*service.PendingIngestion
	for rows.Next() {
		var p service.PendingIngestion
		var clientCode, inputName, failureReason pgtype.Text
		if err := rows.Scan(
			&p.ID, &p.Scope, &clientCode, &p.InputKind, &p.InputHash, &inputName,
			&p.Status, &failureReason, &p.Model, &p.ReasoningEffort, &p.CreatedAt, &p.UpdatedAt,
			&p.ExtractedText,
		); err != nil {
			return nil, err
		}
		if clientCode.Valid {
			p.ClientCode = clientCode.String
		}
		if inputName.Valid {
			p.InputName = inputName.String
		}
		if failureReason.Valid {
			p.FailureReason = failureReason.String
		}
		pending = append(pending, &p)
	}
	return pending, rows.Err()
}

func (r *IngestionRepository) UpdateStatus(ctx context.Context, id string, status domain.IngestionStatus, failureReason string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE ingestions SET status = $1, failure_reason = $2, claimed_at = NULL, updated_at = $3
		 WHERE ingestion_id = $4`,
		status, nullableString(failureReason), now, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIngestionNotFound
	}
	return nil
}

func (r *IngestionRepository) SetModelInfo(ctx context.Context, id, model, reasoningEffort string, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE ingestions SET model = $1, reasoning_effort = $2, updated_at = $3 WHERE ingestion_id = $4`,
		model, reasoningEffort, now, id,
	)
	return err
}

func scanIngestion(row pgx.Row) (*domain.Ingestion, error) {
	var ing domain.Ingestion
	var clientCode, inputName, failureReason pgtype.Text
	err := row.Scan(
		&ing.ID, &ing.Scope, &clientCode, &ing.InputKind, &ing.InputHash, &inputName,
		&ing.Status, &failureReason, &ing.Model, &ing.ReasoningEffort, &ing.CreatedAt, &ing.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIngestionNotFound
		}
		return nil, err
	}
	if clientCode.Valid {
		ing.ClientCode = clientCode.String
	}
	if inputName.Valid {
		ing.InputName = inputName.String
	}
	if failureReason.Valid {
		ing.FailureReason = failureReason.String
	}
	return &ing, nil
}

func scanIngestionValues(rows pgx.Rows) (*domain.Ingestion, error) {
	var ing domain.Ingestion
	var clientCode, inputName, failureReason pgtype.Text
	if err := rows.Scan(
		&ing.ID, &ing.Scope, &clientCode, &ing.InputKind, &ing.InputHash, &inputName,
		&ing.Status, &failureReason, &ing.Model, &ing.ReasoningEffort, &ing.CreatedAt, &ing.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if clientCode.Valid {
		ing.ClientCode = clientCode.String
	}
	if inputName.Valid {
		ing.InputName = inputName.String
	}
	if failureReason.Valid {
		ing.FailureReason = failureReason.String
	}
	return &ing, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stadtwerk-labs/wissen/internal/domain"
)

type ChatRepository struct {
	db dbtx
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{db: pool}
}

func NewChatRepositoryWithTx(tx pgx.Tx) *ChatRepository {
	return &ChatRepository{db: tx}
}

func (r *ChatRepository) CreateSession(ctx context.Context, s *domain.ChatSession) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO chat_sessions (session_id, client_code, title, pinned, created_at, last_activity_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, nullableString(s.ClientCode), s.Title, s.Pinned, s.CreatedAt, s.LastActivityAt,
	)
	return err
}

func (r *ChatRepository) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	row := r.db.QueryRow(ctx,
		`SELECT session_id, client_code, title, pinned, created_at, last_activity_at
		 FROM chat_sessions WHERE session_id = $1`,
		id,
	)
	return scanSession(row)
}

// ListSessions orders pinned sessions first, then by recency.
func (r *ChatRepository) ListSessions(ctx context.Context, limit, offset int) ([]*domain.ChatSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT session_id, client_code, title, pinned, created_at, last_activity_at
		 FROM chat_sessions
		 ORDER BY pinned DESC, last_activity_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessionRows(rows)
}

// SearchSessions matches the query case-insensitively against session titles
// and message contents.
func (r *ChatRepository) SearchSessions(ctx context.Context, query string, limit int) ([]*domain.ChatSession, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + query + "%"
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT s.session_id, s.client_code, s.title, s.pinned, s.created_at, s.last_activity_at
		 FROM chat_sessions s
		 LEFT JOIN chat_messages m ON m.session_id = s.session_id
		 WHERE s.title ILIKE $1 OR m.content ILIKE $1
		 ORDER BY s.last_activity_at DESC
		 LIMIT $2`,
		pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessionRows(rows)
}

func (r *ChatRepository) UpdateSessionTitle(ctx context.Context, id, title string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE chat_sessions SET title = $1, last_activity_at = $2 WHERE session_id = $3`,
		title, now, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *ChatRepository) SetSessionPinned(ctx context.Context, id string, pinned bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE chat_sessions SET pinned = $1 WHERE session_id = $2`,
		pinned, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *ChatRepository) DeleteSession(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM chat_sessions WHERE session_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// AppendMessage assigns the next sequence number and inserts in one statement,
// then bumps the session's last activity. Run inside a transaction; a
// concurrent append on the same session surfaces as a unique violation on
// (session_id, seq) which callers retry.
func (r *ChatRepository) AppendMessage(ctx context.Context, m *domain.ChatMessage) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO chat_messages (message_id, session_id, role, content, seq, used_item_ids, model_called, created_at)
		 SELECT $1, $2, $3, $4, COALESCE(MAX(seq), 0) + 1, $5, $6, $7
		 FROM chat_messages WHERE session_id = $2
		 RETURNING seq`,
		m.ID, m.SessionID, m.Role, m.Content, m.UsedItemIDs, m.ModelCalled, m.CreatedAt,
	).Scan(&m.Seq)
	if isUniqueViolation(err, "") {
		return domain.ErrVersionRace
	}
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE chat_sessions SET last_activity_at = $1 WHERE session_id = $2`,
		m.CreatedAt, m.SessionID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *ChatRepository) ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT message_id, session_id, role, content, seq, used_item_ids, model_called, created_at
		 FROM chat_messages
		 WHERE session_id = $1
		 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*domain.ChatMessage, 0)
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Seq, &m.UsedItemIDs, &m.ModelCalled, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// PurgeExpired deletes unpinned sessions idle past the cutoff. Messages go
// with them via the cascade.
func (r *ChatRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM chat_sessions WHERE pinned = FALSE AND last_activity_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*domain.ChatSession, error) {
	var s domain.ChatSession
	var clientCode pgtype.Text
	err := row.Scan(&s.ID, &clientCode, &s.Title, &s.Pinned, &s.CreatedAt, &s.LastActivityAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	if clientCode.Valid {
		s.ClientCode = clientCode.String
	}
	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*domain.ChatSession, error) {
	sessions := make([]*domain.ChatSession, 0)
	for rows.Next() {
		var s domain.ChatSession
		var clientCode pgtype.Text
		if err := rows.Scan(&s.ID, &clientCode, &s.Title, &s.Pinned, &s.CreatedAt, &s.LastActivityAt); err != nil {
			return nil, err
		}
		if clientCode.Valid {
			s.ClientCode = clientCode.String
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

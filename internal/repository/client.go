package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stadtwerk-labs/wissen/internal/domain"
)

type ClientRepository struct {
	db dbtx
}

func NewClientRepository(pool *pgxpool.Pool) *ClientRepository {
	return &ClientRepository{db: pool}
}

func NewClientRepositoryWithTx(tx pgx.Tx) *ClientRepository {
	return &ClientRepository{db: tx}
}

func (r *ClientRepository) Create(ctx context.Context, c *domain.Client) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO clients (code, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		c.Code, c.Name, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err, "") {
		return domain.ErrClientAlreadyExists
	}
	return err
}

func (r *ClientRepository) GetByCode(ctx context.Context, code string) (*domain.Client, error) {
	var c domain.Client
	err := r.db.QueryRow(ctx,
		`SELECT code, name, created_at, updated_at FROM clients WHERE code = $1`,
		code,
	).Scan(&c.Code, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrClientNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *ClientRepository) Exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM clients WHERE code = $1)`,
		code,
	).Scan(&exists)
	return exists, err
}

func (r *ClientRepository) List(ctx context.Context) ([]*domain.Client, error) {
	rows, err := r.db.Query(ctx,
		`SELECT code, name, created_at, updated_at FROM clients ORDER BY code ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]*domain.Client, 0)
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.Code, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		clients = append(clients, &c)
	}
	return clients, rows.Err()
}

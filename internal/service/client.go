package service

import (
	"context"
	"time"

	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/telemetry"
)

// ClientRepositoryInterface defines the repository interface for client persistence
type ClientRepositoryInterface interface {
	Create(ctx context.Context, c *domain.Client) error
	GetByCode(ctx context.Context, code string) (*domain.Client, error)
	Exists(ctx context.Context, code string) (bool, error)
	List(ctx context.Context) ([]*domain.Client, error)
}

// ClientService manages tenant registrations.
type ClientService struct {
	repo ClientRepositoryInterface
}

func NewClientService(repo ClientRepositoryInterface) *ClientService {
	return &ClientService{repo: repo}
}

// Register creates a client. Codes are normalized to upper case and must be
// unique.
func (s *ClientService) Register(ctx context.Context, code, name string) (*domain.Client, error) {
	ctx, span := telemetry.StartSpan(ctx, "ClientService.Register", telemetry.SpanAttributes{
		ClientCode: code,
		Operation:  "register_client",
	})
	defer span.End()

	now := time.Now().UTC()
	client := &domain.Client{
		Code:      domain.NormalizeClientCode(code),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := domain.ValidateClient(client); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, client); err != nil {
		return nil, err
	}
	return client, nil
}

func (s *ClientService) GetByCode(ctx context.Context, code string) (*domain.Client, error) {
	return s.repo.GetByCode(ctx, domain.NormalizeClientCode(code))
}

func (s *ClientService) List(ctx context.Context) ([]*domain.Client, error) {
	return s.repo.List(ctx)
}

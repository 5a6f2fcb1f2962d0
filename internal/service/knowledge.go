package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/pagination"
	"github.com/stadtwerk-labs/wissen/internal/qdrant"
	"github.com/stadtwerk-labs/wissen/internal/telemetry"
)

// KBItemRepositoryInterface defines the repository interface for knowledge item persistence
type KBItemRepositoryInterface interface {
	Insert(ctx context.Context, item *domain.KBItem) error
	MarkSuperseded(ctx context.Context, kbID string, version int) error
	FindCurrentByKey(ctx context.Context, scope domain.Scope, clientCode string, itemType domain.KBItemType, normalizedTitle string) (*domain.KBItem, error)
	GetCurrent(ctx context.Context, id string) (*domain.KBItem, error)
	GetVersion(ctx context.Context, id string, version int) (*domain.KBItem, error)
	ListVersions(ctx context.Context, id string) ([]*domain.KBItem, error)
	ListCurrent(ctx context.Context, filter KBItemFilter, cursor *pagination.Cursor, limit int) (*KBItemPageResult, error)
	GetCurrentByIDs(ctx context.Context, ids []string) ([]*domain.KBItem, error)
	ListCurrentByStatus(ctx context.Context, scope domain.Scope, clientCode string, status domain.KBItemStatus) ([]*domain.KBItem, error)
	UpdateContent(ctx context.Context, item *domain.KBItem) error
	UpdateStatus(ctx context.Context, id string, status domain.KBItemStatus, now time.Time) error
}

// KBItemFilter narrows a current-items listing.
type KBItemFilter struct {
	Scope      domain.Scope
	ClientCode string
	Status     domain.KBItemStatus
	Type       domain.KBItemType
}

type KBItemPageResult struct {
	Items      []*domain.KBItem
	NextCursor string
	HasMore    bool
}

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex defines the vector index operations the knowledge lifecycle
// needs.
type VectorIndex interface {
	Upsert(ctx context.Context, collection, pointID string, vector []float32, payload qdrant.Payload) error
	DeletePoints(ctx context.Context, collection string, ids []string) error
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// SaveOutcome describes what the dedupe engine did with a draft.
type SaveOutcome string

const (
	SaveOutcomeCreated    SaveOutcome = "created"
	SaveOutcomeNewVersion SaveOutcome = "new_version"
	SaveOutcomeDuplicate  SaveOutcome = "duplicate"
)

// SaveDraftResult is the outcome of persisting one synthesized draft.
type SaveDraftResult struct {
	Item    *domain.KBItem
	Outcome SaveOutcome
}

// ApproveResult reports an approval and the state of its index write. An
// approval always commits; a failed upsert leaves Indexed false and the item
// is picked up by reconciliation.
type ApproveResult struct {
	Item       *domain.KBItem
	Indexed    bool
	IndexError string
}

// ClientChecker verifies client registrations for scope validation.
type ClientChecker interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// IngestionStatusUpdater mirrors approval decisions onto the originating
// ingestions.
type IngestionStatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, status domain.IngestionStatus, failureReason string, now time.Time) error
}

// KnowledgeService owns the dedupe/versioning engine and the approval
// lifecycle of knowledge items.
type KnowledgeService struct {
	kbRepo     KBItemRepositoryInterface
	clientRepo ClientChecker
	ingestions IngestionStatusUpdater
	txRunner   TxRunner
	embedder   EmbeddingClient
	index      VectorIndex
	uuidGen    UUIDGenerator
}

func NewKnowledgeService(
	kbRepo KBItemRepositoryInterface,
	clientRepo ClientChecker,
	ingestions IngestionStatusUpdater,
	txRunner TxRunner,
	embedder EmbeddingClient,
	index VectorIndex,
) *KnowledgeService {
	return &KnowledgeService{
		kbRepo:     kbRepo,
		clientRepo: clientRepo,
		ingestions: ingestions,
		txRunner:   txRunner,
		embedder:   embedder,
		index:      index,
		uuidGen:    &DefaultUUIDGenerator{},
	}
}

// NewKnowledgeServiceWithUUIDGen creates a KnowledgeService with a custom UUID
// generator (for testing).
func NewKnowledgeServiceWithUUIDGen(
	kbRepo KBItemRepositoryInterface,
	clientRepo ClientChecker,
	ingestions IngestionStatusUpdater,
	txRunner TxRunner,
	embedder EmbeddingClient,
	index VectorIndex,
	uuidGen UUIDGenerator,
) *KnowledgeService {
	s := NewKnowledgeService(kbRepo, clientRepo, ingestions, txRunner, embedder, index)
	s.uuidGen = uuidGen
	return s
}

// SaveDraft runs one synthesized draft through the dedupe tree:
//
//	no current item with the same (scope, client, type, normalized title) -> new item, version 1
//	same key, same content fingerprint                                    -> duplicate, no write
//	same key, different fingerprint                                       -> new version, same id
//
// The decision and the write share one transaction; a concurrent writer hits
// the partial unique index and the whole decision is retried once.
func (s *KnowledgeService) SaveDraft(ctx context.Context, scope domain.Scope, clientCode string, draft domain.KBItemDraft, source domain.Source) (*SaveDraftResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.SaveDraft", telemetry.SpanAttributes{
		Scope:      string(scope),
		ClientCode: clientCode,
		Operation:  "save_draft",
	})
	defer span.End()

	clientCode = domain.NormalizeClientCode(clientCode)
	if err := domain.ValidateScope(scope, clientCode); err != nil {
		return nil, err
	}
	if err := domain.ValidateKBItemDraft(&draft); err != nil {
		return nil, err
	}
	if scope == domain.ScopeClient {
		exists, err := s.clientRepo.Exists(ctx, clientCode)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, domain.ErrClientNotRegistered
		}
	}

	var result *SaveDraftResult
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
			var txErr error
			result, txErr = s.saveDraftTx(ctx, repos.KBItems(), scope, clientCode, draft, source)
			return txErr
		})
		if !errors.Is(err, domain.ErrVersionRace) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *KnowledgeService) saveDraftTx(ctx context.Context, repo KBItemRepositoryInterface, scope domain.Scope, clientCode string, draft domain.KBItemDraft, source domain.Source) (*SaveDraftResult, error) {
	now := time.Now().UTC()
	hash := domain.ContentFingerprint(draft.Type, draft.Title, draft.ContentMD)

	existing, err := repo.FindCurrentByKey(ctx, scope, clientCode, draft.Type, domain.NormalizeTitle(draft.Title))
	if err != nil && !errors.Is(err, domain.ErrKBItemNotFound) {
		return nil, err
	}

	if existing == nil {
		item := &domain.KBItem{
			ID:          s.uuidGen.NewString(),
			Scope:       scope,
			ClientCode:  clientCode,
			Type:        draft.Type,
			Title:       draft.Title,
			ContentMD:   draft.ContentMD,
			Tags:        draft.Tags,
			SAPObjects:  draft.SAPObjects,
			Signals:     draft.Signals,
			Sources:     []domain.Source{source},
			Version:     1,
			Current:     true,
			Status:      domain.KBItemStatusDraft,
			ContentHash: hash,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.Insert(ctx, item); err != nil {
			return nil, err
		}
		return &SaveDraftResult{Item: item, Outcome: SaveOutcomeCreated}, nil
	}

	if existing.ContentHash == hash {
		return &SaveDraftResult{Item: existing, Outcome: SaveOutcomeDuplicate}, nil
	}

	if err := repo.MarkSuperseded(ctx, existing.ID, existing.Version); err != nil {
		return nil, err
	}
	next := &domain.KBItem{
		ID:          existing.ID,
		Scope:       scope,
		ClientCode:  clientCode,
		Type:        draft.Type,
		Title:       draft.Title,
		ContentMD:   draft.ContentMD,
		Tags:        draft.Tags,
		SAPObjects:  draft.SAPObjects,
		Signals:     draft.Signals,
		Sources:     append(append([]domain.Source{}, existing.Sources...), source),
		Version:     existing.Version + 1,
		Current:     true,
		Status:      domain.KBItemStatusDraft,
		ContentHash: hash,
		CreatedAt:   existing.CreatedAt,
		UpdatedAt:   now,
	}
	if err := repo.Insert(ctx, next); err != nil {
		return nil, err
	}
	return &SaveDraftResult{Item: next, Outcome: SaveOutcomeNewVersion}, nil
}

// EditInput represents the input for editing the current version in place.
type EditInput struct {
	ID         string
	Title      string
	ContentMD  string
	Tags       []string
	SAPObjects []string
	Signals    map[string]string
}

// Edit rewrites the current version's content without bumping the version.
// The content fingerprint is recomputed and the item drops back to DRAFT, so
// an approved item must be re-approved after an edit. An edited approved item
// also loses its vector point: DRAFT content is never retrievable.
func (s *KnowledgeService) Edit(ctx context.Context, input EditInput) (*domain.KBItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Edit", telemetry.SpanAttributes{
		ItemID:    input.ID,
		Operation: "edit",
	})
	defer span.End()

	item, err := s.kbRepo.GetCurrent(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	wasApproved := item.Status == domain.KBItemStatusApproved

	item.Title = input.Title
	item.ContentMD = input.ContentMD
	if input.Tags != nil {
		item.Tags = input.Tags
	}
	if input.SAPObjects != nil {
		item.SAPObjects = input.SAPObjects
	}
	if input.Signals != nil {
		item.Signals = input.Signals
	}

	draft := domain.KBItemDraft{
		Type:      item.Type,
		Title:     item.Title,
		ContentMD: item.ContentMD,
	}
	if err := domain.ValidateKBItemDraft(&draft); err != nil {
		return nil, err
	}

	item.Status = domain.KBItemStatusDraft
	item.ContentHash = domain.ContentFingerprint(item.Type, item.Title, item.ContentMD)
	item.UpdatedAt = time.Now().UTC()

	if err := s.kbRepo.UpdateContent(ctx, item); err != nil {
		return nil, err
	}

	if wasApproved {
		collection, err := qdrant.CollectionName(item.Scope, item.ClientCode)
		if err != nil {
			return nil, err
		}
		if err := s.index.DeletePoints(ctx, collection, []string{item.ID}); err != nil {
			log.Printf("knowledge: edit %s: point delete failed: %v", input.ID, err)
			telemetry.CaptureError(ctx, err)
		}
	}
	return item, nil
}

// Approve commits the status change first, then embeds and upserts the point.
// An upsert failure does not roll back the approval: the item stays APPROVED
// and unindexed until reconciliation repairs it.
func (s *KnowledgeService) Approve(ctx context.Context, id string) (*ApproveResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Approve", telemetry.SpanAttributes{
		ItemID:    id,
		Operation: "approve",
	})
	defer span.End()

	item, err := s.kbRepo.GetCurrent(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.kbRepo.UpdateStatus(ctx, id, domain.KBItemStatusApproved, now); err != nil {
		return nil, err
	}
	item.Status = domain.KBItemStatusApproved
	item.UpdatedAt = now
	s.markSourceIngestions(ctx, item, domain.IngestionStatusApproved, now)

	if err := s.IndexItem(ctx, item); err != nil {
		indexErr := domain.NewDomainErrorWithCause(domain.ErrCodeConsistency,
			"approved item could not be indexed, run reconciliation", err)
		log.Printf("knowledge: approve %s: %v", id, indexErr)
		telemetry.CaptureError(ctx, indexErr)
		return &ApproveResult{Item: item, Indexed: false, IndexError: indexErr.Error()}, nil
	}
	return &ApproveResult{Item: item, Indexed: true}, nil
}

// IndexItem embeds an item and upserts its point. The point id is the stable
// item id, so a newer version overwrites the older point in place.
func (s *KnowledgeService) IndexItem(ctx context.Context, item *domain.KBItem) error {
	vector, err := s.embedder.Embed(ctx, item.Title+"\n\n"+item.ContentMD)
	if err != nil {
		return err
	}
	collection, err := qdrant.CollectionName(item.Scope, item.ClientCode)
	if err != nil {
		return err
	}
	return s.index.Upsert(ctx, collection, item.ID, vector, qdrant.Payload{
		ItemID:     item.ID,
		Type:       string(item.Type),
		Title:      item.Title,
		Tags:       item.Tags,
		SAPObjects: item.SAPObjects,
		Scope:      string(item.Scope),
		ClientCode: item.ClientCode,
		Version:    item.Version,
		UpdatedAt:  item.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// Reject is terminal for the current version. Any previously indexed point is
// removed so rejected content can no longer be retrieved.
func (s *KnowledgeService) Reject(ctx context.Context, id string) (*domain.KBItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Reject", telemetry.SpanAttributes{
		ItemID:    id,
		Operation: "reject",
	})
	defer span.End()

	item, err := s.kbRepo.GetCurrent(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.kbRepo.UpdateStatus(ctx, id, domain.KBItemStatusRejected, now); err != nil {
		return nil, err
	}
	item.Status = domain.KBItemStatusRejected
	item.UpdatedAt = now
	s.markSourceIngestions(ctx, item, domain.IngestionStatusRejected, now)

	collection, err := qdrant.CollectionName(item.Scope, item.ClientCode)
	if err != nil {
		return nil, err
	}
	if err := s.index.DeletePoints(ctx, collection, []string{item.ID}); err != nil {
		log.Printf("knowledge: reject %s: point delete failed: %v", id, err)
		telemetry.CaptureError(ctx, err)
	}
	return item, nil
}

// markSourceIngestions moves every originating ingestion to the decided
// status. The item's transition already committed, so failures here are
// logged and left for the next decision on the same item.
func (s *KnowledgeService) markSourceIngestions(ctx context.Context, item *domain.KBItem, status domain.IngestionStatus, now time.Time) {
	seen := make(map[string]bool, len(item.Sources))
	for _, src := range item.Sources {
		if src.IngestionID == "" || seen[src.IngestionID] {
			continue
		}
		seen[src.IngestionID] = true
		if err := s.ingestions.UpdateStatus(ctx, src.IngestionID, status, "", now); err != nil {
			log.Printf("knowledge: mark ingestion %s %s: %v", src.IngestionID, status, err)
			telemetry.CaptureError(ctx, err)
		}
	}
}

// GetByID retrieves the current version of a knowledge item.
func (s *KnowledgeService) GetByID(ctx context.Context, id string) (*domain.KBItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.GetByID", telemetry.SpanAttributes{
		ItemID:    id,
		Operation: "get",
	})
	defer span.End()

	return s.kbRepo.GetCurrent(ctx, id)
}

// ListVersions returns every version of an item, newest first.
func (s *KnowledgeService) ListVersions(ctx context.Context, id string) ([]*domain.KBItem, error) {
	return s.kbRepo.ListVersions(ctx, id)
}

type ListKnowledgeInput struct {
	Scope      domain.Scope
	ClientCode string
	Status     domain.KBItemStatus
	Type       domain.KBItemType
	Cursor     string
	Limit      int
}

type ListKnowledgeOutput struct {
	Items   []*domain.KBItem
	Cursor  string
	HasMore bool
}

// List returns current versions matching the filter, newest first.
func (s *KnowledgeService) List(ctx context.Context, input ListKnowledgeInput) (*ListKnowledgeOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.List", telemetry.SpanAttributes{
		Scope:      string(input.Scope),
		ClientCode: input.ClientCode,
		Operation:  "list",
	})
	defer span.End()

	input.ClientCode = domain.NormalizeClientCode(input.ClientCode)
	if err := domain.ValidateScope(input.Scope, input.ClientCode); err != nil {
		return nil, err
	}
	if input.Status != "" && input.Status != domain.KBItemStatusDraft &&
		input.Status != domain.KBItemStatusApproved && input.Status != domain.KBItemStatusRejected {
		return nil, domain.ErrInvalidKBItemStatus
	}
	if input.Type != "" && !domain.ValidKBItemType(input.Type) {
		return nil, domain.ErrInvalidKBItemType
	}

	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid cursor")
	}

	page, err := s.kbRepo.ListCurrent(ctx, KBItemFilter{
		Scope:      input.Scope,
		ClientCode: input.ClientCode,
		Status:     input.Status,
		Type:       input.Type,
	}, cursor, input.Limit)
	if err != nil {
		return nil, err
	}
	return &ListKnowledgeOutput{
		Items:   page.Items,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	}, nil
}

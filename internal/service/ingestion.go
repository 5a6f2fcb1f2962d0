package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/pagination"
	"github.com/stadtwerk-labs/wissen/internal/telemetry"
)

// IngestionRepositoryInterface defines the repository interface for ingestion persistence
type IngestionRepositoryInterface interface {
	Create(ctx context.Context, ing *domain.Ingestion, extractedText string) error
	GetByID(ctx context.Context, id string) (*domain.Ingestion, error)
	FindByIntakeKey(ctx context.Context, scope domain.Scope, clientCode, inputHash string) (*domain.Ingestion, error)
	List(ctx context.Context, filter IngestionFilter, cursor *pagination.Cursor, limit int) (*IngestionPageResult, error)
	ClaimPending(ctx context.Context, limit int, staleAfter time.Duration, now time.Time) ([]*PendingIngestion, error)
	UpdateStatus(ctx context.Context, id string, status domain.IngestionStatus, failureReason string, now time.Time) error
	SetModelInfo(ctx context.Context, id, model, reasoningEffort string, now time.Time) error
}

// IngestionFilter narrows an ingestion listing.
type IngestionFilter struct {
	Scope      domain.Scope
	ClientCode string
	Status     domain.IngestionStatus
}

type IngestionPageResult struct {
	Items      []*domain.Ingestion
	NextCursor string
	HasMore    bool
}

// PendingIngestion is a claimed ingestion together with its stored input text.
type PendingIngestion struct {
	domain.Ingestion
	ExtractedText string
}

// SourceArchive stores raw input text for provenance. Optional; a nil archive
// disables archiving.
type SourceArchive interface {
	Archive(ctx context.Context, key, text string) error
}

// DraftSaver is the dedupe engine consumed by the synthesis pipeline.
type DraftSaver interface {
	SaveDraft(ctx context.Context, scope domain.Scope, clientCode string, draft domain.KBItemDraft, source domain.Source) (*SaveDraftResult, error)
}

// Synthesizer turns extracted text into validated drafts.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, effort string) (*SynthesisResult, error)
}

// IngestionConfig carries the pipeline's tunables.
type IngestionConfig struct {
	Model           string
	ReasoningEffort string
	ClaimStaleAfter time.Duration
}

// IngestionService owns raw intake and the synthesis pipeline.
type IngestionService struct {
	repo        IngestionRepositoryInterface
	clientRepo  ClientChecker
	synthesizer Synthesizer
	drafts      DraftSaver
	archive     SourceArchive
	uuidGen     UUIDGenerator
	cfg         IngestionConfig
}

func NewIngestionService(
	repo IngestionRepositoryInterface,
	clientRepo ClientChecker,
	synthesizer Synthesizer,
	drafts DraftSaver,
	archive SourceArchive,
	cfg IngestionConfig,
) *IngestionService {
	if cfg.ClaimStaleAfter <= 0 {
		cfg.ClaimStaleAfter = 10 * time.Minute
	}
	return &IngestionService{
		repo:        repo,
		clientRepo:  clientRepo,
		synthesizer: synthesizer,
		drafts:      drafts,
		archive:     archive,
		uuidGen:     &DefaultUUIDGenerator{},
		cfg:         cfg,
	}
}

// NewIngestionServiceWithUUIDGen creates an IngestionService with a custom
// UUID generator (for testing).
func NewIngestionServiceWithUUIDGen(
	repo IngestionRepositoryInterface,
	clientRepo ClientChecker,
	synthesizer Synthesizer,
	drafts DraftSaver,
	archive SourceArchive,
	cfg IngestionConfig,
	uuidGen UUIDGenerator,
) *IngestionService {
	s := NewIngestionService(repo, clientRepo, synthesizer, drafts, archive, cfg)
	s.uuidGen = uuidGen
	return s
}

// IntakeInput is one raw input. Text is already extracted; PDF and DOCX
// extraction happens upstream and arrives here as plain text with the
// original kind and file name preserved.
type IntakeInput struct {
	Scope      domain.Scope
	ClientCode string
	Kind       domain.InputKind
	Text       string
	InputName  string
}

// IntakeResult reports intake. AlreadyExists is set when the same raw input
// was ingested before in the same scope; no new ingestion is queued then.
type IntakeResult struct {
	Ingestion     *domain.Ingestion
	AlreadyExists bool
}

// Intake validates, dedupes on the raw input hash and queues a DRAFT
// ingestion for the synthesis worker. No model call happens here.
func (s *IngestionService) Intake(ctx context.Context, input IntakeInput) (*IntakeResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Intake", telemetry.SpanAttributes{
		Scope:      string(input.Scope),
		ClientCode: input.ClientCode,
		Operation:  "intake",
	})
	defer span.End()

	input.ClientCode = domain.NormalizeClientCode(input.ClientCode)
	if err := domain.ValidateScope(input.Scope, input.ClientCode); err != nil {
		return nil, err
	}
	if !domain.ValidInputKind(input.Kind) {
		return nil, domain.ErrInvalidInputKind
	}
	if strings.TrimSpace(input.Text) == "" {
		return nil, domain.ErrEmptyInput
	}
	if input.Scope == domain.ScopeClient {
		exists, err := s.clientRepo.Exists(ctx, input.ClientCode)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, domain.ErrClientNotRegistered
		}
	}

	hash := domain.InputFingerprint(input.Text)

	existing, err := s.repo.FindByIntakeKey(ctx, input.Scope, input.ClientCode, hash)
	if err == nil {
		return &IntakeResult{Ingestion: existing, AlreadyExists: true}, nil
	}
	if !domain.IsCode(err, domain.ErrCodeNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	ing := &domain.Ingestion{
		ID:              s.uuidGen.NewString(),
		Scope:           input.Scope,
		ClientCode:      input.ClientCode,
		InputKind:       input.Kind,
		InputHash:       hash,
		InputName:       input.InputName,
		Status:          domain.IngestionStatusDraft,
		Model:           s.cfg.Model,
		ReasoningEffort: s.cfg.ReasoningEffort,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, ing, input.Text); err != nil {
		if domain.IsCode(err, domain.ErrCodeConflict) {
			// Lost an intake race for the same input; the winner's row is
			// authoritative.
			winner, findErr := s.repo.FindByIntakeKey(ctx, input.Scope, input.ClientCode, hash)
			if findErr != nil {
				return nil, err
			}
			return &IntakeResult{Ingestion: winner, AlreadyExists: true}, nil
		}
		return nil, err
	}

	if s.archive != nil {
		if err := s.archive.Archive(ctx, "ingestions/"+ing.ID+".txt", input.Text); err != nil {
			log.Printf("ingestion: archive %s: %v", ing.ID, err)
			telemetry.CaptureError(ctx, err)
		}
	}

	return &IntakeResult{Ingestion: ing}, nil
}

// GetByID retrieves one ingestion.
func (s *IngestionService) GetByID(ctx context.Context, id string) (*domain.Ingestion, error) {
	return s.repo.GetByID(ctx, id)
}

type ListIngestionsInput struct {
	Scope      domain.Scope
	ClientCode string
	Status     domain.IngestionStatus
	Cursor     string
	Limit      int
}

type ListIngestionsOutput struct {
	Items   []*domain.Ingestion
	Cursor  string
	HasMore bool
}

// List returns ingestions for a scope, newest first.
func (s *IngestionService) List(ctx context.Context, input ListIngestionsInput) (*ListIngestionsOutput, error) {
	input.ClientCode = domain.NormalizeClientCode(input.ClientCode)
	if err := domain.ValidateScope(input.Scope, input.ClientCode); err != nil {
		return nil, err
	}

	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid cursor")
	}

	page, err := s.repo.List(ctx, IngestionFilter{
		Scope:      input.Scope,
		ClientCode: input.ClientCode,
		Status:     input.Status,
	}, cursor, input.Limit)
	if err != nil {
		return nil, err
	}
	return &ListIngestionsOutput{
		Items:   page.Items,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	}, nil
}

// ProcessReport summarizes one pipeline batch.
type ProcessReport struct {
	Claimed     int
	Synthesized int
	Failed      int
	Created     int
	Versioned   int
	Duplicates  int
}

// ProcessPending claims a batch of DRAFT ingestions and runs each through
// synthesis and the dedupe engine. Claims are at-least-once: a re-run of an
// already synthesized input lands on the dedupe paths and writes nothing
// twice. The ingestion status is committed before any knowledge write so a
// crash between the two leaves a SYNTHESIZED ingestion and draft gaps that
// re-ingestion repairs.
func (s *IngestionService) ProcessPending(ctx context.Context, limit int) (*ProcessReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.ProcessPending", telemetry.SpanAttributes{
		Operation: "process_pending",
	})
	defer span.End()

	pending, err := s.repo.ClaimPending(ctx, limit, s.cfg.ClaimStaleAfter, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	report := &ProcessReport{Claimed: len(pending)}
	for _, p := range pending {
		if err := s.processOne(ctx, p, report); err != nil {
			report.Failed++
			log.Printf("ingestion: process %s failed: %v", p.ID, err)
			telemetry.CaptureError(ctx, err)
			if statusErr := s.repo.UpdateStatus(ctx, p.ID, domain.IngestionStatusFailed, err.Error(), time.Now().UTC()); statusErr != nil {
				log.Printf("ingestion: mark failed %s: %v", p.ID, statusErr)
			}
		}
	}
	return report, nil
}

func (s *IngestionService) processOne(ctx context.Context, p *PendingIngestion, report *ProcessReport) error {
	result, err := s.synthesizer.Synthesize(ctx, p.ExtractedText, p.ReasoningEffort)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, p.ID, domain.IngestionStatusSynthesized, "", now); err != nil {
		return err
	}
	report.Synthesized++

	source := domain.Source{IngestionID: p.ID, InputName: p.InputName}
	for _, draft := range result.Drafts {
		saved, err := s.drafts.SaveDraft(ctx, p.Scope, p.ClientCode, draft, source)
		if err != nil {
			log.Printf("ingestion: save draft for %s: %v", p.ID, err)
			telemetry.CaptureError(ctx, err)
			continue
		}
		switch saved.Outcome {
		case SaveOutcomeCreated:
			report.Created++
		case SaveOutcomeNewVersion:
			report.Versioned++
		case SaveOutcomeDuplicate:
			report.Duplicates++
		}
	}
	return nil
}

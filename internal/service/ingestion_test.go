package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stadtwerk-labs/wissen/internal/domain"
)

func newIngestionFixture() (*IngestionService, *MockIngestionRepo, *MockClientRepo, *MockSynthesizer, *MockDraftSaver, *MockArchive) {
	repo := new(MockIngestionRepo)
	clientRepo := new(MockClientRepo)
	synthesizer := new(MockSynthesizer)
	drafts := new(MockDraftSaver)
	archive := new(MockArchive)
	svc := NewIngestionServiceWithUUIDGen(repo, clientRepo, synthesizer, drafts, archive, IngestionConfig{
		Model:           "gpt-5",
		ReasoningEffort: "medium",
		ClaimStaleAfter: 10 * time.Minute,
	}, &seqUUIDGen{})
	return svc, repo, clientRepo, synthesizer, drafts, archive
}

func TestIngestionService_Intake_QueuesDraft(t *testing.T) {
	svc, repo, _, _, _, archive := newIngestionFixture()

	text := "MSCONS messages failing since the release upgrade."
	hash := domain.InputFingerprint(text)

	repo.On("FindByIntakeKey", mock.Anything, domain.ScopeStandard, "", hash).
		Return(nil, domain.ErrIngestionNotFound).Once()
	repo.On("Create", mock.Anything, mock.MatchedBy(func(ing *domain.Ingestion) bool {
		return ing.Status == domain.IngestionStatusDraft &&
			ing.InputHash == hash &&
			ing.Model == "gpt-5" &&
			ing.ReasoningEffort == "medium"
	}), text).Return(nil).Once()
	archive.On("Archive", mock.Anything, "ingestions/uuid-1.txt", text).Return(nil).Once()

	result, err := svc.Intake(context.Background(), IntakeInput{
		Scope:     domain.ScopeStandard,
		Kind:      domain.InputKindText,
		Text:      text,
		InputName: "release-notes.txt",
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyExists)
	assert.Equal(t, "uuid-1", result.Ingestion.ID)
	repo.AssertExpectations(t)
	archive.AssertExpectations(t)
}

func TestIngestionService_Intake_DedupesOnInputHash(t *testing.T) {
	svc, repo, _, _, _, archive := newIngestionFixture()

	text := "same input as before"
	existing := &domain.Ingestion{ID: "ing-old", Status: domain.IngestionStatusSynthesized}
	repo.On("FindByIntakeKey", mock.Anything, domain.ScopeStandard, "", domain.InputFingerprint(text)).
		Return(existing, nil).Once()

	result, err := svc.Intake(context.Background(), IntakeInput{
		Scope: domain.ScopeStandard,
		Kind:  domain.InputKindText,
		Text:  text,
	})
	require.NoError(t, err)
	assert.True(t, result.AlreadyExists)
	assert.Equal(t, "ing-old", result.Ingestion.ID)
	repo.AssertNotCalled(t, "Create")
	archive.AssertNotCalled(t, "Archive")
}

func TestIngestionService_Intake_LostRaceReturnsWinner(t *testing.T) {
	svc, repo, _, _, _, _ := newIngestionFixture()

	text := "raced input"
	hash := domain.InputFingerprint(text)
	repo.On("FindByIntakeKey", mock.Anything, domain.ScopeStandard, "", hash).
		Return(nil, domain.ErrIngestionNotFound).Once()
	repo.On("Create", mock.Anything, mock.Anything, text).Return(domain.ErrDuplicateItem).Once()
	winner := &domain.Ingestion{ID: "ing-winner"}
	repo.On("FindByIntakeKey", mock.Anything, domain.ScopeStandard, "", hash).
		Return(winner, nil).Once()

	result, err := svc.Intake(context.Background(), IntakeInput{
		Scope: domain.ScopeStandard,
		Kind:  domain.InputKindText,
		Text:  text,
	})
	require.NoError(t, err)
	assert.True(t, result.AlreadyExists)
	assert.Equal(t, "ing-winner", result.Ingestion.ID)
}

func TestIngestionService_Intake_Validation(t *testing.T) {
	svc, _, clientRepo, _, _, _ := newIngestionFixture()

	_, err := svc.Intake(context.Background(), IntakeInput{
		Scope: domain.ScopeStandard, Kind: domain.InputKindText, Text: "  ",
	})
	assert.ErrorIs(t, err, domain.ErrEmptyInput)

	_, err = svc.Intake(context.Background(), IntakeInput{
		Scope: domain.ScopeStandard, Kind: domain.InputKind("xls"), Text: "x",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInputKind)

	clientRepo.On("Exists", mock.Anything, "NOPE").Return(false, nil).Once()
	_, err = svc.Intake(context.Background(), IntakeInput{
		Scope: domain.ScopeClient, ClientCode: "nope", Kind: domain.InputKindText, Text: "x",
	})
	assert.ErrorIs(t, err, domain.ErrClientNotRegistered)
}

func TestIngestionService_Intake_ArchiveFailureIsNonFatal(t *testing.T) {
	svc, repo, _, _, _, archive := newIngestionFixture()

	text := "archival target"
	repo.On("FindByIntakeKey", mock.Anything, domain.ScopeStandard, "", mock.Anything).
		Return(nil, domain.ErrIngestionNotFound).Once()
	repo.On("Create", mock.Anything, mock.Anything, text).Return(nil).Once()
	archive.On("Archive", mock.Anything, mock.Anything, text).Return(assert.AnError).Once()

	result, err := svc.Intake(context.Background(), IntakeInput{
		Scope: domain.ScopeStandard,
		Kind:  domain.InputKindText,
		Text:  text,
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyExists)
}

func pendingIngestion(id, text string) *PendingIngestion {
	return &PendingIngestion{
		Ingestion: domain.Ingestion{
			ID:              id,
			Scope:           domain.ScopeStandard,
			InputKind:       domain.InputKindText,
			InputName:       "notes.txt",
			Status:          domain.IngestionStatusDraft,
			ReasoningEffort: "medium",
		},
		ExtractedText: text,
	}
}

func TestIngestionService_ProcessPending_HappyPath(t *testing.T) {
	svc, repo, _, synthesizer, drafts, _ := newIngestionFixture()

	p := pendingIngestion("ing-1", "extracted text")
	repo.On("ClaimPending", mock.Anything, 10, 10*time.Minute, mock.Anything).
		Return([]*PendingIngestion{p}, nil).Once()

	synthesizer.On("Synthesize", mock.Anything, "extracted text", "medium").
		Return(&SynthesisResult{Drafts: []domain.KBItemDraft{testDraft(), testDraft()}}, nil).Once()

	// Status commits before any knowledge write.
	statusDone := false
	repo.On("UpdateStatus", mock.Anything, "ing-1", domain.IngestionStatusSynthesized, "", mock.Anything).
		Run(func(mock.Arguments) { statusDone = true }).Return(nil).Once()

	drafts.On("SaveDraft", mock.Anything, domain.ScopeStandard, "", mock.Anything,
		domain.Source{IngestionID: "ing-1", InputName: "notes.txt"}).
		Run(func(mock.Arguments) { require.True(t, statusDone) }).
		Return(&SaveDraftResult{Item: &domain.KBItem{ID: "kb-1"}, Outcome: SaveOutcomeCreated}, nil).Once()
	drafts.On("SaveDraft", mock.Anything, domain.ScopeStandard, "", mock.Anything, mock.Anything).
		Return(&SaveDraftResult{Item: &domain.KBItem{ID: "kb-1"}, Outcome: SaveOutcomeDuplicate}, nil).Once()

	report, err := svc.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 1, report.Synthesized)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 0, report.Failed)
	repo.AssertExpectations(t)
}

func TestIngestionService_ProcessPending_SynthesisFailureMarksFailed(t *testing.T) {
	svc, repo, _, synthesizer, drafts, _ := newIngestionFixture()

	p := pendingIngestion("ing-1", "bad input")
	repo.On("ClaimPending", mock.Anything, 5, 10*time.Minute, mock.Anything).
		Return([]*PendingIngestion{p}, nil).Once()
	synthErr := domain.NewDomainError(domain.ErrCodeValidation, "synthesis output invalid after retry: kb_items must be non-empty")
	synthesizer.On("Synthesize", mock.Anything, "bad input", "medium").Return(nil, synthErr).Once()
	repo.On("UpdateStatus", mock.Anything, "ing-1", domain.IngestionStatusFailed,
		mock.MatchedBy(func(reason string) bool { return reason != "" }), mock.Anything).Return(nil).Once()

	report, err := svc.ProcessPending(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Synthesized)
	drafts.AssertNotCalled(t, "SaveDraft")
	repo.AssertExpectations(t)
}

func TestIngestionService_ProcessPending_DraftSaveFailureDoesNotFailIngestion(t *testing.T) {
	svc, repo, _, synthesizer, drafts, _ := newIngestionFixture()

	p := pendingIngestion("ing-1", "text")
	repo.On("ClaimPending", mock.Anything, 5, 10*time.Minute, mock.Anything).
		Return([]*PendingIngestion{p}, nil).Once()
	synthesizer.On("Synthesize", mock.Anything, "text", "medium").
		Return(&SynthesisResult{Drafts: []domain.KBItemDraft{testDraft()}}, nil).Once()
	repo.On("UpdateStatus", mock.Anything, "ing-1", domain.IngestionStatusSynthesized, "", mock.Anything).
		Return(nil).Once()
	drafts.On("SaveDraft", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, assert.AnError).Once()

	report, err := svc.ProcessPending(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synthesized)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, report.Created)
}

func TestIngestionService_ProcessPending_EmptyBatch(t *testing.T) {
	svc, repo, _, synthesizer, _, _ := newIngestionFixture()

	repo.On("ClaimPending", mock.Anything, 10, 10*time.Minute, mock.Anything).
		Return([]*PendingIngestion{}, nil).Once()

	report, err := svc.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)
	synthesizer.AssertNotCalled(t, "Synthesize")
}

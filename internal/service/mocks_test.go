package service

import (
	"context"
	"fmt"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/openai"
	"github.com/stadtwerk-labs/wissen/internal/pagination"
	"github.com/stadtwerk-labs/wissen/internal/qdrant"
)

type MockKBItemRepo struct {
	mock.Mock
}

func (m *MockKBItemRepo) Insert(ctx context.Context, item *domain.KBItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockKBItemRepo) MarkSuperseded(ctx context.Context, kbID string, version int) error {
	args := m.Called(ctx, kbID, version)
	return args.Error(0)
}

func (m *MockKBItemRepo) FindCurrentByKey(ctx context.Context, scope domain.Scope, clientCode string, itemType domain.KBItemType, normalizedTitle string) (*domain.KBItem, error) {
	args := m.Called(ctx, scope, clientCode, itemType, normalizedTitle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KBItem), args.Error(1)
}

func (m *MockKBItemRepo) GetCurrent(ctx context.Context, id string) (*domain.KBItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KBItem), args.Error(1)
}

func (m *MockKBItemRepo) GetVersion(ctx context.Context, id string, version int) (*domain.KBItem, error) {
	args := m.Called(ctx, id, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KBItem), args.Error(1)
}

func (m *MockKBItemRepo) ListVersions(ctx context.Context, id string) ([]*domain.KBItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KBItem), args.Error(1)
}

func (m *MockKBItemRepo) ListCurrent(ctx context.Context, filter KBItemFilter, cursor *pagination.Cursor, limit int) (*KBItemPageResult, error) {
	args := m.Called(ctx, filter, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*KBItemPageResult), args.Error(1)
}

func (m *MockKBItemRepo) GetCurrentByIDs(ctx context.Context, ids []string) ([]*domain.KBItem, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KBItem), args.Error(1)
}

func (m *MockKBItemRepo) ListCurrentByStatus(ctx context.Context, scope domain.Scope, clientCode string, status domain.KBItemStatus) ([]*domain.KBItem, error) {
	args := m.Called(ctx, scope, clientCode, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KBItem), args.Error(1)
}

func (m *MockKBItemRepo) UpdateContent(ctx context.Context, item *domain.KBItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockKBItemRepo) UpdateStatus(ctx context.Context, id string, status domain.KBItemStatus, now time.Time) error {
	args := m.Called(ctx, id, status, now)
	return args.Error(0)
}

type MockClientRepo struct {
	mock.Mock
}

func (m *MockClientRepo) Create(ctx context.Context, c *domain.Client) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockClientRepo) GetByCode(ctx context.Context, code string) (*domain.Client, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Client), args.Error(1)
}

func (m *MockClientRepo) Exists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *MockClientRepo) List(ctx context.Context) ([]*domain.Client, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Client), args.Error(1)
}

type MockIngestionRepo struct {
	mock.Mock
}

func (m *MockIngestionRepo) Create(ctx context.Context, ing *domain.Ingestion, extractedText string) error {
	args := m.Called(ctx, ing, extractedText)
	return args.Error(0)
}

func (m *MockIngestionRepo) GetByID(ctx context.Context, id string) (*domain.Ingestion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Ingestion), args.Error(1)
}

func (m *MockIngestionRepo) FindByIntakeKey(ctx context.Context, scope domain.Scope, clientCode, inputHash string) (*domain.Ingestion, error) {
	args := m.Called(ctx, scope, clientCode, inputHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Ingestion), args.Error(1)
}

func (m *MockIngestionRepo) List(ctx context.Context, filter IngestionFilter, cursor *pagination.Cursor, limit int) (*IngestionPageResult, error) {
	args := m.Called(ctx, filter, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*IngestionPageResult), args.Error(1)
}

func (m *MockIngestionRepo) ClaimPending(ctx context.Context, limit int, staleAfter time.Duration, now time.Time) ([]*PendingIngestion, error) {
	args := m.Called(ctx, limit, staleAfter, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*PendingIngestion), args.Error(1)
}

func (m *MockIngestionRepo) UpdateStatus(ctx context.Context, id string, status domain.IngestionStatus, failureReason string, now time.Time) error {
	args := m.Called(ctx, id, status, failureReason, now)
	return args.Error(0)
}

func (m *MockIngestionRepo) SetModelInfo(ctx context.Context, id, model, reasoningEffort string, now time.Time) error {
	args := m.Called(ctx, id, model, reasoningEffort, now)
	return args.Error(0)
}

type MockChatRepo struct {
	mock.Mock
}

func (m *MockChatRepo) CreateSession(ctx context.Context, s *domain.ChatSession) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockChatRepo) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChatSession), args.Error(1)
}

func (m *MockChatRepo) ListSessions(ctx context.Context, limit, offset int) ([]*domain.ChatSession, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ChatSession), args.Error(1)
}

func (m *MockChatRepo) SearchSessions(ctx context.Context, query string, limit int) ([]*domain.ChatSession, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ChatSession), args.Error(1)
}

func (m *MockChatRepo) UpdateSessionTitle(ctx context.Context, id, title string, now time.Time) error {
	args := m.Called(ctx, id, title, now)
	return args.Error(0)
}

func (m *MockChatRepo) SetSessionPinned(ctx context.Context, id string, pinned bool) error {
	args := m.Called(ctx, id, pinned)
	return args.Error(0)
}

func (m *MockChatRepo) DeleteSession(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockChatRepo) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockChatRepo) ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ChatMessage), args.Error(1)
}

func (m *MockChatRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockVectorIndex struct {
	mock.Mock
}

func (m *MockVectorIndex) Upsert(ctx context.Context, collection, pointID string, vector []float32, payload qdrant.Payload) error {
	args := m.Called(ctx, collection, pointID, vector, payload)
	return args.Error(0)
}

func (m *MockVectorIndex) DeletePoints(ctx context.Context, collection string, ids []string) error {
	args := m.Called(ctx, collection, ids)
	return args.Error(0)
}

type MockVectorSearcher struct {
	mock.Mock
}

func (m *MockVectorSearcher) Search(ctx context.Context, collection string, vector []float32, limit int, typeFilter string) ([]qdrant.Point, error) {
	args := m.Called(ctx, collection, vector, limit, typeFilter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]qdrant.Point), args.Error(1)
}

type MockVectorReconciler struct {
	mock.Mock
}

func (m *MockVectorReconciler) RetrieveIDs(ctx context.Context, collection string, ids []string) (map[string]bool, error) {
	args := m.Called(ctx, collection, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]bool), args.Error(1)
}

func (m *MockVectorReconciler) ScrollIDs(ctx context.Context, collection string) ([]string, error) {
	args := m.Called(ctx, collection)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockItemIndexer struct {
	mock.Mock
}

func (m *MockItemIndexer) IndexItem(ctx context.Context, item *domain.KBItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

type MockSynthesizer struct {
	mock.Mock
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text, effort string) (*SynthesisResult, error) {
	args := m.Called(ctx, text, effort)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SynthesisResult), args.Error(1)
}

type MockDraftSaver struct {
	mock.Mock
}

func (m *MockDraftSaver) SaveDraft(ctx context.Context, scope domain.Scope, clientCode string, draft domain.KBItemDraft, source domain.Source) (*SaveDraftResult, error) {
	args := m.Called(ctx, scope, clientCode, draft, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SaveDraftResult), args.Error(1)
}

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, input RetrieveInput) (*ContextPack, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ContextPack), args.Error(1)
}

type MockAnswerer struct {
	mock.Mock
}

func (m *MockAnswerer) Answer(ctx context.Context, question string, pack *ContextPack) (*AnswerResult, error) {
	args := m.Called(ctx, question, pack)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AnswerResult), args.Error(1)
}

func (m *MockAnswerer) StreamAnswer(ctx context.Context, question string, pack *ContextPack, onDelta func(string)) (*AnswerResult, error) {
	args := m.Called(ctx, question, pack, onDelta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AnswerResult), args.Error(1)
}

type MockStreamingClient struct {
	mock.Mock
}

func (m *MockStreamingClient) Complete(ctx context.Context, req openai.CompletionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockStreamingClient) StreamComplete(ctx context.Context, req openai.CompletionRequest, onDelta func(string)) (string, error) {
	args := m.Called(ctx, req, onDelta)
	return args.String(0), args.Error(1)
}

type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Archive(ctx context.Context, key, text string) error {
	args := m.Called(ctx, key, text)
	return args.Error(0)
}

// fakeTxRunner executes the callback inline against plain mocks, keeping
// transactional service code testable without a database.
type fakeTxRunner struct {
	kb   KBItemRepositoryInterface
	ing  IngestionRepositoryInterface
	chat ChatRepositoryInterface
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	return fn(f)
}

func (f *fakeTxRunner) KBItems() KBItemRepositoryInterface        { return f.kb }
func (f *fakeTxRunner) Ingestions() IngestionRepositoryInterface  { return f.ing }
func (f *fakeTxRunner) Chat() ChatRepositoryInterface             { return f.chat }

// seqUUIDGen hands out deterministic ids.
type seqUUIDGen struct {
	n int
}

func (g *seqUUIDGen) NewString() string {
	g.n++
	return fmt.Sprintf("uuid-%d", g.n)
}

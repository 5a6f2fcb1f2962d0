package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/telemetry"
)

// ChatRepositoryInterface defines the repository interface for chat persistence
type ChatRepositoryInterface interface {
	CreateSession(ctx context.Context, s *domain.ChatSession) error
	GetSession(ctx context.Context, id string) (*domain.ChatSession, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*domain.ChatSession, error)
	SearchSessions(ctx context.Context, query string, limit int) ([]*domain.ChatSession, error)
	UpdateSessionTitle(ctx context.Context, id, title string, now time.Time) error
	SetSessionPinned(ctx context.Context, id string, pinned bool) error
	DeleteSession(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, m *domain.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error)
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// Retriever is the retrieval engine surface the chat flow needs.
type Retriever interface {
	Retrieve(ctx context.Context, input RetrieveInput) (*ContextPack, error)
}

// Answerer generates grounded answers from a non-empty pack.
type Answerer interface {
	Answer(ctx context.Context, question string, pack *ContextPack) (*AnswerResult, error)
	StreamAnswer(ctx context.Context, question string, pack *ContextPack, onDelta func(string)) (*AnswerResult, error)
}

// ChatService owns chat sessions, the ask flow and retention.
type ChatService struct {
	repo      ChatRepositoryInterface
	txRunner  TxRunner
	retriever Retriever
	answerer  Answerer
	uuidGen   UUIDGenerator
}

func NewChatService(repo ChatRepositoryInterface, txRunner TxRunner, retriever Retriever, answerer Answerer) *ChatService {
	return &ChatService{
		repo:      repo,
		txRunner:  txRunner,
		retriever: retriever,
		answerer:  answerer,
		uuidGen:   &DefaultUUIDGenerator{},
	}
}

// NewChatServiceWithUUIDGen creates a ChatService with a custom UUID
// generator (for testing).
func NewChatServiceWithUUIDGen(repo ChatRepositoryInterface, txRunner TxRunner, retriever Retriever, answerer Answerer, uuidGen UUIDGenerator) *ChatService {
	s := NewChatService(repo, txRunner, retriever, answerer)
	s.uuidGen = uuidGen
	return s
}

// CreateSession opens a new conversation, optionally bound to a client.
func (s *ChatService) CreateSession(ctx context.Context, clientCode, title string) (*domain.ChatSession, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChatService.CreateSession", telemetry.SpanAttributes{
		ClientCode: clientCode,
		Operation:  "create_session",
	})
	defer span.End()

	if strings.TrimSpace(title) == "" {
		title = "New session"
	}
	now := time.Now().UTC()
	session := &domain.ChatSession{
		ID:             s.uuidGen.NewString(),
		ClientCode:     domain.NormalizeClientCode(clientCode),
		Title:          title,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	return s.repo.GetSession(ctx, id)
}

func (s *ChatService) ListSessions(ctx context.Context, limit, offset int) ([]*domain.ChatSession, error) {
	return s.repo.ListSessions(ctx, limit, offset)
}

// SearchSessions matches titles and message contents.
func (s *ChatService) SearchSessions(ctx context.Context, query string, limit int) ([]*domain.ChatSession, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyInput
	}
	return s.repo.SearchSessions(ctx, query, limit)
}

func (s *ChatService) RenameSession(ctx context.Context, id, title string) error {
	if strings.TrimSpace(title) == "" {
		return domain.ErrMissingRequiredField
	}
	return s.repo.UpdateSessionTitle(ctx, id, title, time.Now().UTC())
}

func (s *ChatService) SetPinned(ctx context.Context, id string, pinned bool) error {
	return s.repo.SetSessionPinned(ctx, id, pinned)
}

func (s *ChatService) DeleteSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

func (s *ChatService) ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error) {
	if _, err := s.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, sessionID)
}

// AskInput is one question inside a session.
type AskInput struct {
	SessionID  string
	Question   string
	Mode       RetrievalMode
	TypeFilter domain.KBItemType
}

// AskResult is the persisted outcome of one ask.
type AskResult struct {
	UserMessage      *domain.ChatMessage
	AssistantMessage *domain.ChatMessage
	NoMatches        bool
	NextActions      []string
}

// Ask runs retrieval and answer assembly for one question and persists the
// exchange.
func (s *ChatService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	return s.ask(ctx, input, nil)
}

// StreamAsk is Ask with incremental answer delivery through onDelta.
func (s *ChatService) StreamAsk(ctx context.Context, input AskInput, onDelta func(string)) (*AskResult, error) {
	return s.ask(ctx, input, onDelta)
}

func (s *ChatService) ask(ctx context.Context, input AskInput, onDelta func(string)) (*AskResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChatService.Ask", telemetry.SpanAttributes{
		SessionID: input.SessionID,
		Operation: "ask",
	})
	defer span.End()

	if strings.TrimSpace(input.Question) == "" {
		return nil, domain.ErrEmptyInput
	}
	session, err := s.repo.GetSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}

	pack, err := s.retriever.Retrieve(ctx, RetrieveInput{
		Question:     input.Question,
		Mode:         input.Mode,
		ActiveClient: session.ClientCode,
		TypeFilter:   input.TypeFilter,
	})
	if err != nil {
		return nil, err
	}

	result := &AskResult{NoMatches: pack.NoMatches, NextActions: pack.NextActions}

	var answerText string
	var usedIDs []string
	modelCalled := false
	if pack.NoMatches {
		answerText = noMatchesMessage(pack.NextActions)
	} else {
		answer, err := s.answerer.StreamAnswer(ctx, input.Question, pack, onDelta)
		if err != nil {
			return nil, err
		}
		answerText = answer.Answer
		usedIDs = answer.UsedItemIDs
		modelCalled = answer.ModelCalled
	}

	now := time.Now().UTC()
	userMsg := &domain.ChatMessage{
		ID:          s.uuidGen.NewString(),
		SessionID:   session.ID,
		Role:        domain.RoleUser,
		Content:     input.Question,
		UsedItemIDs: []string{},
		CreatedAt:   now,
	}
	assistantMsg := &domain.ChatMessage{
		ID:          s.uuidGen.NewString(),
		SessionID:   session.ID,
		Role:        domain.RoleAssistant,
		Content:     answerText,
		UsedItemIDs: usedIDs,
		ModelCalled: modelCalled,
		CreatedAt:   now,
	}
	if assistantMsg.UsedItemIDs == nil {
		assistantMsg.UsedItemIDs = []string{}
	}

	if err := s.appendExchange(ctx, userMsg, assistantMsg); err != nil {
		return nil, err
	}

	result.UserMessage = userMsg
	result.AssistantMessage = assistantMsg
	return result, nil
}

// appendExchange persists both messages of one exchange in a single
// transaction. A concurrent append on the same session shows up as a
// sequence conflict; the transaction is retried once.
func (s *ChatService) appendExchange(ctx context.Context, userMsg, assistantMsg *domain.ChatMessage) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
			if err := repos.Chat().AppendMessage(ctx, userMsg); err != nil {
				return err
			}
			return repos.Chat().AppendMessage(ctx, assistantMsg)
		})
		if !errors.Is(err, domain.ErrVersionRace) {
			break
		}
	}
	return err
}

func noMatchesMessage(nextActions []string) string {
	var b strings.Builder
	b.WriteString("No approved knowledge items match this question, so no answer was generated.\n\nSuggested next actions:\n")
	for _, a := range nextActions {
		b.WriteString("- ")
		b.WriteString(a)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// SweepExpired deletes unpinned sessions idle longer than the retention
// window. Runs at startup and on demand.
func (s *ChatService) SweepExpired(ctx context.Context, retentionDays int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChatService.SweepExpired", telemetry.SpanAttributes{
		Operation: "sweep_expired",
	})
	defer span.End()

	if !domain.ValidRetentionDays(retentionDays) {
		return 0, domain.ErrInvalidRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	return s.repo.PurgeExpired(ctx, cutoff)
}

// ExportMarkdown renders a session transcript as Markdown.
func (s *ChatService) ExportMarkdown(ctx context.Context, sessionID string) (string, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	messages, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", session.Title)
	fmt.Fprintf(&b, "- **Client:** %s\n", orNA(session.ClientCode))
	fmt.Fprintf(&b, "- **Created:** %s\n", session.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Last activity:** %s\n\n---\n\n", session.LastActivityAt.UTC().Format(time.RFC3339))

	for _, m := range messages {
		label := "User"
		if m.Role == domain.RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", label, m.Content)
		if m.Role == domain.RoleAssistant {
			if len(m.UsedItemIDs) > 0 {
				fmt.Fprintf(&b, "*KB items used: %s*\n\n", strings.Join(m.UsedItemIDs, ", "))
			}
			called := "No"
			if m.ModelCalled {
				called = "Yes"
			}
			fmt.Fprintf(&b, "*Model called: %s*\n\n", called)
		}
	}
	return b.String(), nil
}

type sessionExport struct {
	SessionID      string          `json:"session_id"`
	ClientCode     string          `json:"client_code,omitempty"`
	Title          string          `json:"title"`
	Pinned         bool            `json:"pinned"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	Messages       []messageExport `json:"messages"`
}

type messageExport struct {
	MessageID   string    `json:"message_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Seq         int       `json:"seq"`
	UsedItemIDs []string  `json:"used_kb_items"`
	ModelCalled bool      `json:"model_called"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExportJSON renders a session transcript as indented JSON.
func (s *ChatService) ExportJSON(ctx context.Context, sessionID string) (string, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	messages, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return "", err
	}

	export := sessionExport{
		SessionID:      session.ID,
		ClientCode:     session.ClientCode,
		Title:          session.Title,
		Pinned:         session.Pinned,
		CreatedAt:      session.CreatedAt,
		LastActivityAt: session.LastActivityAt,
		Messages:       make([]messageExport, 0, len(messages)),
	}
	for _, m := range messages {
		export.Messages = append(export.Messages, messageExport{
			MessageID:   m.ID,
			Role:        string(m.Role),
			Content:     m.Content,
			Seq:         m.Seq,
			UsedItemIDs: m.UsedItemIDs,
			ModelCalled: m.ModelCalled,
			CreatedAt:   m.CreatedAt,
		})
	}

	out, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stadtwerk-labs/wissen/internal/api"
	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/service"
)

type ChatService interface {
	CreateSession(ctx context.Context, clientCode, title string) (*domain.ChatSession, error)
	GetSession(ctx context.Context, id string) (*domain.ChatSession, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*domain.ChatSession, error)
	SearchSessions(ctx context.Context, query string, limit int) ([]*domain.ChatSession, error)
	RenameSession(ctx context.Context, id, title string) error
	SetPinned(ctx context.Context, id string, pinned bool) error
	DeleteSession(ctx context.Context, id string) error
	ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error)
	StreamAsk(ctx context.Context, input service.AskInput, onDelta func(string)) (*service.AskResult, error)
	ExportMarkdown(ctx context.Context, sessionID string) (string, error)
	ExportJSON(ctx context.Context, sessionID string) (string, error)
}

type ChatHandler struct {
	svc ChatService
}

func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type CreateSessionRequest struct {
	ClientCode string `json:"client_code"`
	Title      string `json:"title"`
}

type UpdateSessionRequest struct {
	Title  *string `json:"title"`
	Pinned *bool   `json:"pinned"`
}

type AskRequest struct {
	Question   string `json:"question"`
	Mode       string `json:"mode"`
	TypeFilter string `json:"type_filter"`
}

type SessionResponse struct {
	ID             string `json:"id"`
	ClientCode     string `json:"client_code,omitempty"`
	Title          string `json:"title"`
	Pinned         bool   `json:"pinned"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
}

type MessageResponse struct {
	ID          string   `json:"id"`
	SessionID   string   `json:"session_id"`
	Role        string   `json:"role"`
	Content     string   `json:"content"`
	Seq         int      `json:"seq"`
	UsedItemIDs []string `json:"used_kb_items"`
	ModelCalled bool     `json:"model_called"`
	CreatedAt   string   `json:"created_at"`
}

func sessionToResponse(s *domain.ChatSession) *SessionResponse {
	return &SessionResponse{
		ID:             s.ID,
		ClientCode:     s.ClientCode,
		Title:          s.Title,
		Pinned:         s.Pinned,
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
		LastActivityAt: s.LastActivityAt.UTC().Format(time.RFC3339),
	}
}

func messageToResponse(m *domain.ChatMessage) *MessageResponse {
	return &MessageResponse{
		ID:          m.ID,
		SessionID:   m.SessionID,
		Role:        string(m.Role),
		Content:     m.Content,
		Seq:         m.Seq,
		UsedItemIDs: m.UsedItemIDs,
		ModelCalled: m.ModelCalled,
		CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.svc.CreateSession(r.Context(), req.ClientCode, req.Title)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusCreated, sessionToResponse(session))
}

func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	sessions, err := h.svc.ListSessions(r.Context(), limit, offset)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	out := make([]*SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionToResponse(s))
	}
	api.Success(w, http.StatusOK, out)
}

func (h *ChatHandler) SearchSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	sessions, err := h.svc.SearchSessions(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	out := make([]*SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionToResponse(s))
	}
	api.Success(w, http.StatusOK, out)
}

func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, sessionToResponse(session))
}

func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.svc.ListMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	out := make([]*MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageToResponse(m))
	}
	api.Success(w, http.StatusOK, out)
}

func (h *ChatHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == nil && req.Pinned == nil {
		api.Error(w, http.StatusBadRequest, "nothing to update")
		return
	}

	id := chi.URLParam(r, "id")
	if req.Title != nil {
		if err := h.svc.RenameSession(r.Context(), id, *req.Title); err != nil {
			api.HandleError(w, err)
			return
		}
	}
	if req.Pinned != nil {
		if err := h.svc.SetPinned(r.Context(), id, *req.Pinned); err != nil {
			api.HandleError(w, err)
			return
		}
	}

	session, err := h.svc.GetSession(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, sessionToResponse(session))
}

func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusNoContent, nil)
}

func (h *ChatHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}

	switch format {
	case "markdown":
		content, err := h.svc.ExportMarkdown(r.Context(), id)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=session_%s.md", id))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(content))
	case "json":
		content, err := h.svc.ExportJSON(r.Context(), id)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=session_%s.json", id))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(content))
	default:
		api.Error(w, http.StatusBadRequest, "format must be markdown or json")
	}
}

// Ask streams the answer over SSE: delta events with incremental text, then
// a sources event with the traceability payload, or a single no_matches
// event when retrieval gates the completion call.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	mode := service.RetrievalMode(req.Mode)
	if mode == "" {
		mode = service.ModeGeneral
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	result, err := h.svc.StreamAsk(r.Context(), service.AskInput{
		SessionID:  chi.URLParam(r, "id"),
		Question:   req.Question,
		Mode:       mode,
		TypeFilter: domain.KBItemType(req.TypeFilter),
	}, func(delta string) {
		writeSSE(w, "delta", map[string]string{"text": delta})
		flusher.Flush()
	})
	if err != nil {
		writeSSE(w, "error", map[string]interface{}{
			"message": err.Error(),
			"status":  api.DomainErrorToHTTP(err),
		})
		flusher.Flush()
		return
	}

	if result.NoMatches {
		writeSSE(w, "no_matches", map[string]interface{}{
			"message":      result.AssistantMessage.Content,
			"next_actions": result.NextActions,
		})
	} else {
		writeSSE(w, "sources", map[string]interface{}{
			"used_kb_items": result.AssistantMessage.UsedItemIDs,
			"model_called":  result.AssistantMessage.ModelCalled,
			"message_id":    result.AssistantMessage.ID,
		})
	}
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

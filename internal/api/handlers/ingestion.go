package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stadtwerk-labs/wissen/internal/api"
	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/service"
)

type IngestionService interface {
	Intake(ctx context.Context, input service.IntakeInput) (*service.IntakeResult, error)
	GetByID(ctx context.Context, id string) (*domain.Ingestion, error)
	List(ctx context.Context, input service.ListIngestionsInput) (*service.ListIngestionsOutput, error)
}

type IngestionHandler struct {
	svc IngestionService
}

func NewIngestionHandler(svc IngestionService) *IngestionHandler {
	return &IngestionHandler{svc: svc}
}

type IntakeRequest struct {
	Scope      string `json:"scope"`
	ClientCode string `json:"client_code"`
	Kind       string `json:"kind"`
	Text       string `json:"text"`
	InputName  string `json:"input_name"`
}

type IngestionResponse struct {
	ID              string `json:"id"`
	Scope           string `json:"scope"`
	ClientCode      string `json:"client_code,omitempty"`
	InputKind       string `json:"input_kind"`
	InputHash       string `json:"input_hash"`
	InputName       string `json:"input_name,omitempty"`
	Status          string `json:"status"`
	FailureReason   string `json:"failure_reason,omitempty"`
	Model           string `json:"model,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func ingestionToResponse(ing *domain.Ingestion) *IngestionResponse {
	return &IngestionResponse{
		ID:              ing.ID,
		Scope:           string(ing.Scope),
		ClientCode:      ing.ClientCode,
		InputKind:       string(ing.InputKind),
		InputHash:       ing.InputHash,
		InputName:       ing.InputName,
		Status:          string(ing.Status),
		FailureReason:   ing.FailureReason,
		Model:           ing.Model,
		ReasoningEffort: ing.ReasoningEffort,
		CreatedAt:       ing.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       ing.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *IngestionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req IntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = string(domain.InputKindText)
	}

	result, err := h.svc.Intake(r.Context(), service.IntakeInput{
		Scope:      domain.Scope(req.Scope),
		ClientCode: req.ClientCode,
		Kind:       domain.InputKind(kind),
		Text:       req.Text,
		InputName:  req.InputName,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyExists {
		status = http.StatusOK
	}
	api.Success(w, status, map[string]interface{}{
		"ingestion":      ingestionToResponse(result.Ingestion),
		"already_exists": result.AlreadyExists,
	})
}

func (h *IngestionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ing, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, ingestionToResponse(ing))
}

func (h *IngestionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	out, err := h.svc.List(r.Context(), service.ListIngestionsInput{
		Scope:      domain.Scope(r.URL.Query().Get("scope")),
		ClientCode: r.URL.Query().Get("client_code"),
		Status:     domain.IngestionStatus(r.URL.Query().Get("status")),
		Cursor:     r.URL.Query().Get("cursor"),
		Limit:      limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*IngestionResponse, 0, len(out.Items))
	for _, ing := range out.Items {
		items = append(items, ingestionToResponse(ing))
	}
	api.Success(w, http.StatusOK, map[string]interface{}{
		"items":    items,
		"cursor":   out.Cursor,
		"has_more": out.HasMore,
	})
}

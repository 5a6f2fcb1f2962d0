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

type KnowledgeService interface {
	GetByID(ctx context.Context, id string) (*domain.KBItem, error)
	ListVersions(ctx context.Context, id string) ([]*domain.KBItem, error)
	List(ctx context.Context, input service.ListKnowledgeInput) (*service.ListKnowledgeOutput, error)
	Edit(ctx context.Context, input service.EditInput) (*domain.KBItem, error)
	Approve(ctx context.Context, id string) (*service.ApproveResult, error)
	Reject(ctx context.Context, id string) (*domain.KBItem, error)
}

type KnowledgeHandler struct {
	svc KnowledgeService
}

func NewKnowledgeHandler(svc KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc}
}

type EditKnowledgeRequest struct {
	Title      string            `json:"title"`
	ContentMD  string            `json:"content_md"`
	Tags       []string          `json:"tags"`
	SAPObjects []string          `json:"sap_objects"`
	Signals    map[string]string `json:"signals"`
}

type SourceResponse struct {
	IngestionID string `json:"ingestion_id"`
	InputName   string `json:"input_name,omitempty"`
}

type KnowledgeResponse struct {
	ID          string            `json:"id"`
	Scope       string            `json:"scope"`
	ClientCode  string            `json:"client_code,omitempty"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	ContentMD   string            `json:"content_md"`
	Tags        []string          `json:"tags"`
	SAPObjects  []string          `json:"sap_objects"`
	Signals     map[string]string `json:"signals"`
	Sources     []SourceResponse  `json:"sources"`
	Version     int               `json:"version"`
	Current     bool              `json:"current"`
	Status      string            `json:"status"`
	ContentHash string            `json:"content_hash"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

func knowledgeToResponse(item *domain.KBItem) *KnowledgeResponse {
	sources := make([]SourceResponse, 0, len(item.Sources))
	for _, s := range item.Sources {
		sources = append(sources, SourceResponse{IngestionID: s.IngestionID, InputName: s.InputName})
	}
	return &KnowledgeResponse{
		ID:          item.ID,
		Scope:       string(item.Scope),
		ClientCode:  item.ClientCode,
		Type:        string(item.Type),
		Title:       item.Title,
		ContentMD:   item.ContentMD,
		Tags:        item.Tags,
		SAPObjects:  item.SAPObjects,
		Signals:     item.Signals,
		Sources:     sources,
		Version:     item.Version,
		Current:     item.Current,
		Status:      string(item.Status),
		ContentHash: item.ContentHash,
		CreatedAt:   item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	out, err := h.svc.List(r.Context(), service.ListKnowledgeInput{
		Scope:      domain.Scope(r.URL.Query().Get("scope")),
		ClientCode: r.URL.Query().Get("client_code"),
		Status:     domain.KBItemStatus(r.URL.Query().Get("status")),
		Type:       domain.KBItemType(r.URL.Query().Get("type")),
		Cursor:     r.URL.Query().Get("cursor"),
		Limit:      limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*KnowledgeResponse, 0, len(out.Items))
	for _, item := range out.Items {
		items = append(items, knowledgeToResponse(item))
	}
	api.Success(w, http.StatusOK, map[string]interface{}{
		"items":    items,
		"cursor":   out.Cursor,
		"has_more": out.HasMore,
	})
}

func (h *KnowledgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, knowledgeToResponse(item))
}

func (h *KnowledgeHandler) Versions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.ListVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	items := make([]*KnowledgeResponse, 0, len(versions))
	for _, v := range versions {
		items = append(items, knowledgeToResponse(v))
	}
	api.Success(w, http.StatusOK, items)
}

func (h *KnowledgeHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req EditKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.svc.Edit(r.Context(), service.EditInput{
		ID:         chi.URLParam(r, "id"),
		Title:      req.Title,
		ContentMD:  req.ContentMD,
		Tags:       req.Tags,
		SAPObjects: req.SAPObjects,
		Signals:    req.Signals,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, knowledgeToResponse(item))
}

func (h *KnowledgeHandler) Approve(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, map[string]interface{}{
		"item":        knowledgeToResponse(result.Item),
		"indexed":     result.Indexed,
		"index_error": result.IndexError,
	})
}

func (h *KnowledgeHandler) Reject(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, knowledgeToResponse(item))
}

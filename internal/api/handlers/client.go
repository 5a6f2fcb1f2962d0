package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/stadtwerk-labs/wissen/internal/api"
	"github.com/stadtwerk-labs/wissen/internal/domain"
)

type ClientService interface {
	Register(ctx context.Context, code, name string) (*domain.Client, error)
	GetByCode(ctx context.Context, code string) (*domain.Client, error)
	List(ctx context.Context) ([]*domain.Client, error)
}

type ClientHandler struct {
	svc ClientService
}

func NewClientHandler(svc ClientService) *ClientHandler {
	return &ClientHandler{svc: svc}
}

type RegisterClientRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type ClientResponse struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

func clientToResponse(c *domain.Client) *ClientResponse {
	return &ClientResponse{
		Code:      c.Code,
		Name:      c.Name,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req RegisterClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client, err := h.svc.Register(r.Context(), req.Code, req.Name)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusCreated, clientToResponse(client))
}

func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.svc.List(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	out := make([]*ClientResponse, 0, len(clients))
	for _, c := range clients {
		out = append(out, clientToResponse(c))
	}
	api.Success(w, http.StatusOK, out)
}

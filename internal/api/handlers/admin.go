package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/stadtwerk-labs/wissen/internal/api"
	"github.com/stadtwerk-labs/wissen/internal/service"
)

type AdminService interface {
	Reconcile(ctx context.Context) (*service.ReconcileReport, error)
}

type RetentionSweeper interface {
	SweepExpired(ctx context.Context, retentionDays int) (int, error)
}

type AdminHandler struct {
	reconciler AdminService
	sweeper    RetentionSweeper
}

func NewAdminHandler(reconciler AdminService, sweeper RetentionSweeper) *AdminHandler {
	return &AdminHandler{reconciler: reconciler, sweeper: sweeper}
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Reconcile(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, report)
}

type SweepRequest struct {
	RetentionDays int `json:"retention_days"`
}

func (h *AdminHandler) SweepSessions(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	purged, err := h.sweeper.SweepExpired(r.Context(), req.RetentionDays)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, map[string]int{"purged": purged})
}

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stadtwerk-labs/wissen/internal/api"
	"github.com/stadtwerk-labs/wissen/internal/api/handlers"
	"github.com/stadtwerk-labs/wissen/internal/api/middleware"
)

type RouterConfig struct {
	IngestionHandler *handlers.IngestionHandler
	KnowledgeHandler *handlers.KnowledgeHandler
	ChatHandler      *handlers.ChatHandler
	ClientHandler    *handlers.ClientHandler
	AdminHandler     *handlers.AdminHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/ingestions", func(r chi.Router) {
		r.Post("/", cfg.IngestionHandler.Create)
		r.Get("/", cfg.IngestionHandler.List)
		r.Get("/{id}", cfg.IngestionHandler.Get)
	})

	r.Route("/knowledge", func(r chi.Router) {
		r.Get("/", cfg.KnowledgeHandler.List)
		r.Get("/{id}", cfg.KnowledgeHandler.Get)
		r.Get("/{id}/versions", cfg.KnowledgeHandler.Versions)
		r.Put("/{id}", cfg.KnowledgeHandler.Edit)
		r.Post("/{id}/approve", cfg.KnowledgeHandler.Approve)
		r.Post("/{id}/reject", cfg.KnowledgeHandler.Reject)
	})

	r.Route("/chat/sessions", func(r chi.Router) {
		r.Post("/", cfg.ChatHandler.CreateSession)
		r.Get("/", cfg.ChatHandler.ListSessions)
		r.Get("/search", cfg.ChatHandler.SearchSessions)
		r.Get("/{id}", cfg.ChatHandler.GetSession)
		r.Patch("/{id}", cfg.ChatHandler.UpdateSession)
		r.Delete("/{id}", cfg.ChatHandler.DeleteSession)
		r.Get("/{id}/messages", cfg.ChatHandler.GetMessages)
		r.Get("/{id}/export", cfg.ChatHandler.Export)
		r.Post("/{id}/ask", cfg.ChatHandler.Ask)
	})

	r.Route("/clients", func(r chi.Router) {
		r.Post("/", cfg.ClientHandler.Create)
		r.Get("/", cfg.ClientHandler.List)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/reconcile", cfg.AdminHandler.Reconcile)
		r.Post("/sweep-sessions", cfg.AdminHandler.SweepSessions)
	})

	return r
}

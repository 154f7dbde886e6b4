package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/hoardlabs/hoard/internal/dispatch"
	"github.com/hoardlabs/hoard/internal/embedding"
	"github.com/hoardlabs/hoard/internal/store"
)

// NewRouter builds the chi router over the tool registry.
func NewRouter(
	db *store.DB,
	registry *dispatch.Registry,
	embedClient *embedding.Client,
	apiKey string,
	version string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(db, embedClient, version)
	toolsH := NewToolsHandler(registry)

	r.Get("/health", healthH.Health)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Get("/tools", toolsH.List)
		r.Post("/tools/{name}", toolsH.Call)
	})

	return r
}

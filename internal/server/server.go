package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow-cli/internal/consolidate"
	"github.com/sells-group/docflow-cli/internal/orchestrator"
	"github.com/sells-group/docflow-cli/internal/registry"
	"github.com/sells-group/docflow-cli/internal/review"
	"github.com/sells-group/docflow-cli/internal/store"
)

// ConfirmCodeHeader carries the numeric confirmation code for privileged
// bulk deletes. It is verified on every request, never cached.
const ConfirmCodeHeader = "X-Confirm-Code"

// Server wires the pipeline engines behind the HTTP API.
type Server struct {
	store    store.Store
	review   *review.Engine
	master   *consolidate.Engine
	registry *registry.Engine
	orch     *orchestrator.Orchestrator
}

func New(st store.Store, rev *review.Engine, master *consolidate.Engine, reg *registry.Engine, orch *orchestrator.Orchestrator) *Server {
	return &Server{store: st, review: rev, master: master, registry: reg, orch: orch}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", ConfirmCodeHeader},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.handleCreateDocument)
			r.Get("/", s.handleListDocuments)
			r.Get("/{id}", s.handleGetDocument)
			r.Post("/{id}/approve", s.handleApprove)
			r.Post("/{id}/reject", s.handleReject)
			r.Post("/{id}/annul", s.handleAnnul)
		})

		r.Route("/validation-errors", func(r chi.Router) {
			r.Post("/{id}/fix", s.handleFixError)
			r.Post("/{id}/ignore", s.handleIgnoreError)
		})

		r.Route("/master", func(r chi.Router) {
			r.Get("/", s.handleListMaster)
			r.Post("/send-to-review", s.handleRecall)
			r.Delete("/", s.handleDeleteMaster)
			r.Get("/download", s.handleDownload)
		})

		r.Route("/unprocessable", func(r chi.Router) {
			r.Get("/", s.handleListUnprocessable)
			r.Delete("/", s.handleDeleteUnprocessable)
			r.Post("/{id}/promote", s.handlePromote)
		})

		r.Post("/process", s.handleProcess)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// respondError maps domain errors onto response codes: missing entities are
// 404, confirmation failures 403, review guard violations 400.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case eris.Is(err, review.ErrConfirmCode), eris.Is(err, review.ErrConfirmCodeDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case eris.Is(err, review.ErrTerminalState),
		eris.Is(err, review.ErrOpenErrors),
		eris.Is(err, review.ErrCriticalOpen),
		eris.Is(err, review.ErrCriticalIgnore),
		eris.Is(err, review.ErrReasonRequired),
		eris.Is(err, registry.ErrRetriesExhausted):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return eris.Wrap(err, "server: decode request body")
	}
	return nil
}

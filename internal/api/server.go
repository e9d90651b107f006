package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/finrag/internal/answer"
	"github.com/kalambet/finrag/internal/corpus"
	"github.com/kalambet/finrag/internal/intent"
	"github.com/kalambet/finrag/internal/pipeline"
	"github.com/kalambet/finrag/internal/retrieval"
	"github.com/kalambet/finrag/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Assistant is the query surface the HTTP and MCP layers need.
// *pipeline.Assistant satisfies it.
type Assistant interface {
	Ask(ctx context.Context, text string) (intent.Intent, answer.Result, error)
	Recall(ctx context.Context, query string, topK int) ([]retrieval.ScoredChunk, error)
	Snapshot() (corpus.Snapshot, error)
	Status() pipeline.Status
}

// EngineChecker reports whether the embedding backend is reachable.
type EngineChecker interface {
	IsRunning(ctx context.Context) bool
}

type Deps struct {
	Assistant Assistant
	Store     *storage.Store
	Engine    EngineChecker // optional; health omits the engine field when nil
	Token     string
	CorpusDir string // rebuild paths must resolve inside it
}

// NewHandler returns the finrag HTTP API. /health is public, everything else
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/ask", handleAsk(deps))
		r.Get("/recall", handleRecall(deps))
		r.Get("/snapshot", handleSnapshot(deps))
		r.Post("/corpus/rebuild", handleRebuild(deps))
		r.Get("/corpus/rebuild/{id}", handleRebuildStatus(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Delete("/interactions", handlePruneInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
	})

	return r
}

type healthResponse struct {
	Status    string          `json:"status"`
	Assistant pipeline.Status `json:"assistant"`
	Engine    *bool           `json:"engine_running,omitempty"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Assistant: deps.Assistant.Status()}
		if deps.Engine != nil {
			running := deps.Engine.IsRunning(r.Context())
			resp.Engine = &running
		}

		code := http.StatusOK
		if !resp.Assistant.Ready {
			resp.Status = "initializing"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

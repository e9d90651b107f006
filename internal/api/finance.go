package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/finrag/internal/answer"
	"github.com/kalambet/finrag/internal/corpus"
	"github.com/kalambet/finrag/internal/ingest"
	"github.com/kalambet/finrag/internal/intent"
	"github.com/kalambet/finrag/internal/pipeline"
	"github.com/kalambet/finrag/internal/retrieval"
	"github.com/kalambet/finrag/internal/storage"
)

type AskRequest struct {
	Query string `json:"query"`
}

type AskResponse struct {
	ID     string        `json:"id,omitempty"`
	Answer string        `json:"answer"`
	Reason answer.Reason `json:"reason"`
	Intent intent.Intent `json:"intent"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		start := time.Now()
		in, res, err := deps.Assistant.Ask(r.Context(), req.Query)
		if err != nil {
			assistantError(w, err)
			return
		}

		id := recordInteraction(deps.Store, "api", req.Query, in, res, time.Since(start))
		writeJSON(w, http.StatusOK, AskResponse{
			ID:     id,
			Answer: res.Text,
			Reason: res.Reason,
			Intent: in,
		})
	}
}

func handleRecall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if strings.TrimSpace(q) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 5, 50)

		chunks, err := deps.Assistant.Recall(r.Context(), q, limit)
		if err != nil {
			assistantError(w, err)
			return
		}
		if chunks == nil {
			chunks = []retrieval.ScoredChunk{}
		}
		writeJSON(w, http.StatusOK, chunks)
	}
}

func handleSnapshot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := deps.Assistant.Snapshot()
		if err != nil {
			assistantError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleRebuild(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		// The body is optional; an empty one rebuilds the configured corpus.
		var payload ingest.RebuildPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if payload.Path != "" {
			path, err := corpus.ResolveWithin(deps.CorpusDir, payload.Path)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			payload.Path = path
		}

		b, err := json.Marshal(payload)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        storage.JobCorpusRebuild,
			PayloadJSON: string(b),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": job.ID,
			"status": "queued",
		})
	}
}

func handleRebuildStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) || (err == nil && job.Type != storage.JobCorpusRebuild) {
			httpError(w, http.StatusNotFound, "not_found", "rebuild job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		interactions, err := deps.Store.GetRecentInteractions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, interactions)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		interaction, err := deps.Store.GetInteraction(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, interaction)
	}
}

// handlePruneInteractions deletes interactions older than ?before= (RFC 3339).
func handlePruneInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("before")
		if raw == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "before is required")
			return
		}
		cutoff, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid before timestamp: %v", err)
			return
		}

		n, err := deps.Store.DeleteInteractionsBefore(cutoff)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete interactions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
	}
}

func assistantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrMalformedQuery):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, pipeline.ErrExitRequested):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "exit is only supported in interactive sessions")
	case errors.Is(err, pipeline.ErrNotReady):
		httpError(w, http.StatusServiceUnavailable, "not_ready", "%v", err)
	case errors.Is(err, pipeline.ErrEmbeddingUnavailable):
		httpError(w, http.StatusBadGateway, "api_error", "%s", boundaryMessage(err))
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s", boundaryMessage(err))
	}
}

func boundaryMessage(err error) string {
	return fmt.Sprintf("I encountered an issue processing your financial query: %v. Please try again.", err)
}

// recordInteraction persists an answered question and returns its id. A
// storage failure is logged and yields an empty id; the answer still goes out.
func recordInteraction(store *storage.Store, source, query string, in intent.Intent, res answer.Result, elapsed time.Duration) string {
	if store == nil {
		return ""
	}
	routed := in.Query
	if routed == "" {
		routed = string(in.Type)
	}
	ix := storage.Interaction{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		Source:      source,
		Query:       query,
		RoutedQuery: routed,
		Answer:      res.Text,
		Reason:      string(res.Reason),
		LatencyMS:   elapsed.Milliseconds(),
	}
	if err := store.SaveInteraction(ix); err != nil {
		slog.Warn("failed to save interaction", "source", source, "error", err)
		return ""
	}
	return ix.ID
}

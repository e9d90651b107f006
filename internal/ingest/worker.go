package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/kalambet/finrag/internal/corpus"
	"github.com/kalambet/finrag/internal/retrieval"
	"github.com/kalambet/finrag/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Rebuilder reloads the corpus and rebuilds the index.
type Rebuilder interface {
	Initialize(ctx context.Context, src corpus.Source, forceReload bool) (*retrieval.Index, error)
}

// RebuildPayload is the JSON payload of a corpus_rebuild job.
// An empty Path rebuilds from the worker's default source. A non-empty Path
// must name a file in the default source's directory.
type RebuildPayload struct {
	Path string `json:"path,omitempty"`
}

// Worker processes corpus_rebuild jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	rebuilder Rebuilder
	source    corpus.Source
	corpusDir string
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, rebuilder Rebuilder, defaultSource corpus.Source, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	var dir string
	if f, ok := defaultSource.(corpus.File); ok {
		dir = filepath.Dir(f.Path)
	}
	return &Worker{
		store:     store,
		rebuilder: rebuilder,
		source:    defaultSource,
		corpusDir: dir,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single corpus_rebuild job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobCorpusRebuild})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload RebuildPayload
	if job.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
	}

	src := w.source
	if payload.Path != "" {
		path, err := corpus.ResolveWithin(w.corpusDir, payload.Path)
		if err != nil {
			return err
		}
		src = corpus.File{Path: path}
	}
	if src == nil {
		return fmt.Errorf("no corpus source configured")
	}

	start := time.Now()
	idx, err := w.rebuilder.Initialize(ctx, src, true)
	if err != nil {
		return fmt.Errorf("rebuilding index from %s: %w", src, err)
	}

	w.logger.Info("index rebuilt",
		"job_id", job.ID,
		"source", src.String(),
		"chunks", idx.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

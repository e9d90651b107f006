package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// JobCorpusRebuild is the job type that re-reads the corpus and rebuilds the index.
const JobCorpusRebuild = "corpus_rebuild"

// Interaction is one answered question. RoutedQuery is the text after intent
// routing, which may differ from what the user typed.
type Interaction struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Source      string    `json:"source"` // "api", "mcp" or "cli"
	Query       string    `json:"query"`
	RoutedQuery string    `json:"routed_query"`
	Answer      string    `json:"answer"`
	Reason      string    `json:"reason"`
	LatencyMS   int64     `json:"latency_ms"`
}

type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"payload"`
	Status      string    `json:"status"` // "pending", "running", "completed", "failed"
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAfter    time.Time `json:"run_after"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastError   string    `json:"last_error,omitempty"`
}

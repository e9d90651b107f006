package storage

import (
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent opens the same database twice and checks no
// migration is applied a second time.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("applied migrations = %v, want at least 2", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestSchemaObjectsExist(t *testing.T) {
	s := openTestStore(t)

	objects := []struct{ typ, name string }{
		{"table", "interactions"},
		{"table", "jobs"},
		{"table", "index_meta"},
		{"table", "index_chunks"},
		{"index", "idx_interactions_created_at"},
		{"index", "idx_jobs_claim"},
	}
	for _, o := range objects {
		var count int
		err := s.DB().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", o.typ, o.name).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", o.name, err)
		}
		if count != 1 {
			t.Errorf("%s %q not found", o.typ, o.name)
		}
	}
}

func TestSaveAndGetInteraction(t *testing.T) {
	s := openTestStore(t)

	want := Interaction{
		ID:          "i-1",
		CreatedAt:   time.Date(2024, 3, 14, 9, 30, 0, 123456000, time.UTC),
		Source:      "api",
		Query:       "invoice number 001",
		RoutedQuery: "invoice #001",
		Answer:      "Invoice #001 is for Office supplies for $200 on March 3, 2024.",
		Reason:      "computed",
		LatencyMS:   12,
	}
	if err := s.SaveInteraction(want); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	got, err := s.GetInteraction("i-1")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	got.CreatedAt = want.CreatedAt
	if got != want {
		t.Errorf("got %+v\nwant %+v", got, want)
	}
}

func TestGetInteractionNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetInteraction("missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRecentInteractions(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := s.SaveInteraction(Interaction{
			ID:        fmt.Sprintf("i-%d", i),
			CreatedAt: base.Add(time.Duration(i) * 100 * time.Millisecond),
			Query:     "q",
			Answer:    "a",
		})
		if err != nil {
			t.Fatalf("SaveInteraction %d: %v", i, err)
		}
	}

	got, err := s.GetRecentInteractions(3)
	if err != nil {
		t.Fatalf("GetRecentInteractions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d interactions, want 3", len(got))
	}
	for i, want := range []string{"i-4", "i-3", "i-2"} {
		if got[i].ID != want {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, want)
		}
	}
}

func TestDeleteInteractionsBefore(t *testing.T) {
	s := openTestStore(t)

	old := time.Now().Add(-48 * time.Hour)
	s.SaveInteraction(Interaction{ID: "old", CreatedAt: old, Query: "q", Answer: "a"})
	s.SaveInteraction(Interaction{ID: "new", Query: "q", Answer: "a"})

	n, err := s.DeleteInteractionsBefore(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteInteractionsBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if _, err := s.GetInteraction("new"); err != nil {
		t.Errorf("new interaction gone: %v", err)
	}
}

// --- Jobs ---

func enqueue(t *testing.T, s *Store, j Job) {
	t.Helper()
	if j.PayloadJSON == "" {
		j.PayloadJSON = `{}`
	}
	if err := s.EnqueueJob(j); err != nil {
		t.Fatalf("EnqueueJob %s: %v", j.ID, err)
	}
}

func claim(t *testing.T, s *Store, types ...string) *Job {
	t.Helper()
	j, err := s.ClaimNextJob(types)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	return j
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, Job{ID: "j-1", Type: JobCorpusRebuild, PayloadJSON: `{"path":"ledger.txt"}`})

	got := claim(t, s, JobCorpusRebuild)
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-1" || got.Type != JobCorpusRebuild || got.Status != "running" || got.MaxAttempts != 3 {
		t.Errorf("unexpected job %+v", got)
	}
	if got.PayloadJSON != `{"path":"ledger.txt"}` {
		t.Errorf("PayloadJSON = %q", got.PayloadJSON)
	}
}

func TestClaimNextJob(t *testing.T) {
	tests := []struct {
		name   string
		jobs   []Job
		claims int // claims made before the checked one
		types  []string
		wantID string
	}{
		{name: "empty", types: []string{"x"}},
		{name: "no types", jobs: []Job{{ID: "a", Type: "x"}}},
		{name: "future run_after", jobs: []Job{{ID: "a", Type: "x", RunAfter: time.Now().Add(time.Hour)}}, types: []string{"x"}},
		{name: "type filter", jobs: []Job{{ID: "a", Type: "a"}, {ID: "b", Type: "b"}}, types: []string{"b"}, wantID: "b"},
		{name: "skips running", jobs: []Job{{ID: "first", Type: "x"}, {ID: "second", Type: "x"}}, claims: 1, types: []string{"x"}, wantID: "second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			for _, j := range tt.jobs {
				enqueue(t, s, j)
			}
			for i := 0; i < tt.claims; i++ {
				claim(t, s, tt.types...)
			}
			got := claim(t, s, tt.types...)
			switch {
			case tt.wantID == "" && got != nil:
				t.Errorf("expected nil, got %+v", got)
			case tt.wantID != "" && (got == nil || got.ID != tt.wantID):
				t.Errorf("got %+v, want job %q", got, tt.wantID)
			}
		})
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, Job{ID: "j-done", Type: "x"})
	claim(t, s, "x")

	if err := s.CompleteJob("j-done"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	j, err := s.GetJob("j-done")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "completed" {
		t.Errorf("status = %q, want completed", j.Status)
	}
	if err := s.CompleteJob("nope"); err != ErrNotFound {
		t.Errorf("CompleteJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestFailJob_RetriesWithBackoff(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, Job{ID: "j-retry", Type: "x"})
	claim(t, s, "x")

	before := time.Now().UTC().Truncate(time.Second)
	if err := s.FailJob("j-retry", "embedding backend unavailable"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	j, err := s.GetJob("j-retry")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "pending" || j.Attempts != 1 || j.LastError != "embedding backend unavailable" {
		t.Errorf("unexpected job after failure: %+v", j)
	}
	if !j.RunAfter.After(before) {
		t.Errorf("run_after %v should be after %v", j.RunAfter, before)
	}
}

func TestFailJob_MaxAttemptsReached(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, Job{ID: "j-fatal", Type: "x", MaxAttempts: 1})
	claim(t, s, "x")

	if err := s.FailJob("j-fatal", "fatal"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	j, _ := s.GetJob("j-fatal")
	if j.Status != "failed" {
		t.Errorf("status = %q, want failed", j.Status)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetJob("missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRequeueRunningJobs(t *testing.T) {
	s := openTestStore(t)
	enqueue(t, s, Job{ID: "j-stuck", Type: "x"})
	claim(t, s, "x")

	n, err := s.RequeueRunningJobs()
	if err != nil {
		t.Fatalf("RequeueRunningJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("requeued %d, want 1", n)
	}
	if got := claim(t, s, "x"); got == nil || got.ID != "j-stuck" {
		t.Errorf("requeued job not claimable: %+v", got)
	}
}

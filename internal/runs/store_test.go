package runs_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"vak/internal/runs"
	"vak/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()

	run := testsupport.NewRun(t, store, "train")
	if run.ID == "" || run.Status != runs.StatusRunning {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.ConfigPath != "/tmp/config.toml" || run.Model != "TweetyNet" || run.ResultsDir != "" {
		t.Fatalf("unexpected fields %+v", run)
	}
	if run.CreatedAt.IsZero() || run.FinishedAt != nil {
		t.Fatalf("unexpected timestamps %+v", run)
	}

	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil run for unknown id, got %+v, %v", missing, err)
	}
	if _, err := store.Create(ctx, " ", "", "", ""); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestCompleteStoresMetrics(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	run := testsupport.NewRun(t, store, "train")

	if err := store.SetResultsDir(ctx, run.ID, "/results/results_260101_120000"); err != nil {
		t.Fatalf("SetResultsDir returned error: %v", err)
	}
	metrics := map[string]map[string]float64{"val": {"acc": 0.91, "levenshtein": 12}}
	if err := store.Complete(ctx, run.ID, metrics); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != runs.StatusCompleted || got.FinishedAt == nil {
		t.Fatalf("unexpected status %+v", got)
	}
	if got.ResultsDir != "/results/results_260101_120000" {
		t.Fatalf("ResultsDir = %q", got.ResultsDir)
	}
	if got.Metrics["val"]["acc"] != 0.91 {
		t.Fatalf("unexpected metrics %v", got.Metrics)
	}
}

func TestFailRecordsMessage(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	run := testsupport.NewRun(t, store, "predict")

	if err := store.Fail(ctx, run.ID, errors.New("runner exited with status 1")); err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != runs.StatusFailed || got.ErrorMessage != "runner exited with status 1" {
		t.Fatalf("unexpected run %+v", got)
	}

	if err := store.Fail(ctx, "missing", errors.New("x")); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestListFiltersByStatus(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()

	first := testsupport.NewRun(t, store, "prep")
	second := testsupport.NewRun(t, store, "train")
	third := testsupport.NewRun(t, store, "eval")
	if err := store.Complete(ctx, first.ID, nil); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if err := store.Fail(ctx, third.ID, errors.New("boom")); err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}

	running, err := store.List(ctx, runs.StatusRunning)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(running) != 1 || running[0].ID != second.ID {
		t.Fatalf("unexpected running runs %+v", running)
	}

	finished, err := store.List(ctx, runs.StatusCompleted, runs.StatusFailed)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(finished) != 2 {
		t.Fatalf("expected 2 finished runs, got %d", len(finished))
	}
}

func TestFindByPrefix(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	run := testsupport.NewRun(t, store, "train")

	got, err := store.Find(ctx, run.ID[:8])
	if err != nil {
		t.Fatalf("Find returned error: %v", err)
	}
	if got == nil || got.ID != run.ID {
		t.Fatalf("expected %s, got %+v", run.ID, got)
	}
	none, err := store.Find(ctx, "zzzz")
	if err != nil || none != nil {
		t.Fatalf("expected no match, got %+v, %v", none, err)
	}
}

func TestFailInterrupted(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	ctx := context.Background()
	run := testsupport.NewRun(t, store, "train")

	count, err := store.FailInterrupted(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("FailInterrupted returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 run failed, got %d", count)
	}
	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != runs.StatusFailed || got.ErrorMessage != "interrupted" {
		t.Fatalf("unexpected run %+v", got)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), runs.FileName)
	store, err := runs.Open(path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("update version: %v", err)
	}
	_ = db.Close()

	_, err = runs.Open(path)
	if !errors.Is(err, runs.ErrSchemaMismatch) || !strings.Contains(err.Error(), "99") {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := runs.ParseStatus("completed"); !ok || status != runs.StatusCompleted {
		t.Fatalf("ParseStatus(completed) = %q, %v", status, ok)
	}
	if _, ok := runs.ParseStatus("queued"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"nodesift/internal/storage/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "nodesift.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	run := &models.Run{Mode: "fast"}
	if err := db.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("expected run ID to be set")
	}

	run.Total = 10
	run.Residential = 4
	run.Datacenter = 5
	run.Unknown = 1
	run.Failed = 1
	if err := db.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := db.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Mode != "fast" || got.Total != 10 || got.Datacenter != 5 {
		t.Errorf("got run %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not persisted")
	}
}

func TestSaveAndGetResults(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	run := &models.Run{Mode: "precise"}
	if err := db.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	latency := 120
	results := []*models.RunResult{
		{NodeName: "n1", NodeType: "ss", Server: "a.example.com", Port: 443,
			IP: "203.0.113.1", Label: "residential", Org: "Home ISP", Country: "Japan", LatencyMS: &latency},
		{NodeName: "n2", NodeType: "vmess", Server: "b.example.com", Port: 80,
			Label: "unknown", Reason: "switch not confirmed", Error: "node 'n2': outbound switch not confirmed"},
	}
	if err := db.SaveResults(ctx, run.ID, results); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	got, err := db.GetRunResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRunResults: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].NodeName != "n1" || got[0].LatencyMS == nil || *got[0].LatencyMS != 120 {
		t.Errorf("first result = %+v", got[0])
	}
	if got[1].Label != "unknown" || got[1].LatencyMS != nil {
		t.Errorf("second result = %+v", got[1])
	}
}

func TestGetRecentRunsOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, mode := range []string{"fast", "fast", "precise"} {
		if err := db.CreateRun(ctx, &models.Run{Mode: mode}); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	runs, err := db.GetRecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("GetRecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Mode != "precise" {
		t.Errorf("most recent run mode = %q", runs[0].Mode)
	}
}

func TestGetRunMissing(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetRun(context.Background(), 999); err == nil {
		t.Fatal("expected error for missing run")
	}
}

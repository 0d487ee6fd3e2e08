package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluxtrade/execpipe/internal/types"
)

// TestRecovery_TrustRestored verifies that venue trust scores written
// before a shutdown come back through LatestTrust after a restart.
func TestRecovery_TrustRestored(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "journal_recovery_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "journal.db")
	ctx := context.Background()

	// First process life: record trust movements.
	j1, err := NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}

	now := time.Now().Truncate(time.Second)
	events := []TrustEvent{
		{Venue: "sim-alpha", Score: 0.55, Delta: 0.01, Reason: "fill", CreatedAt: now},
		{Venue: "sim-beta", Score: 0.44, Delta: -0.02, Reason: "failure", CreatedAt: now},
		{Venue: "sim-alpha", Score: 0.56, Delta: 0.01, Reason: "fill", CreatedAt: now.Add(time.Second)},
	}
	for i, event := range events {
		if err := j1.RecordTrustEvent(ctx, event); err != nil {
			t.Fatalf("record trust event %d: %v", i, err)
		}
	}
	j1.Close()

	// Second process life: the ranking seed comes back.
	j2, err := NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen journal: %v", err)
	}
	defer j2.Close()

	trust, err := j2.LatestTrust(ctx)
	if err != nil {
		t.Fatalf("failed to query trust: %v", err)
	}

	if trust["sim-alpha"] != 0.56 {
		t.Errorf("sim-alpha trust = %f, want 0.56", trust["sim-alpha"])
	}
	if trust["sim-beta"] != 0.44 {
		t.Errorf("sim-beta trust = %f, want 0.44", trust["sim-beta"])
	}
}

// TestRecovery_ExecutionsSurviveRestart verifies the audit trail is
// readable after close and reopen.
func TestRecovery_ExecutionsSurviveRestart(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "journal_exec_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "journal.db")
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	j1, err := NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}

	rec := sampleExecution("exec-r1", "order-r1", "BTC-USD", types.ExecStatusPartial, now)
	if err := j1.RecordExecution(ctx, rec); err != nil {
		t.Fatalf("record execution: %v", err)
	}
	j1.Close()

	j2, err := NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen journal: %v", err)
	}
	defer j2.Close()

	records, err := j2.Executions(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("failed to query executions: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].ID != "exec-r1" {
		t.Errorf("ID = %s, want exec-r1", records[0].ID)
	}
	if records[0].Status != types.ExecStatusPartial {
		t.Errorf("Status = %s, want PARTIAL", records[0].Status)
	}
	if !records[0].FilledQty.Equal(rec.FilledQty) {
		t.Errorf("FilledQty = %s, want %s", records[0].FilledQty, rec.FilledQty)
	}
}

// TestRecovery_MigrateIdempotent verifies repeated migration runs are
// safe on a populated database.
func TestRecovery_MigrateIdempotent(t *testing.T) {
	j, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	rec := sampleExecution("exec-m1", "order-m1", "BTC-USD", types.ExecStatusCompleted, time.Now())
	if err := j.RecordExecution(ctx, rec); err != nil {
		t.Fatalf("record execution: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := j.Migrate(ctx); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}

	records, err := j.ExecutionsBySymbol(ctx, "BTC-USD", 10)
	if err != nil {
		t.Fatalf("query executions: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %d, want 1 after re-migration", len(records))
	}
}

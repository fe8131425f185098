package fallback

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "fallback.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndOldest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "batch-1", []byte("payload-1")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := s.Save(ctx, "batch-2", []byte("payload-2")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	records, err := s.Oldest(ctx, 10)
	if err != nil {
		t.Fatalf("failed to query oldest: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "batch-1" {
		t.Errorf("expected batch-1 first, got %s", records[0].ID)
	}
	if !bytes.Equal(records[0].Payload, []byte("payload-1")) {
		t.Errorf("unexpected payload: %q", records[0].Payload)
	}
	if records[0].Attempts != 0 {
		t.Errorf("expected 0 attempts, got %d", records[0].Attempts)
	}
	if !records[0].LastAttemptAt.IsZero() {
		t.Errorf("expected zero LastAttemptAt, got %v", records[0].LastAttemptAt)
	}
}

func TestOldestOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if err := s.Save(ctx, id, []byte(id)); err != nil {
			t.Fatalf("failed to save %s: %v", id, err)
		}
	}

	// Pin created_at so the tie breaks by ID and the drain order is
	// deterministic.
	if _, err := s.db.ExecContext(ctx, `UPDATE fallback_batches SET created_at = 1000`); err != nil {
		t.Fatalf("failed to pin created_at: %v", err)
	}

	records, err := s.Oldest(ctx, 2)
	if err != nil {
		t.Fatalf("failed to query oldest: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "a" || records[1].ID != "b" {
		t.Errorf("expected [a b], got [%s %s]", records[0].ID, records[1].ID)
	}
}

func TestSaveDuplicateIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "batch-1", []byte("first")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := s.Save(ctx, "batch-1", []byte("second")); err != nil {
		t.Fatalf("failed to save duplicate: %v", err)
	}

	records, err := s.Oldest(ctx, 10)
	if err != nil {
		t.Fatalf("failed to query oldest: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if !bytes.Equal(records[0].Payload, []byte("first")) {
		t.Errorf("expected original payload kept, got %q", records[0].Payload)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "batch-1", []byte("payload")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := s.Delete(ctx, "batch-1"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty store, got %d records", n)
	}
}

func TestMarkAttempt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "batch-1", []byte("payload")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := s.MarkAttempt(ctx, "batch-1"); err != nil {
		t.Fatalf("failed to mark attempt: %v", err)
	}
	if err := s.MarkAttempt(ctx, "batch-1"); err != nil {
		t.Fatalf("failed to mark attempt: %v", err)
	}

	records, err := s.Oldest(ctx, 1)
	if err != nil {
		t.Fatalf("failed to query oldest: %v", err)
	}
	if records[0].Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", records[0].Attempts)
	}
	if records[0].LastAttemptAt.IsZero() {
		t.Error("expected LastAttemptAt set")
	}
}

func TestPurgeByAge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "old", []byte("old")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := s.Save(ctx, "new", []byte("new")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	// Backdate the first record past the age cap.
	backdated := time.Now().Add(-48 * time.Hour).Unix()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE fallback_batches SET created_at = ? WHERE id = ?`, backdated, "old"); err != nil {
		t.Fatalf("failed to backdate record: %v", err)
	}

	purged, err := s.Purge(ctx, 24*time.Hour, 0)
	if err != nil {
		t.Fatalf("failed to purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged, got %d", purged)
	}

	records, err := s.Oldest(ctx, 10)
	if err != nil {
		t.Fatalf("failed to query oldest: %v", err)
	}
	if len(records) != 1 || records[0].ID != "new" {
		t.Errorf("expected only 'new' to survive, got %+v", records)
	}
}

func TestPurgeByAttempts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "exhausted", []byte("a")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := s.Save(ctx, "fresh", []byte("b")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.MarkAttempt(ctx, "exhausted"); err != nil {
			t.Fatalf("failed to mark attempt: %v", err)
		}
	}

	purged, err := s.Purge(ctx, 0, 5)
	if err != nil {
		t.Fatalf("failed to purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged, got %d", purged)
	}

	records, err := s.Oldest(ctx, 10)
	if err != nil {
		t.Fatalf("failed to query oldest: %v", err)
	}
	if len(records) != 1 || records[0].ID != "fresh" {
		t.Errorf("expected only 'fresh' to survive, got %+v", records)
	}
}

func TestPurgeZeroCapsDisabled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "batch-1", []byte("payload")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	purged, err := s.Purge(ctx, 0, 0)
	if err != nil {
		t.Fatalf("failed to purge: %v", err)
	}
	if purged != 0 {
		t.Errorf("expected nothing purged, got %d", purged)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "fallback.db")
	s, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to open store with nested path: %v", err)
	}
	defer s.Close()

	if err := s.Save(context.Background(), "batch-1", []byte("payload")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
}

func TestOpenEmptyPathFails(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.db")
	ctx := context.Background()

	s, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Save(ctx, "batch-1", []byte("payload")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	s2, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s2.Close()

	records, err := s2.Oldest(ctx, 10)
	if err != nil {
		t.Fatalf("failed to query oldest: %v", err)
	}
	if len(records) != 1 || records[0].ID != "batch-1" {
		t.Errorf("expected batch-1 to survive reopen, got %+v", records)
	}
}

package pii

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newTestDB creates a temporary SQLite database for testing.
// The database file is automatically cleaned up when the test finishes.
func newTestDB(t *testing.T) *SQLiteAuditDB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := NewSQLiteAuditDB(context.Background(), DatabaseConfig{Driver: DriverSQLite, Path: dbPath})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testEntry(id string, createdAt time.Time) AuditEntry {
	return AuditEntry{
		ID:          id,
		CreatedAt:   createdAt,
		Detector:    "prose_detector",
		InputBytes:  66,
		OutputBytes: 74,
		Names:       2,
		Roles:       map[string]int{"[MOTHER_NAME]": 1, "[PATIENT_NAME]": 1},
		Rejected:    1,
	}
}

func auditBackends(t *testing.T) map[string]AuditDB {
	return map[string]AuditDB{
		"memory": NewInMemoryAuditDB(100),
		"sqlite": newTestDB(t),
	}
}

func TestAuditDB_RecordAndList(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	for name, db := range auditBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				entry := testEntry(fmt.Sprintf("id-%d", i), now.Add(time.Duration(i)*time.Second))
				if err := db.Record(ctx, entry); err != nil {
					t.Fatalf("Record failed: %v", err)
				}
			}

			count, err := db.Count(ctx)
			if err != nil || count != 3 {
				t.Fatalf("Count() = %d, %v", count, err)
			}

			entries, err := db.List(ctx, 2, 0)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(entries) != 2 || entries[0].ID != "id-2" || entries[1].ID != "id-1" {
				t.Fatalf("Expected newest first, got %+v", entries)
			}
			got := entries[0]
			if !got.CreatedAt.Equal(now.Add(2*time.Second)) || got.Detector != "prose_detector" ||
				got.Names != 2 || got.Rejected != 1 || got.Roles["[MOTHER_NAME]"] != 1 {
				t.Errorf("Entry did not round-trip: %+v", got)
			}

			entries, err = db.List(ctx, 10, 2)
			if err != nil || len(entries) != 1 || entries[0].ID != "id-0" {
				t.Errorf("Expected offset to skip two entries, got %+v %v", entries, err)
			}
		})
	}
}

func TestAuditDB_ClearAndCleanup(t *testing.T) {
	for name, db := range auditBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = db.Record(ctx, testEntry("old", time.Now().Add(-48*time.Hour)))
			_ = db.Record(ctx, testEntry("new", time.Now()))

			removed, err := db.CleanupOlderThan(ctx, 24*time.Hour)
			if err != nil || removed != 1 {
				t.Fatalf("CleanupOlderThan() = %d, %v", removed, err)
			}
			entries, _ := db.List(ctx, 10, 0)
			if len(entries) != 1 || entries[0].ID != "new" {
				t.Errorf("Expected only the new entry, got %+v", entries)
			}

			if err := db.Clear(ctx); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			if count, _ := db.Count(ctx); count != 0 {
				t.Errorf("Expected empty audit log, got %d", count)
			}
		})
	}
}

func TestInMemoryAuditDB_Bounded(t *testing.T) {
	db := NewInMemoryAuditDB(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = db.Record(ctx, testEntry(fmt.Sprintf("id-%d", i), time.Now()))
	}

	count, _ := db.Count(ctx)
	if count != 3 {
		t.Fatalf("Expected 3 retained entries, got %d", count)
	}
	entries, _ := db.List(ctx, 10, 0)
	if entries[0].ID != "id-4" || entries[2].ID != "id-2" {
		t.Errorf("Expected oldest entries dropped, got %+v", entries)
	}
}

func TestNewSQLiteAuditDB_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "audit.db")
	db, err := NewSQLiteAuditDB(context.Background(), DatabaseConfig{Path: dbPath})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("expected database file to be created in nested directory")
	}
}

func TestNewAuditDB(t *testing.T) {
	db, err := NewAuditDB(context.Background(), DatabaseConfig{})
	if err != nil {
		t.Fatalf("Expected in-memory default, got %v", err)
	}
	if _, ok := db.(*InMemoryAuditDB); !ok {
		t.Errorf("Expected *InMemoryAuditDB, got %T", db)
	}

	if _, err := NewAuditDB(context.Background(), DatabaseConfig{Driver: "mysql"}); err == nil {
		t.Error("Expected error for unknown driver")
	}
}

func TestNewAuditEntry(t *testing.T) {
	result := Result{Text: "[OTHER_NAME] called", Names: 1, Roles: map[string]int{"[OTHER_NAME]": 1}}

	entry := NewAuditEntry("regex_detector", "Anna Berg called", result)

	if entry.ID == "" || entry.InputBytes != 16 || entry.OutputBytes != 19 || entry.Names != 1 {
		t.Errorf("Unexpected entry %+v", entry)
	}
	result.Roles["[OTHER_NAME]"] = 5
	if entry.Roles["[OTHER_NAME]"] != 1 {
		t.Error("Entry roles must not alias the result map")
	}
}

package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestLedger opens a migrated ledger in t.TempDir() and closes it on cleanup.
func OpenTestLedger(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenLedger(context.Background(), filepath.Join(t.TempDir(), "state", "etl_state.sqlite"), nil)
	if err != nil {
		t.Fatalf("open test ledger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

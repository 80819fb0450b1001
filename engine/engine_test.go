package engine

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpen_AppliesBootstrapPragmas(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	conn, err := Open(Options{Path: dbPath})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	var journalMode string
	if err := conn.DB.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected journal_mode=wal, got %s", journalMode)
	}
}

func TestOpen_InMemorySharedCache(t *testing.T) {
	conn, err := Open(Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.DB.Exec("CREATE TABLE t(id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
}

func TestUserVersion_RoundTrip(t *testing.T) {
	conn, err := Open(Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ctx := context.Background()
	v, err := conn.UserVersion(ctx)
	if err != nil {
		t.Fatalf("UserVersion: %v", err)
	}
	if v != 0 {
		t.Errorf("expected fresh db user_version=0, got %d", v)
	}

	if err := conn.SetUserVersion(ctx, 7); err != nil {
		t.Fatalf("SetUserVersion: %v", err)
	}
	v, err = conn.UserVersion(ctx)
	if err != nil {
		t.Fatalf("UserVersion: %v", err)
	}
	if v != 7 {
		t.Errorf("expected user_version=7, got %d", v)
	}
}

func TestDBFilename_OnDiskVsMemory(t *testing.T) {
	onDisk, err := Open(Options{Path: filepath.Join(t.TempDir(), "f.db")})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = onDisk.Close() }()

	name, err := onDisk.DBFilename(context.Background())
	if err != nil {
		t.Fatalf("DBFilename: %v", err)
	}
	if name == "" {
		t.Error("expected non-empty filename for on-disk database")
	}

	mem, err := Open(Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = mem.Close() }()

	name, err = mem.DBFilename(context.Background())
	if err != nil {
		t.Fatalf("DBFilename: %v", err)
	}
	if name != "" {
		t.Errorf("expected empty filename for in-memory database, got %q", name)
	}
}

func TestClassify_ConstraintViolations(t *testing.T) {
	conn, err := Open(Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.DB.Exec("CREATE TABLE t(id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := conn.DB.Exec("INSERT INTO t(id, name) VALUES (1, 'a')"); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	_, err = conn.DB.Exec("INSERT INTO t(id, name) VALUES (2, 'a')")
	if err == nil {
		t.Fatal("expected unique constraint failure")
	}
	ce := Classify(err, "insert into t")
	if string(ce.Kind) != "unique-violation" {
		t.Errorf("expected unique-violation, got %s", ce.Kind)
	}

	_, err = conn.DB.Exec("INSERT INTO t(id, name) VALUES (3, NULL)")
	if err == nil {
		t.Fatal("expected not-null constraint failure")
	}
	ce = Classify(err, "insert into t")
	if string(ce.Kind) != "not-null-violation" {
		t.Errorf("expected not-null-violation, got %s", ce.Kind)
	}
}

// TestClassifyExcludingColumn_SkipsExcludedName covers spec §4.9's
// "carries the first column... that is not the auto-increment PK" for a
// multi-column unique index where the excluded name appears first in the
// engine's error text.
func TestClassifyExcludingColumn_SkipsExcludedName(t *testing.T) {
	conn, err := Open(Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.DB.Exec("CREATE TABLE t(id INTEGER, email TEXT, UNIQUE(id, email))"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := conn.DB.Exec("INSERT INTO t(id, email) VALUES (1, 'a@example.com')"); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	_, err = conn.DB.Exec("INSERT INTO t(id, email) VALUES (1, 'a@example.com')")
	if err == nil {
		t.Fatal("expected unique constraint failure")
	}

	ce := ClassifyExcludingColumn(err, "insert into t", "id")
	if ce.Column == "id" {
		t.Errorf("expected excluded column 'id' not to be reported, got %q", ce.Column)
	}
	if ce.Column != "email" {
		t.Errorf("expected 'email' as the reported column, got %q", ce.Column)
	}
}

// Package engine is the thin call-through layer onto the native SQLite
// engine (spec §4.1, component C1). It owns opening/closing a connection,
// the pragma bootstrap sequence, WAL checkpointing, and translating the
// driver's result codes into the façade's error taxonomy. It knows nothing
// about record descriptors, statement caching, or transactions — those are
// layered on top in command, schema, txn and the root package.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/strata-db/strata/sterr"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	_ "modernc.org/sqlite"
)

// OpenFlags mirrors the bitset enumerated in spec §6. Open interprets
// only FlagReadOnly (for a plain file path it selects mode=ro instead of
// mode=rwc); the other bits are accepted and ignored.
type OpenFlags uint32

const (
	FlagReadOnly OpenFlags = 1 << iota
	FlagReadWrite
	FlagCreate
	FlagURI
	FlagMemory
	FlagNoMutex
	FlagFullMutex
	FlagSharedCache
	FlagPrivateCache
	FlagWAL
)

// Conn is one native handle plus the bootstrap pragmas applied to it.
// It maps 1:1 onto a *sql.DB configured for single-connection use
// (SetMaxOpenConns(1)), matching sqlite-net's one-OS-handle-per-Conn model.
type Conn struct {
	DB   *sql.DB
	Path string

	busyTimeoutMS int
}

// Options configures Open.
type Options struct {
	Path               string
	Flags              OpenFlags
	BusyTimeout        time.Duration
	PageSize           int
	StoreDateTimeTicks bool
}

// Open opens a native handle and applies the bootstrap pragma sequence
// from spec §4.8 steps 1-5 (busy_timeout, synchronous, journal_mode,
// page size, cache_size); extended result codes need no call, since the
// driver always reports them. Migration (step 6) and the post-bootstrap
// checkpoint/vacuum/reindex/analyze (steps 7-8) are the connection
// manager's responsibility, since they require the descriptor-driven
// schema sync this package does not know about.
func Open(opts Options) (*Conn, error) {
	dsn := normalizeDSN(opts.Path, opts.Flags)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single native handle is not safe for concurrent use; each Conn
	// backs exactly one writer or one reader-pool slot (spec §5).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busyMS := int(opts.BusyTimeout / time.Millisecond)
	if busyMS <= 0 {
		busyMS = 5000
	}

	c := &Conn{DB: db, Path: opts.Path, busyTimeoutMS: busyMS}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyMS),
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	}
	if opts.PageSize > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA page_size=%d", opts.PageSize))
	}
	pragmas = append(pragmas, "PRAGMA cache_size=5000")

	for _, p := range pragmas {
		if _, err := db.ExecContext(context.Background(), p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	return c, nil
}

// normalizeDSN builds a modernc.org/sqlite DSN, mirroring the teacher's
// normalizeSQLiteDSN: a `file:` URI for on-disk paths (mode=rwc so the file
// is created if missing), and `file::memory:?cache=shared` for the common
// ":memory:" token, so every in-process reader/writer pair sees the same
// in-memory database.
func normalizeDSN(path string, flags OpenFlags) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared"
	}
	if strings.HasPrefix(path, "file:") {
		return path
	}
	mode := "rwc"
	if flags&FlagReadOnly != 0 {
		mode = "ro"
	}
	return "file:" + path + "?mode=" + mode
}

// Close runs PRAGMA optimize (updates planner statistics accumulated
// during the session) then closes the handle, per §4.8's shutdown
// sequence and the teacher's CloseDB.
func (c *Conn) Close() error {
	_, _ = c.DB.ExecContext(context.Background(), "PRAGMA optimize")
	return c.DB.Close()
}

var validCheckpointModes = map[string]bool{
	"PASSIVE": true, "FULL": true, "TRUNCATE": true, "RESTART": true,
}

// WALCheckpoint runs PRAGMA wal_checkpoint(mode); mode must be one of
// PASSIVE, FULL, TRUNCATE, RESTART (spec §4.1/§4.8).
func (c *Conn) WALCheckpoint(ctx context.Context, mode string) error {
	if !validCheckpointModes[mode] {
		return fmt.Errorf("invalid WAL checkpoint mode %q", mode)
	}
	_, err := c.DB.ExecContext(ctx, "PRAGMA wal_checkpoint("+mode+")")
	return err
}

// UserVersion reads PRAGMA user_version (the application schema version
// slot used by the connection manager's migration bootstrap, spec §4.8).
func (c *Conn) UserVersion(ctx context.Context) (int64, error) {
	var v int64
	err := c.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// SetUserVersion writes PRAGMA user_version. SQLite does not accept bound
// parameters inside a PRAGMA statement, so the integer is formatted
// directly; it is never caller-supplied free text (always an int64 the
// migration runner computed), so this is not a SQL-injection surface.
func (c *Conn) SetUserVersion(ctx context.Context, v int64) error {
	_, err := c.DB.ExecContext(ctx, "PRAGMA user_version="+strconv.FormatInt(v, 10))
	return err
}

// DBFilename resolves sqlite3_db_filename("main") via PRAGMA
// database_list, used by the connection manager to detect an in-memory
// database (spec §4.8's silent reader-pool redirect).
func (c *Conn) DBFilename(ctx context.Context) (string, error) {
	rows, err := c.DB.QueryContext(ctx, "PRAGMA database_list")
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var seq int
		var name, file string
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "", err
		}
		if name == "main" {
			return file, nil
		}
	}
	return "", rows.Err()
}

// EnableLoadExtension is a documented no-op: modernc.org/sqlite does not
// expose sqlite3_enable_load_extension (it has no cgo-compiled extension
// loader at all), so there is nothing to toggle. The method exists so
// callers porting code that calls it have somewhere to call it to, per
// spec §4.1; it always returns nil.
func (c *Conn) EnableLoadExtension(enabled bool) error {
	return nil
}

// BackupTo copies every user table's schema and rows from this
// connection into dst, table by table inside one transaction on dst.
// This stands in for the native sqlite3_backup_init/step/finish API,
// which database/sql exposes through no driver (spec §4.1/§4.8's
// bulk-load switcheroo): schema is read from sqlite_master and replayed
// verbatim via CREATE TABLE/INDEX, then rows are streamed with a plain
// SELECT * / positional INSERT pair, which works regardless of whether
// either side is on-disk or the process-local ":memory:" database (an
// ATTACH DATABASE by path cannot reach another connection's private
// in-memory page cache, so row streaming is used instead of ATTACH).
func (c *Conn) BackupTo(ctx context.Context, dst *Conn) error {
	schemaRows, err := c.DB.QueryContext(ctx,
		"SELECT name, sql FROM sqlite_master WHERE type IN ('table','index') AND name NOT LIKE 'sqlite_%' AND sql IS NOT NULL ORDER BY (type='table') DESC")
	if err != nil {
		return fmt.Errorf("strata: list source schema: %w", err)
	}
	type schemaObj struct{ name, sql string }
	var objs []schemaObj
	for schemaRows.Next() {
		var o schemaObj
		if err := schemaRows.Scan(&o.name, &o.sql); err != nil {
			_ = schemaRows.Close()
			return fmt.Errorf("strata: scan source schema: %w", err)
		}
		objs = append(objs, o)
	}
	if err := schemaRows.Err(); err != nil {
		_ = schemaRows.Close()
		return err
	}
	_ = schemaRows.Close()

	tx, err := dst.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("strata: begin backup transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tables []string
	for _, o := range objs {
		isIndex := strings.Contains(strings.ToUpper(o.sql), "INDEX")
		dropStmt := "DROP TABLE IF EXISTS " + o.name
		if isIndex {
			dropStmt = "DROP INDEX IF EXISTS " + o.name
		}
		// dst may already hold a prior copy of this schema (e.g. the
		// on-disk writer being restored by bulkLoadFinish); dropping
		// first makes BackupTo idempotent regardless of dst's state.
		if _, err := tx.ExecContext(ctx, dropStmt); err != nil {
			return fmt.Errorf("strata: drop existing schema object %s: %w", o.name, err)
		}
		if _, err := tx.ExecContext(ctx, o.sql); err != nil {
			return fmt.Errorf("strata: recreate schema object %s: %w", o.name, err)
		}
		if !isIndex {
			tables = append(tables, o.name)
		}
	}

	for _, table := range tables {
		if err := copyTableRows(ctx, c, tx, table); err != nil {
			return fmt.Errorf("strata: copy table %s: %w", table, err)
		}
	}

	return tx.Commit()
}

func copyTableRows(ctx context.Context, src *Conn, dstTx *sql.Tx, table string) error {
	rows, err := src.DB.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	insertSQL := fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, placeholders)

	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		if _, err := dstTx.ExecContext(ctx, insertSQL, raw...); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Classify converts a raw driver error into the façade's error taxonomy
// (spec §4.9). sql is the offending statement text, possibly empty for
// control operations. Non-engine errors (e.g. context cancellation) are
// wrapped as KindGeneric.
func Classify(err error, sqlText string) *sterr.Error {
	return ClassifyExcludingColumn(err, sqlText, "")
}

// ClassifyExcludingColumn is Classify, but when inferring the offending
// column of a constraint violation it skips a column named exclude —
// callers that hold a record.Descriptor pass its auto-increment PK's
// name here (spec §4.9: "excluding the auto-increment PK").
func ClassifyExcludingColumn(err error, sqlText, exclude string) *sterr.Error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return &sterr.Error{Kind: sterr.KindGeneric, Message: err.Error(), SQL: sqlText, Cause: err}
	}

	extended := se.Code()
	primary := extended & 0xFF

	switch primary {
	case sqlite3.SQLITE_CONSTRAINT:
		return classifyConstraint(se, extended, sqlText, exclude)
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return &sterr.Error{Kind: sterr.KindGeneric, Message: err.Error(), SQL: sqlText, PrimaryCode: primary, ExtendedCode: extended, BusyOrLocked: true, Cause: err}
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return &sterr.Error{Kind: sterr.KindFatalCorruption, Message: err.Error(), SQL: sqlText, PrimaryCode: primary, ExtendedCode: extended, Cause: err}
	default:
		return &sterr.Error{Kind: sterr.KindGeneric, Message: err.Error(), SQL: sqlText, PrimaryCode: primary, ExtendedCode: extended, Cause: err}
	}
}

func classifyConstraint(se *sqlite.Error, extended int, sqlText, exclude string) *sterr.Error {
	msg := se.Error()
	lower := strings.ToLower(msg)
	loweredExclude := strings.ToLower(exclude)
	switch {
	case strings.Contains(lower, "not null constraint") || extended == sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return &sterr.Error{Kind: sterr.KindNotNullViolation, Message: msg, SQL: sqlText, PrimaryCode: sqlite3.SQLITE_CONSTRAINT, ExtendedCode: extended, Column: inferColumn(lower, loweredExclude)}
	case strings.Contains(lower, "unique constraint") || extended == sqlite3.SQLITE_CONSTRAINT_UNIQUE || extended == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return &sterr.Error{Kind: sterr.KindUniqueViolation, Message: msg, SQL: sqlText, PrimaryCode: sqlite3.SQLITE_CONSTRAINT, ExtendedCode: extended, Column: inferColumn(lower, loweredExclude)}
	default:
		return &sterr.Error{Kind: sterr.KindConstraintViolation, Message: msg, SQL: sqlText, PrimaryCode: sqlite3.SQLITE_CONSTRAINT, ExtendedCode: extended}
	}
}

// inferColumn best-effort extracts "table.column" -> "column" from the
// engine's lower-cased error text, e.g.
// "unique constraint failed: users.email" -> "email" (spec §4.4/§4.9),
// excluding the column named by exclude (case-insensitive) — spec's
// "carries the first column... that is not the auto-increment PK". This
// package has no descriptor access, so the caller (command.Command, via
// ClassifyExcludingColumn) supplies the auto-increment PK's name when one
// is known; an empty exclude behaves like no exclusion at all.
func inferColumn(lowerMsg, exclude string) string {
	idx := strings.LastIndex(lowerMsg, ": ")
	if idx < 0 {
		return ""
	}
	rest := lowerMsg[idx+2:]
	// The driver appends the numeric result code, e.g. " (2067)"; drop it.
	if p := strings.LastIndex(rest, " ("); p >= 0 {
		rest = rest[:p]
	}
	// rest may be "table.col, table.col2" — take the first candidate that
	// isn't the excluded column.
	for _, part := range strings.Split(rest, ",") {
		candidate := strings.TrimSpace(part)
		if dot := strings.LastIndex(candidate, "."); dot >= 0 {
			candidate = candidate[dot+1:]
		}
		if exclude == "" || !strings.EqualFold(candidate, exclude) {
			return candidate
		}
	}
	return ""
}

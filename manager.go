package strata

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/strata-db/strata/engine"
	"github.com/strata-db/strata/sterr"
	"github.com/strata-db/strata/txn"
)

type lockTokenKey struct{}

// Manager is the connection manager (spec §4.8, component C8): one
// writer connection plus a bounded reader pool, a named write lock with
// a timeout and last-reason diagnostic, and a retry loop around
// transient errors.
type Manager struct {
	cfg    Config
	logger Logger

	writer     *engine.Conn
	writerLock chan struct{}
	lockMu     sync.Mutex
	reason     string
	lockTok    int64

	pool *readerPool
	txc  *txn.Controller

	isMemory bool

	changeMu       sync.Mutex
	changeHandlers []func(TableChange)

	// bulkDiskWriter holds the original on-disk writer connection while a
	// bulk load is in progress (m.writer points at the in-memory
	// surrogate during that window); nil outside of bulkLoadStart/Finish/
	// Rollback.
	bulkDiskWriter *engine.Conn
}

// TableChange is one row of spec §6's "TableChanged event stream carrying
// (table, Insert|Update|Delete, rowCount)".
type TableChange struct {
	Table    string
	Action   ChangeAction
	RowCount int64
}

// ChangeAction enumerates spec's Insert|Update|Delete.
type ChangeAction int

const (
	Insert ChangeAction = iota
	Update
	Delete
)

func (a ChangeAction) String() string {
	switch a {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Open builds a Manager: opens the writer connection, runs the bootstrap
// pragma sequence, and prepares (but does not yet open) the reader pool.
func Open(ctx context.Context, cfg Config) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	writer, err := openEngineConn(cfg)
	if err != nil {
		return nil, err
	}

	filename, err := writer.DBFilename(ctx)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("strata: resolve db filename: %w", err)
	}

	writerLock := make(chan struct{}, 1)
	writerLock <- struct{}{}

	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		writer:     writer,
		writerLock: writerLock,
		txc:        txn.New(writer.DB),
		isMemory:   filename == "",
	}
	m.pool = newReaderPool(cfg.MinPoolSize, cfg.MaxPoolSize, func() (*engine.Conn, error) {
		return openEngineConn(cfg)
	})

	if err := m.bootstrap(ctx); err != nil {
		_ = writer.Close()
		return nil, err
	}

	logger.Info("strata: manager opened", "path", cfg.DatabasePath, "in_memory", m.isMemory)
	return m, nil
}

func openEngineConn(cfg Config) (*engine.Conn, error) {
	return engine.Open(engine.Options{
		Path:               cfg.DatabasePath,
		Flags:              cfg.OpenFlags,
		BusyTimeout:        cfg.BusyTimeout,
		PageSize:           cfg.PageSize,
		StoreDateTimeTicks: cfg.StoreDateTimeAsTicks,
	})
}

// bootstrap runs spec §4.8 steps 7-8 (steps 1-5 already ran inside
// engine.Open; step 6, migration, is the caller's responsibility via
// ApplyFileMigrations followed by per-descriptor schema.Synthesize,
// since both need record descriptors this package does not own).
func (m *Manager) bootstrap(ctx context.Context) error {
	m.logger.Debug("strata: bootstrap starting")
	if err := m.writer.WALCheckpoint(ctx, "RESTART"); err != nil {
		m.logger.Error("strata: bootstrap checkpoint failed", "error", err)
		return fmt.Errorf("strata: bootstrap checkpoint: %w", err)
	}
	for _, stmt := range []string{"VACUUM", "REINDEX", "ANALYZE"} {
		if _, err := m.writer.DB.ExecContext(ctx, stmt); err != nil {
			ce := engine.Classify(err, stmt)
			if ce.Kind == sterr.KindFatalCorruption {
				m.logger.Error("strata: fatal corruption during bootstrap, deleting database files", "stmt", stmt, "error", err)
				m.deleteDatabaseFiles()
			} else {
				m.logger.Error("strata: bootstrap statement failed", "stmt", stmt, "error", err)
			}
			return ce
		}
	}
	m.logger.Debug("strata: bootstrap complete")
	return nil
}

// deleteDatabaseFiles removes the database file and its WAL/SHM/journal
// siblings (spec §4.8: "On any Corrupt or NonDBFile during bootstrap,
// delete the database file... and rethrow").
func (m *Manager) deleteDatabaseFiles() {
	path := m.cfg.DatabasePath
	if path == "" || path == ":memory:" {
		return
	}
	for _, suffix := range []string{"", "-journal", "-shm", "-wal"} {
		_ = os.Remove(path + suffix)
	}
}

// ApplyFileMigrations runs goose-driven SQL migrations from fsys before
// any descriptor-driven schema sync — for schema changes (data
// backfills, index rebuilds) no record.Descriptor expresses.
func (m *Manager) ApplyFileMigrations(ctx context.Context, fsys fs.FS) error {
	m.logger.Info("strata: applying file migrations")
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("strata: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, m.writer.DB, "."); err != nil {
		m.logger.Error("strata: file migrations failed", "error", err)
		return fmt.Errorf("strata: apply file migrations: %w", err)
	}
	m.logger.Info("strata: file migrations applied")
	return nil
}

// Writer exposes the writer connection for schema synthesis and direct
// access; callers must hold the write lock first via WithWriteLock.
func (m *Manager) Writer() *engine.Conn { return m.writer }

// TxController exposes the writer's transaction controller (package
// txn), for BeginTransaction/RunInTransaction callers.
func (m *Manager) TxController() *txn.Controller { return m.txc }

// OnTableChange registers a subscriber for spec §6's TableChanged event
// stream. Handlers run synchronously on the goroutine that performed the
// modification. Conn's Insert, InsertAll, Update and Delete call them
// after their Write call has returned, so the write lock is already
// released unless ctx carries it from an enclosing WithWriteLock.
func (m *Manager) OnTableChange(fn func(TableChange)) {
	m.changeMu.Lock()
	m.changeHandlers = append(m.changeHandlers, fn)
	m.changeMu.Unlock()
}

func (m *Manager) emitTableChange(tc TableChange) {
	m.changeMu.Lock()
	handlers := m.changeHandlers
	m.changeMu.Unlock()
	for _, fn := range handlers {
		fn(tc)
	}
}

// WithWriteLock acquires the named write lock (spec §4.8
// getWriteConnectionLock), reentrant within ctx: a ctx already carrying
// this manager's lock token short-circuits instead of re-locking, the
// idiomatic Go substitute for the CLR's thread-affine reentrant mutex,
// since goroutines have no stable identity to key reentrancy on.
func (m *Manager) WithWriteLock(ctx context.Context, reason string, fn func(ctx context.Context) error) error {
	if tok, ok := ctx.Value(lockTokenKey{}).(int64); ok && tok == m.lockTok {
		return fn(ctx)
	}

	timer := time.NewTimer(m.cfg.DatabaseWriteLockTimeout)
	defer timer.Stop()

	// writerLock is a 1-buffered token channel rather than a sync.Mutex:
	// a sync.Mutex has no timeout/ctx-aware Lock, which previously forced
	// spawning a goroutine to race Lock() against a timer — and that
	// goroutine, once orphaned by a timeout, would still acquire the
	// mutex later and never release it, wedging every future write
	// forever. A channel receive is natively selectable, so giving up
	// here leaves the token in the channel for the next acquirer.
	select {
	case <-m.writerLock:
	case <-timer.C:
		m.lockMu.Lock()
		holder := m.reason
		m.lockMu.Unlock()
		m.logger.Warn("strata: write lock timed out", "timeout", m.cfg.DatabaseWriteLockTimeout, "held_for", holder, "reason", reason)
		return sterr.New(sterr.KindWriteLockTimeout,
			fmt.Sprintf("strata: write lock timed out after %s; currently held for %q", m.cfg.DatabaseWriteLockTimeout, holder))
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { m.writerLock <- struct{}{} }()

	m.lockMu.Lock()
	m.reason = reason
	m.lockTok++
	tok := m.lockTok
	m.lockMu.Unlock()
	defer func() {
		m.lockMu.Lock()
		m.reason = ""
		m.lockMu.Unlock()
	}()

	return fn(context.WithValue(ctx, lockTokenKey{}, tok))
}

// Write is spec §4.8's write(fn): execute(|| { lock; fn(writer) }),
// retried around transient failures.
func (m *Manager) Write(ctx context.Context, reason string, fn func(ctx context.Context, w *engine.Conn) error) error {
	attempt := 0
	err := retryExecute(ctx, m.cfg.RetryAttempts, func() error {
		attempt++
		if attempt > 1 {
			m.logger.Debug("strata: retrying write", "reason", reason, "attempt", attempt)
		}
		return m.WithWriteLock(ctx, reason, func(ctx context.Context) error {
			return fn(ctx, m.writer)
		})
	})
	if err != nil {
		m.logger.Error("strata: write failed", "reason", reason, "attempts", attempt, "error", err)
	}
	return err
}

// Read is spec §4.8's read(fn), with the in-memory redirect: when the
// database is in-memory (resolved from sqlite3_db_filename("main")
// returning empty at open), reads route through the writer under the
// write lock, because savepoints on a cache=shared in-memory database
// misbehave — spec calls this out explicitly and it must be preserved.
func (m *Manager) Read(ctx context.Context, fn func(ctx context.Context, r *engine.Conn) error) error {
	if m.isMemory {
		return m.Write(ctx, "read(in-memory redirect)", func(ctx context.Context, w *engine.Conn) error {
			return fn(ctx, w)
		})
	}
	attempt := 0
	err := retryExecute(ctx, m.cfg.RetryAttempts, func() error {
		attempt++
		if attempt > 1 {
			m.logger.Debug("strata: retrying read", "attempt", attempt)
		}
		reader, err := m.pool.Get(ctx)
		if err != nil {
			return err
		}
		defer reader.Release()
		return fn(ctx, reader.Conn())
	})
	if err != nil {
		m.logger.Error("strata: read failed", "attempts", attempt, "error", err)
	}
	return err
}

// Close implements spec §4.8's shutdown: optimize, dispose reader pool,
// wal_checkpoint(RESTART), dispose writer.
func (m *Manager) Close() error {
	m.logger.Info("strata: manager closing")
	_, _ = m.writer.DB.ExecContext(context.Background(), "PRAGMA optimize")
	poolErr := m.pool.Close()
	_ = m.writer.WALCheckpoint(context.Background(), "RESTART")
	writerErr := m.writer.Close()
	if poolErr != nil {
		m.logger.Error("strata: close failed", "error", poolErr)
		return poolErr
	}
	if writerErr != nil {
		m.logger.Error("strata: close failed", "error", writerErr)
	}
	return writerErr
}

// Package txn implements the nested savepoint transaction state machine
// that sits on top of the writer connection (spec §4.7, component C7):
// BEGIN/SAVEPOINT/RELEASE/ROLLBACK with an atomic depth counter and
// best-effort recovery when COMMIT or RELEASE fails while busy.
package txn

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/strata-db/strata/engine"
	"github.com/strata-db/strata/sterr"
)

// Execer is the subset of *sql.DB a Controller issues BEGIN/SAVEPOINT/
// RELEASE/ROLLBACK/COMMIT statements against — always the writer
// connection (spec §4.7 "all on the writer connection").
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Controller is the per-writer-connection transaction state machine.
// Depth is a plain counter rather than a name stack: savepoint names
// already encode their own previous depth (spec §9 Open Question:
// "nested savepoints with depth counter" is the design actually taken,
// not the alternative of a name stack, to enable cheap name parsing
// without string surgery), so the counter is sufficient.
type Controller struct {
	q     Execer
	depth atomic.Int64
}

// New constructs a Controller bound to the writer connection q.
func New(q Execer) *Controller { return &Controller{q: q} }

// Rebind points the controller at a new writer connection, for the
// connection manager's bulk-load switcheroo (spec §4.8) which swaps the
// writer slot for an in-memory surrogate and later back. Callers must
// hold the write lock and ensure depth is 0 before rebinding; a rebind
// does not itself touch depth.
func (c *Controller) Rebind(q Execer) { c.q = q }

// Depth returns the current nesting depth.
func (c *Controller) Depth() int64 { return c.depth.Load() }

// IsInTransaction reports depth > 0 (spec §4.7 invariant).
func (c *Controller) IsInTransaction() bool { return c.depth.Load() > 0 }

// BeginTransaction starts the outermost transaction. Fails
// *already-in-transaction* if depth is already nonzero.
func (c *Controller) BeginTransaction(ctx context.Context) error {
	if !c.depth.CompareAndSwap(0, 1) {
		return sterr.New(sterr.KindAlreadyInTransaction, "txn: a transaction is already active")
	}
	if _, err := c.q.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		ce := engine.Classify(err, "BEGIN TRANSACTION")
		if isRecoverableBeginFailure(ce) {
			c.rollbackBestEffort(ctx)
		}
		c.depth.Store(0)
		return ce
	}
	return nil
}

func isRecoverableBeginFailure(ce *sterr.Error) bool {
	// spec §4.7: {io-error, full, busy, no-mem, interrupt}. Busy/locked is
	// already flagged by engine.Classify; the others surface as
	// KindGeneric with a nonzero primary code.
	if ce.BusyOrLocked {
		return true
	}
	switch ce.PrimaryCode {
	case 7, 9, 10, 13: // SQLITE_NOMEM, SQLITE_INTERRUPT, SQLITE_IOERR, SQLITE_FULL
		return ce.Kind == sterr.KindGeneric
	}
	return false
}

func (c *Controller) rollbackBestEffort(ctx context.Context) {
	_, _ = c.q.ExecContext(ctx, "ROLLBACK")
}

// rand16 returns 16 hex characters of cryptographic randomness for a
// savepoint name, analogous to the teacher's id-generation helpers.
func rand16() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// SaveTransactionPoint increments depth and issues SAVEPOINT <name>,
// where name = "S" + rand16 + "D" + prevDepth (spec §4.7). Returns the
// savepoint's name for a later Release/RollbackTo.
func (c *Controller) SaveTransactionPoint(ctx context.Context) (string, error) {
	prevDepth := c.depth.Add(1) - 1
	name := fmt.Sprintf("S%sD%d", rand16(), prevDepth)
	if _, err := c.q.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		ce := engine.Classify(err, "SAVEPOINT "+name)
		if isRecoverableBeginFailure(ce) {
			c.rollbackBestEffort(ctx)
		}
		c.depth.Store(prevDepth)
		return "", ce
	}
	return name, nil
}

// parseSavepointDepth extracts the trailing "D<depth>" integer from a
// savepoint name produced by SaveTransactionPoint.
func parseSavepointDepth(name string) (int64, error) {
	i := strings.LastIndexByte(name, 'D')
	if i < 0 || i == len(name)-1 {
		return 0, sterr.New(sterr.KindBadSavepoint, fmt.Sprintf("txn: malformed savepoint name %q", name))
	}
	depth, err := strconv.ParseInt(name[i+1:], 10, 64)
	if err != nil {
		return 0, sterr.New(sterr.KindBadSavepoint, fmt.Sprintf("txn: malformed savepoint name %q", name))
	}
	return depth, nil
}

// Release parses the depth suffix from name, validates
// 0 <= depth < currentDepth, sets depth to the parsed value, then issues
// RELEASE <name>. On a busy failure, issues a best-effort ROLLBACK when
// rollbackOnFailure before returning the classified error.
func (c *Controller) Release(ctx context.Context, name string, rollbackOnFailure bool) error {
	parsed, err := parseSavepointDepth(name)
	if err != nil {
		return err
	}
	current := c.depth.Load()
	if parsed < 0 || parsed >= current {
		return sterr.New(sterr.KindBadSavepoint, fmt.Sprintf("txn: savepoint %q depth %d out of range [0,%d)", name, parsed, current))
	}
	c.depth.Store(parsed)
	if _, err := c.q.ExecContext(ctx, "RELEASE "+name); err != nil {
		ce := engine.Classify(err, "RELEASE "+name)
		if ce.BusyOrLocked && rollbackOnFailure {
			c.rollbackBestEffort(ctx)
		}
		return ce
	}
	return nil
}

// Rollback is RollbackTo(ctx, "", noThrow).
func (c *Controller) Rollback(ctx context.Context, noThrow bool) error {
	return c.RollbackTo(ctx, "", noThrow)
}

// RollbackTo implements spec §4.7's rollbackTo: an empty name exchanges
// depth to 0 and, if it was nonzero, issues ROLLBACK; a named savepoint
// parses/validates its depth suffix as Release does, then issues
// ROLLBACK TO <name>. Errors are swallowed iff noThrow.
func (c *Controller) RollbackTo(ctx context.Context, name string, noThrow bool) error {
	if name == "" {
		prev := c.depth.Swap(0)
		if prev == 0 {
			return nil
		}
		if _, err := c.q.ExecContext(ctx, "ROLLBACK"); err != nil && !noThrow {
			return engine.Classify(err, "ROLLBACK")
		}
		return nil
	}

	parsed, err := parseSavepointDepth(name)
	if err != nil {
		if noThrow {
			return nil
		}
		return err
	}
	current := c.depth.Load()
	if parsed < 0 || parsed >= current {
		if noThrow {
			return nil
		}
		return sterr.New(sterr.KindBadSavepoint, fmt.Sprintf("txn: savepoint %q depth %d out of range [0,%d)", name, parsed, current))
	}
	c.depth.Store(parsed)
	if _, err := c.q.ExecContext(ctx, "ROLLBACK TO "+name); err != nil && !noThrow {
		return engine.Classify(err, "ROLLBACK TO "+name)
	}
	return nil
}

// Commit exchanges depth to 0 and, if it was nonzero, issues COMMIT. If
// COMMIT fails, a best-effort ROLLBACK runs when rollbackOnFailure before
// the classified error is returned — the engine may otherwise leave the
// transaction active after a busy commit (spec §4.7, Issue-604).
func (c *Controller) Commit(ctx context.Context, rollbackOnFailure bool) error {
	prev := c.depth.Swap(0)
	if prev == 0 {
		return nil
	}
	if _, err := c.q.ExecContext(ctx, "COMMIT"); err != nil {
		ce := engine.Classify(err, "COMMIT")
		if rollbackOnFailure {
			c.rollbackBestEffort(ctx)
		}
		return ce
	}
	return nil
}

// RunInTransaction saves a transaction point, runs action, and releases
// it on success or rolls back (without throwing) and rethrows on
// failure — spec §4.7's runInTransaction / invariant 4 ("if
// runInTransaction throws, database state is identical to the pre-call
// state").
func (c *Controller) RunInTransaction(ctx context.Context, action func(ctx context.Context) error) error {
	name, err := c.SaveTransactionPoint(ctx)
	if err != nil {
		return err
	}
	if err := action(ctx); err != nil {
		_ = c.RollbackTo(ctx, name, true)
		return err
	}
	if err := c.Release(ctx, name, true); err != nil {
		return err
	}
	return nil
}

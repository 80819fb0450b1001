package strata

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strata-db/strata/command"
	"github.com/strata-db/strata/engine"
	"github.com/strata-db/strata/record"
	"github.com/strata-db/strata/sterr"
)

// InsertExtra selects an INSERT modifier (spec §4.6 "extra").
type InsertExtra string

const (
	InsertPlain     InsertExtra = ""
	InsertOrReplace InsertExtra = "OR REPLACE"
	InsertOrIgnore  InsertExtra = "OR IGNORE"
)

// sqliteMaxBoundParams is the engine's default bound-parameter ceiling
// (spec §4.6 "the engine's default limit of 999 per statement").
const sqliteMaxBoundParams = 999

// Conn is the high-level CRUD surface (spec §4.6, component C6): a
// *Manager (writer plus reader pool) plus a prepared-command cache keyed
// by the engine connection and the SQL text.
type Conn struct {
	mgr      *Manager
	cache    *record.TypeCache
	commands sync.Map // (querier, sql text) -> *command.Command
	cmdLocks sync.Map // string (sql text) -> *sync.Mutex
}

// NewConn wraps mgr for CRUD use, resolving record descriptors from
// cache (record.Default if nil).
func NewConn(mgr *Manager, cache *record.TypeCache) *Conn {
	if cache == nil {
		cache = record.Default
	}
	return &Conn{mgr: mgr, cache: cache}
}

// commandFor returns the cached *command.Command for sqlText against q,
// compiling a fresh one on a cache miss. Racing prepares resolve by the
// loser disposing its own compiled statement (spec §5: "per-connection
// command cache is a concurrent map; racing prepares resolve by losing
// party finalizing its compiled statement").
func (c *Conn) commandFor(q command.Querier, sqlText string) *command.Command {
	return c.commandForExcluding(q, sqlText, "")
}

// commandForExcluding is commandFor, additionally arming the command to
// skip excludeColumn when inferring a constraint violation's offending
// column (spec §4.9) — insert/update paths pass the descriptor's
// auto-increment PK name here.
func (c *Conn) commandForExcluding(q command.Querier, sqlText, excludeColumn string) *command.Command {
	key := struct {
		q   command.Querier
		sql string
	}{q, sqlText}
	if v, ok := c.commands.Load(key); ok {
		return v.(*command.Command)
	}
	fresh := command.New(q, sqlText, c.mgr.cfg.StoreDateTimeAsTicks).WithExcludeColumn(excludeColumn)
	c.armTrace(fresh)
	actual, loaded := c.commands.LoadOrStore(key, fresh)
	if loaded {
		_ = fresh.Dispose()
	}
	return actual.(*command.Command)
}

// armTrace wires cmd's trace hooks from the manager's Config (spec
// §4.4): the entry line fires whenever Trace/Tracer is configured; the
// exit timing line fires whenever TraceTime/TraceTimeExceeding is.
func (c *Conn) armTrace(cmd *command.Command) {
	cfg := c.mgr.cfg
	if cfg.Trace && cfg.Tracer != nil {
		cmd.WithEntryTrace(cfg.Tracer)
	}
	if cfg.TraceTime && cfg.Tracer != nil {
		cmd.WithTrace(cfg.TraceTimeExceeding, func(sqlText string, d time.Duration) {
			cfg.Tracer(fmt.Sprintf("Database took %d ms to execute: %s", d.Milliseconds(), sqlText))
		})
	}
}

// lockFor returns the per-statement mutex serializing invocations of the
// cached command for sqlText (spec §5: "a prepared statement is not
// concurrent... this core serializes by locking the statement object").
func (c *Conn) lockFor(sqlText string) *sync.Mutex {
	v, _ := c.cmdLocks.LoadOrStore(sqlText, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ClearCommandCache disposes every cached command (spec §4.6: "the cache
// is flushed on connection close").
func (c *Conn) ClearCommandCache() {
	c.commands.Range(func(key, v any) bool {
		_ = v.(*command.Command).Dispose()
		c.commands.Delete(key)
		return true
	})
}

func (c *Conn) descriptorFor(objType reflect.Type) (*record.Descriptor, error) {
	return c.cache.Get(objType)
}

// insertColumns returns the columns bound on INSERT: every column except
// an auto-increment PK, or (for extra == OR REPLACE) every column
// including the PK (spec §4.6 "InsertOrReplaceColumns... InsertColumns").
func insertColumns(d *record.Descriptor, extra InsertExtra) []*record.Column {
	var cols []*record.Column
	for _, col := range d.Columns {
		if extra != InsertOrReplace && col.IsAutoInc {
			continue
		}
		cols = append(cols, col)
	}
	return cols
}

func buildInsertSQL(d *record.Descriptor, cols []*record.Column, extra InsertExtra, rows int) string {
	var names []string
	for _, col := range cols {
		names = append(names, quoteIdent(col.Name))
	}
	verb := "insert"
	if extra != "" {
		verb = "insert " + string(extra)
	}
	placeholderRow := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
	var valueGroups []string
	for i := 0; i < rows; i++ {
		valueGroups = append(valueGroups, placeholderRow)
	}
	return fmt.Sprintf(`%s into %s(%s) values %s`, verb, quoteIdent(d.TableName), strings.Join(names, ","), strings.Join(valueGroups, ","))
}

// Insert implements spec §4.6's insert(obj, extra?, objType?): binds
// insertColumns(extra), auto-generates a zero-valued auto-GUID PK,
// executes, and writes back last_insert_rowid() into obj's auto-
// increment PK if present. Returns the affected row count (1 on
// success).
func (c *Conn) Insert(ctx context.Context, obj any, extra InsertExtra) (int64, error) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return 0, sterr.New(sterr.KindInvalidArgument, "strata: Insert requires a non-nil pointer to the mapped struct")
	}
	elem := v.Elem()
	d, err := c.descriptorFor(elem.Type())
	if err != nil {
		return 0, err
	}

	assignAutoGUID(d, elem)

	cols := insertColumns(d, extra)
	sqlText := buildInsertSQL(d, cols, extra, 1)

	var affected int64
	err = c.mgr.Write(ctx, "insert", func(ctx context.Context, w *engine.Conn) error {
		cmd := c.commandForExcluding(w.DB, sqlText, autoIncPKName(d))
		lk := c.lockFor(sqlText)
		lk.Lock()
		defer lk.Unlock()

		args, err := bindRow(cmd, cols, elem)
		if err != nil {
			return err
		}

		if d.AutoIncPK != nil {
			id, err := cmd.LastInsertRowID(ctx, args...)
			if err != nil {
				return err
			}
			d.AutoIncPK.Set(elem, reflect.ValueOf(id).Convert(d.AutoIncPK.UnderlyingType))
			affected = 1
			return nil
		}
		n, err := cmd.ExecuteNonQuery(ctx, args...)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.mgr.emitTableChange(TableChange{Table: d.TableName, Action: Insert, RowCount: affected})
	return affected, nil
}

func assignAutoGUID(d *record.Descriptor, elem reflect.Value) {
	if d.PrimaryKey == nil || !d.PrimaryKey.IsAutoGuid {
		return
	}
	cur := d.PrimaryKey.Get(elem)
	if cur.Interface().(uuid.UUID) == uuid.Nil {
		d.PrimaryKey.Set(elem, reflect.ValueOf(uuid.New()))
	}
}

func bindRow(cmd *command.Command, cols []*record.Column, elem reflect.Value) ([]any, error) {
	args := make([]any, len(cols))
	for i, col := range cols {
		v, err := cmd.BindValue(col, col.Get(elem))
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// InsertOrReplaceRow is spec §4.6's insertOrReplace(obj) ≡ insert(obj, "OR REPLACE").
func (c *Conn) InsertOrReplaceRow(ctx context.Context, obj any) (int64, error) {
	return c.Insert(ctx, obj, InsertOrReplace)
}

// InsertAll implements spec §4.6's insertAll(objs, extra?): a single
// multi-row INSERT per chunk, chunked so that len(cols)*rows never
// exceeds the engine's 999-bound-parameter ceiling, all chunks wrapped
// in one transaction (spec: "batched across a single transaction so a
// mid-batch failure rolls back everything inserted so far").
func (c *Conn) InsertAll(ctx context.Context, objs any, extra InsertExtra) (int64, error) {
	slice := reflect.ValueOf(objs)
	if slice.Kind() != reflect.Slice {
		return 0, sterr.New(sterr.KindInvalidArgument, "strata: InsertAll requires a slice")
	}
	if slice.Len() == 0 {
		return 0, nil
	}
	elemType := slice.Index(0).Type()
	d, err := c.descriptorFor(elemType)
	if err != nil {
		return 0, err
	}
	cols := insertColumns(d, extra)
	if len(cols) == 0 {
		return 0, sterr.New(sterr.KindInvalidArgument, "strata: InsertAll found no bindable columns")
	}
	chunkRows := sqliteMaxBoundParams / len(cols)
	if chunkRows < 1 {
		chunkRows = 1
	}

	var total int64
	err = c.mgr.Write(ctx, "insertAll", func(ctx context.Context, w *engine.Conn) error {
		return c.mgr.TxController().RunInTransaction(ctx, func(ctx context.Context) error {
			for start := 0; start < slice.Len(); start += chunkRows {
				end := start + chunkRows
				if end > slice.Len() {
					end = slice.Len()
				}
				rows := end - start
				sqlText := buildInsertSQL(d, cols, extra, rows)
				cmd := c.commandForExcluding(w.DB, sqlText, autoIncPKName(d))
				lk := c.lockFor(sqlText)

				var args []any
				for i := start; i < end; i++ {
					row := bindableRow(slice.Index(i))
					assignAutoGUID(d, row)
					rowArgs, err := bindRow(cmd, cols, row)
					if err != nil {
						return err
					}
					args = append(args, rowArgs...)
				}

				lk.Lock()
				n, err := cmd.ExecuteNonQuery(ctx, args...)
				lk.Unlock()
				if err != nil {
					return err
				}
				total += n
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	c.mgr.emitTableChange(TableChange{Table: d.TableName, Action: Insert, RowCount: total})
	return total, nil
}

// bindableRow unwraps a slice element (struct or *struct) to an
// addressable struct value.
func bindableRow(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Ptr {
		return v.Elem()
	}
	addr := reflect.New(v.Type()).Elem()
	addr.Set(v)
	return addr
}

// updateColumns returns the columns bound in the SET clause: every column
// except keyCol. When that leaves no columns at all, spec §4.6's fallback
// clause applies verbatim ("if there is no non-key column, update all
// columns keyed by PK") — the open question in spec §9 directs this to be
// preserved as-is rather than treated as a bug, so the SET list falls back
// to every column including the key, still keyed by the primary key.
func updateColumns(d *record.Descriptor, keyCol *record.Column) ([]*record.Column, *record.Column) {
	var cols []*record.Column
	for _, col := range d.Columns {
		if col == keyCol {
			continue
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return d.Columns, d.PrimaryKey
	}
	return cols, keyCol
}

func buildUpdateSQL(d *record.Descriptor, cols []*record.Column, whereCol *record.Column) string {
	var sets []string
	for _, col := range cols {
		sets = append(sets, quoteIdent(col.Name)+" = ?")
	}
	return fmt.Sprintf(`update %s set %s where %s = ?`,
		quoteIdent(d.TableName), strings.Join(sets, ", "), quoteIdent(whereCol.Name))
}

// Update implements spec §4.6's update(obj, updateKey?): binds every
// non-key column plus the key value in the WHERE clause. With no
// updateKey, the key is the primary key; a named updateKey must resolve
// to a unique column (else *unsupported-operation*).
func (c *Conn) Update(ctx context.Context, obj any, updateKey ...string) (int64, error) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return 0, sterr.New(sterr.KindInvalidArgument, "strata: Update requires a non-nil pointer to the mapped struct")
	}
	elem := v.Elem()
	d, err := c.descriptorFor(elem.Type())
	if err != nil {
		return 0, err
	}

	keyCol := d.PrimaryKey
	if len(updateKey) > 0 && updateKey[0] != "" {
		col, ok := d.ColumnByName(updateKey[0])
		if !ok {
			col, ok = d.ColumnByMemberName(updateKey[0])
		}
		if !ok {
			return 0, sterr.New(sterr.KindInvalidArgument, fmt.Sprintf("strata: Update: no column %q on %s", updateKey[0], d.TableName))
		}
		if !col.IsUnique {
			return 0, sterr.New(sterr.KindUnsupportedOperation, fmt.Sprintf("strata: Update: key column %q is not unique", updateKey[0]))
		}
		keyCol = col
	}
	if keyCol == nil {
		return 0, sterr.New(sterr.KindInvalidArgument, "strata: Update requires a mapped type with a primary key")
	}

	cols, whereCol := updateColumns(d, keyCol)
	sqlText := buildUpdateSQL(d, cols, whereCol)

	var affected int64
	err = c.mgr.Write(ctx, "update", func(ctx context.Context, w *engine.Conn) error {
		cmd := c.commandForExcluding(w.DB, sqlText, autoIncPKName(d))
		lk := c.lockFor(sqlText)
		lk.Lock()
		defer lk.Unlock()

		args, err := bindRow(cmd, cols, elem)
		if err != nil {
			return err
		}
		keyArg, err := cmd.BindValue(whereCol, whereCol.Get(elem))
		if err != nil {
			return err
		}
		args = append(args, keyArg)

		n, err := cmd.ExecuteNonQuery(ctx, args...)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		c.mgr.emitTableChange(TableChange{Table: d.TableName, Action: Update, RowCount: affected})
	}
	return affected, nil
}

// UpdateAll runs Update for each element, all within one write-locked
// transaction (spec §4.6 "updateAll(objs)"). The enclosing Write call
// holds the write lock for the whole transaction; Update's own Write
// call short-circuits via the reentrant lock token carried on ctx.
func (c *Conn) UpdateAll(ctx context.Context, objs any) (int64, error) {
	slice := reflect.ValueOf(objs)
	if slice.Kind() != reflect.Slice {
		return 0, sterr.New(sterr.KindInvalidArgument, "strata: UpdateAll requires a slice")
	}
	var total int64
	err := c.mgr.Write(ctx, "updateAll", func(ctx context.Context, w *engine.Conn) error {
		return c.mgr.TxController().RunInTransaction(ctx, func(ctx context.Context) error {
			for i := 0; i < slice.Len(); i++ {
				n, err := c.Update(ctx, addrOf(slice.Index(i)).Interface())
				if err != nil {
					return err
				}
				total += n
			}
			return nil
		})
	})
	return total, err
}

func addrOf(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Ptr {
		return v
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p
}

func buildDeleteSQL(d *record.Descriptor) string {
	return fmt.Sprintf(`delete from %s where %s = ?`, quoteIdent(d.TableName), quoteIdent(d.PrimaryKey.Name))
}

// Delete implements spec §4.6's delete(objType, pk).
func (c *Conn) Delete(ctx context.Context, objType reflect.Type, pk any) (int64, error) {
	d, err := c.descriptorFor(objType)
	if err != nil {
		return 0, err
	}
	if d.PrimaryKey == nil {
		return 0, sterr.New(sterr.KindInvalidArgument, "strata: Delete requires a mapped type with a primary key")
	}
	sqlText := buildDeleteSQL(d)

	var affected int64
	err = c.mgr.Write(ctx, "delete", func(ctx context.Context, w *engine.Conn) error {
		cmd := c.commandFor(w.DB, sqlText)
		lk := c.lockFor(sqlText)
		lk.Lock()
		defer lk.Unlock()

		n, err := cmd.ExecuteNonQuery(ctx, pk)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		c.mgr.emitTableChange(TableChange{Table: d.TableName, Action: Delete, RowCount: affected})
	}
	return affected, nil
}

// DeleteAll deletes every row identified by pks, within one write-locked
// transaction (spec §4.6 "deleteAll(objType, pks)").
func (c *Conn) DeleteAll(ctx context.Context, objType reflect.Type, pks []any) (int64, error) {
	var total int64
	err := c.mgr.Write(ctx, "deleteAll", func(ctx context.Context, w *engine.Conn) error {
		return c.mgr.TxController().RunInTransaction(ctx, func(ctx context.Context) error {
			for _, pk := range pks {
				n, err := c.Delete(ctx, objType, pk)
				if err != nil {
					return err
				}
				total += n
			}
			return nil
		})
	})
	return total, err
}

// Get implements spec §4.6's get[T](pk): selects by primary key,
// returning *KindNotFound* when no row matches.
func Get[T any](ctx context.Context, c *Conn, pk any) (T, error) {
	var zero T
	d, err := c.descriptorFor(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	if d.GetByPrimaryKeySQL == "" {
		return zero, sterr.New(sterr.KindInvalidArgument, "strata: Get requires a mapped type with a primary key")
	}

	var result T
	var found bool
	err = c.mgr.Read(ctx, func(ctx context.Context, r *engine.Conn) error {
		cmd := c.commandFor(r.DB, d.GetByPrimaryKeySQL)
		lk := c.lockFor(d.GetByPrimaryKeySQL)
		lk.Lock()
		defer lk.Unlock()

		for row := range command.ExecuteQuery[T](ctx, cmd, d, pk) {
			if row.Err != nil {
				return row.Err
			}
			result = row.Value
			found = true
			break
		}
		return nil
	})
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, sterr.New(sterr.KindNotFound, fmt.Sprintf("strata: no row in %q for primary key %v", d.TableName, pk))
	}
	return result, nil
}

// Find is Get without the NotFound error: ok is false when no row
// matches (spec §4.6 "find[T](pk)").
func Find[T any](ctx context.Context, c *Conn, pk any) (T, bool, error) {
	v, err := Get[T](ctx, c, pk)
	if err != nil {
		if errors.Is(err, sterr.ErrNotFound) {
			var zero T
			return zero, false, nil
		}
		return v, false, err
	}
	return v, true, nil
}

// autoIncPKName returns d's auto-increment PK column name, or "" if the
// descriptor has none (spec §4.9: constraint-column inference excludes
// the auto-increment PK).
func autoIncPKName(d *record.Descriptor) string {
	if d.AutoIncPK == nil {
		return ""
	}
	return d.AutoIncPK.Name
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Package schema synthesizes and verifies the DDL for one mapped type
// (spec §4.5, component C5): create-if-missing, migrate-by-adding-columns,
// and synthesize-indexes, followed by an optional post-migration
// consistency check. Introspection reads PRAGMA table_info/index_list,
// the same approach the pack's PRAGMA-struct idiom uses for
// schema diffing.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/strata-db/strata/record"
)

// Status is the outcome of Synthesize: Created (new table), Migrated
// (columns added), NoOp (table already matched), ErrorMigrating (an ALTER
// failed) or ErrorIndexing (an index statement failed).
type Status int

const (
	Created Status = iota
	Migrated
	NoOp
	ErrorMigrating
	ErrorIndexing
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Migrated:
		return "migrated"
	case NoOp:
		return "no-op"
	case ErrorMigrating:
		return "error-migrating"
	case ErrorIndexing:
		return "error-indexing"
	default:
		return "unknown"
	}
}

// Result is Synthesize's return value.
type Result struct {
	Status        Status
	AddedColumns  []string
	CreatedIndex  []string
}

// Querier is the subset of *sql.DB / *sql.Tx schema needs.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// tableInfoRow mirrors one row of `PRAGMA table_info(name)`.
type tableInfoRow struct {
	cid       int
	name      string
	declType  string
	notNull   bool
	dfltValue sql.NullString
	pk        int
}

// indexListRow mirrors one row of `PRAGMA index_list(name)`.
type indexListRow struct {
	seq     int
	name    string
	unique  bool
	origin  string
	partial bool
}

// Synthesize implements the create/migrate/index algorithm from spec
// §4.5 for descriptor d against q. The consistency check is the separate
// Verify.
func Synthesize(ctx context.Context, q Querier, d *record.Descriptor, flags record.CreateFlags) (Result, error) {
	existing, err := tableInfo(ctx, q, d.TableName)
	if err != nil {
		return Result{}, fmt.Errorf("schema: table_info(%s): %w", d.TableName, err)
	}

	var res Result
	if len(existing) == 0 {
		ddl := buildCreateTableDDL(d, flags)
		if _, err := q.ExecContext(ctx, ddl); err != nil {
			return Result{}, fmt.Errorf("schema: create table %s: %w", d.TableName, err)
		}
		res.Status = Created
	} else {
		byName := map[string]tableInfoRow{}
		for _, r := range existing {
			byName[strings.ToLower(r.name)] = r
		}
		migrationFailed := false
		for _, c := range d.Columns {
			if _, ok := byName[strings.ToLower(c.Name)]; ok {
				continue
			}
			ddl := fmt.Sprintf(`alter table %s add column %s`, quoteIdent(d.TableName), columnDecl(c))
			if _, err := q.ExecContext(ctx, ddl); err != nil {
				migrationFailed = true
				break
			}
			res.AddedColumns = append(res.AddedColumns, c.Name)
		}
		if migrationFailed {
			res.Status = ErrorMigrating
			return res, fmt.Errorf("schema: alter table %s: failed adding a column", d.TableName)
		}
		if len(res.AddedColumns) > 0 {
			res.Status = Migrated
		} else {
			res.Status = NoOp
		}
	}

	for _, ix := range d.Indexes {
		ddl := buildCreateIndexDDL(d.TableName, ix)
		if _, err := q.ExecContext(ctx, ddl); err != nil {
			res.Status = ErrorIndexing
			return res, fmt.Errorf("schema: create index %s: %w", ix.Name, err)
		}
		res.CreatedIndex = append(res.CreatedIndex, ix.Name)
	}

	return res, nil
}

func buildCreateTableDDL(d *record.Descriptor, flags record.CreateFlags) string {
	var b strings.Builder
	b.WriteString("create ")
	if flags&record.FullTextSearch3 != 0 || flags&record.FullTextSearch4 != 0 {
		b.WriteString("virtual table if not exists ")
		b.WriteString(quoteIdent(d.TableName))
		b.WriteString(" using ")
		if flags&record.FullTextSearch3 != 0 {
			b.WriteString("fts3")
		} else {
			b.WriteString("fts4")
		}
		b.WriteString(" (")
		var decls []string
		for _, c := range d.Columns {
			decls = append(decls, quoteIdent(c.Name))
		}
		b.WriteString(strings.Join(decls, ", "))
		b.WriteString(")")
		return b.String()
	}

	b.WriteString("table if not exists ")
	b.WriteString(quoteIdent(d.TableName))
	b.WriteString(" (")
	var decls []string
	for _, c := range d.Columns {
		decls = append(decls, columnDecl(c))
	}
	b.WriteString(strings.Join(decls, ", "))
	b.WriteString(")")
	if d.WithoutRowID {
		b.WriteString(" without rowid")
	}
	return b.String()
}

// columnDecl renders `"col" <type> [primary key] [autoincrement]
// [not null] [collate X] [default(V)]` per spec §4.5.
func columnDecl(c *record.Column) string {
	var b strings.Builder
	b.WriteString(quoteIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(c.DeclaredType)
	if c.IsPK {
		b.WriteString(" primary key")
	}
	if c.IsAutoInc {
		b.WriteString(" autoincrement")
	}
	if !c.IsNullable && !c.IsPK {
		b.WriteString(" not null")
	}
	if c.Collation != "" {
		b.WriteString(" collate ")
		b.WriteString(c.Collation)
	}
	if c.HasDefault {
		b.WriteString(fmt.Sprintf(" default(%v)", c.DefaultValue))
	}
	return b.String()
}

func buildCreateIndexDDL(table string, ix record.Index) string {
	var cols []string
	for _, c := range ix.Columns {
		cols = append(cols, quoteIdent(c))
	}
	unique := ""
	if ix.Unique {
		unique = "unique "
	}
	return fmt.Sprintf(`create %sindex if not exists %s on %s(%s)`,
		unique, quoteIdent(ix.Name), quoteIdent(table), strings.Join(cols, ", "))
}

func tableInfo(ctx context.Context, q Querier, table string) ([]tableInfoRow, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []tableInfoRow
	for rows.Next() {
		var r tableInfoRow
		var notNullInt, pkInt int
		if err := rows.Scan(&r.cid, &r.name, &r.declType, &notNullInt, &r.dfltValue, &pkInt); err != nil {
			return nil, err
		}
		r.notNull = notNullInt != 0
		r.pk = pkInt
		out = append(out, r)
	}
	return out, rows.Err()
}

func indexList(ctx context.Context, q Querier, table string) ([]indexListRow, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []indexListRow
	for rows.Next() {
		var r indexListRow
		var uniqueInt, partialInt int
		if err := rows.Scan(&r.seq, &r.name, &uniqueInt, &r.origin, &partialInt); err != nil {
			return nil, err
		}
		r.unique = uniqueInt != 0
		r.partial = partialInt != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Verify implements spec §4.5's post-migration consistency check: every
// expected column exists with matching PK/not-null/declared-type, and
// every expected index name is present with no unexpected extras
// (ignoring indexes whose origin is "pk", i.e. implicit rowid aliases).
func Verify(ctx context.Context, q Querier, d *record.Descriptor) error {
	cols, err := tableInfo(ctx, q, d.TableName)
	if err != nil {
		return fmt.Errorf("schema: verify table_info(%s): %w", d.TableName, err)
	}
	byName := map[string]tableInfoRow{}
	for _, c := range cols {
		byName[strings.ToLower(c.name)] = c
	}
	for _, c := range d.Columns {
		got, ok := byName[strings.ToLower(c.Name)]
		if !ok {
			return fmt.Errorf("schema: verify: column %q missing from %s", c.Name, d.TableName)
		}
		if got.pk > 0 != c.IsPK {
			return fmt.Errorf("schema: verify: column %q PK mismatch in %s", c.Name, d.TableName)
		}
		if got.notNull != (!c.IsNullable && !c.IsPK) {
			return fmt.Errorf("schema: verify: column %q not-null mismatch in %s", c.Name, d.TableName)
		}
		if !strings.EqualFold(got.declType, c.DeclaredType) {
			return fmt.Errorf("schema: verify: column %q type mismatch in %s: expected %s, got %s", c.Name, d.TableName, c.DeclaredType, got.declType)
		}
	}

	indexes, err := indexList(ctx, q, d.TableName)
	if err != nil {
		return fmt.Errorf("schema: verify index_list(%s): %w", d.TableName, err)
	}
	seen := map[string]bool{}
	for _, ix := range indexes {
		if ix.origin == "pk" {
			continue
		}
		seen[ix.name] = true
	}
	for _, ix := range d.Indexes {
		if !seen[ix.Name] {
			return fmt.Errorf("schema: verify: expected index %q missing from %s", ix.Name, d.TableName)
		}
		delete(seen, ix.Name)
	}
	for extra := range seen {
		return fmt.Errorf("schema: verify: unexpected index %q present on %s", extra, d.TableName)
	}
	return nil
}

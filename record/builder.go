package record

import (
	"fmt"
	"reflect"
)

// ColumnOption mutates a Column produced by Builder.Column. This is the
// typed-builder escape hatch Design Notes §9 calls for: a language without
// runtime attribute reflection accepts an explicit per-record builder that
// enumerates columns and their flags, used instead of (or to override)
// Describe's tag-driven default.
type ColumnOption func(*Column)

// PK marks the column as the primary key.
func PK(c *Column) { c.IsPK = true; c.IsUnique = true; c.IsNullable = false }

// AutoIncrement marks an integer PK column as auto-incrementing.
func AutoIncrement(c *Column) { c.IsAutoInc = true }

// AutoGUID marks a text(36) PK column as auto-generated on insert.
func AutoGUID(c *Column) { c.IsAutoGuid = true }

// Unique adds the column to its own single-column unique index.
func Unique(c *Column) {
	c.IsUnique = true
	c.Indices = append(c.Indices, IndexParticipation{Unique: true})
}

// NotNull forces the column non-nullable regardless of host type.
func NotNull(c *Column) { c.IsNullable = false }

// StoreAsText marks an enum column to bind/read as its name rather than
// its integer value.
func StoreAsText(c *Column) { c.StoreAsText = true; c.DeclaredType = "varchar"; c.StorageKind = Text }

// Collate sets the column's collation sequence.
func Collate(name string) ColumnOption { return func(c *Column) { c.Collation = name } }

// MaxLen sets a varchar length bound and adjusts the declared type.
func MaxLen(n int) ColumnOption {
	return func(c *Column) {
		c.MaxStringLength = n
		if c.StorageKind == Text {
			c.DeclaredType = fmt.Sprintf("varchar(%d)", n)
		}
	}
}

// Default sets the column's DEFAULT(...) value.
func Default(v any) ColumnOption {
	return func(c *Column) { c.HasDefault = true; c.DefaultValue = v }
}

// Name overrides the column's SQL name (defaults to the Go field name).
func Name(name string) ColumnOption {
	return func(c *Column) { c.Name = name }
}

// Indexed adds the column to a named (or default-named) index.
func Indexed(name string, order int, unique bool, direction string) ColumnOption {
	return func(c *Column) {
		if direction == "" {
			direction = "ASC"
		}
		c.Indices = append(c.Indices, IndexParticipation{Name: name, Order: order, Unique: unique, Direction: direction})
		if unique {
			c.IsUnique = true
		}
	}
}

// Builder constructs a Descriptor explicitly, column by column, for a
// host type T. Use NewBuilder when a type needs a mapping Describe's tag
// grammar cannot express (a custom TableMapper, a computed table name, or
// columns whose flags depend on runtime configuration).
type Builder[T any] struct {
	t   reflect.Type
	d   *Descriptor
	err error
}

// NewBuilder starts a Builder for host type T with the given table name.
func NewBuilder[T any](tableName string) *Builder[T] {
	t := reflect.TypeFor[T]()
	return &Builder[T]{
		t: t,
		d: &Descriptor{
			Type:         t,
			TableName:    tableName,
			CreateFlags:  0,
			byName:       map[string]*Column{},
			byMemberName: map[string]*Column{},
		},
	}
}

// WithoutRowID marks the resulting table WITHOUT ROWID. The descriptor
// must have a primary key by the time Build is called.
func (b *Builder[T]) WithoutRowID() *Builder[T] {
	b.d.WithoutRowID = true
	return b
}

// FullTextSearch marks the table as an FTS3 or FTS4 virtual table.
func (b *Builder[T]) FullTextSearch(version int) *Builder[T] {
	switch version {
	case 3:
		b.d.CreateFlags |= FullTextSearch3
	case 4:
		b.d.CreateFlags |= FullTextSearch4
	default:
		b.err = fmt.Errorf("record: unsupported FTS version %d", version)
	}
	return b
}

// Column declares one mapped field by its Go member name, applying opts
// in order.
func (b *Builder[T]) Column(memberName string, opts ...ColumnOption) *Builder[T] {
	if b.err != nil {
		return b
	}
	f, ok := b.t.FieldByName(memberName)
	if !ok {
		b.err = fmt.Errorf("record: %s has no field %q", b.t, memberName)
		return b
	}

	hostType := f.Type
	underlying := hostType
	isNullable := false
	if underlying.Kind() == reflect.Ptr {
		isNullable = true
		underlying = underlying.Elem()
	}
	kind, declared := inferStorage(underlying, tagSpec{})

	col := &Column{
		Name:           f.Name,
		MemberName:     f.Name,
		StorageKind:    kind,
		DeclaredType:   declared,
		HostType:       hostType,
		UnderlyingType: underlying,
		IsNullable:     isNullable,
		fieldIndex:     f.Index,
	}
	for _, opt := range opts {
		opt(col)
	}

	b.d.Columns = append(b.d.Columns, col)
	b.d.byName[col.Name] = col
	b.d.byMemberName[col.MemberName] = col
	if col.IsPK {
		b.d.PrimaryKey = col
		if col.IsAutoInc {
			b.d.AutoIncPK = col
		}
	}
	return b
}

// Build finalizes the descriptor: groups indices, validates the
// WITHOUT ROWID/PK invariant, and computes the cached get-by-PK SQL.
func (b *Builder[T]) Build() (*Descriptor, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.d.WithoutRowID && b.d.PrimaryKey == nil {
		return nil, fmt.Errorf("record: %s declares withoutrowid but has no primary key", b.t)
	}
	if err := groupIndexes(b.d); err != nil {
		return nil, err
	}
	if b.d.PrimaryKey != nil {
		b.d.GetByPrimaryKeySQL = buildGetByPKSQL(b.d)
	}
	return b.d, nil
}

// Package record derives and caches the mapping from a host Go type to a
// SQLite table: its columns, primary key, indices, and storage rules
// (spec §3, component C2). Descriptors are produced either by reflecting
// over `db:"..."` struct tags (the default, idiomatic Go analogue of the
// attribute-driven derivation in spec Design Notes §9) or by an explicit
// Builder for types that need a custom mapping the tag grammar cannot
// express.
package record

import "reflect"

// StorageKind is one of SQLite's four storage classes (spec §3).
type StorageKind int

const (
	Integer StorageKind = iota
	Real
	Text
	Blob
)

func (k StorageKind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Real:
		return "real"
	case Text:
		return "text"
	case Blob:
		return "blob"
	default:
		return "unknown"
	}
}

// CreateFlags is the bitset consulted when a descriptor is synthesized
// into DDL for the first time (spec §3 `createFlags`).
type CreateFlags uint8

const (
	ImplicitPK CreateFlags = 1 << iota
	ImplicitIndex
	AutoIncPK
	FullTextSearch3
	FullTextSearch4
)

// IndexParticipation records one column's membership in a named index
// (spec §3 `indices`).
type IndexParticipation struct {
	Name      string // empty => synthesized as {UX|IX}_<table>_<column>
	Order     int
	Unique    bool
	Direction string // "ASC" or "DESC"; empty defaults to ASC
}

// Column is one mapped struct field (spec §3 ColumnDescriptor).
type Column struct {
	Name           string
	MemberName     string
	StorageKind    StorageKind
	DeclaredType   string
	HostType       reflect.Type
	UnderlyingType reflect.Type

	IsPK        bool
	IsAutoInc   bool
	IsAutoGuid  bool
	IsNullable  bool
	IsUnique    bool
	StoreAsText bool

	Collation       string
	MaxStringLength int
	HasDefault      bool
	DefaultValue    any

	Indices []IndexParticipation

	// fieldIndex is the reflect.Value.FieldByIndex path, supporting
	// embedded structs (spec §4.2: "the walk is deterministic ... each
	// level's members precede the next-deeper level's").
	fieldIndex []int
}

// Get reads this column's value out of a struct value of the descriptor's
// host type.
func (c *Column) Get(v reflect.Value) reflect.Value {
	return v.FieldByIndex(c.fieldIndex)
}

// Set writes this column's value into an addressable struct value.
func (c *Column) Set(v reflect.Value, val reflect.Value) {
	v.FieldByIndex(c.fieldIndex).Set(val)
}

// Index is a grouped, ready-to-emit index definition (spec §3
// IndexDescriptor): one or more participating columns sharing a name,
// emitted in ascending Order.
type Index struct {
	Name    string
	Unique  bool
	Columns []string
}

// TableNamer lets a host type override its table name without using the
// `db:"table=..."` directive — the idiomatic Go substitute for an
// attribute placed on the type itself (spec's `Table(name?)`).
type TableNamer interface {
	TableName() string
}

// WithoutRowIDType lets a host type opt into `WITHOUT ROWID` tables
// (spec's `Table(withoutRowId?)`) without a struct-level tag.
type WithoutRowIDType interface {
	WithoutRowID() bool
}

// Descriptor is the stable, process-cached handle for one host type
// (spec §3 RecordDescriptor).
type Descriptor struct {
	Type         reflect.Type
	TableName    string
	WithoutRowID bool

	Columns     []*Column
	PrimaryKey  *Column
	AutoIncPK   *Column
	CreateFlags CreateFlags

	Indexes []Index

	GetByPrimaryKeySQL string

	byName       map[string]*Column
	byMemberName map[string]*Column
}

// ColumnByName looks up a column by its SQL name (spec: "lookup by name
// ... both O(1)").
func (d *Descriptor) ColumnByName(name string) (*Column, bool) {
	c, ok := d.byName[name]
	return c, ok
}

// ColumnByMemberName looks up a column by its Go field name.
func (d *Descriptor) ColumnByMemberName(name string) (*Column, bool) {
	c, ok := d.byMemberName[name]
	return c, ok
}

// New returns a new zero value of the descriptor's host type as an
// addressable reflect.Value, for command.Command's row materialization.
func (d *Descriptor) New() reflect.Value {
	return reflect.New(d.Type).Elem()
}

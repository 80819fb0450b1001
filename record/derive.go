package record

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
)

// Describe derives a Descriptor for t by walking its exported fields and
// reading `db:"..."` struct tags (spec §4.2). t must be a struct type or a
// pointer to one. The walk visits declared fields in declaration order at
// each level, and embedded-struct fields are recursed into after the
// embedding level's own fields, matching spec §4.2's "each level's members
// precede the next-deeper level's".
func Describe(t reflect.Type) (*Descriptor, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("record: %s is not a struct", t)
	}

	d := &Descriptor{
		Type:         t,
		TableName:    t.Name(),
		CreateFlags:  ImplicitPK | ImplicitIndex | AutoIncPK,
		byName:       map[string]*Column{},
		byMemberName: map[string]*Column{},
	}

	if tableTag, ok := t.FieldByName("_"); ok {
		spec := parseTableTag(string(tableTag.Tag.Get("db")))
		if spec.name != "" {
			d.TableName = spec.name
		}
		d.WithoutRowID = spec.withoutRowID
		if spec.fts3 {
			d.CreateFlags |= FullTextSearch3
		}
		if spec.fts4 {
			d.CreateFlags |= FullTextSearch4
		}
	}
	if namer, ok := reflect.New(t).Interface().(TableNamer); ok {
		d.TableName = namer.TableName()
	}
	if wr, ok := reflect.New(t).Interface().(WithoutRowIDType); ok {
		d.WithoutRowID = wr.WithoutRowID()
	}

	walkFields(t, nil, d)

	applyImplicitPK(d)
	applyImplicitIndex(d)

	if d.WithoutRowID && d.PrimaryKey == nil {
		return nil, fmt.Errorf("record: %s declares withoutrowid but has no primary key", t)
	}

	if err := groupIndexes(d); err != nil {
		return nil, err
	}
	markUniqueFromIndexes(d)

	if d.PrimaryKey != nil {
		d.GetByPrimaryKeySQL = buildGetByPKSQL(d)
	}

	return d, nil
}

func walkFields(t reflect.Type, prefix []int, d *Descriptor) {
	var embedded []struct {
		t   reflect.Type
		idx []int
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Name == "_" {
			continue // struct-level tag sentinel, not a column
		}
		if !f.IsExported() {
			continue
		}
		tag := parseTag(f.Tag.Get("db"))
		if tag.ignore {
			continue
		}

		idx := appendIndex(prefix, i)

		if f.Anonymous && f.Type.Kind() == reflect.Struct && tag.name == "" {
			embedded = append(embedded, struct {
				t   reflect.Type
				idx []int
			}{f.Type, idx})
			continue
		}

		col := newColumn(f, tag, idx)
		d.Columns = append(d.Columns, col)
		d.byName[col.Name] = col
		d.byMemberName[col.MemberName] = col

		if col.IsPK {
			d.PrimaryKey = col
			if col.IsAutoInc {
				d.AutoIncPK = col
			}
		}
	}
	for _, e := range embedded {
		walkFields(e.t, e.idx, d)
	}
}

func appendIndex(prefix []int, i int) []int {
	idx := make([]int, len(prefix)+1)
	copy(idx, prefix)
	idx[len(prefix)] = i
	return idx
}

func newColumn(f reflect.StructField, tag tagSpec, fieldIndex []int) *Column {
	name := tag.name
	if name == "" {
		name = f.Name
	}

	hostType := f.Type
	underlying := hostType
	isNullable := false
	if underlying.Kind() == reflect.Ptr {
		isNullable = true
		underlying = underlying.Elem()
	}

	kind, declared := inferStorage(underlying, tag)

	col := &Column{
		Name:            name,
		MemberName:      f.Name,
		StorageKind:     kind,
		DeclaredType:    declared,
		HostType:        hostType,
		UnderlyingType:  underlying,
		IsPK:            tag.pk,
		IsAutoInc:       tag.autoInc && kind == Integer,
		IsAutoGuid:      tag.autoGuid && !tag.autoInc,
		IsNullable:      isNullable && !tag.pk && !tag.notNull,
		IsUnique:        tag.unique || tag.pk,
		StoreAsText:     tag.storeAsText,
		Collation:       tag.collation,
		MaxStringLength: tag.maxLen,
		HasDefault:      tag.hasDefault,
		DefaultValue:    tag.defaultStr,
		Indices:         tag.indices,
		fieldIndex:      fieldIndex,
	}
	if tag.pk {
		col.IsNullable = false
	}
	if tag.unique {
		col.Indices = append(col.Indices, IndexParticipation{Unique: true})
	}
	return col
}

// inferStorage picks the declared SQL type and storage class for a Go
// field type, per the mapping table in spec §3/§4.3.
func inferStorage(t reflect.Type, tag tagSpec) (StorageKind, string) {
	switch {
	case t == timeType:
		return Text, "datetime"
	case t == durationType:
		return Integer, "bigint"
	case isGUID(t):
		return Text, "varchar(36)"
	case isEnum(t):
		if tag.storeAsText {
			return Text, "varchar"
		}
		return Integer, "integer"
	}

	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Integer, "integer"
	case reflect.Float32, reflect.Float64:
		return Real, "float"
	case reflect.String:
		if tag.maxLen > 0 {
			return Text, fmt.Sprintf("varchar(%d)", tag.maxLen)
		}
		return Text, "varchar"
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return Blob, "blob"
		}
	}
	// Anything implementing fmt.Stringer (URI/text-builder substitute,
	// spec §4.3) is bound as text.
	if t.Implements(stringerType) {
		return Text, "varchar"
	}
	return Text, "varchar"
}

var stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()

func isGUID(t reflect.Type) bool {
	return t.PkgPath() == "github.com/google/uuid" && t.Name() == "UUID"
}

// isEnum reports whether t is a user-defined named integer type — the
// idiomatic Go stand-in for ".NET enum" detection, since predeclared
// numeric types (int, int64, ...) have an empty PkgPath while any type
// the caller declares with `type Status int` does not.
func isEnum(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return t.PkgPath() != ""
	default:
		return false
	}
}

// applyImplicitPK honors spec §3: "if createFlags contains ImplicitPK and
// no PK attribute is present, the member literally named 'Id'
// (case-insensitive) becomes PK."
func applyImplicitPK(d *Descriptor) {
	if d.PrimaryKey != nil || d.CreateFlags&ImplicitPK == 0 {
		return
	}
	for _, c := range d.Columns {
		if strings.EqualFold(c.MemberName, "Id") {
			c.IsPK = true
			c.IsUnique = true
			c.IsNullable = false
			if d.CreateFlags&AutoIncPK != 0 && c.StorageKind == Integer {
				c.IsAutoInc = true
				d.AutoIncPK = c
			}
			d.PrimaryKey = c
			return
		}
	}
}

// applyImplicitIndex honors spec §3: "if createFlags contains
// ImplicitIndex, any non-PK member whose name ends in 'Id'
// (case-insensitive) joins a default index."
func applyImplicitIndex(d *Descriptor) {
	if d.CreateFlags&ImplicitIndex == 0 {
		return
	}
	for _, c := range d.Columns {
		if c.IsPK {
			continue
		}
		if strings.HasSuffix(strings.ToLower(c.MemberName), "id") {
			c.Indices = append(c.Indices, IndexParticipation{})
		}
	}
}

// markUniqueFromIndexes honors spec §3's "isUnique (PK or in any unique
// index)": a column participating in a single-column unique index is
// unique too, even when it reached Indices via an `index=` directive
// rather than the `unique` tag.
func markUniqueFromIndexes(d *Descriptor) {
	for _, ix := range d.Indexes {
		if !ix.Unique || len(ix.Columns) != 1 {
			continue
		}
		if c, ok := d.byName[ix.Columns[0]]; ok {
			c.IsUnique = true
		}
	}
}

func buildGetByPKSQL(d *Descriptor) string {
	var cols []string
	for _, c := range d.Columns {
		cols = append(cols, quoteIdent(c.Name))
	}
	return fmt.Sprintf(`select %s from %s where %s = ?`,
		strings.Join(cols, ", "), quoteIdent(d.TableName), quoteIdent(d.PrimaryKey.Name))
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

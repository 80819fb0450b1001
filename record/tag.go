package record

import (
	"strconv"
	"strings"
)

// tagSpec is the parsed form of one field's `db:"..."` struct tag. The
// grammar is a comma-separated directive list:
//
//	db:"name=foo,pk,autoincrement,autoguid,unique,notnull,storeastext,
//	     collate=NOCASE,maxlen=255,default=0,index=IX_Name:0:true:asc,-"
//
// This is the idiomatic Go substitute for sqlite-net's per-property
// attributes (spec Design Notes §9): struct tags are Go's one
// runtime-reflectable annotation mechanism, the same convention the
// pack's PRAGMA-struct idiom already leans on (`db:"cid"` et al in
// other_examples' sqlite_dialect.go).
type tagSpec struct {
	ignore      bool
	name        string
	pk          bool
	autoInc     bool
	autoGuid    bool
	unique      bool
	notNull     bool
	storeAsText bool
	collation   string
	maxLen      int
	hasDefault  bool
	defaultStr  string
	indices     []IndexParticipation
}

func parseTag(tag string) tagSpec {
	var spec tagSpec
	if tag == "-" {
		spec.ignore = true
		return spec
	}
	if tag == "" {
		return spec
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "-" {
			spec.ignore = true
			continue
		}
		key, val, hasVal := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		switch key {
		case "name":
			spec.name = val
		case "pk", "primarykey":
			spec.pk = true
		case "autoincrement", "autoinc":
			spec.autoInc = true
		case "autoguid":
			spec.autoGuid = true
		case "unique":
			spec.unique = true
		case "notnull":
			spec.notNull = true
		case "storeastext":
			spec.storeAsText = true
		case "collate":
			spec.collation = val
		case "maxlen":
			if n, err := strconv.Atoi(val); err == nil {
				spec.maxLen = n
			}
		case "default":
			spec.hasDefault = true
			spec.defaultStr = val
		case "index":
			if hasVal {
				spec.indices = append(spec.indices, parseIndexDirective(val))
			} else {
				spec.indices = append(spec.indices, IndexParticipation{})
			}
		}
	}
	return spec
}

// parseIndexDirective parses "Name:Order:Unique:Direction", where every
// field after Name is optional. Missing trailing fields default to
// order=0, unique=false, direction=ASC.
func parseIndexDirective(val string) IndexParticipation {
	fields := strings.Split(val, ":")
	p := IndexParticipation{Direction: "ASC"}
	if len(fields) > 0 {
		p.Name = fields[0]
	}
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil {
			p.Order = n
		}
	}
	if len(fields) > 2 {
		if u, err := strconv.ParseBool(fields[2]); err == nil {
			p.Unique = u
		}
	}
	if len(fields) > 3 && fields[3] != "" {
		p.Direction = strings.ToUpper(fields[3])
	}
	return p
}

// tableTagSpec parses the struct-level `db:"table=...,withoutrowid,
// fts3,fts4"` tag, read off a sentinel blank field named `_` if present
// (the idiomatic Go analogue of a type-level attribute, since Go has no
// native struct-level tag location otherwise).
type tableTagSpec struct {
	name         string
	withoutRowID bool
	fts3         bool
	fts4         bool
}

func parseTableTag(tag string) tableTagSpec {
	var spec tableTagSpec
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, _ := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		switch key {
		case "table", "name":
			spec.name = val
		case "withoutrowid":
			spec.withoutRowID = true
		case "fts3":
			spec.fts3 = true
		case "fts4":
			spec.fts4 = true
		}
	}
	return spec
}

package record

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
)

type Widget struct {
	Id     int64 `db:"pk,autoincrement"`
	Name   string
	Weight float64
}

func TestDescribe_TaggedPKAndColumns(t *testing.T) {
	d, err := Describe(reflect.TypeOf(Widget{}))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if d.TableName != "Widget" {
		t.Errorf("expected table name Widget, got %s", d.TableName)
	}
	if d.PrimaryKey == nil || d.PrimaryKey.Name != "Id" {
		t.Fatalf("expected PK column Id, got %+v", d.PrimaryKey)
	}
	if !d.PrimaryKey.IsAutoInc {
		t.Error("expected Id to be auto-increment")
	}
	if len(d.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(d.Columns))
	}
	nameCol, ok := d.ColumnByName("Name")
	if !ok || nameCol.StorageKind != Text {
		t.Errorf("expected Name column to be text, got %+v", nameCol)
	}
}

type Account struct {
	AccountId string `db:"pk"`
	OwnerId   string
	Balance   float64 `db:"name=bal"`
}

func TestDescribe_ImplicitIndexOnIdSuffix(t *testing.T) {
	d, err := Describe(reflect.TypeOf(Account{}))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	ownerCol, _ := d.ColumnByMemberName("OwnerId")
	if len(ownerCol.Indices) != 1 {
		t.Fatalf("expected OwnerId to join the implicit index, got %+v", ownerCol.Indices)
	}
	balCol, ok := d.ColumnByName("bal")
	if !ok {
		t.Fatal("expected column renamed to 'bal'")
	}
	if balCol.MemberName != "Balance" {
		t.Errorf("expected member name Balance, got %s", balCol.MemberName)
	}
}

type MultiIndexed struct {
	Id    int64  `db:"pk,autoincrement"`
	Uno   string `db:"index=UX_Uno:0:true"`
	Dos   string `db:"index=UX_Dos:0:true"`
	Tres  string `db:"index=UX_Dos:1:true"`
	Cuatro string `db:"index=UX_Uno_bool:0:true"`
	Cinco string `db:"index=UX_Dos_bool:0:true"`
	Seis  string `db:"index=UX_Dos_bool:1:true"`
}

func TestDescribe_GroupedUniqueIndexes(t *testing.T) {
	d, err := Describe(reflect.TypeOf(MultiIndexed{}))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if len(d.Indexes) != 4 {
		t.Fatalf("expected 4 grouped indexes (S4 scenario), got %d: %+v", len(d.Indexes), d.Indexes)
	}
	byName := map[string]Index{}
	for _, ix := range d.Indexes {
		byName[ix.Name] = ix
	}
	if cols := byName["UX_Dos"].Columns; len(cols) != 2 || cols[0] != "Dos" || cols[1] != "Tres" {
		t.Errorf("expected UX_Dos = [Dos, Tres], got %v", cols)
	}
	for _, ix := range d.Indexes {
		if !ix.Unique {
			t.Errorf("index %s expected unique", ix.Name)
		}
	}
}

type SingleUniqueIndexed struct {
	Id   int64  `db:"pk,autoincrement"`
	Code string `db:"index=UX_Code:0:true"`
}

// TestDescribe_SingleColumnUniqueIndexMarksIsUnique covers spec §3's
// "isUnique (PK or in any unique index)": Code reaches its unique index
// via the index= directive, not the unique tag, but still must end up
// IsUnique so Conn.Update accepts it as an updateKey.
func TestDescribe_SingleColumnUniqueIndexMarksIsUnique(t *testing.T) {
	d, err := Describe(reflect.TypeOf(SingleUniqueIndexed{}))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	col, ok := d.ColumnByName("Code")
	if !ok {
		t.Fatal("expected Code column")
	}
	if !col.IsUnique {
		t.Error("expected Code to be marked unique via its single-column unique index")
	}
}

type Widget2 struct {
	Key   uuid.UUID `db:"pk,autoguid"`
	Label string
}

func TestDescribe_GUIDPrimaryKey(t *testing.T) {
	d, err := Describe(reflect.TypeOf(Widget2{}))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if d.PrimaryKey.DeclaredType != "varchar(36)" {
		t.Errorf("expected varchar(36), got %s", d.PrimaryKey.DeclaredType)
	}
	if !d.PrimaryKey.IsAutoGuid {
		t.Error("expected IsAutoGuid")
	}
	if d.PrimaryKey.IsAutoInc {
		t.Error("autoguid and autoincrement are mutually exclusive")
	}
}

type Status int

type Ticket struct {
	Id     int64  `db:"pk,autoincrement"`
	Status Status `db:"storeastext"`
}

func TestDescribe_StoreAsTextEnum(t *testing.T) {
	d, err := Describe(reflect.TypeOf(Ticket{}))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	col, _ := d.ColumnByName("Status")
	if col.StorageKind != Text || col.DeclaredType != "varchar" {
		t.Errorf("expected text/varchar for store-as-text enum, got %+v", col)
	}
}

func TestDescribe_NoPKFieldLeavesPrimaryKeyNil(t *testing.T) {
	type NoPK struct {
		Name string
	}
	// Without a db:"pk" tag and no "Id" field, ImplicitPK cannot find a PK.
	d, err := Describe(reflect.TypeOf(NoPK{}))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	d.WithoutRowID = true
	if d.PrimaryKey != nil {
		t.Fatal("expected no PK to be found")
	}
}


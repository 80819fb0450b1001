package schema

import (
	"context"
	"reflect"
	"testing"

	"github.com/strata-db/strata/engine"
	"github.com/strata-db/strata/record"
)

func openTestConn(t *testing.T) *engine.Conn {
	t.Helper()
	c, err := engine.Open(engine.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type person struct {
	Id    int64 `db:"pk,autoincrement"`
	Name  string
	Email string `db:"unique"`
}

func TestSynthesize_CreatesTableAndIndex(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	d, err := record.Describe(reflect.TypeOf(person{}))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}

	res, err := Synthesize(ctx, conn.DB, d, d.CreateFlags)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Status != Created {
		t.Errorf("expected Created, got %s", res.Status)
	}
	if len(res.CreatedIndex) != 1 {
		t.Errorf("expected 1 created index, got %v", res.CreatedIndex)
	}

	if err := Verify(ctx, conn.DB, d); err != nil {
		t.Errorf("Verify after create: %v", err)
	}
}

type personV2 struct {
	Id     int64 `db:"pk,autoincrement"`
	Name   string
	Email  string `db:"unique"`
	Active bool
}

// TableName maps personV2 onto person's table, so the index names derived
// for it match the ones the first Synthesize created.
func (personV2) TableName() string { return "person" }

func TestSynthesize_MigratesNewColumn(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	d1, _ := record.Describe(reflect.TypeOf(person{}))
	if _, err := Synthesize(ctx, conn.DB, d1, d1.CreateFlags); err != nil {
		t.Fatalf("initial Synthesize: %v", err)
	}

	d2, err := record.Describe(reflect.TypeOf(personV2{}))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	d2.TableName = d1.TableName
	res, err := Synthesize(ctx, conn.DB, d2, d2.CreateFlags)
	if err != nil {
		t.Fatalf("migrate Synthesize: %v", err)
	}
	if res.Status != Migrated {
		t.Errorf("expected Migrated, got %s", res.Status)
	}
	if len(res.AddedColumns) != 1 || res.AddedColumns[0] != "Active" {
		t.Errorf("expected Active to be added, got %v", res.AddedColumns)
	}

	if err := Verify(ctx, conn.DB, d2); err != nil {
		t.Errorf("Verify after migrate: %v", err)
	}
}

func TestSynthesize_NoOpWhenNothingChanged(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	d, _ := record.Describe(reflect.TypeOf(person{}))

	if _, err := Synthesize(ctx, conn.DB, d, d.CreateFlags); err != nil {
		t.Fatalf("first Synthesize: %v", err)
	}
	res, err := Synthesize(ctx, conn.DB, d, d.CreateFlags)
	if err != nil {
		t.Fatalf("second Synthesize: %v", err)
	}
	if res.Status != NoOp {
		t.Errorf("expected NoOp on an unchanged descriptor, got %s", res.Status)
	}
}

func TestVerify_DetectsMissingColumn(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)
	d1, _ := record.Describe(reflect.TypeOf(person{}))
	if _, err := Synthesize(ctx, conn.DB, d1, d1.CreateFlags); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	d2, _ := record.Describe(reflect.TypeOf(personV2{}))
	d2.TableName = d1.TableName
	if err := Verify(ctx, conn.DB, d2); err == nil {
		t.Fatal("expected Verify to detect the missing Active column")
	}
}

func TestSynthesize_WithoutRowIDTable(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	d, err := record.NewBuilder[person]("people_wr").
		Column("Id", record.PK).
		Column("Name").
		Column("Email", record.Unique).
		WithoutRowID().
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, err := Synthesize(ctx, conn.DB, d, 0)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Status != Created {
		t.Errorf("expected Created, got %s", res.Status)
	}
}

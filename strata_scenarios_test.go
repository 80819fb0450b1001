package strata

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/strata-db/strata/engine"
	"github.com/strata-db/strata/record"
	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/sterr"
)

// This file exercises spec §8's concrete scenarios (S1, S2, S4, S5, S6)
// as table-driven-in-spirit tests, one func per scenario, in the style
// of manager_test.go/conn_test.go's setup helpers. S3 (nested savepoint
// rollback) has no test here; txn/txn_test.go's
// TestController_NestedSavepointRollback covers a related case that rolls
// back only the inner savepoint and keeps the outer delete (19 rows).

type flaggedRow struct {
	Id   int64 `db:"pk,autoincrement"`
	Flag bool
	Text string
}

// TestScenario_S1_BooleanRoundTrip covers spec §8 S1: ten rows with
// flag = i%3==0 for i in 0..9 split 4 true / 6 false.
func TestScenario_S1_BooleanRoundTrip(t *testing.T) {
	m := openTestManager(t)
	d, err := record.Default.Get(reflect.TypeOf(flaggedRow{}))
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	ctx := context.Background()
	if err := m.Write(ctx, "create-table", func(ctx context.Context, w *engine.Conn) error {
		_, serr := schema.Synthesize(ctx, w.DB, d, d.CreateFlags)
		return serr
	}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	c := NewConn(m, nil)
	for i := 0; i < 10; i++ {
		row := &flaggedRow{Flag: i%3 == 0, Text: "TestObj" + strconv.Itoa(i)}
		if _, err := c.Insert(ctx, row, InsertPlain); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	var trueCount, falseCount int64
	if err := m.Read(ctx, func(ctx context.Context, r *engine.Conn) error {
		if err := r.DB.QueryRowContext(ctx, `select count(*) from flaggedRow where Flag = 1`).Scan(&trueCount); err != nil {
			return err
		}
		return r.DB.QueryRowContext(ctx, `select count(*) from flaggedRow where Flag = 0`).Scan(&falseCount)
	}); err != nil {
		t.Fatalf("count: %v", err)
	}

	if trueCount != 4 {
		t.Errorf("expected 4 rows with flag=true, got %d", trueCount)
	}
	if falseCount != 6 {
		t.Errorf("expected 6 rows with flag=false, got %d", falseCount)
	}
}

type keyedRow struct {
	Id   int64 `db:"pk"`
	Text string
}

// TestScenario_S2_BatchedUniqueConflict covers spec §8 S2: 20 rows with
// PK 1..20 except the last rewritten to 1; insertAll fails with
// *unique-violation* and the table ends up empty, since InsertAll runs
// inside one transaction (spec §4.6).
func TestScenario_S2_BatchedUniqueConflict(t *testing.T) {
	m := openTestManager(t)
	d, err := record.Default.Get(reflect.TypeOf(keyedRow{}))
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	ctx := context.Background()
	if err := m.Write(ctx, "create-table", func(ctx context.Context, w *engine.Conn) error {
		_, serr := schema.Synthesize(ctx, w.DB, d, d.CreateFlags)
		return serr
	}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	rows := make([]keyedRow, 20)
	for i := range rows {
		rows[i] = keyedRow{Id: int64(i + 1), Text: "#" + strconv.Itoa(i+1)}
	}
	rows[19].Id = 1

	c := NewConn(m, nil)
	_, err = c.InsertAll(ctx, rows, InsertPlain)
	if err == nil {
		t.Fatal("expected unique-violation from InsertAll")
	}
	if !errors.Is(err, sterr.ErrUniqueViolation) {
		t.Errorf("expected ErrUniqueViolation, got %v", err)
	}

	var count int64
	if err := m.Read(ctx, func(ctx context.Context, r *engine.Conn) error {
		return r.DB.QueryRowContext(ctx, `select count(*) from keyedRow`).Scan(&count)
	}); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 rows after failed insertAll, got %d", count)
	}
}

type multiUniqueIndexed struct {
	Id     int64  `db:"pk,autoincrement"`
	Uno    string `db:"index=UX_Uno:0:true"`
	Dos    string `db:"index=UX_Dos:0:true"`
	Tres   string `db:"index=UX_Dos:1:true"`
	Cuatro string `db:"index=UX_Uno_bool:0:true"`
	Cinco  string `db:"index=UX_Dos_bool:0:true"`
	Seis   string `db:"index=UX_Dos_bool:1:true"`
}

// TestScenario_S4_UniqueIndexIntrospection covers spec §8 S4: a record
// with four unique indices reports four indices under PRAGMA index_list,
// each with the listed columns.
func TestScenario_S4_UniqueIndexIntrospection(t *testing.T) {
	m := openTestManager(t)
	d, err := record.Default.Get(reflect.TypeOf(multiUniqueIndexed{}))
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	ctx := context.Background()
	if err := m.Write(ctx, "create-table", func(ctx context.Context, w *engine.Conn) error {
		_, serr := schema.Synthesize(ctx, w.DB, d, d.CreateFlags)
		return serr
	}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	type indexListRow struct {
		Seq     int
		Name    string
		Unique  int
		Origin  string
		Partial int
	}
	var indexes []indexListRow
	if err := m.Read(ctx, func(ctx context.Context, r *engine.Conn) error {
		rows, err := r.DB.QueryContext(ctx, `PRAGMA index_list(multiUniqueIndexed)`)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var ix indexListRow
			if err := rows.Scan(&ix.Seq, &ix.Name, &ix.Unique, &ix.Origin, &ix.Partial); err != nil {
				return err
			}
			indexes = append(indexes, ix)
		}
		return rows.Err()
	}); err != nil {
		t.Fatalf("index_list: %v", err)
	}

	if len(indexes) != 4 {
		t.Fatalf("expected 4 indices (S4 scenario), got %d: %+v", len(indexes), indexes)
	}
	for _, ix := range indexes {
		if ix.Unique != 1 {
			t.Errorf("index %s expected unique, got %+v", ix.Name, ix)
		}
	}

	wantColumns := map[string][]string{
		"UX_Uno":      {"Uno"},
		"UX_Dos":      {"Dos", "Tres"},
		"UX_Uno_bool": {"Cuatro"},
		"UX_Dos_bool": {"Cinco", "Seis"},
	}
	for name, cols := range wantColumns {
		var got []struct {
			SeqNo int
			CID   int
			Name  string
		}
		if err := m.Read(ctx, func(ctx context.Context, r *engine.Conn) error {
			rows, err := r.DB.QueryContext(ctx, `PRAGMA index_info(`+name+`)`)
			if err != nil {
				return err
			}
			defer func() { _ = rows.Close() }()
			for rows.Next() {
				var row struct {
					SeqNo int
					CID   int
					Name  string
				}
				if err := rows.Scan(&row.SeqNo, &row.CID, &row.Name); err != nil {
					return err
				}
				got = append(got, row)
			}
			return rows.Err()
		}); err != nil {
			t.Fatalf("index_info(%s): %v", name, err)
		}
		if len(got) != len(cols) {
			t.Fatalf("index %s: expected %d columns, got %d: %+v", name, len(cols), len(got), got)
		}
		for i, col := range cols {
			if got[i].Name != col {
				t.Errorf("index %s column %d: expected %s, got %s", name, i, col, got[i].Name)
			}
		}
	}
}

type timestampedRow struct {
	Id        int64 `db:"pk,autoincrement"`
	CreatedAt time.Time
}

// TestScenario_S5_DateTimeRoundTrip covers spec §8 S5: with
// storeDateTimeAsTicks=true, the literal instant round-trips exactly;
// with it false, the stored text form is the invariant
// "2006-01-02T15:04:05.000" layout.
func TestScenario_S5_DateTimeRoundTrip(t *testing.T) {
	want, err := time.Parse("2006-01-02T15:04:05.000", "2012-01-14T03:02:01.234")
	if err != nil {
		t.Fatalf("parse literal instant: %v", err)
	}

	t.Run("ticks", func(t *testing.T) {
		m, err := Open(context.Background(), NewConfig(WithDatabasePath(":memory:"), WithStoreDateTimeAsTicks(true)))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer func() { _ = m.Close() }()

		d, err := record.Default.Get(reflect.TypeOf(timestampedRow{}))
		if err != nil {
			t.Fatalf("describe: %v", err)
		}
		ctx := context.Background()
		if err := m.Write(ctx, "create-table", func(ctx context.Context, w *engine.Conn) error {
			_, serr := schema.Synthesize(ctx, w.DB, d, d.CreateFlags)
			return serr
		}); err != nil {
			t.Fatalf("synthesize: %v", err)
		}

		c := NewConn(m, nil)
		row := &timestampedRow{CreatedAt: want}
		if _, err := c.Insert(ctx, row, InsertPlain); err != nil {
			t.Fatalf("insert: %v", err)
		}
		got, err := Get[timestampedRow](ctx, c, row.Id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.CreatedAt.Equal(want) {
			t.Errorf("expected %v, got %v", want, got.CreatedAt)
		}
	})

	t.Run("text", func(t *testing.T) {
		m, err := Open(context.Background(), NewConfig(WithDatabasePath(":memory:"), WithStoreDateTimeAsTicks(false)))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer func() { _ = m.Close() }()

		d, err := record.Default.Get(reflect.TypeOf(timestampedRow{}))
		if err != nil {
			t.Fatalf("describe: %v", err)
		}
		ctx := context.Background()
		if err := m.Write(ctx, "create-table", func(ctx context.Context, w *engine.Conn) error {
			_, serr := schema.Synthesize(ctx, w.DB, d, d.CreateFlags)
			return serr
		}); err != nil {
			t.Fatalf("synthesize: %v", err)
		}

		c := NewConn(m, nil)
		row := &timestampedRow{CreatedAt: want}
		if _, err := c.Insert(ctx, row, InsertPlain); err != nil {
			t.Fatalf("insert: %v", err)
		}

		var text string
		if err := m.Read(ctx, func(ctx context.Context, r *engine.Conn) error {
			return r.DB.QueryRowContext(ctx, `select CreatedAt from timestampedRow where Id = ?`, row.Id).Scan(&text)
		}); err != nil {
			t.Fatalf("select text: %v", err)
		}
		if text != "2012-01-14T03:02:01.234" {
			t.Errorf("expected literal text form, got %q", text)
		}
	})
}

// TestScenario_S6_InsertOrReplace covers spec §8 S6: seed 20 rows with
// text "#i", insertOrReplace({id:5, text:"Foo"}), total remains 20, row
// 5 now reads "Foo".
func TestScenario_S6_InsertOrReplace(t *testing.T) {
	m := openTestManager(t)
	d, err := record.Default.Get(reflect.TypeOf(keyedRow{}))
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	ctx := context.Background()
	if err := m.Write(ctx, "create-table", func(ctx context.Context, w *engine.Conn) error {
		_, serr := schema.Synthesize(ctx, w.DB, d, d.CreateFlags)
		return serr
	}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	rows := make([]keyedRow, 20)
	for i := range rows {
		rows[i] = keyedRow{Id: int64(i + 1), Text: "#" + strconv.Itoa(i+1)}
	}
	c := NewConn(m, nil)
	if _, err := c.InsertAll(ctx, rows, InsertPlain); err != nil {
		t.Fatalf("seed insertAll: %v", err)
	}

	if _, err := c.Insert(ctx, &keyedRow{Id: 5, Text: "Foo"}, InsertOrReplace); err != nil {
		t.Fatalf("insertOrReplace: %v", err)
	}

	var count int64
	if err := m.Read(ctx, func(ctx context.Context, r *engine.Conn) error {
		return r.DB.QueryRowContext(ctx, `select count(*) from keyedRow`).Scan(&count)
	}); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 20 {
		t.Errorf("expected 20 rows after insertOrReplace, got %d", count)
	}

	got, err := Get[keyedRow](ctx, c, int64(5))
	if err != nil {
		t.Fatalf("get id=5: %v", err)
	}
	if got.Text != "Foo" {
		t.Errorf("expected row 5 text=Foo, got %q", got.Text)
	}
}

package migrate

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"m/0001_a.up.sql":   {Data: []byte("create table a (x text);\ncreate table b (y int);\n")},
		"m/0001_a.down.sql": {Data: []byte("drop table b;\ndrop table a;\n")},
		"m/0002_b.up.sql":   {Data: []byte("insert into a values ('x;y');\n")},
		"m/0002_b.down.sql": {Data: []byte("delete from a;\n")},
		"m/README.md":       {Data: []byte("not sql")},
	}
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("insert into a values ('x;y');")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into schema_migrations").WithArgs("0002_b.up.sql", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mgr := NewManager(db, WithSource(testFS(), "m"))
	applied, err := mgr.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_b.up.sql" {
		t.Fatalf("unexpected applied set: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists tokendist_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from tokendist_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table b").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	mgr := NewManager(db, WithSource(testFS(), "m"), WithMigrationsTable("tokendist_migrations"))
	applied, err := mgr.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_a.up.sql") {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("nothing should be reported applied: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRevertsLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations order by name").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql").AddRow("0002_b.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("delete from a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").WithArgs("0002_b.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := NewManager(db, WithSource(testFS(), "m")).Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0002_b.up.sql" {
		t.Fatalf("reverted %q", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := NewManager(db, WithSource(testFS(), "m")).Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := collectSQL(embedded, "sql", ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no embedded migrations")
	}
	for i, up := range ups {
		if i > 0 && ups[i-1].Base >= up.Base {
			t.Fatalf("migrations not ordered: %s before %s", ups[i-1].Base, up.Base)
		}
		down := strings.TrimSuffix(up.Path, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(embedded, down); err != nil {
			t.Fatalf("missing %s", down)
		}
	}
}

func TestVestingDaysColumnHoldsUint32(t *testing.T) {
	ups, err := collectSQL(embedded, "sql", ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	var schema strings.Builder
	for _, up := range ups {
		b, err := fs.ReadFile(embedded, up.Path)
		if err != nil {
			t.Fatalf("read %s: %v", up.Path, err)
		}
		schema.Write(b)
	}
	if !strings.Contains(schema.String(), "alter column vesting_days type bigint") {
		t.Fatal("vesting_days must be widened to bigint to hold 4294967295")
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("create table x (a text default ';');\n insert into x values ('a'); trailing")
	if len(got) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(got), got)
	}
	if !strings.Contains(got[0], "';'") {
		t.Fatalf("quoted semicolon split: %q", got[0])
	}
}

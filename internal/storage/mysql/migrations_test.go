package mysql

import (
	"context"
	"database/sql/driver"
	"testing"
	"testing/fstest"

	"BlueCarbon-Chain/internal/storage/mysql/mysqltest"
)

func TestMigrateFSAppliesPendingVersionsInOrder(t *testing.T) {
	files := fstest.MapFS{
		"0002_index.sql":  {Data: []byte("CREATE INDEX idx_a ON t (a);")},
		"0001_create.sql": {Data: []byte("-- first\nCREATE TABLE t (a INT);\nCREATE TABLE u (b INT);")},
		"README.md":       {Data: []byte("ignored")},
	}

	db, drv := mysqltest.New(t,
		mysqltest.Exec(createMigrationsTableSQL, mysqltest.Result{}),
		mysqltest.Query(`SELECT version FROM schema_migrations`, mysqltest.Rows{
			Columns: []string{"version"},
			Values:  [][]driver.Value{{"0001"}},
		}),
		mysqltest.Begin(),
		mysqltest.Exec(`CREATE INDEX idx_a ON t (a)`, mysqltest.Result{}),
		mysqltest.Exec(recordMigrationSQL, mysqltest.Result{RowsAffected: 1}),
		mysqltest.Commit(),
	)

	if err := MigrateFS(context.Background(), db, files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	drv.AssertConsumed(t)
}

func TestSplitStatementsDropsCommentsAndBlanks(t *testing.T) {
	got := SplitStatements("-- header\nCREATE TABLE a (x INT);\n\n ;\nCREATE TABLE b (y INT);\n")
	if len(got) != 2 || got[0] != "CREATE TABLE a (x INT)" || got[1] != "CREATE TABLE b (y INT)" {
		t.Fatalf("unexpected statements: %q", got)
	}
}

func TestEmbeddedLedgerMigrationParses(t *testing.T) {
	list, err := loadMigrationFiles(embeddedFiles())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(list) == 0 || list[0].version != "0001" || len(list[0].statements) != 1 {
		t.Fatalf("unexpected migrations: %+v", list)
	}
}

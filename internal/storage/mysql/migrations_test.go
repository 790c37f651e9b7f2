package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swappilot/deploy/migrations"
	"swappilot/internal/storage/mysql/mysqltest"
)

const recordVersion = `INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`

var testFS = fstest.MapFS{
	"0001_init.sql":  {Data: []byte("-- jobs table\nCREATE TABLE a (id INT);\n")},
	"0002_index.sql": {Data: []byte("CREATE INDEX idx_a ON a (id);\nALTER TABLE a ADD COLUMN b INT;")},
	"0003_empty.sql": {Data: []byte("-- nothing yet\n")},
	"README.md":      {Data: []byte("not a migration")},
}

func TestMigrateAppliesPendingFiles(t *testing.T) {
	t.Parallel()

	db, drv := mysqltest.Open(t,
		mysqltest.Exec(schemaTableDDL, 0),
		mysqltest.Query(`SELECT version FROM schema_migrations`, []string{"version"}, []driver.Value{"0001"}),
		mysqltest.Begin(),
		mysqltest.Exec(`CREATE INDEX idx_a ON a (id)`, 0),
		mysqltest.Exec(`ALTER TABLE a ADD COLUMN b INT`, 0),
		mysqltest.Exec(recordVersion, 1),
		mysqltest.Commit(),
	)

	require.NoError(t, MigrateFS(context.Background(), db, testFS))
	drv.AssertConsumed(t)

	calls := drv.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "0002", last.Args[0])
	assert.Equal(t, "0002_index.sql", last.Args[1])
}

func TestMigrateRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	db, drv := mysqltest.Open(t,
		mysqltest.Exec(schemaTableDDL, 0),
		mysqltest.Query(`SELECT version FROM schema_migrations`, []string{"version"}),
		mysqltest.Begin(),
		mysqltest.ExecErr(`CREATE TABLE a (id INT)`, errors.New("syntax error")),
		mysqltest.Rollback(),
	)

	err := MigrateFS(context.Background(), db, testFS)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_init.sql")
	drv.AssertConsumed(t)
}

func TestLoadMigrations(t *testing.T) {
	got, err := LoadMigrations(testFS)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"CREATE TABLE a (id INT)"}, got[0].Statements)
	assert.Equal(t, "0002", got[1].Version)

	_, err = LoadMigrations(fstest.MapFS{
		"0001_a.sql": {Data: []byte("SELECT 1;")},
		"0001_b.sql": {Data: []byte("SELECT 2;")},
	})
	assert.Error(t, err)
}

func TestEmbeddedMigrationsCreateSwapJobs(t *testing.T) {
	got, err := LoadMigrations(migrations.Files)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "0001", got[0].Version)
	assert.Contains(t, got[0].Statements[0], "CREATE TABLE IF NOT EXISTS swap_jobs")
}

func TestOpenRejectsBadDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
	_, err = Open(context.Background(), Config{DSN: "not a dsn"})
	assert.Error(t, err)
}

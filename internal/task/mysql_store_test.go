package task

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swappilot/internal/storage/mysql/mysqltest"
	"swappilot/internal/swap"
)

const selectJob = `SELECT ` + jobColumns + ` FROM swap_jobs WHERE id = ?`

var jobColumnNames = []string{"id", "wallet", "chain_id", "request_text", "status", "attempts", "max_attempts", "last_error", "error_code", "response", "created_at", "updated_at"}

func jobRow(id, status string, attempts int64, response any) []driver.Value {
	return []driver.Value{id, walletA, "1", "swap 1 eth", status, attempts, int64(3), "", "", response, int64(100), int64(200)}
}

func fixedStore(t *testing.T, ops ...mysqltest.Op) (*MySQLStore, *mysqltest.Driver) {
	t.Helper()
	db, drv := mysqltest.Open(t, ops...)
	store := NewMySQLStoreWithDB(db)
	store.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return store, drv
}

func TestMySQLStoreCreate(t *testing.T) {
	store, drv := fixedStore(t, mysqltest.Exec(`INSERT INTO swap_jobs
        (id, wallet, chain_id, request_text, status, attempts, max_attempts, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`, 1))

	job := newJob("j1", walletA)
	require.NoError(t, store.Create(context.Background(), job))
	drv.AssertConsumed(t)

	assert.Equal(t, int64(1_700_000_000), job.CreatedAt)
	args := drv.Calls()[0].Args
	assert.Equal(t, []driver.Value{"j1", walletA, "1", "swap 1 eth to usdc", "pending", 0, 2, int64(1_700_000_000), int64(1_700_000_000)}, args)
}

func TestMySQLStoreCreateDuplicate(t *testing.T) {
	store, _ := fixedStore(t, mysqltest.ExecErr("", &gomysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	err := store.Create(context.Background(), newJob("j1", walletA))
	assert.True(t, errors.Is(err, ErrJobConflict))
}

func TestMySQLStoreGetDecodesResponse(t *testing.T) {
	store, drv := fixedStore(t,
		mysqltest.Query(selectJob, jobColumnNames,
			jobRow("j1", "succeeded", 1, `{"outcome":"rejected","rejected":{"reason":"NoRouteFound","explanation":"none"},"metadata":{"request_id":"j1","degraded":false,"final_state":"Composing"}}`)),
	)

	job, err := store.Get(context.Background(), "j1")
	require.NoError(t, err)
	drv.AssertConsumed(t)

	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Equal(t, "j1", job.Request.ID)
	assert.Equal(t, walletA, job.Request.Wallet)
	require.NotNil(t, job.Response)
	assert.Equal(t, swap.ReasonNoRouteFound, job.Response.Reason())
}

func TestMySQLStoreGetNotFound(t *testing.T) {
	store, _ := fixedStore(t, mysqltest.Query(selectJob, jobColumnNames))
	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestMySQLStoreClaim(t *testing.T) {
	const claim = `UPDATE swap_jobs SET status = ?, attempts = attempts + 1, updated_at = ?
        WHERE id = ? AND status = ? AND attempts < max_attempts`

	t.Run("claimed", func(t *testing.T) {
		store, drv := fixedStore(t,
			mysqltest.Exec(claim, 1),
			mysqltest.Query(selectJob, jobColumnNames, jobRow("j1", "running", 1, nil)),
		)
		job, err := store.Claim(context.Background(), "j1")
		require.NoError(t, err)
		drv.AssertConsumed(t)
		assert.Equal(t, StatusRunning, job.Status)
		assert.Nil(t, job.Response)
	})

	cases := map[string]struct {
		status   string
		attempts int64
		want     error
	}{
		"completed": {"succeeded", 1, ErrJobCompleted},
		"failed":    {"failed", 3, ErrJobExhausted},
		"exhausted": {"pending", 3, ErrJobExhausted},
		"running":   {"running", 1, ErrJobConflict},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store, _ := fixedStore(t,
				mysqltest.Exec(claim, 0),
				mysqltest.Query(selectJob, jobColumnNames, jobRow("j1", tc.status, tc.attempts, nil)),
			)
			_, err := store.Claim(context.Background(), "j1")
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestMySQLStoreMarkFailed(t *testing.T) {
	store, drv := fixedStore(t, mysqltest.Exec("", 1), mysqltest.Exec("", 0))
	ctx := context.Background()

	require.NoError(t, store.MarkFailed(ctx, "j1", swap.CodeChainUnavailable, "rpc down", nil, false))
	args := drv.Calls()[0].Args
	assert.Equal(t, "pending", args[0])
	assert.Equal(t, "rpc down", args[1])
	assert.Equal(t, string(swap.CodeChainUnavailable), args[2])

	err := store.MarkFailed(ctx, "missing", swap.CodeChainUnavailable, "rpc down", nil, true)
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.Equal(t, "failed", drv.Calls()[1].Args[0])
}

func TestMySQLStoreList(t *testing.T) {
	store, drv := fixedStore(t,
		mysqltest.Query(`SELECT `+jobColumns+` FROM swap_jobs WHERE status IN (?,?) AND wallet = ? AND updated_at >= ? ORDER BY updated_at DESC, created_at DESC, id DESC LIMIT ? OFFSET ?`,
			jobColumnNames,
			jobRow("j2", "succeeded", 1, nil),
			jobRow("j1", "failed", 3, nil),
		),
	)

	jobs, err := store.List(context.Background(), buildListOptions([]ListOption{
		WithStatuses(StatusSucceeded, StatusFailed),
		WithWallet("0x00000000000000000000000000000000000000AA"),
		WithUpdatedSince(time.Unix(150, 0)),
		WithLimit(5),
	}))
	require.NoError(t, err)
	drv.AssertConsumed(t)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j2", jobs[0].ID)

	args := drv.Calls()[0].Args
	assert.Equal(t, []driver.Value{"succeeded", "failed", walletA, int64(150), 5, 0}, args)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/sdr-gateway/internal/infrastructure/database"
	"github.com/nerrad567/sdr-gateway/migrations"
)

type countingObserver struct {
	ops map[string]int
}

func (o *countingObserver) ObserveDB(op string, _ time.Time) {
	o.ops[op]++
}

func newSQLiteFixture(t *testing.T, obs Observer) (fixture, *database.DB) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	require.NoError(t, db.Migrate(ctx, migrations.Source()))
	_, err = db.ExecContext(ctx, seedSQL)
	require.NoError(t, err)

	return fixture{
		repo: NewSQLiteRepository(db, obs),
		queryInt: func(t *testing.T, query string) int {
			t.Helper()
			var n int
			require.NoError(t, db.QueryRowContext(ctx, query).Scan(&n))
			return n
		},
	}, db
}

func TestSQLiteRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) fixture {
		f, _ := newSQLiteFixture(t, nil)
		return f
	})
}

func TestSQLiteRepository_WriteBatchIsAtomic(t *testing.T) {
	f, db := newSQLiteFixture(t, nil)
	ctx := context.Background()

	// A trigger makes the state change insert fail after the reading upsert.
	_, err := db.ExecContext(ctx, `
		CREATE TRIGGER reject_state BEFORE INSERT ON module_state_changes
		BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	err = f.repo.WriteBatch(ctx, telemetryBatchWithChange())
	require.Error(t, err)
	assert.Zero(t, f.queryInt(t, "SELECT COUNT(*) FROM readings"), "reading upsert rolled back")
}

func TestSQLiteRepository_ObservesOperations(t *testing.T) {
	obs := &countingObserver{ops: map[string]int{}}
	f, _ := newSQLiteFixture(t, obs)
	ctx := context.Background()

	_, err := f.repo.TopicAllocations(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, f.repo.WriteBatch(ctx, telemetryBatchWithChange()))

	assert.Equal(t, 1, obs.ops["topic_allocations"])
	assert.Equal(t, 1, obs.ops["write_batch"])
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?,?,?", placeholders(3))
}

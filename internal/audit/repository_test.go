package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/sdr-gateway/internal/infrastructure/database"
	"github.com/nerrad567/sdr-gateway/migrations"
)

func newRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background(), migrations.Source()))

	repo := NewSQLiteRepository(db)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	repo.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * 100 * time.Millisecond)
	}
	return repo
}

func TestCreate_FillsIDAndTimestamp(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	e := &Entry{
		Action:  ActionDeviceToken,
		UnitID:  "u1",
		UserID:  "user-1",
		Source:  SourceAPI,
		Details: map[string]any{"pub": float64(1)},
	}
	require.NoError(t, repo.Create(ctx, e))
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)

	got := res.Entries[0]
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "u1", got.UnitID)
	assert.Equal(t, map[string]any{"pub": float64(1)}, got.Details)
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt))
}

func TestList_FiltersAndOrder(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	for _, e := range []*Entry{
		{Action: ActionDeviceToken, UnitID: "u1", Source: SourceAPI},
		{Action: ActionUnitSetup, UnitID: "u1", Source: SourceIngress},
		{Action: ActionDeviceToken, UnitID: "u2", Source: SourceAPI},
	} {
		require.NoError(t, repo.Create(ctx, e))
	}

	tests := []struct {
		name       string
		filter     Filter
		wantTotal  int
		wantFirst  string
		wantAction string
	}{
		{name: "all", filter: Filter{}, wantTotal: 3, wantFirst: "u2"},
		{name: "by unit", filter: Filter{UnitID: "u1"}, wantTotal: 2, wantFirst: "u1", wantAction: ActionUnitSetup},
		{name: "by action", filter: Filter{Action: ActionDeviceToken}, wantTotal: 2, wantFirst: "u2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, res.Total)
			require.NotEmpty(t, res.Entries)
			assert.Equal(t, tt.wantFirst, res.Entries[0].UnitID)
			if tt.wantAction != "" {
				assert.Equal(t, tt.wantAction, res.Entries[0].Action)
			}
		})
	}
}

func TestList_Pagination(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	for range 5 {
		require.NoError(t, repo.Create(ctx, &Entry{Action: ActionUnitSetup, UnitID: "u1", Source: SourceIngress}))
	}

	res, err := repo.List(ctx, Filter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Len(t, res.Entries, 1)

	res, err = repo.List(ctx, Filter{Limit: 1000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, res.Limit)
	assert.Equal(t, 0, res.Offset)
	assert.Len(t, res.Entries, 5)
}

func TestList_Empty(t *testing.T) {
	res, err := newRepo(t).List(context.Background(), Filter{UnitID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, res.Entries)
	assert.Empty(t, res.Entries)
	assert.Equal(t, defaultLimit, res.Limit)
}

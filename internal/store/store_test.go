package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/sdr-gateway/internal/auth"
	"github.com/nerrad567/sdr-gateway/internal/telemetry"
)

// seedSQL is valid for both SQLite and Postgres.
const seedSQL = `
INSERT INTO brokers (id, address, port) VALUES ('b1', 'mqtt.example.com', 8883);
INSERT INTO control_units (id, mqtt_password_hash, is_superuser) VALUES
    ('u1', 'hash-u1', FALSE),
    ('u2', NULL, FALSE),
    ('admin', 'hash-admin', TRUE);
INSERT INTO topics (id, topic) VALUES (1, 'ingress/u1'), (2, 'egress/u1'), (3, 'broadcast');
INSERT INTO topic_allocations (unit_id, topic_id, broker_id, ingress, "all") VALUES
    ('u1', 1, 'b1', TRUE, FALSE),
    ('u1', 2, 'b1', FALSE, FALSE),
    ('u1', 3, NULL, FALSE, TRUE);
INSERT INTO modules (id, unit_id) VALUES ('m1', 'u1'), ('m2', 'u1');
INSERT INTO rules (id, priority, expression, command) VALUES
    (10, 2, 'power > 100', 'off'),
    (11, 1, '', 'on');
INSERT INTO rule_allocations (module_id, rule_id) VALUES ('m1', 10), ('m1', 11);
`

type fixture struct {
	repo     Repository
	queryInt func(t *testing.T, query string) int
}

func reading(module string, start, end int64, samples int, changes ...telemetry.StateChange) telemetry.Reading {
	return telemetry.Reading{
		ModuleID:      module,
		SampleCount:   samples,
		MeanVoltage:   230.1,
		MeanFrequency: 50,
		ApparentPower: telemetry.Stats{Mean: 100, Max: 150, IQR: 20, Kurtosis: 1.5},
		PowerFactor:   telemetry.Stats{Mean: 0.9, Max: 1, IQR: 0.05, Kurtosis: 0.1},
		KWhUsage:      0.25,
		PeriodStart:   time.Unix(start, 0).UTC(),
		PeriodEnd:     time.Unix(end, 0).UTC(),
		StateChanges:  changes,
	}
}

func change(module string, state bool, ts int64) telemetry.StateChange {
	return telemetry.StateChange{ModuleID: module, State: state, Timestamp: time.Unix(ts, 0).UTC()}
}

func telemetryBatchWithChange() telemetry.Batch {
	return telemetry.Batch{Readings: []telemetry.Reading{
		reading("m1", 1000, 1300, 5, change("m1", true, 1100)),
	}}
}

// runRepositoryContract exercises behaviour both implementations share.
func runRepositoryContract(t *testing.T, newFixture func(t *testing.T) fixture) {
	t.Run("topic allocations", func(t *testing.T) {
		f := newFixture(t)
		allocs, err := f.repo.TopicAllocations(context.Background(), "u1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []auth.TopicAllocation{
			{Topic: "ingress/u1", Ingress: true},
			{Topic: "egress/u1"},
			{Topic: "broadcast", All: true},
		}, allocs)

		none, err := f.repo.TopicAllocations(context.Background(), "u2")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("unit connection", func(t *testing.T) {
		f := newFixture(t)
		conn, err := f.repo.UnitConnection(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, UnitConnection{
			UnitID:        "u1",
			IngressTopic:  "ingress/u1",
			EgressTopic:   "egress/u1",
			BrokerAddress: "mqtt.example.com",
			BrokerPort:    8883,
		}, conn)

		_, err = f.repo.UnitConnection(context.Background(), "u2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unit credentials", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		c, err := f.repo.UnitCredentials(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, "hash-admin", c.PasswordHash)
		assert.True(t, c.IsSuperuser)

		_, err = f.repo.UnitCredentials(ctx, "u2")
		assert.ErrorIs(t, err, ErrNotFound, "unit without a password")

		_, err = f.repo.UnitCredentials(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("assign unit", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		require.NoError(t, f.repo.AssignUnit(ctx, "u1", "user-7"))
		assert.Equal(t, 1, f.queryInt(t, "SELECT COUNT(*) FROM control_units WHERE id = 'u1' AND user_id = 'user-7'"))

		assert.ErrorIs(t, f.repo.AssignUnit(ctx, "missing", "user-7"), ErrNotFound)
	})

	t.Run("register modules", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		require.NoError(t, f.repo.RegisterModules(ctx, "u3", "user-9", []string{"m2", "m3"}))

		mods, err := f.repo.ModulesByUnit(ctx, "u3")
		require.NoError(t, err)
		assert.Equal(t, []string{"m2", "m3"}, mods, "m2 moves to the new unit")

		mods, err = f.repo.ModulesByUnit(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"m1"}, mods)

		// Repeat is harmless.
		require.NoError(t, f.repo.RegisterModules(ctx, "u3", "user-9", []string{"m3"}))
	})

	t.Run("rules", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		allocs, err := f.repo.RuleAllocations(ctx, []string{"m1", "m2"})
		require.NoError(t, err)
		assert.Equal(t, []RuleAllocation{{ModuleID: "m1", RuleID: 10}, {ModuleID: "m1", RuleID: 11}}, allocs)

		rules, err := f.repo.RulesByID(ctx, []int64{10, 11})
		require.NoError(t, err)
		require.Len(t, rules, 2)
		assert.Equal(t, int64(11), rules[0].ID, "ordered by priority")
		assert.Equal(t, "power > 100", rules[1].Expression)
		assert.Equal(t, "off", rules[1].Command)

		empty, err := f.repo.RuleAllocations(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("write batch upserts", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		first := telemetry.Batch{Readings: []telemetry.Reading{
			reading("m1", 1000, 1300, 5, change("m1", true, 1100)),
			reading("m2", 1000, 1300, 4),
		}}
		require.NoError(t, f.repo.WriteBatch(ctx, first))

		// Re-delivery with a corrected sample count and a repeated state change.
		second := telemetry.Batch{Readings: []telemetry.Reading{
			reading("m1", 1000, 1300, 7, change("m1", true, 1100), change("m1", false, 1200)),
		}}
		require.NoError(t, f.repo.WriteBatch(ctx, second))

		assert.Equal(t, 2, f.queryInt(t, "SELECT COUNT(*) FROM readings"))
		assert.Equal(t, 7, f.queryInt(t, "SELECT sample_count FROM readings WHERE module_id = 'm1'"))
		assert.Equal(t, 2, f.queryInt(t, "SELECT COUNT(*) FROM module_state_changes"))
	})

	t.Run("write batch with duplicates in one batch", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		b := telemetry.Batch{Readings: []telemetry.Reading{
			reading("m1", 1000, 1300, 5, change("m1", true, 1100)),
			reading("m1", 1000, 1300, 6, change("m1", true, 1100)),
		}}
		require.NoError(t, f.repo.WriteBatch(ctx, b))
		assert.Equal(t, 1, f.queryInt(t, "SELECT COUNT(*) FROM readings"))
		assert.Equal(t, 6, f.queryInt(t, "SELECT sample_count FROM readings"))
		assert.Equal(t, 1, f.queryInt(t, "SELECT COUNT(*) FROM module_state_changes"))
	})

	t.Run("write empty batch", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.repo.WriteBatch(context.Background(), telemetry.Batch{}))
	})

	t.Run("health check", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.repo.HealthCheck(context.Background()))
	})
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/sdr-gateway/internal/auth"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/database"
	"github.com/nerrad567/sdr-gateway/internal/protocol"
	"github.com/nerrad567/sdr-gateway/internal/telemetry"
)

const sqliteUpsertReading = `
	INSERT INTO readings (
		module_id, period_start_time, period_end_time, sample_count,
		mean_voltage, mean_frequency,
		mean_apparent_power, max_apparent_power, iqr_apparent_power, kurtosis_apparent_power,
		mean_power_factor, max_power_factor, iqr_power_factor, kurtosis_power_factor,
		kwh_usage
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (module_id, period_start_time, period_end_time) DO UPDATE SET
		sample_count = excluded.sample_count,
		mean_voltage = excluded.mean_voltage,
		mean_frequency = excluded.mean_frequency,
		mean_apparent_power = excluded.mean_apparent_power,
		max_apparent_power = excluded.max_apparent_power,
		iqr_apparent_power = excluded.iqr_apparent_power,
		kurtosis_apparent_power = excluded.kurtosis_apparent_power,
		mean_power_factor = excluded.mean_power_factor,
		max_power_factor = excluded.max_power_factor,
		iqr_power_factor = excluded.iqr_power_factor,
		kurtosis_power_factor = excluded.kurtosis_power_factor,
		kwh_usage = excluded.kwh_usage`

const sqliteInsertStateChange = `
	INSERT INTO module_state_changes (module_id, timestamp, state) VALUES (?, ?, ?)
	ON CONFLICT (module_id, timestamp, state) DO NOTHING`

// SQLiteRepository implements Repository on the embedded SQLite database.
type SQLiteRepository struct {
	db  *database.DB
	obs Observer
}

// NewSQLiteRepository wraps an open, migrated database.
func NewSQLiteRepository(db *database.DB, obs Observer) *SQLiteRepository {
	if obs == nil {
		obs = noopObserver{}
	}
	return &SQLiteRepository{db: db, obs: obs}
}

func (r *SQLiteRepository) TopicAllocations(ctx context.Context, unitID string) ([]auth.TopicAllocation, error) {
	defer r.obs.ObserveDB("topic_allocations", time.Now())

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.topic, ta.ingress, ta."all"
		FROM topic_allocations ta
		JOIN topics t ON t.id = ta.topic_id
		WHERE ta.unit_id = ?
		ORDER BY t.topic`, unitID)
	if err != nil {
		return nil, fmt.Errorf("querying topic allocations: %w", err)
	}
	defer rows.Close()

	var out []auth.TopicAllocation
	for rows.Next() {
		var a auth.TopicAllocation
		if err := rows.Scan(&a.Topic, &a.Ingress, &a.All); err != nil {
			return nil, fmt.Errorf("scanning topic allocation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating topic allocations: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) UnitConnection(ctx context.Context, unitID string) (UnitConnection, error) {
	defer r.obs.ObserveDB("unit_connection", time.Now())

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.topic, ta.ingress, ta."all", COALESCE(b.address, ''), COALESCE(b.port, 0)
		FROM topic_allocations ta
		JOIN topics t ON t.id = ta.topic_id
		LEFT JOIN brokers b ON b.id = ta.broker_id
		WHERE ta.unit_id = ?
		ORDER BY t.topic`, unitID)
	if err != nil {
		return UnitConnection{}, fmt.Errorf("querying unit connection: %w", err)
	}
	defer rows.Close()

	var rowsSeen []connectionRow
	for rows.Next() {
		var c connectionRow
		if err := rows.Scan(&c.topic, &c.ingress, &c.all, &c.address, &c.port); err != nil {
			return UnitConnection{}, fmt.Errorf("scanning unit connection: %w", err)
		}
		rowsSeen = append(rowsSeen, c)
	}
	if err := rows.Err(); err != nil {
		return UnitConnection{}, fmt.Errorf("iterating unit connection: %w", err)
	}
	return buildConnection(unitID, rowsSeen)
}

func (r *SQLiteRepository) UnitCredentials(ctx context.Context, unitID string) (UnitCredentials, error) {
	defer r.obs.ObserveDB("unit_credentials", time.Now())

	c := UnitCredentials{UnitID: unitID}
	var hash sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT mqtt_password_hash, is_superuser FROM control_units WHERE id = ?", unitID,
	).Scan(&hash, &c.IsSuperuser)
	if errors.Is(err, sql.ErrNoRows) {
		return UnitCredentials{}, ErrNotFound
	}
	if err != nil {
		return UnitCredentials{}, fmt.Errorf("querying unit credentials: %w", err)
	}
	if !hash.Valid || hash.String == "" {
		return UnitCredentials{}, ErrNotFound
	}
	c.PasswordHash = hash.String
	return c, nil
}

func (r *SQLiteRepository) AssignUnit(ctx context.Context, unitID, userID string) error {
	defer r.obs.ObserveDB("assign_unit", time.Now())

	res, err := r.db.ExecContext(ctx, "UPDATE control_units SET user_id = ? WHERE id = ?", userID, unitID)
	if err != nil {
		return fmt.Errorf("assigning unit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assigning unit: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) RegisterModules(ctx context.Context, unitID, userID string, moduleIDs []string) error {
	defer r.obs.ObserveDB("register_modules", time.Now())

	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO control_units (id, user_id) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET user_id = excluded.user_id`, unitID, userID); err != nil {
			return fmt.Errorf("upserting unit: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO modules (id, unit_id) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET unit_id = excluded.unit_id`)
		if err != nil {
			return fmt.Errorf("preparing module insert: %w", err)
		}
		defer stmt.Close()

		for _, id := range moduleIDs {
			if _, err := stmt.ExecContext(ctx, id, unitID); err != nil {
				return fmt.Errorf("registering module %s: %w", id, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) ModulesByUnit(ctx context.Context, unitID string) ([]string, error) {
	defer r.obs.ObserveDB("modules_by_unit", time.Now())

	rows, err := r.db.QueryContext(ctx, "SELECT id FROM modules WHERE unit_id = ? ORDER BY id", unitID)
	if err != nil {
		return nil, fmt.Errorf("querying modules: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning module: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating modules: %w", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) RuleAllocations(ctx context.Context, moduleIDs []string) ([]RuleAllocation, error) {
	if len(moduleIDs) == 0 {
		return nil, nil
	}
	defer r.obs.ObserveDB("rule_allocations", time.Now())

	query := "SELECT module_id, rule_id FROM rule_allocations WHERE module_id IN (" +
		placeholders(len(moduleIDs)) + ") ORDER BY module_id, rule_id"
	args := make([]any, len(moduleIDs))
	for i, id := range moduleIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rule allocations: %w", err)
	}
	defer rows.Close()

	var out []RuleAllocation
	for rows.Next() {
		var a RuleAllocation
		if err := rows.Scan(&a.ModuleID, &a.RuleID); err != nil {
			return nil, fmt.Errorf("scanning rule allocation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rule allocations: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) RulesByID(ctx context.Context, ids []int64) ([]protocol.DeviceRule, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	defer r.obs.ObserveDB("rules_by_id", time.Now())

	query := "SELECT id, priority, expression, command FROM rules WHERE id IN (" +
		placeholders(len(ids)) + ") ORDER BY priority, id"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var out []protocol.DeviceRule
	for rows.Next() {
		var rule protocol.DeviceRule
		if err := rows.Scan(&rule.ID, &rule.Priority, &rule.Expression, &rule.Command); err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return out, nil
}

// WriteBatch implements batch.Sink.
func (r *SQLiteRepository) WriteBatch(ctx context.Context, b telemetry.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	defer r.obs.ObserveDB("write_batch", time.Now())

	readings, changes := rowsForWrite(b)
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		upsert, err := tx.PrepareContext(ctx, sqliteUpsertReading)
		if err != nil {
			return fmt.Errorf("preparing reading upsert: %w", err)
		}
		defer upsert.Close()

		for _, rd := range readings {
			if _, err := upsert.ExecContext(ctx,
				rd.ModuleID, rd.PeriodStart.Unix(), rd.PeriodEnd.Unix(), rd.SampleCount,
				rd.MeanVoltage, rd.MeanFrequency,
				rd.ApparentPower.Mean, rd.ApparentPower.Max, rd.ApparentPower.IQR, rd.ApparentPower.Kurtosis,
				rd.PowerFactor.Mean, rd.PowerFactor.Max, rd.PowerFactor.IQR, rd.PowerFactor.Kurtosis,
				rd.KWhUsage,
			); err != nil {
				return fmt.Errorf("upserting reading for %s: %w", rd.ModuleID, err)
			}
		}

		if len(changes) == 0 {
			return nil
		}
		insert, err := tx.PrepareContext(ctx, sqliteInsertStateChange)
		if err != nil {
			return fmt.Errorf("preparing state change insert: %w", err)
		}
		defer insert.Close()

		for _, sc := range changes {
			if _, err := insert.ExecContext(ctx, sc.ModuleID, sc.Timestamp.Unix(), boolToInt(sc.State)); err != nil {
				return fmt.Errorf("inserting state change for %s: %w", sc.ModuleID, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) HealthCheck(ctx context.Context) error {
	defer r.obs.ObserveDB("health_check", time.Now())
	return r.db.HealthCheck(ctx)
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type connectionRow struct {
	topic   string
	ingress bool
	all     bool
	address string
	port    int
}

// buildConnection picks the unit's ingress and egress topics and the first
// broker endpoint found among its allocations.
func buildConnection(unitID string, rows []connectionRow) (UnitConnection, error) {
	if len(rows) == 0 {
		return UnitConnection{}, ErrNotFound
	}
	c := UnitConnection{UnitID: unitID}
	for _, row := range rows {
		switch {
		case row.all:
		case row.ingress && c.IngressTopic == "":
			c.IngressTopic = row.topic
		case !row.ingress && c.EgressTopic == "":
			c.EgressTopic = row.topic
		}
		if c.BrokerAddress == "" && row.address != "" {
			c.BrokerAddress = row.address
			c.BrokerPort = row.port
		}
	}
	return c, nil
}

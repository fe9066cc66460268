package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nerrad567/sdr-gateway/internal/auth"
	"github.com/nerrad567/sdr-gateway/internal/protocol"
	"github.com/nerrad567/sdr-gateway/internal/telemetry"
)

const pgUpsertReading = `
	INSERT INTO readings (
		module_id, period_start_time, period_end_time, sample_count,
		mean_voltage, mean_frequency,
		mean_apparent_power, max_apparent_power, iqr_apparent_power, kurtosis_apparent_power,
		mean_power_factor, max_power_factor, iqr_power_factor, kurtosis_power_factor,
		kwh_usage
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (module_id, period_start_time, period_end_time) DO UPDATE SET
		sample_count = EXCLUDED.sample_count,
		mean_voltage = EXCLUDED.mean_voltage,
		mean_frequency = EXCLUDED.mean_frequency,
		mean_apparent_power = EXCLUDED.mean_apparent_power,
		max_apparent_power = EXCLUDED.max_apparent_power,
		iqr_apparent_power = EXCLUDED.iqr_apparent_power,
		kurtosis_apparent_power = EXCLUDED.kurtosis_apparent_power,
		mean_power_factor = EXCLUDED.mean_power_factor,
		max_power_factor = EXCLUDED.max_power_factor,
		iqr_power_factor = EXCLUDED.iqr_power_factor,
		kurtosis_power_factor = EXCLUDED.kurtosis_power_factor,
		kwh_usage = EXCLUDED.kwh_usage`

const pgInsertStateChange = `
	INSERT INTO module_state_changes (module_id, timestamp, state) VALUES ($1, $2, $3)
	ON CONFLICT (module_id, timestamp, state) DO NOTHING`

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// PoolLogger receives periodic pool statistics.
type PoolLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// PostgresRepository implements Repository on the shared Postgres store.
// The schema is owned by the web application.
type PostgresRepository struct {
	pool *pgxpool.Pool
	obs  Observer
}

// NewPostgresRepository creates the pool and verifies connectivity.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig, obs Observer) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if obs == nil {
		obs = noopObserver{}
	}
	return &PostgresRepository{pool: pool, obs: obs}, nil
}

// MonitorPool logs pool statistics every interval until ctx is done.
func (r *PostgresRepository) MonitorPool(ctx context.Context, interval time.Duration, logger PoolLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("postgres pool monitor stopped")
			return
		case <-ticker.C:
			stats := r.pool.Stat()
			logger.Debug("postgres pool stats",
				"acquired", stats.AcquiredConns(),
				"idle", stats.IdleConns(),
				"max", stats.MaxConns(),
			)
		}
	}
}

func (r *PostgresRepository) TopicAllocations(ctx context.Context, unitID string) ([]auth.TopicAllocation, error) {
	defer r.obs.ObserveDB("topic_allocations", time.Now())

	rows, err := r.pool.Query(ctx, `
		SELECT t.topic, ta.ingress, ta."all"
		FROM topic_allocations ta
		JOIN topics t ON t.id = ta.topic_id
		WHERE ta.unit_id = $1
		ORDER BY t.topic`, unitID)
	if err != nil {
		return nil, fmt.Errorf("querying topic allocations: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (auth.TopicAllocation, error) {
		var a auth.TopicAllocation
		err := row.Scan(&a.Topic, &a.Ingress, &a.All)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning topic allocations: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) UnitConnection(ctx context.Context, unitID string) (UnitConnection, error) {
	defer r.obs.ObserveDB("unit_connection", time.Now())

	rows, err := r.pool.Query(ctx, `
		SELECT t.topic, ta.ingress, ta."all", COALESCE(b.address, ''), COALESCE(b.port, 0)
		FROM topic_allocations ta
		JOIN topics t ON t.id = ta.topic_id
		LEFT JOIN brokers b ON b.id = ta.broker_id
		WHERE ta.unit_id = $1
		ORDER BY t.topic`, unitID)
	if err != nil {
		return UnitConnection{}, fmt.Errorf("querying unit connection: %w", err)
	}

	conn, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (connectionRow, error) {
		var c connectionRow
		err := row.Scan(&c.topic, &c.ingress, &c.all, &c.address, &c.port)
		return c, err
	})
	if err != nil {
		return UnitConnection{}, fmt.Errorf("scanning unit connection: %w", err)
	}
	return buildConnection(unitID, conn)
}

func (r *PostgresRepository) UnitCredentials(ctx context.Context, unitID string) (UnitCredentials, error) {
	defer r.obs.ObserveDB("unit_credentials", time.Now())

	c := UnitCredentials{UnitID: unitID}
	var hash *string
	err := r.pool.QueryRow(ctx,
		"SELECT mqtt_password_hash, is_superuser FROM control_units WHERE id = $1", unitID,
	).Scan(&hash, &c.IsSuperuser)
	if errors.Is(err, pgx.ErrNoRows) {
		return UnitCredentials{}, ErrNotFound
	}
	if err != nil {
		return UnitCredentials{}, fmt.Errorf("querying unit credentials: %w", err)
	}
	if hash == nil || *hash == "" {
		return UnitCredentials{}, ErrNotFound
	}
	c.PasswordHash = *hash
	return c, nil
}

func (r *PostgresRepository) AssignUnit(ctx context.Context, unitID, userID string) error {
	defer r.obs.ObserveDB("assign_unit", time.Now())

	tag, err := r.pool.Exec(ctx, "UPDATE control_units SET user_id = $1 WHERE id = $2", userID, unitID)
	if err != nil {
		return fmt.Errorf("assigning unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) RegisterModules(ctx context.Context, unitID, userID string, moduleIDs []string) error {
	defer r.obs.ObserveDB("register_modules", time.Now())

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO control_units (id, user_id) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id`, unitID, userID); err != nil {
			return fmt.Errorf("upserting unit: %w", err)
		}

		batch := &pgx.Batch{}
		for _, id := range moduleIDs {
			batch.Queue(`
				INSERT INTO modules (id, unit_id) VALUES ($1, $2)
				ON CONFLICT (id) DO UPDATE SET unit_id = EXCLUDED.unit_id`, id, unitID)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("registering modules: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) ModulesByUnit(ctx context.Context, unitID string) ([]string, error) {
	defer r.obs.ObserveDB("modules_by_unit", time.Now())

	rows, err := r.pool.Query(ctx, "SELECT id FROM modules WHERE unit_id = $1 ORDER BY id", unitID)
	if err != nil {
		return nil, fmt.Errorf("querying modules: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning modules: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepository) RuleAllocations(ctx context.Context, moduleIDs []string) ([]RuleAllocation, error) {
	if len(moduleIDs) == 0 {
		return nil, nil
	}
	defer r.obs.ObserveDB("rule_allocations", time.Now())

	rows, err := r.pool.Query(ctx, `
		SELECT module_id, rule_id FROM rule_allocations
		WHERE module_id = ANY($1)
		ORDER BY module_id, rule_id`, moduleIDs)
	if err != nil {
		return nil, fmt.Errorf("querying rule allocations: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RuleAllocation, error) {
		var a RuleAllocation
		err := row.Scan(&a.ModuleID, &a.RuleID)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning rule allocations: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) RulesByID(ctx context.Context, ids []int64) ([]protocol.DeviceRule, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	defer r.obs.ObserveDB("rules_by_id", time.Now())

	rows, err := r.pool.Query(ctx, `
		SELECT id, priority, expression, command FROM rules
		WHERE id = ANY($1)
		ORDER BY priority, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (protocol.DeviceRule, error) {
		var rule protocol.DeviceRule
		err := row.Scan(&rule.ID, &rule.Priority, &rule.Expression, &rule.Command)
		return rule, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning rules: %w", err)
	}
	return out, nil
}

// WriteBatch implements batch.Sink. All statements are pipelined in one
// round trip inside a single transaction.
func (r *PostgresRepository) WriteBatch(ctx context.Context, b telemetry.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	defer r.obs.ObserveDB("write_batch", time.Now())

	readings, changes := rowsForWrite(b)

	batch := &pgx.Batch{}
	for _, rd := range readings {
		batch.Queue(pgUpsertReading,
			rd.ModuleID, rd.PeriodStart, rd.PeriodEnd, rd.SampleCount,
			rd.MeanVoltage, rd.MeanFrequency,
			rd.ApparentPower.Mean, rd.ApparentPower.Max, rd.ApparentPower.IQR, rd.ApparentPower.Kurtosis,
			rd.PowerFactor.Mean, rd.PowerFactor.Max, rd.PowerFactor.IQR, rd.PowerFactor.Kurtosis,
			rd.KWhUsage,
		)
	}
	for _, sc := range changes {
		batch.Queue(pgInsertStateChange, sc.ModuleID, sc.Timestamp, sc.State)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("writing batch of %d readings: %w", len(readings), err)
		}
		return nil
	})
}

func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	defer r.obs.ObserveDB("health_check", time.Now())
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *PostgresRepository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

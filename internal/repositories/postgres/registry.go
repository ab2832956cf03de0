package postgres

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// Registry wires the PostgreSQL repositories to a shared pool.
type Registry struct {
	db       *DB
	orders   *OrderRepository
	stock    *StockRepository
	counters *CounterRepository
	settings *AutomationSettingsRepository
}

var _ repositories.Registry = (*Registry)(nil)

func NewRegistry(db *DB, clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		db:       db,
		orders:   NewOrderRepository(db),
		stock:    NewStockRepository(db, clock),
		counters: &CounterRepository{db: db, now: clock},
		settings: &AutomationSettingsRepository{db: db},
	}
}

func (r *Registry) Close(context.Context) error {
	r.db.Close()
	return nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Stock() repositories.StockRepository { return r.stock }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) AutomationSettings() repositories.AutomationSettingsRepository {
	return r.settings
}

func (r *Registry) HealthChecks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{Name: "postgres", Critical: true, Check: r.db.Ping}}
}

// CounterRepository increments rows of the counters table with an upsert.
type CounterRepository struct {
	db  *DB
	now func() time.Time
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	const op = "counters.next"
	if err := repositories.ValidateCounterInput(op, counterID, step); err != nil {
		return 0, err
	}
	sql, args, err := r.db.QueryBuilder.Insert("counters").
		Columns("id", "current_value", "updated_at").
		Values(counterID, step, r.now().UTC()).
		Suffix("ON CONFLICT (id) DO UPDATE SET current_value = counters.current_value + EXCLUDED.current_value, updated_at = EXCLUDED.updated_at").
		Suffix("RETURNING current_value").
		ToSql()
	if err != nil {
		return 0, wrapError(op, err)
	}
	var value int64
	if err := r.db.Pool.QueryRow(ctx, sql, args...).Scan(&value); err != nil {
		return 0, wrapError(op, err)
	}
	return value, nil
}

// AutomationSettingsRepository stores the single settings row with id 1.
type AutomationSettingsRepository struct {
	db *DB
}

func (r *AutomationSettingsRepository) Load(ctx context.Context) (domain.AutomationSettings, error) {
	const op = "automation_settings.load"
	sql, args, err := r.db.QueryBuilder.Select(
		"pending_to_processing_seconds", "processing_to_shipped_seconds", "shipped_to_delivered_seconds",
		"scheduler_interval_seconds", "auto_mode_enabled", "updated_at",
	).From("automation_settings").Where(sq.Eq{"id": 1}).ToSql()
	if err != nil {
		return domain.AutomationSettings{}, wrapError(op, err)
	}

	var (
		settings                    domain.AutomationSettings
		p2p, p2s, s2d, intervalSecs int64
	)
	if err := r.db.Pool.QueryRow(ctx, sql, args...).Scan(&p2p, &p2s, &s2d, &intervalSecs, &settings.AutoModeEnabled, &settings.UpdatedAt); err != nil {
		return domain.AutomationSettings{}, wrapError(op, err)
	}
	settings.PendingToProcessing = time.Duration(p2p) * time.Second
	settings.ProcessingToShipped = time.Duration(p2s) * time.Second
	settings.ShippedToDelivered = time.Duration(s2d) * time.Second
	settings.SchedulerInterval = time.Duration(intervalSecs) * time.Second
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return settings, nil
}

func (r *AutomationSettingsRepository) Save(ctx context.Context, settings domain.AutomationSettings) error {
	const op = "automation_settings.save"
	sql, args, err := r.db.QueryBuilder.Insert("automation_settings").
		Columns("id", "pending_to_processing_seconds", "processing_to_shipped_seconds", "shipped_to_delivered_seconds",
			"scheduler_interval_seconds", "auto_mode_enabled", "updated_at").
		Values(1,
			int64(settings.PendingToProcessing/time.Second),
			int64(settings.ProcessingToShipped/time.Second),
			int64(settings.ShippedToDelivered/time.Second),
			int64(settings.SchedulerInterval/time.Second),
			settings.AutoModeEnabled,
			settings.UpdatedAt.UTC(),
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			pending_to_processing_seconds = EXCLUDED.pending_to_processing_seconds,
			processing_to_shipped_seconds = EXCLUDED.processing_to_shipped_seconds,
			shipped_to_delivered_seconds = EXCLUDED.shipped_to_delivered_seconds,
			scheduler_interval_seconds = EXCLUDED.scheduler_interval_seconds,
			auto_mode_enabled = EXCLUDED.auto_mode_enabled,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return wrapError(op, err)
	}
	if _, err := r.db.Pool.Exec(ctx, sql, args...); err != nil {
		return wrapError(op, err)
	}
	return nil
}

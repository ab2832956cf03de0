package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

const schedulerInstrumentation = "github.com/hanko-field/orderflow/internal/services/scheduler"

// ErrSchedulerStarted is returned when Start is called on a running scheduler.
var ErrSchedulerStarted = errors.New("order scheduler: already started")

// OrderSchedulerDeps bundles collaborators for the automation clock.
type OrderSchedulerDeps struct {
	Orders SweepRunner
	Config AutomationSettingsReader
	Logger *zap.Logger
	Clock  func() time.Time
	Meter  metric.Meter
	Tracer trace.Tracer
	// Sweeps overrides the sweep table; defaults to domain.AutomationSweeps.
	Sweeps []AutomationSweep
}

// OrderScheduler periodically advances due orders. A single worker goroutine waits for the
// configured interval, re-read before every wait, and then runs one tick. Ticks and manual
// triggers share a mutex so two sweeps never run at once.
type OrderScheduler struct {
	orders SweepRunner
	config AutomationSettingsReader
	logger *zap.Logger
	clock  func() time.Time
	tracer trace.Tracer
	sweeps []AutomationSweep
	after  func(time.Duration) <-chan time.Time

	failures        metric.Int64Counter
	failuresEnabled bool
	advanced        metric.Int64Counter
	advancedEnabled bool

	runMu     sync.Mutex
	stateMu   sync.Mutex
	started   bool
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewOrderScheduler validates dependencies and registers the sweep metrics.
func NewOrderScheduler(deps OrderSchedulerDeps) (*OrderScheduler, error) {
	if deps.Orders == nil {
		return nil, errors.New("order scheduler: sweep runner is required")
	}
	if deps.Config == nil {
		return nil, errors.New("order scheduler: automation config is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(schedulerInstrumentation)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(schedulerInstrumentation)
	}
	sweeps := deps.Sweeps
	if len(sweeps) == 0 {
		sweeps = domain.AutomationSweeps
	}

	failures, failuresErr := meter.Int64Counter(
		"orders.automation.sweep_failures",
		metric.WithDescription("Count of automation sweeps that returned an error"),
	)
	if failuresErr != nil {
		logger.Warn("order scheduler: unable to register failure metric", zap.Error(failuresErr))
	}
	advanced, advancedErr := meter.Int64Counter(
		"orders.automation.advanced",
		metric.WithDescription("Count of orders advanced by automation sweeps"),
	)
	if advancedErr != nil {
		logger.Warn("order scheduler: unable to register advanced metric", zap.Error(advancedErr))
	}

	return &OrderScheduler{
		orders: deps.Orders,
		config: deps.Config,
		logger: logger,
		clock: func() time.Time {
			return clock().UTC()
		},
		tracer:          tracer,
		sweeps:          append([]AutomationSweep(nil), sweeps...),
		after:           time.After,
		failures:        failures,
		failuresEnabled: failuresErr == nil,
		advanced:        advanced,
		advancedEnabled: advancedErr == nil,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}, nil
}

// Start launches the worker. The worker exits when ctx is cancelled or Stop is called.
func (s *OrderScheduler) Start(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.started {
		return ErrSchedulerStarted
	}
	s.started = true

	s.logger.Info("order scheduler started", zap.Duration("interval", s.interval()))
	go s.loop(ctx)
	return nil
}

// Stop prevents further ticks and waits for the in-flight sweep, bounded by ctx.
func (s *OrderScheduler) Stop(ctx context.Context) error {
	s.stateMu.Lock()
	started := s.started
	s.stateMu.Unlock()

	s.closeOnce.Do(func() { close(s.stop) })

	drained := make(chan struct{})
	go func() {
		if started {
			<-s.done
		}
		s.runMu.Lock()
		s.runMu.Unlock()
		close(drained)
	}()

	select {
	case <-drained:
		s.logger.Info("order scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("order scheduler: stop: %w", ctx.Err())
	}
}

// RunOnce runs every sweep now, waiting for any tick already in progress.
func (s *OrderScheduler) RunOnce(ctx context.Context) SweepReport {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "orders.automation.tick")
	defer span.End()

	report := SweepReport{StartedAt: s.clock()}
	// Latest step first: an order advanced by this tick must not match a later step's query
	// until the next tick.
	for i := len(s.sweeps) - 1; i >= 0; i-- {
		sweep := s.sweeps[i]
		result, err := s.runSweep(ctx, sweep)
		report.Results = append(report.Results, result)
		if result.Advanced > 0 && s.advancedEnabled {
			s.advanced.Add(ctx, int64(result.Advanced), metric.WithAttributes(attribute.String("sweep", sweep.Name)))
		}
		if err == nil {
			continue
		}
		report.Errors = append(report.Errors, err.Error())
		span.RecordError(err)
		if s.failuresEnabled {
			s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("sweep", sweep.Name)))
		}
		s.logger.Error("order sweep failed",
			zap.String("sweep", sweep.Name),
			zap.Int("advanced", result.Advanced),
			zap.Int("failed", result.Failed),
			zap.Error(err),
		)
	}
	report.FinishedAt = s.clock()

	if len(report.Errors) > 0 {
		span.SetStatus(codes.Error, "sweep failed")
	}
	return report
}

func (s *OrderScheduler) runSweep(ctx context.Context, sweep AutomationSweep) (result SweepResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = SweepResult{Sweep: sweep.Name, From: sweep.From, To: sweep.To}
			err = fmt.Errorf("sweep %s panicked: %v", sweep.Name, recovered)
		}
	}()
	result, err = s.orders.AdvanceDueOrders(ctx, sweep)
	if result.Sweep == "" {
		result.Sweep = sweep.Name
	}
	if err == nil && result.Advanced > 0 {
		s.logger.Info("order sweep advanced orders",
			zap.String("sweep", sweep.Name),
			zap.Int("advanced", result.Advanced),
			zap.Int("skipped", result.Skipped),
			zap.Time("cutoff", result.Cutoff),
		)
	}
	return result, err
}

func (s *OrderScheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-s.after(s.interval()):
		}

		select {
		case <-s.stop:
			return
		default:
		}
		s.RunOnce(ctx)
	}
}

func (s *OrderScheduler) interval() time.Duration {
	interval := s.config.Get().SchedulerInterval
	if interval <= 0 {
		return domain.DefaultSchedulerInterval
	}
	return interval
}

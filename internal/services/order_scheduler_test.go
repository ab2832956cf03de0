package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

type stubSweepRunner struct {
	advanceFn func(context.Context, domain.AutomationSweep) (SweepResult, error)
}

func (s *stubSweepRunner) AdvanceDueOrders(ctx context.Context, sweep domain.AutomationSweep) (SweepResult, error) {
	if s.advanceFn != nil {
		return s.advanceFn(ctx, sweep)
	}
	return SweepResult{Sweep: sweep.Name}, nil
}

func newTestAutomationConfig(t *testing.T, settings domain.AutomationSettings) *AutomationConfig {
	t.Helper()
	cfg, err := NewAutomationConfig(AutomationConfigDeps{Defaults: settings})
	if err != nil {
		t.Fatalf("new automation config: %v", err)
	}
	return cfg
}

func newTestScheduler(t *testing.T, deps OrderSchedulerDeps) *OrderScheduler {
	t.Helper()
	if deps.Config == nil {
		deps.Config = newTestAutomationConfig(t, domain.DefaultAutomationSettings())
	}
	scheduler, err := NewOrderScheduler(deps)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return scheduler
}

func immediateAfter(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func TestNewOrderSchedulerValidatesDeps(t *testing.T) {
	if _, err := NewOrderScheduler(OrderSchedulerDeps{}); err == nil {
		t.Fatalf("expected error without sweep runner")
	}
	if _, err := NewOrderScheduler(OrderSchedulerDeps{Orders: &stubSweepRunner{}}); err == nil {
		t.Fatalf("expected error without config")
	}
}

func TestOrderSchedulerRunOnceRunsLatestStepFirst(t *testing.T) {
	var mu sync.Mutex
	var order []string
	runner := &stubSweepRunner{advanceFn: func(_ context.Context, sweep domain.AutomationSweep) (SweepResult, error) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, sweep.Name)
		return SweepResult{Sweep: sweep.Name}, nil
	}}
	scheduler := newTestScheduler(t, OrderSchedulerDeps{Orders: runner})

	report := scheduler.RunOnce(context.Background())
	if len(report.Results) != 3 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report %#v", report)
	}
	want := []string{"shipped_to_delivered", "processing_to_shipped", "pending_to_processing"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("unexpected sweep order %v", order)
		}
	}
}

func TestOrderSchedulerSurvivesSweepFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	var calls atomic.Int32
	runner := &stubSweepRunner{advanceFn: func(_ context.Context, sweep domain.AutomationSweep) (SweepResult, error) {
		calls.Add(1)
		switch sweep.Name {
		case "shipped_to_delivered":
			panic("boom")
		case "processing_to_shipped":
			return SweepResult{Sweep: sweep.Name, Failed: 1}, errors.New("store unavailable")
		}
		return SweepResult{Sweep: sweep.Name, Advanced: 2}, nil
	}}
	scheduler := newTestScheduler(t, OrderSchedulerDeps{Orders: runner, Logger: zap.New(core)})

	report := scheduler.RunOnce(context.Background())
	if calls.Load() != 3 {
		t.Fatalf("expected every sweep to run, got %d", calls.Load())
	}
	if len(report.Errors) != 2 {
		t.Fatalf("expected two errors, got %v", report.Errors)
	}
	if report.Results[2].Advanced != 2 {
		t.Fatalf("expected pending sweep result to be kept, got %#v", report.Results[2])
	}
	if got := logs.FilterMessage("order sweep failed").Len(); got != 2 {
		t.Fatalf("expected two failure logs, got %d", got)
	}

	// The scheduler keeps working after failures.
	scheduler.RunOnce(context.Background())
	if calls.Load() != 6 {
		t.Fatalf("expected a second tick to run, got %d calls", calls.Load())
	}
}

func TestOrderSchedulerTicksNeverOverlap(t *testing.T) {
	var active, maxActive atomic.Int32
	runner := &stubSweepRunner{advanceFn: func(_ context.Context, sweep domain.AutomationSweep) (SweepResult, error) {
		current := active.Add(1)
		for {
			seen := maxActive.Load()
			if current <= seen || maxActive.CompareAndSwap(seen, current) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return SweepResult{Sweep: sweep.Name}, nil
	}}
	scheduler := newTestScheduler(t, OrderSchedulerDeps{Orders: runner})
	scheduler.after = immediateAfter

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.RunOnce(ctx)
		}()
	}
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if maxActive.Load() != 1 {
		t.Fatalf("expected sweeps to run one at a time, saw %d concurrent", maxActive.Load())
	}
}

func TestOrderSchedulerRereadsIntervalBeforeEachWait(t *testing.T) {
	cfg := newTestAutomationConfig(t, domain.DefaultAutomationSettings())
	ticked := make(chan struct{}, 1)
	runner := &stubSweepRunner{advanceFn: func(_ context.Context, sweep domain.AutomationSweep) (SweepResult, error) {
		if sweep.Name == "pending_to_processing" {
			ticked <- struct{}{}
		}
		return SweepResult{Sweep: sweep.Name}, nil
	}}
	scheduler := newTestScheduler(t, OrderSchedulerDeps{Orders: runner, Config: cfg})

	waits := make(chan time.Duration, 4)
	fire := make(chan time.Time)
	scheduler.after = func(d time.Duration) <-chan time.Time {
		waits <- d
		return fire
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if got := <-waits; got != domain.DefaultSchedulerInterval {
		t.Fatalf("expected first wait of %s, got %s", domain.DefaultSchedulerInterval, got)
	}

	interval := 3 * time.Second
	if _, err := cfg.Update(ctx, AutomationSettingsPatch{SchedulerInterval: &interval}); err != nil {
		t.Fatalf("update interval: %v", err)
	}
	fire <- time.Now()
	<-ticked

	if got := <-waits; got != interval {
		t.Fatalf("expected updated wait of %s, got %s", interval, got)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestOrderSchedulerStopWaitsForInFlightSweep(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var finished atomic.Bool
	runner := &stubSweepRunner{advanceFn: func(_ context.Context, sweep domain.AutomationSweep) (SweepResult, error) {
		blocked := false
		once.Do(func() {
			blocked = true
			close(entered)
		})
		if blocked {
			<-release
			finished.Store(true)
		}
		return SweepResult{Sweep: sweep.Name}, nil
	}}
	scheduler := newTestScheduler(t, OrderSchedulerDeps{Orders: runner})
	scheduler.after = immediateAfter

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered

	// A short deadline expires while the sweep is still running.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer shortCancel()
	if err := scheduler.Stop(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error while sweep in flight, got %v", err)
	}

	stopped := make(chan error, 1)
	go func() {
		stopped <- scheduler.Stop(context.Background())
	}()
	select {
	case err := <-stopped:
		t.Fatalf("stop returned before sweep finished: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	if err := <-stopped; err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !finished.Load() {
		t.Fatalf("expected in-flight sweep to complete before stop returned")
	}
}

func TestOrderSchedulerStartTwice(t *testing.T) {
	scheduler := newTestScheduler(t, OrderSchedulerDeps{Orders: &stubSweepRunner{}})
	scheduler.after = func(time.Duration) <-chan time.Time { return make(chan time.Time) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := scheduler.Start(ctx); !errors.Is(err, ErrSchedulerStarted) {
		t.Fatalf("expected already started, got %v", err)
	}
	if err := scheduler.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestOrderSchedulerAdvancesOneStepPerTick(t *testing.T) {
	store := newOrderStore(testOrder("ORD-1", domain.OrderStatusPending, orderEpoch))
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: store.repo(),
		Clock:  func() time.Time { return orderEpoch.Add(time.Hour) },
	})
	scheduler := newTestScheduler(t, OrderSchedulerDeps{Orders: svc})

	scheduler.RunOnce(context.Background())
	if got := store.get("ORD-1").Status; got != domain.OrderStatusProcessing {
		t.Fatalf("expected PROCESSING after first tick, got %s", got)
	}
	scheduler.RunOnce(context.Background())
	if got := store.get("ORD-1").Status; got != domain.OrderStatusShipped {
		t.Fatalf("expected SHIPPED after second tick, got %s", got)
	}
}

func TestOrderSchedulerHonoursAutoModeOff(t *testing.T) {
	store := newOrderStore(testOrder("ORD-1", domain.OrderStatusPending, orderEpoch))
	cfg := newTestAutomationConfig(t, domain.DefaultAutomationSettings())
	if _, err := cfg.SetAutoMode(context.Background(), false); err != nil {
		t.Fatalf("disable auto mode: %v", err)
	}
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: store.repo(),
		Config: cfg,
		Clock:  func() time.Time { return orderEpoch.Add(time.Hour) },
	})
	scheduler := newTestScheduler(t, OrderSchedulerDeps{Orders: svc, Config: cfg})

	report := scheduler.RunOnce(context.Background())
	for _, result := range report.Results {
		if !result.Disabled {
			t.Fatalf("expected disabled sweep, got %#v", result)
		}
	}
	if store.get("ORD-1").Status != domain.OrderStatusPending {
		t.Fatalf("order must not advance while auto mode is off")
	}
}

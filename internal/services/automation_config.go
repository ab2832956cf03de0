package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// ErrAutomationInvalidInput indicates a settings update was rejected.
var ErrAutomationInvalidInput = errors.New("automation: invalid input")

// AutomationSettingsPatch carries optional updates. Nil fields are left untouched.
type AutomationSettingsPatch struct {
	PendingToProcessing *time.Duration
	ProcessingToShipped *time.Duration
	ShippedToDelivered  *time.Duration
	SchedulerInterval   *time.Duration
	AutoModeEnabled     *bool
}

// AutomationConfigDeps bundles collaborators for the automation configuration holder.
type AutomationConfigDeps struct {
	Defaults   domain.AutomationSettings
	Repository repositories.AutomationSettingsRepository
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// AutomationConfig holds the live automation settings. Reads are lock free; writers are
// serialised so that a persisted update and the in-memory snapshot never diverge.
type AutomationConfig struct {
	current atomic.Pointer[domain.AutomationSettings]
	writeMu sync.Mutex
	repo    repositories.AutomationSettingsRepository
	clock   func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
}

var _ AutomationSettingsReader = (*AutomationConfig)(nil)

// NewAutomationConfig validates the defaults and seeds the snapshot with them.
func NewAutomationConfig(deps AutomationConfigDeps) (*AutomationConfig, error) {
	defaults := deps.Defaults
	if defaults == (domain.AutomationSettings{}) {
		defaults = domain.DefaultAutomationSettings()
	}
	if err := validateAutomationSettings(defaults); err != nil {
		return nil, fmt.Errorf("automation config: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	cfg := &AutomationConfig{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}
	cfg.current.Store(&defaults)
	return cfg, nil
}

// Get returns the current snapshot.
func (c *AutomationConfig) Get() AutomationSettings {
	return *c.current.Load()
}

// Load replaces the snapshot with persisted settings when a repository is configured. Missing or
// invalid stored settings keep the defaults.
func (c *AutomationConfig) Load(ctx context.Context) (AutomationSettings, error) {
	if c.repo == nil {
		return c.Get(), nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stored, err := c.repo.Load(ctx)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return c.Get(), nil
		}
		return c.Get(), fmt.Errorf("automation config: load: %w", err)
	}
	if err := validateAutomationSettings(stored); err != nil {
		c.logger(ctx, "automation.settings.load.invalid", map[string]any{"error": err.Error()})
		return c.Get(), nil
	}
	c.current.Store(&stored)
	return stored, nil
}

// SetAutoMode toggles automatic progression.
func (c *AutomationConfig) SetAutoMode(ctx context.Context, enabled bool) (AutomationSettings, error) {
	return c.Update(ctx, AutomationSettingsPatch{AutoModeEnabled: &enabled})
}

// Update applies the patch, persists it when a repository is configured and only then publishes
// the new snapshot.
func (c *AutomationConfig) Update(ctx context.Context, patch AutomationSettingsPatch) (AutomationSettings, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := c.Get()
	if patch.PendingToProcessing != nil {
		next.PendingToProcessing = *patch.PendingToProcessing
	}
	if patch.ProcessingToShipped != nil {
		next.ProcessingToShipped = *patch.ProcessingToShipped
	}
	if patch.ShippedToDelivered != nil {
		next.ShippedToDelivered = *patch.ShippedToDelivered
	}
	if patch.SchedulerInterval != nil {
		next.SchedulerInterval = *patch.SchedulerInterval
	}
	if patch.AutoModeEnabled != nil {
		next.AutoModeEnabled = *patch.AutoModeEnabled
	}
	if err := validateAutomationSettings(next); err != nil {
		return c.Get(), err
	}
	next.UpdatedAt = c.clock()

	if c.repo != nil {
		if err := c.repo.Save(ctx, next); err != nil {
			return c.Get(), fmt.Errorf("automation config: save: %w", err)
		}
	}
	c.current.Store(&next)
	c.logger(ctx, "automation.settings.updated", map[string]any{
		"autoMode":            next.AutoModeEnabled,
		"pendingToProcessing": next.PendingToProcessing.String(),
		"processingToShipped": next.ProcessingToShipped.String(),
		"shippedToDelivered":  next.ShippedToDelivered.String(),
		"schedulerInterval":   next.SchedulerInterval.String(),
	})
	return next, nil
}

func validateAutomationSettings(settings domain.AutomationSettings) error {
	switch {
	case settings.PendingToProcessing < 0:
		return fmt.Errorf("%w: pending to processing delay must not be negative", ErrAutomationInvalidInput)
	case settings.ProcessingToShipped < 0:
		return fmt.Errorf("%w: processing to shipped delay must not be negative", ErrAutomationInvalidInput)
	case settings.ShippedToDelivered < 0:
		return fmt.Errorf("%w: shipped to delivered delay must not be negative", ErrAutomationInvalidInput)
	case settings.SchedulerInterval <= 0:
		return fmt.Errorf("%w: scheduler interval must be positive", ErrAutomationInvalidInput)
	}
	return nil
}

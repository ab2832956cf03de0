package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const automationCheckName = "orderAutomation"

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service. Automation is
// optional; when set the report carries the live auto mode and interval.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Automation       AutomationSettingsReader
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health     repositories.HealthRepository
	automation AutomationSettingsReader
	now        func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService builds the readiness reporter behind /readyz.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		health:     deps.HealthRepository,
		automation: deps.Automation,
		now:        func() time.Time { return clock().UTC() },
		build:      build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, fmt.Errorf("system service: collect health: %w", err)
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if report.Checks == nil {
		report.Checks = make(map[string]domain.SystemHealthCheck, 1)
	}
	if report.Status == "" {
		report.Status = domain.HealthStatusOK
	}
	report.Version = s.build.Version
	report.CommitSHA = s.build.CommitSHA
	report.Environment = s.build.Environment
	report.Uptime = now.Sub(s.build.StartedAt)

	if s.automation != nil {
		report.Checks[automationCheckName] = automationCheck(s.automation.Get(), now)
	}
	return report, nil
}

// automationCheck is informational: a paused clock is an operator choice, not an outage.
func automationCheck(settings AutomationSettings, now time.Time) domain.SystemHealthCheck {
	detail := "auto mode disabled"
	if settings.AutoModeEnabled {
		detail = fmt.Sprintf("auto mode enabled, sweeping every %s", settings.SchedulerInterval)
	}
	return domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    detail,
		CheckedAt: now,
	}
}

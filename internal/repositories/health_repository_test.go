package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

func okCheck(context.Context) error { return nil }

func TestDependencyHealthRepositoryCollect(t *testing.T) {
	boom := errors.New("connection refused")
	failing := func(context.Context) error { return boom }

	tests := []struct {
		name       string
		checks     []DependencyCheck
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name: "all healthy",
			checks: []DependencyCheck{
				{Name: "postgres", Critical: true, Check: okCheck},
				{Name: "secretManager", Check: okCheck},
			},
			wantStatus: domain.HealthStatusOK,
			wantChecks: map[string]string{"postgres": domain.HealthStatusOK, "secretManager": domain.HealthStatusOK},
		},
		{
			name: "optional dependency down",
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Check: okCheck},
				{Name: "secretManager", Check: failing},
			},
			wantStatus: domain.HealthStatusDegraded,
			wantChecks: map[string]string{"firestore": domain.HealthStatusOK, "secretManager": domain.HealthStatusDegraded},
		},
		{
			name: "order store down",
			checks: []DependencyCheck{
				{Name: "postgres", Critical: true, Check: failing},
				{Name: "secretManager", Check: failing},
			},
			wantStatus: domain.HealthStatusError,
			wantChecks: map[string]string{"postgres": domain.HealthStatusError, "secretManager": domain.HealthStatusDegraded},
		},
	}

	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks, WithDependencyClock(func() time.Time { return now }))
			require.NoError(t, err)

			report, err := repo.Collect(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tc.wantStatus, report.Status)
			assert.True(t, report.GeneratedAt.Equal(now))
			require.Len(t, report.Checks, len(tc.wantChecks))
			for name, want := range tc.wantChecks {
				check := report.Checks[name]
				assert.Equal(t, want, check.Status, name)
				if want != domain.HealthStatusOK {
					assert.Equal(t, boom.Error(), check.Error, name)
					assert.Equal(t, "unreachable", check.Detail, name)
				}
			}
		})
	}
}

func TestDependencyHealthRepositoryCollectTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{{
		Name:     "postgres",
		Critical: true,
		Timeout:  5 * time.Millisecond,
		Check: func(ctx context.Context) error {
			select {
			case <-time.After(200 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}})
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.HealthStatusError, report.Status)
	assert.Equal(t, "timeout after 5ms", report.Checks["postgres"].Detail)
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	tests := map[string][]DependencyCheck{
		"empty set":      nil,
		"missing func":   {{Name: "postgres"}},
		"missing name":   {{Check: okCheck}},
		"duplicate name": {{Name: "postgres", Check: okCheck}, {Name: "postgres", Check: okCheck}},
	}
	for name, checks := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewDependencyHealthRepository(checks)
			assert.Error(t, err)
		})
	}
}

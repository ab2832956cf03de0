package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	settingsCollection    = "settings"
	automationSettingsDoc = "orderAutomation"
)

type automationSettingsDocument struct {
	PendingToProcessingSeconds int64     `firestore:"pendingToProcessingSeconds"`
	ProcessingToShippedSeconds int64     `firestore:"processingToShippedSeconds"`
	ShippedToDeliveredSeconds  int64     `firestore:"shippedToDeliveredSeconds"`
	SchedulerIntervalSeconds   int64     `firestore:"schedulerIntervalSeconds"`
	AutoModeEnabled            bool      `firestore:"autoModeEnabled"`
	UpdatedAt                  time.Time `firestore:"updatedAt"`
}

// AutomationSettingsRepository persists the automation settings as settings/orderAutomation.
type AutomationSettingsRepository struct {
	settings *pfirestore.Collection[automationSettingsDocument]
}

var _ repositories.AutomationSettingsRepository = (*AutomationSettingsRepository)(nil)

func NewAutomationSettingsRepository(provider *pfirestore.Provider) (*AutomationSettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("automation settings repository requires firestore provider")
	}
	return &AutomationSettingsRepository{
		settings: pfirestore.NewCollection[automationSettingsDocument](provider, settingsCollection),
	}, nil
}

func (r *AutomationSettingsRepository) Load(ctx context.Context) (domain.AutomationSettings, error) {
	doc, err := r.settings.Get(ctx, automationSettingsDoc)
	if err != nil {
		return domain.AutomationSettings{}, err
	}
	return domain.AutomationSettings{
		PendingToProcessing: time.Duration(doc.PendingToProcessingSeconds) * time.Second,
		ProcessingToShipped: time.Duration(doc.ProcessingToShippedSeconds) * time.Second,
		ShippedToDelivered:  time.Duration(doc.ShippedToDeliveredSeconds) * time.Second,
		SchedulerInterval:   time.Duration(doc.SchedulerIntervalSeconds) * time.Second,
		AutoModeEnabled:     doc.AutoModeEnabled,
		UpdatedAt:           doc.UpdatedAt.UTC(),
	}, nil
}

func (r *AutomationSettingsRepository) Save(ctx context.Context, settings domain.AutomationSettings) error {
	return r.settings.Set(ctx, automationSettingsDoc, automationSettingsDocument{
		PendingToProcessingSeconds: int64(settings.PendingToProcessing / time.Second),
		ProcessingToShippedSeconds: int64(settings.ProcessingToShipped / time.Second),
		ShippedToDeliveredSeconds:  int64(settings.ShippedToDelivered / time.Second),
		SchedulerIntervalSeconds:   int64(settings.SchedulerInterval / time.Second),
		AutoModeEnabled:            settings.AutoModeEnabled,
		UpdatedAt:                  settings.UpdatedAt.UTC(),
	})
}

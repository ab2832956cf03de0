package domain

import "time"

// AutomationSettings configures the time-based lifecycle automation. Delays are measured per step;
// the gate for a step is the cumulative sum of every delay up to and including it.
type AutomationSettings struct {
	PendingToProcessing time.Duration
	ProcessingToShipped time.Duration
	ShippedToDelivered  time.Duration
	SchedulerInterval   time.Duration
	AutoModeEnabled     bool
	UpdatedAt           time.Time
}

const (
	DefaultPendingToProcessing = 30 * time.Second
	DefaultProcessingToShipped = 60 * time.Second
	DefaultShippedToDelivered  = 90 * time.Second
	DefaultSchedulerInterval   = 10 * time.Second
)

// DefaultAutomationSettings returns the settings used when nothing is configured.
func DefaultAutomationSettings() AutomationSettings {
	return AutomationSettings{
		PendingToProcessing: DefaultPendingToProcessing,
		ProcessingToShipped: DefaultProcessingToShipped,
		ShippedToDelivered:  DefaultShippedToDelivered,
		SchedulerInterval:   DefaultSchedulerInterval,
		AutoModeEnabled:     true,
	}
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// IsValidTransition reports whether the general transition table allows current -> requested.
func IsValidTransition(current, requested OrderStatus) bool {
	for _, next := range orderTransitions[current] {
		if next == requested {
			return true
		}
	}
	return false
}

// CanAdminCancel reports whether an administrator may cancel an order in the given status.
func CanAdminCancel(current OrderStatus) bool {
	return current.Valid() && !current.IsTerminal()
}

// CanUserCancel reports whether the owning user may cancel an order in the given status.
func CanUserCancel(current OrderStatus) bool {
	return current == OrderStatusPending
}

// MinimumElapsed returns the cumulative time that must pass since the order date before the
// forward step current -> requested is allowed. The boolean is false when the step is not gated.
func MinimumElapsed(current, requested OrderStatus, settings AutomationSettings) (time.Duration, bool) {
	for _, sweep := range AutomationSweeps {
		if sweep.From == current && sweep.To == requested {
			return sweep.CumulativeDelay(settings), true
		}
	}
	return 0, false
}

// AutomationSweep is a single forward step advanced by the automation clock.
type AutomationSweep struct {
	Name string
	From OrderStatus
	To   OrderStatus
	// steps is how many configured delays are summed to form the cutoff.
	steps int
}

// CumulativeDelay sums the configured delays up to and including this step.
func (s AutomationSweep) CumulativeDelay(settings AutomationSettings) time.Duration {
	delays := [...]time.Duration{
		settings.PendingToProcessing,
		settings.ProcessingToShipped,
		settings.ShippedToDelivered,
	}
	var total time.Duration
	for i := 0; i < s.steps && i < len(delays); i++ {
		total += delays[i]
	}
	return total
}

// Cutoff is the latest order date that is due for this sweep at now.
func (s AutomationSweep) Cutoff(now time.Time, settings AutomationSettings) time.Time {
	return now.Add(-s.CumulativeDelay(settings))
}

// AutomationSweeps lists the forward steps in the order the clock runs them.
var AutomationSweeps = []AutomationSweep{
	{Name: "pending_to_processing", From: OrderStatusPending, To: OrderStatusProcessing, steps: 1},
	{Name: "processing_to_shipped", From: OrderStatusProcessing, To: OrderStatusShipped, steps: 2},
	{Name: "shipped_to_delivered", From: OrderStatusShipped, To: OrderStatusDelivered, steps: 3},
}

package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError lists the settings that are missing or invalid. Entries are config field paths
// ("Postgres.DSN") or, for values that failed to parse, the environment variable name.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

type problems []string

func (p *problems) require(ok bool, field string) {
	if !ok && !slices.Contains(*p, field) {
		*p = append(*p, field)
	}
}

func validate(cfg Config, unparsable []string) error {
	var p problems
	for _, key := range unparsable {
		p.require(false, key)
	}
	p.require(cfg.Server.Port != "", "Server.Port")

	switch cfg.Storage.Backend {
	case StorageBackendFirestore:
		p.require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case StorageBackendPostgres:
		p.require(strings.TrimSpace(cfg.Postgres.DSN) != "", "Postgres.DSN")
	case StorageBackendMemory:
	default:
		p.require(false, "Storage.Backend")
	}

	switch cfg.Events.Backend {
	case EventsBackendNone:
	case EventsBackendPubSub:
		// Pub/Sub shares the Firestore project.
		p.require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
		p.require(cfg.Events.PubSubTopic != "", "Events.PubSubTopic")
	case EventsBackendKafka:
		p.require(len(cfg.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
		p.require(cfg.Events.KafkaTopic != "", "Events.KafkaTopic")
	default:
		p.require(false, "Events.Backend")
	}

	a := cfg.Automation
	p.require(a.PendingToProcessing >= 0, "Automation.PendingToProcessing")
	p.require(a.ProcessingToShipped >= 0, "Automation.ProcessingToShipped")
	p.require(a.ShippedToDelivered >= 0, "Automation.ShippedToDelivered")
	p.require(a.SchedulerInterval > 0, "Automation.SchedulerInterval")

	idem := cfg.Idempotency
	p.require(idem.Header != "", "Idempotency.Header")
	p.require(idem.TTL > 0, "Idempotency.TTL")
	p.require(idem.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(p) > 0 {
		return &ValidationError{fields: p}
	}
	return nil
}

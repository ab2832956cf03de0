package config

import "time"

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 30 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultPendingToProcessing  = 30 * time.Second
	defaultProcessingToShipped  = 60 * time.Second
	defaultShippedToDelivered   = 90 * time.Second
	defaultSchedulerInterval    = 10 * time.Second
	defaultKafkaTopic           = "order-events"
	defaultPubSubTopic          = "order-events"
)

// Storage backends understood by cmd/api.
const (
	StorageBackendFirestore = "firestore"
	StorageBackendPostgres  = "postgres"
	StorageBackendMemory    = "memory"
)

// Event publisher backends understood by cmd/api.
const (
	EventsBackendNone   = "none"
	EventsBackendPubSub = "pubsub"
	EventsBackendKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	Postgres    PostgresConfig
	Automation  AutomationConfig
	Events      EventsConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig selects the persistence backend for orders, stock and counters.
type StorageConfig struct {
	Backend string
}

// PostgresConfig is only consulted when Storage.Backend is postgres.
type PostgresConfig struct {
	DSN     string
	Migrate bool
}

// AutomationConfig seeds the order automation settings. Delays are per step; the scheduler
// works with their cumulative sums.
type AutomationConfig struct {
	PendingToProcessing time.Duration
	ProcessingToShipped time.Duration
	ShippedToDelivered  time.Duration
	SchedulerInterval   time.Duration
	AutoMode            bool
	// Persist stores runtime changes so they survive restarts.
	Persist bool
}

// EventsConfig selects where order lifecycle events are published.
type EventsConfig struct {
	Backend      string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

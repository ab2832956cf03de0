package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/orderflow/internal/handlers"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/config"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/platform/idempotency"
	"github.com/hanko-field/orderflow/internal/platform/jobs"
	"github.com/hanko-field/orderflow/internal/platform/metrics"
	"github.com/hanko-field/orderflow/internal/platform/observability"
	"github.com/hanko-field/orderflow/internal/platform/secrets"
	"github.com/hanko-field/orderflow/internal/repositories"
	firestoreRepo "github.com/hanko-field/orderflow/internal/repositories/firestore"
	"github.com/hanko-field/orderflow/internal/repositories/memory"
	"github.com/hanko-field/orderflow/internal/repositories/postgres"
	"github.com/hanko-field/orderflow/internal/services"
)

const (
	orderCreateRateLimit  = 30
	orderCreateRateWindow = time.Minute
	closeTimeout          = 5 * time.Second
)

func main() {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	if err := run(logger, startedAt); err != nil {
		logger.Error("orderflow api stopped with error", zap.Error(err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func run(logger *zap.Logger, startedAt time.Time) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment values: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			return fmt.Errorf("missing required secrets %v: %w", missing.RedactedNames(), err)
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	backend, err := openBackend(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := backend.registry.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	publisher, closePublisher, err := newEventPublisher(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	recorder := metrics.New()
	clock := func() time.Time { return time.Now().UTC() }

	ledger, err := services.NewInventoryService(services.InventoryServiceDeps{
		Stock:  backend.registry.Stock(),
		Clock:  clock,
		Logger: observability.EventLogger(logger.Named("stock")),
	})
	if err != nil {
		return fmt.Errorf("initialise stock ledger: %w", err)
	}

	automationDeps := services.AutomationConfigDeps{
		Defaults: services.AutomationSettings{
			PendingToProcessing: cfg.Automation.PendingToProcessing,
			ProcessingToShipped: cfg.Automation.ProcessingToShipped,
			ShippedToDelivered:  cfg.Automation.ShippedToDelivered,
			SchedulerInterval:   cfg.Automation.SchedulerInterval,
			AutoModeEnabled:     cfg.Automation.AutoMode,
		},
		Clock:  clock,
		Logger: observability.EventLogger(logger.Named("automation")),
	}
	if cfg.Automation.Persist {
		automationDeps.Repository = backend.registry.AutomationSettings()
	}
	automation, err := services.NewAutomationConfig(automationDeps)
	if err != nil {
		return fmt.Errorf("initialise automation config: %w", err)
	}
	if cfg.Automation.Persist {
		if _, err := automation.Load(ctx); err != nil {
			logger.Warn("automation settings load failed; using configured defaults", zap.Error(err))
		}
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   backend.registry.Orders(),
		Stock:    ledger,
		Counters: backend.registry.Counters(),
		Config:   automation,
		Events:   publisher,
		Metrics:  recorder,
		Clock:    clock,
		Logger:   observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		return fmt.Errorf("initialise order service: %w", err)
	}

	scheduler, err := services.NewOrderScheduler(services.OrderSchedulerDeps{
		Orders: orderService,
		Config: automation,
		Logger: logger.Named("scheduler"),
		Clock:  clock,
		Meter:  otel.Meter("github.com/hanko-field/orderflow/scheduler"),
		Tracer: otel.Tracer("github.com/hanko-field/orderflow/scheduler"),
	})
	if err != nil {
		return fmt.Errorf("initialise order scheduler: %w", err)
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	systemService, err := newSystemService(backend.registry, fetcher, automation, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase,
		auth.WithRevocationCheck(!strings.EqualFold(cfg.Security.Environment, "local")),
	)
	if err != nil {
		return fmt.Errorf("initialise firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyMiddleware := idempotency.Middleware(
		backend.idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
		handlers.WithOrderCreateRateLimit(orderCreateRateLimit, orderCreateRateWindow),
	)
	adminHandlers := handlers.NewAdminOrderHandlers(handlers.AdminOrderHandlersDeps{
		Authenticator: authenticator,
		Orders:        orderService,
		Automation:    automation,
		Sweeps:        scheduler,
		Stock:         ledger,
	})
	internalHandlers := handlers.NewInternalHandlers(scheduler)

	projectID := traceProjectID(cfg)
	httpLogger := logger.Named("http")
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.TraceMiddleware(projectID),
			observability.RequestLogger(httpLogger),
			observability.Recoverer(httpLogger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(buildInfo),
			handlers.WithHealthSystemService(systemService),
		)),
		handlers.WithMetricsHandler(recorder.Handler()),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, recorder); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start order scheduler: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	group.Go(func() error {
		serverLogger.Info("orderflow api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.Idempotency.CleanupInterval > 0 {
		group.Go(func() error {
			runIdempotencyCleanup(groupCtx, logger.Named("idempotency"), backend.idempotency, cfg.Idempotency)
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn("order scheduler stop", zap.Error(err))
		}
		return nil
	})

	return group.Wait()
}

type storageBackend struct {
	registry    repositories.Registry
	idempotency idempotency.Store
}

func openBackend(ctx context.Context, logger *zap.Logger, cfg config.Config) (storageBackend, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return storageBackend{}, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.Postgres.Migrate {
			if err := db.RunMigrations(); err != nil {
				db.Close()
				return storageBackend{}, err
			}
			logger.Info("postgres migrations applied")
		}
		return storageBackend{
			registry:    postgres.NewRegistry(db, nil),
			idempotency: idempotency.NewPostgresStore(db.Pool),
		}, nil
	case config.StorageBackendMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		return storageBackend{
			registry:    memory.NewRegistry(nil),
			idempotency: idempotency.NewMemoryStore(),
		}, nil
	default:
		provider := pfirestore.NewProvider(cfg.Firestore)
		client, err := provider.Client(ctx)
		if err != nil {
			return storageBackend{}, fmt.Errorf("initialise firestore client: %w", err)
		}
		registry, err := firestoreRepo.NewRegistry(provider, nil)
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = provider.Close(closeCtx)
			return storageBackend{}, fmt.Errorf("initialise firestore repositories: %w", err)
		}
		return storageBackend{
			registry:    registry,
			idempotency: idempotency.NewFirestoreStore(client),
		}, nil
	}
}

func newEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.OrderEventPublisher, func(), error) {
	switch cfg.Events.Backend {
	case config.EventsBackendPubSub:
		projectID := traceProjectID(cfg)
		client, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return nil, nil, fmt.Errorf("initialise pubsub client: %w", err)
		}
		publisher, err := jobs.NewPubSubOrderPublisher(client.Topic(cfg.Events.PubSubTopic))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logger.Info("publishing order events to pubsub", zap.String("topic", cfg.Events.PubSubTopic))
		return publisher, func() {
			publisher.Close()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}, nil
	case config.EventsBackendKafka:
		publisher, err := jobs.NewKafkaOrderPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, logger.Named("kafka"))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("publishing order events to kafka", zap.String("topic", cfg.Events.KafkaTopic))
		return publisher, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka close error", zap.Error(err))
			}
		}, nil
	default:
		return nil, func() {}, nil
	}
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := idempotency.Cleanup(runCtx, store, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSystemService(registry repositories.Registry, fetcher *secrets.Fetcher, automation services.AutomationSettingsReader, build services.BuildInfo) (services.SystemService, error) {
	checks := append([]repositories.DependencyCheck(nil), registry.HealthChecks()...)
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(errors.Unwrap(err)); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Automation:       automation,
		Clock:            time.Now,
		Build:            build,
	})
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, recorder auth.VerificationRecorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(logger),
		auth.WithOIDCRecorder(recorder),
	)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/hanko-field/orderflow/secrets")),
	}
	if projects := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projects) > 0 {
		lowered := make(map[string]string, len(projects))
		for label, project := range projects {
			lowered[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secret-backed fields that must resolve for the selected backend.
func requiredSecretNames(env map[string]string) []string {
	if strings.EqualFold(strings.TrimSpace(env["API_STORAGE_BACKEND"]), config.StorageBackendPostgres) {
		return []string{"Postgres.DSN"}
	}
	return nil
}

// secretVersionPins parses "env:secret://name=version" entries. The env prefix is optional.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

// parseKeyValueList splits "a=1,b=2" on the first '=' of each entry and drops blanks.
func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

// Package secrets resolves secret:// references from configuration against Google Secret
// Manager, with a local file for offline development.
package secrets

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const instrumentationName = "github.com/hanko-field/orderflow/internal/platform/secrets"

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references and caches each resolved version for the life of the process.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger

	env      string
	project  string
	projects map[string]string
	pins     map[string]string
	fallback *fallbackFile
	metrics  fetchMetrics

	mu    sync.RWMutex
	cache map[string]string
}

type settings struct {
	logger     *zap.Logger
	env        string
	project    string
	projects   map[string]string
	pins       map[string]string
	fallback   string
	meter      metric.Meter
	client     secretManagerClient
	clientOpts []option.ClientOption
}

type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment picks the row of the project map and the "<env>:" version pins.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.env = strings.ToLower(strings.TrimSpace(env)) }
}

func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

func WithProjectMap(m map[string]string) Option {
	return func(s *settings) { s.projects = maps.Clone(m) }
}

// WithVersionPins maps a canonical reference, optionally prefixed with "<env>:", to a version.
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) { s.pins = maps.Clone(pins) }
}

func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallback = strings.TrimSpace(path) }
}

func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

func WithSecretManagerClient(client secretManagerClient) Option {
	return func(s *settings) { s.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// NewFetcher never fails on a missing Secret Manager client: without credentials the fetcher
// serves the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{logger: zap.NewNop(), env: "local", fallback: ".secrets.local"}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.env == "" {
		s.env = "local"
	}
	if s.meter == nil {
		s.meter = otel.Meter(instrumentationName)
	}

	f := &Fetcher{
		client:   s.client,
		logger:   s.logger,
		env:      s.env,
		project:  s.project,
		projects: s.projects,
		pins:     s.pins,
		fallback: &fallbackFile{path: s.fallback},
		metrics:  newFetchMetrics(s.meter, s.logger),
		cache:    make(map[string]string),
	}
	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client, f.ownsClient = client, true
		}
	}
	return f, nil
}

func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve looks in the cache, then Secret Manager, then the fallback file. Only errors that mean
// "cannot reach or not allowed" fall through to the file; a missing secret is reported as is.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	version := f.version(ref)
	key := versioned(ref.canonical, version)

	if value, ok := f.cached(key); ok {
		f.metrics.hit(ctx, ref)
		f.metrics.observe(ctx, start, "cache")
		return value, nil
	}

	if project := f.projectFor(ref); project != "" && f.client != nil {
		value, err := f.access(ctx, project, ref.name, version)
		switch {
		case err == nil:
			f.remember(key, value)
			f.metrics.observe(ctx, start, "remote")
			return value, nil
		case !unreachable(err):
			f.metrics.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets: using fallback file", zap.String("ref", ref.canonical), zap.Error(err))
	}

	value, err := f.fallback.lookup(ref, version)
	if err != nil {
		f.metrics.observe(ctx, start, "error")
		return "", err
	}
	f.remember(key, value)
	f.metrics.observe(ctx, start, "fallback")
	return value, nil
}

// Invalidate forgets every cached version of the reference.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseReference(raw)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	maps.DeleteFunc(f.cache, func(key, _ string) bool {
		return strings.HasPrefix(key, ref.canonical+"#")
	})
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.cache[key]
	return v, ok
}

func (f *Fetcher) remember(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, project, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) projectFor(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if p := strings.TrimSpace(f.projects[f.env]); p != "" {
		return p
	}
	return f.project
}

// version prefers an explicit ?version, then an environment pin, then a global pin.
func (f *Fetcher) version(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	for _, key := range []string{f.env + ":" + ref.canonical, ref.canonical} {
		if pin := strings.TrimSpace(f.pins[key]); pin != "" {
			return pin
		}
	}
	return latestVersion
}

func unreachable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

// fetchMetrics tolerates instruments that failed to register; their methods become no-ops.
type fetchMetrics struct {
	latency metric.Float64Histogram
	hits    metric.Int64Counter
}

func newFetchMetrics(meter metric.Meter, logger *zap.Logger) fetchMetrics {
	var m fetchMetrics
	var err error
	if m.latency, err = meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	); err != nil {
		logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
		m.latency = nil
	}
	if m.hits, err = meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions answered from cache"),
	); err != nil {
		logger.Warn("secrets: cache hit counter unavailable", zap.Error(err))
		m.hits = nil
	}
	return m
}

func (m fetchMetrics) observe(ctx context.Context, start time.Time, source string) {
	if m.latency == nil {
		return
	}
	ms := float64(time.Since(start)) / float64(time.Millisecond)
	m.latency.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
}

func (m fetchMetrics) hit(ctx context.Context, ref reference) {
	if m.hits == nil {
		return
	}
	m.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", redact(ref.canonical))))
}

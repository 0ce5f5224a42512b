package catalog

import (
	"context"
	"sync"

	"github.com/pgplex/pgcustom/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const instrumentationName = "github.com/pgplex/pgcustom/catalog"

// Cache maps descriptors to resolved Metadata for the lifetime of the process.
//
// Successful resolutions are kept forever; the cache does not observe types
// being dropped or recreated on the server. Failed resolutions are not kept, so
// the next call retries. Concurrent misses for the same descriptor share a
// single catalog query; a caller that gives up does not fail the others.
//
// Entries are keyed by descriptor only. Share a Cache between sessions that
// resolve unqualified names with the same search_path.
type Cache struct {
	resolver Resolver

	mu      sync.RWMutex
	entries map[Descriptor]Metadata
	group   singleflight.Group

	tracer   trace.Tracer
	hits     metric.Int64Counter
	misses   metric.Int64Counter
	shared   metric.Int64Counter
	failures metric.Int64Counter
}

// CacheOption configures a Cache.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	resolver       Resolver
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithResolver replaces the PgCatalog resolver.
func WithResolver(r Resolver) CacheOption {
	return func(c *cacheConfig) { c.resolver = r }
}

// WithMeterProvider sets the meter provider. Defaults to otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) CacheOption {
	return func(c *cacheConfig) { c.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider. Defaults to otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) CacheOption {
	return func(c *cacheConfig) { c.tracerProvider = tp }
}

// NewCache creates an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	cfg := cacheConfig{resolver: PgCatalog{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.meterProvider == nil {
		cfg.meterProvider = otel.GetMeterProvider()
	}
	if cfg.tracerProvider == nil {
		cfg.tracerProvider = otel.GetTracerProvider()
	}

	c := &Cache{
		resolver: cfg.resolver,
		entries:  make(map[Descriptor]Metadata),
		tracer:   cfg.tracerProvider.Tracer(instrumentationName),
	}

	meter := cfg.meterProvider.Meter(instrumentationName)
	c.hits, _ = meter.Int64Counter("pgcustom.type_cache.hits",
		metric.WithUnit("{lookup}"),
		metric.WithDescription("Type metadata lookups served from the cache"),
	)
	c.misses, _ = meter.Int64Counter("pgcustom.type_cache.misses",
		metric.WithUnit("{lookup}"),
		metric.WithDescription("Type metadata lookups that queried the catalog"),
	)
	c.shared, _ = meter.Int64Counter("pgcustom.type_cache.shared",
		metric.WithUnit("{lookup}"),
		metric.WithDescription("Type metadata lookups that waited on another caller's catalog query"),
	)
	c.failures, _ = meter.Int64Counter("pgcustom.type_cache.failures",
		metric.WithUnit("{lookup}"),
		metric.WithDescription("Catalog resolutions that failed"),
	)
	return c
}

// Get returns the cached metadata for d without touching the catalog.
func (c *Cache) Get(d Descriptor) (Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.entries[d]
	return m, ok
}

// Len returns the number of cached descriptors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrResolve returns the metadata for d, resolving it on q on first use.
// Errors from the resolver are returned unchanged and are not cached.
//
// Concurrent callers for the same descriptor share one resolution. The shared
// query runs without the cancellation of any single caller; each caller waits
// on its own ctx and returns ctx.Err() when it is done first.
func (c *Cache) GetOrResolve(ctx context.Context, q Querier, d Descriptor) (Metadata, error) {
	attrs := metric.WithAttributes(descriptorAttrs(d)...)

	if m, ok := c.Get(d); ok {
		c.hits.Add(ctx, 1, attrs)
		return m, nil
	}
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	var led bool
	ch := c.group.DoChan(d.String(), func() (any, error) {
		led = true
		// A flight that finished between Get and DoChan has already stored the entry.
		if m, ok := c.Get(d); ok {
			c.hits.Add(ctx, 1, attrs)
			return m, nil
		}

		flightCtx := context.WithoutCancel(ctx)
		c.misses.Add(flightCtx, 1, attrs)
		m, err := c.resolve(flightCtx, q, d)
		if err != nil {
			c.failures.Add(flightCtx, 1, attrs)
			return Metadata{}, err
		}

		c.mu.Lock()
		c.entries[d] = m
		c.mu.Unlock()
		return m, nil
	})

	select {
	case <-ctx.Done():
		return Metadata{}, ctx.Err()
	case res := <-ch:
		if res.Shared && !led {
			c.shared.Add(ctx, 1, attrs)
			logger.Get().Debug("Shared in-flight type resolution", "type", d.String())
		}
		if res.Err != nil {
			return Metadata{}, res.Err
		}
		return res.Val.(Metadata), nil
	}
}

func (c *Cache) resolve(ctx context.Context, q Querier, d Descriptor) (Metadata, error) {
	log := logger.Get()

	ctx, span := c.tracer.Start(ctx, "catalog.resolve_type",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(descriptorAttrs(d)...),
	)
	defer span.End()

	m, err := c.resolver.Resolve(ctx, q, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Debug("Type resolution failed", "type", d.String(), "error", err)
		return Metadata{}, err
	}

	span.SetAttributes(
		attribute.Int64("db.postgresql.type.oid", int64(m.OID)),
		attribute.Int64("db.postgresql.type.array_oid", int64(m.ArrayOID)),
	)
	log.Debug("Resolved type", "type", d.String(), "oid", m.OID, "array_oid", m.ArrayOID)
	return m, nil
}

func descriptorAttrs(d Descriptor) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("db.postgresql.type.name", d.Name)}
	if d.Qualified() {
		attrs = append(attrs, attribute.String("db.postgresql.type.schema", d.Schema))
	}
	return attrs
}

package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/pkg/fn"
	"github.com/motolight/motolight/pkg/metrics"
	"github.com/motolight/motolight/pkg/natsutil"
	"github.com/motolight/motolight/pkg/resilience"
)

// DefaultMaxAge is how long a catalog copy counts as fresh.
const DefaultMaxAge = 24 * time.Hour

var tracer = otel.Tracer("github.com/motolight/motolight/engine/catalog")

// Source reads the authoritative catalog.
type Source interface {
	Catalog(ctx context.Context) (domain.Catalog, error)
}

// SnapshotCache persists the last good snapshot between restarts.
type SnapshotCache interface {
	Load() (Snapshot, bool, error)
	Save(Snapshot) error
}

// Status describes the copy currently served.
type Status struct {
	FetchedAt time.Time `json:"fetchedAt"`
	// Stale is set when the copy is older than the max age, or when the
	// last refresh failed, or when nothing has loaded yet.
	Stale  bool `json:"stale"`
	Loaded bool `json:"loaded"`
}

// Metrics are the provider's counters.
type Metrics struct {
	Refreshes *metrics.Counter
	Failures  *metrics.Counter
	Duration  *metrics.Histogram
}

// NewMetrics registers the provider metrics on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		Refreshes: reg.Counter("motolight_catalog_refreshes_total", "Successful catalog refreshes"),
		Failures:  reg.Counter("motolight_catalog_refresh_failures_total", "Failed catalog refreshes"),
		Duration:  reg.Histogram("motolight_catalog_refresh_seconds", "Catalog refresh latency", metrics.DefaultBuckets),
	}
}

// Provider serves an in-memory catalog copy and refreshes it in the
// background. A failed refresh keeps the previous copy.
type Provider struct {
	source  Source
	cache   SnapshotCache
	maxAge  time.Duration
	logger  *slog.Logger
	breaker *resilience.Breaker
	retry   fn.RetryOpts
	metrics *Metrics
	now     func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	snap    Snapshot
	loaded  bool
	lastErr error

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
	closed  bool
	natsSub *nats.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Provider.
type Option func(*Provider)

// WithCache sets the on-disk snapshot cache.
func WithCache(c SnapshotCache) Option { return func(p *Provider) { p.cache = c } }

// WithMaxAge sets how long a copy counts as fresh.
func WithMaxAge(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.maxAge = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Provider) { p.logger = l } }

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) Option { return func(p *Provider) { p.breaker = b } }

// WithRetry sets the retry policy for one refresh.
func WithRetry(o fn.RetryOpts) Option { return func(p *Provider) { p.retry = o } }

// WithMetrics enables refresh metrics.
func WithMetrics(m *Metrics) Option { return func(p *Provider) { p.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(p *Provider) { p.now = now } }

func defaultRetry() fn.RetryOpts {
	o := fn.DefaultRetry
	o.Retryable = func(err error) bool { return !errors.Is(err, context.Canceled) }
	return o
}

// NewProvider creates a provider reading from source. Call Start to load.
func NewProvider(source Source, opts ...Option) *Provider {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		source:  source,
		maxAge:  DefaultMaxAge,
		logger:  slog.Default(),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		retry:   defaultRetry(),
		now:     time.Now,
		snap:    Snapshot{Catalog: domain.Catalog{Vehicles: []domain.Make{}, Fixtures: []domain.Fixture{}}},
		subs:    make(map[int]chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start serves the cached copy, if any, and refreshes in the background.
func (p *Provider) Start() {
	if p.cache != nil {
		snap, ok, err := p.cache.Load()
		switch {
		case err != nil:
			p.logger.Warn("catalog cache unreadable", "err", err)
		case ok:
			p.mu.Lock()
			p.snap, p.loaded = snap, true
			p.mu.Unlock()
			p.logger.Info("catalog cache loaded",
				"fetched_at", snap.FetchedAt,
				"makes", len(snap.Catalog.Vehicles),
				"fixtures", len(snap.Catalog.Fixtures))
		}
	}
	p.RefreshAsync()
}

// Current returns the catalog copy being served.
func (p *Provider) Current() (domain.Catalog, Status) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap.Catalog, p.statusLocked()
}

// Status describes the copy being served.
func (p *Provider) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.statusLocked()
}

func (p *Provider) statusLocked() Status {
	return Status{
		FetchedAt: p.snap.FetchedAt,
		Loaded:    p.loaded,
		Stale:     !p.loaded || p.lastErr != nil || p.now().Sub(p.snap.FetchedAt) > p.maxAge,
	}
}

// Refresh reloads the catalog from the source. Concurrent calls share one
// database read.
func (p *Provider) Refresh(ctx context.Context) error {
	_, err, _ := p.group.Do("catalog", func() (any, error) {
		return nil, p.refresh(ctx)
	})
	return err
}

func (p *Provider) refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "catalog.refresh")
	defer span.End()
	start := p.now()

	res := resilience.CallResult(p.breaker, ctx, func(ctx context.Context) fn.Result[domain.Catalog] {
		return fn.Retry(ctx, p.retry, func(ctx context.Context) fn.Result[domain.Catalog] {
			return fn.From(p.source.Catalog(ctx))
		})
	})
	cat, err := res.Unwrap()
	if p.metrics != nil {
		p.metrics.Duration.Since(start)
	}
	if err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.Failures.Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("catalog refresh failed, serving previous copy", "err", err)
		return err
	}

	// A read that outlives its caller or the provider is dropped.
	if err = ctx.Err(); err == nil {
		err = p.ctx.Err()
	}
	if err != nil {
		p.logger.Debug("catalog refresh discarded", "err", err)
		return err
	}

	snap := Snapshot{Catalog: cat, FetchedAt: p.now()}
	p.mu.Lock()
	p.snap, p.loaded, p.lastErr = snap, true, nil
	p.mu.Unlock()

	if p.cache != nil {
		if err := p.cache.Save(snap); err != nil {
			p.logger.Warn("catalog cache write failed", "err", err)
		}
	}
	if p.metrics != nil {
		p.metrics.Refreshes.Inc()
	}
	span.SetAttributes(
		attribute.Int("catalog.makes", len(cat.Vehicles)),
		attribute.Int("catalog.fixtures", len(cat.Fixtures)),
	)
	p.logger.Info("catalog refreshed", "makes", len(cat.Vehicles), "fixtures", len(cat.Fixtures))
	p.notify()
	return nil
}

// RefreshAsync starts a refresh bound to the provider's lifetime. It is a
// no-op after Close.
func (p *Provider) RefreshAsync() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if p.closed {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.Refresh(p.ctx)
	}()
}

// Subscribe returns a channel signalled after each successful refresh and a
// function that removes the subscription. Signals coalesce.
func (p *Provider) Subscribe() (<-chan struct{}, func()) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	ch := make(chan struct{}, 1)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	return ch, func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

func (p *Provider) notify() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Listen refreshes whenever another instance publishes a catalog change.
func (p *Provider) Listen(nc *nats.Conn) error {
	sub, err := natsutil.Subscribe(nc, SubjectChanged, p.onChanged)
	if err != nil {
		return err
	}
	p.subMu.Lock()
	p.natsSub = sub
	p.subMu.Unlock()
	return nil
}

func (p *Provider) onChanged(_ context.Context, ev ChangedEvent) {
	p.logger.Info("catalog change received", "kind", ev.Kind, "inserted", ev.Inserted, "deleted", ev.Deleted)
	p.RefreshAsync()
}

// Close stops background work and closes every subscriber channel.
func (p *Provider) Close() {
	p.subMu.Lock()
	if p.closed {
		p.subMu.Unlock()
		return
	}
	p.closed = true
	sub := p.natsSub
	p.subMu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	p.cancel()
	p.wg.Wait()

	p.subMu.Lock()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	p.subMu.Unlock()
}

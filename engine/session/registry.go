package session

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/motolight/motolight/engine/capacity"
	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/engine/report"
	"github.com/motolight/motolight/engine/wizard"
	"github.com/motolight/motolight/pkg/metrics"
)

// Defaults for Config.
const (
	DefaultTTL   = 2 * time.Hour
	DefaultLimit = 10000
)

// ReportLoader reads saved reports for permalink rehydration.
type ReportLoader interface {
	Get(ctx context.Context, id string) (domain.Report, error)
}

// Config sizes the registry.
type Config struct {
	// TTL is the idle time after which a session is torn down.
	TTL time.Duration
	// Limit caps live sessions; the least recently used is evicted first.
	Limit int
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Catalog    CatalogSource
	Calculator *capacity.Calculator
	Builder    *report.Builder
	Saver      ReportSaver
	Reports    ReportLoader
}

// Metrics are the registry's counters.
type Metrics struct {
	Created *metrics.Counter
	Evicted *metrics.Counter
	Active  *metrics.Gauge
}

// NewMetrics registers the session metrics on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		Created: reg.Counter("motolight_sessions_created_total", "Wizard sessions started"),
		Evicted: reg.Counter("motolight_sessions_evicted_total", "Wizard sessions torn down"),
		Active:  reg.Gauge("motolight_sessions_active", "Live wizard sessions"),
	}
}

// Registry holds live sessions keyed by id.
type Registry struct {
	sessions *expirable.LRU[string, *Session]
	deps     *deps
	reports  ReportLoader
	logger   *slog.Logger
	metrics  *Metrics

	stopWatch func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RegistryOption { return func(r *Registry) { r.logger = l } }

// WithMetrics enables session metrics.
func WithMetrics(m *Metrics) RegistryOption { return func(r *Registry) { r.metrics = m } }

// NewRegistry creates a registry and starts watching the catalog for changes.
func NewRegistry(cfg Config, d Deps, opts ...RegistryOption) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if d.Calculator == nil {
		d.Calculator = capacity.New(capacity.DefaultConfig())
	}
	if d.Builder == nil {
		d.Builder = report.NewBuilder()
	}
	r := &Registry{
		deps: &deps{
			catalog: d.Catalog,
			calc:    d.Calculator,
			builder: d.Builder,
			saver:   d.Saver,
		},
		reports: d.Reports,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.sessions = expirable.NewLRU[string, *Session](cfg.Limit, r.onEvict, cfg.TTL)

	changed, stop := d.Catalog.Subscribe()
	r.stopWatch = stop
	r.wg.Add(1)
	go r.watch(changed)
	return r
}

// onEvict runs with the cache lock held; it must not call back into the
// registry.
func (r *Registry) onEvict(id string, s *Session) {
	s.Close()
	if r.metrics != nil {
		r.metrics.Evicted.Inc()
		r.metrics.Active.Dec()
	}
	r.logger.Debug("session closed", "session_id", id)
}

func (r *Registry) watch(changed <-chan struct{}) {
	defer r.wg.Done()
	for range changed {
		for _, s := range r.sessions.Values() {
			s.reconcile()
		}
	}
}

// Create starts a session. A valid report permalink rehydrates the saved
// answers; otherwise valid make/model/year parameters preselect the vehicle.
// A report that cannot be loaded yields a fresh session.
func (r *Registry) Create(ctx context.Context, q url.Values) *Session {
	s := newSession(uuid.NewString(), r.deps, "")

	rehydrated := false
	if id, ok := domain.ParseReportID(q.Get(domain.ParamReport)); ok && r.reports != nil {
		rep, err := r.reports.Get(ctx, id)
		switch {
		case err == nil:
			s.Rehydrate(rep)
			rehydrated = true
		case errors.Is(err, report.ErrNotFound):
			r.logger.Info("permalink report not found", "report_id", id)
		default:
			r.logger.Warn("permalink report load failed", "report_id", id, "err", err)
		}
	}
	if !rehydrated {
		if key := domain.ParseVehicleParams(q); key.Make != "" {
			s.Apply(wizard.VehiclePatch(key))
		}
	}

	r.sessions.Add(s.id, s)
	if r.metrics != nil {
		r.metrics.Created.Inc()
		r.metrics.Active.Inc()
	}
	r.logger.Debug("session created", "session_id", s.id)
	return s
}

// Get returns a live session and restarts its idle timer.
func (r *Registry) Get(id string) (*Session, error) {
	s, ok := r.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	r.sessions.Add(id, s)
	return s, nil
}

// Delete tears a session down. It reports whether the session existed.
func (r *Registry) Delete(id string) bool {
	return r.sessions.Remove(id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int { return r.sessions.Len() }

// Close stops the catalog watch and tears down every session.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		r.stopWatch()
		r.wg.Wait()
		r.sessions.Purge()
	})
}

package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/pkg/natsutil"
)

// SubjectSaved is published after a report is stored.
const SubjectSaved = "motolight.report.saved"

// ErrSaveInFlight is returned when a save is attempted while another one for
// the same session is still running.
var ErrSaveInFlight = errors.New("report save already in progress")

var tracer = otel.Tracer("github.com/motolight/motolight/engine/report")

// SavedEvent announces a stored report.
type SavedEvent struct {
	ID        string    `json:"id"`
	VisitorID string    `json:"visitorId"`
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	Year      int       `json:"year"`
	Featured  string    `json:"featured,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Guard is the in-flight flag of one report-producing action. Concurrent
// attempts are rejected, not queued.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire claims the guard, reporting false if it is already held.
func (g *Guard) TryAcquire() bool { return g.busy.CompareAndSwap(false, true) }

// Release frees the guard.
func (g *Guard) Release() { g.busy.Store(false) }

// Busy reports whether a save is in flight.
func (g *Guard) Busy() bool { return g.busy.Load() }

// Saver renders and persists reports and announces them.
type Saver struct {
	store    Store
	renderer *Renderer
	events   natsutil.Publisher
	logger   *slog.Logger
}

// SaverOption configures a Saver.
type SaverOption func(*Saver)

// WithEvents publishes SavedEvent on p. A nil publisher disables events.
func WithEvents(p natsutil.Publisher) SaverOption {
	return func(s *Saver) { s.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SaverOption {
	return func(s *Saver) { s.logger = l }
}

// NewSaver creates a Saver on store.
func NewSaver(store Store, opts ...SaverOption) *Saver {
	s := &Saver{store: store, renderer: NewRenderer(), logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Save renders the report card, stores r and returns the stored report. A
// render failure is logged and the report is stored without HTML.
func (s *Saver) Save(ctx context.Context, r domain.Report) (domain.Report, error) {
	ctx, span := tracer.Start(ctx, "report.Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("report.id", r.ID),
		attribute.String("vehicle.make", r.Answers.Make),
	)

	html, err := s.renderer.HTML(r)
	if err != nil {
		s.logger.Warn("report render failed", "report_id", r.ID, "err", err)
	}
	r.HTML = html

	id, err := s.store.Save(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store")
		return domain.Report{}, fmt.Errorf("save report: %w", err)
	}
	r.ID = id

	if s.events != nil {
		ev := SavedEvent{
			ID:        r.ID,
			VisitorID: r.VisitorID,
			Make:      r.Answers.Make,
			Model:     r.Answers.Model,
			Year:      r.Answers.Year,
			CreatedAt: r.CreatedAt,
		}
		if r.FeaturedLight != nil {
			ev.Featured = r.FeaturedLight.ID
		}
		if err := natsutil.Publish(ctx, s.events, SubjectSaved, ev); err != nil {
			s.logger.Warn("report event publish failed", "report_id", r.ID, "err", err)
		}
	}
	s.logger.Info("report saved", "report_id", r.ID, "visitor_id", r.VisitorID)
	return r, nil
}

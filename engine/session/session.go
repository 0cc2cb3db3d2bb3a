// Package session owns live wizard sessions: one state machine per visitor,
// bound to the shared catalog copy, with idle expiry and teardown.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/motolight/motolight/engine/capacity"
	"github.com/motolight/motolight/engine/catalog"
	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/engine/report"
	"github.com/motolight/motolight/engine/wizard"
)

var (
	// ErrSessionClosed is returned when work finishes after its session was
	// torn down. The result has been dropped.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotFound is returned for unknown or expired session ids.
	ErrNotFound = errors.New("session not found")
)

// CatalogSource serves the current catalog copy.
type CatalogSource interface {
	Current() (domain.Catalog, catalog.Status)
	Subscribe() (<-chan struct{}, func())
}

// ReportSaver persists a built report.
type ReportSaver interface {
	Save(ctx context.Context, r domain.Report) (domain.Report, error)
}

// Recommendation cursor moves.
const (
	MovePrev  = "prev"
	MoveNext  = "next"
	MoveCycle = "cycle"
)

// Session is one visitor's wizard. All methods are safe for concurrent use.
type Session struct {
	id   string
	deps *deps

	mu       sync.Mutex
	machine  *wizard.Machine
	guard    report.Guard
	last     outcome
	revision uint64

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(id string, d *deps, visitorID string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:      id,
		deps:    d,
		machine: wizard.New(visitorID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Answers returns a copy of the current answers.
func (s *Session) Answers() domain.Answers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Answers()
}

// View derives the current view from the answers and the catalog copy.
func (s *Session) View() wizard.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// outcome is the part of a view that depends on the catalog.
type outcome struct {
	capacity domain.CapacitySnapshot
	ranked   int
	featured string
	noFit    bool
}

func outcomeOf(v wizard.View) outcome {
	o := outcome{capacity: v.Capacity, ranked: len(v.Recommendations), noFit: v.NoFit}
	if v.Featured != nil {
		o.featured = v.Featured.ID
	}
	return o
}

// viewLocked derives the view from the stored answers. The recommendation
// index is clamped in the view only; the machine keeps the raw cursor so it
// survives a shorter list.
func (s *Session) viewLocked() wizard.View {
	cat, _ := s.deps.catalog.Current()
	v := wizard.Evaluate(s.machine.Answers(), cat, s.deps.calc)
	if o := outcomeOf(v); o != s.last {
		s.last = o
		s.revision++
	}
	return v
}

// Revision increases whenever the derived capacity or recommendation changes,
// including after a new catalog copy arrives.
func (s *Session) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Apply merges a partial update. A nil patch resets to defaults.
func (s *Session) Apply(p *wizard.Patch) wizard.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.SetState(p)
	return s.viewLocked()
}

// GoToStep jumps to step n, clamped.
func (s *Session) GoToStep(n int) wizard.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.GoToStep(n)
	return s.viewLocked()
}

// Next advances one step when the current step is complete.
func (s *Session) Next() (wizard.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.machine.Next()
	return s.viewLocked(), err
}

// Back returns to the previous step.
func (s *Session) Back() wizard.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.Back()
	return s.viewLocked()
}

// AdjustExistingLoad changes the declared accessory load by delta.
func (s *Session) AdjustExistingLoad(delta int) wizard.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.AdjustExistingLoad(delta)
	return s.viewLocked()
}

// MoveRecommendation moves the cursor over the active list. Unknown moves
// leave it in place.
func (s *Session) MoveRecommendation(move string) wizard.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.viewLocked().Recommendations)
	switch move {
	case MovePrev:
		s.machine.PrevRecommendation(n)
	case MoveNext:
		s.machine.NextRecommendation(n)
	case MoveCycle:
		s.machine.CycleRecommendation(n)
	}
	return s.viewLocked()
}

// Rehydrate loads the answers of a saved report.
func (s *Session) Rehydrate(r domain.Report) wizard.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.Rehydrate(r)
	return s.viewLocked()
}

// reconcile re-runs the calculator and ranker against a new catalog copy.
func (s *Session) reconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewLocked()
}

// SaveReport builds a report from the current answers and saves it. Only one
// save runs at a time per session; a second attempt gets
// report.ErrSaveInFlight. The save is cancelled if the session closes, and a
// save that completes after close is dropped with ErrSessionClosed.
func (s *Session) SaveReport(ctx context.Context) (domain.Report, error) {
	if s.ctx.Err() != nil {
		return domain.Report{}, ErrSessionClosed
	}
	if !s.guard.TryAcquire() {
		return domain.Report{}, report.ErrSaveInFlight
	}
	defer s.guard.Release()

	s.mu.Lock()
	v := s.viewLocked()
	s.mu.Unlock()
	if !v.CanRevealResults {
		return domain.Report{}, wizard.ErrStepIncomplete
	}
	r := s.deps.builder.Build(v.Answers, v.Capacity, v.Featured)

	saveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	saved, err := s.deps.saver.Save(saveCtx, r)
	if s.ctx.Err() != nil {
		return domain.Report{}, ErrSessionClosed
	}
	if err != nil {
		return domain.Report{}, err
	}
	return saved, nil
}

// Saving reports whether a save is in flight.
func (s *Session) Saving() bool { return s.guard.Busy() }

// Close tears the session down and cancels in-flight work.
func (s *Session) Close() { s.cancel() }

// deps are shared by every session of a registry.
type deps struct {
	catalog CatalogSource
	calc    *capacity.Calculator
	builder *report.Builder
	saver   ReportSaver
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/motolight/motolight/engine/catalog"
	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/engine/report"
	"github.com/motolight/motolight/engine/session"
	"github.com/motolight/motolight/engine/wizard"
	"github.com/motolight/motolight/pkg/metrics"
	"github.com/motolight/motolight/pkg/mid"
	"github.com/motolight/motolight/pkg/natsutil"
)

const (
	maxBody      = 1 << 20
	maxAdminBody = 16 << 20
)

// CatalogView is the shared catalog copy the API reads from.
type CatalogView interface {
	Current() (domain.Catalog, catalog.Status)
	RefreshAsync()
}

// ReportReader serves saved reports.
type ReportReader interface {
	Get(ctx context.Context, id string) (domain.Report, error)
}

// AdminStore is the write side of the catalog.
type AdminStore interface {
	Dashboard(ctx context.Context) (catalog.Dashboard, error)
	CreateMake(ctx context.Context, name string) error
	CreateModel(ctx context.Context, makeName, model string) error
	CreateYear(ctx context.Context, makeName, model string, spec domain.YearSpec) error
	UpdateYear(ctx context.Context, makeName, model string, spec domain.YearSpec) error
	ReplaceVehicles(ctx context.Context, makes []domain.Make) (catalog.ReplaceResult, error)
	ReplaceFixtures(ctx context.Context, fixtures []domain.Fixture) (catalog.ReplaceResult, error)
}

// Server holds the HTTP handlers' collaborators.
type Server struct {
	Catalog  CatalogView
	Sessions *session.Registry
	Reports  ReportReader
	Sharer   *report.Sharer
	Admin    AdminStore
	// Events announces catalog changes to other instances. Nil disables it.
	Events  natsutil.Publisher
	Metrics *metrics.Registry
	Logger  *slog.Logger

	AdminToken      string
	ShareRatePerSec float64
	ShareBurst      int

	saveConflicts *metrics.Counter
	reportsSaved  *metrics.Counter
}

// Routes builds the API mux.
func (s *Server) Routes() http.Handler {
	if s.Metrics == nil {
		s.Metrics = metrics.New()
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	s.saveConflicts = s.Metrics.Counter("motolight_report_save_conflicts_total", "Report saves rejected while another was in flight")
	s.reportsSaved = s.Metrics.Counter("motolight_reports_saved_total", "Reports saved")

	share := mid.RateLimit(s.ShareRatePerSec, s.ShareBurst, 0, mid.VisitorKey)
	admin := mid.RequireBearer(s.AdminToken)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /metrics", s.Metrics.Handler())

	mux.HandleFunc("GET /api/vehicles", s.handleVehicles)
	mux.HandleFunc("GET /api/fixtures", s.handleFixtures)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.withSession(s.handleView))
	mux.HandleFunc("PATCH /api/sessions/{id}", s.withSession(s.handlePatch))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/step", s.withSession(s.handleStep))
	mux.HandleFunc("POST /api/sessions/{id}/next", s.withSession(s.handleNext))
	mux.HandleFunc("POST /api/sessions/{id}/back", s.withSession(s.handleBack))
	mux.HandleFunc("POST /api/sessions/{id}/existing-load", s.withSession(s.handleExistingLoad))
	mux.HandleFunc("POST /api/sessions/{id}/recommendation/{move}", s.withSession(s.handleMove))
	mux.Handle("POST /api/sessions/{id}/report", share(s.withSession(s.handleSaveReport)))

	mux.HandleFunc("GET /api/reports/{id}", s.handleGetReport)
	mux.Handle("GET /api/reports/{id}/share", share(http.HandlerFunc(s.handleShare)))

	mux.Handle("GET /api/admin/dashboard", admin(http.HandlerFunc(s.handleDashboard)))
	mux.Handle("POST /api/admin/makes", admin(http.HandlerFunc(s.handleCreateMake)))
	mux.Handle("POST /api/admin/models", admin(http.HandlerFunc(s.handleCreateModel)))
	mux.Handle("POST /api/admin/years", admin(http.HandlerFunc(s.handleCreateYear)))
	mux.Handle("PUT /api/admin/years", admin(http.HandlerFunc(s.handleUpdateYear)))
	mux.Handle("PUT /api/admin/vehicles", admin(http.HandlerFunc(s.handleReplaceVehicles)))
	mux.Handle("PUT /api/admin/fixtures", admin(http.HandlerFunc(s.handleReplaceFixtures)))
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	mid.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Catalog ---

type vehiclesResponse struct {
	Makes     []domain.Make `json:"makes"`
	Stale     bool          `json:"stale"`
	FetchedAt time.Time     `json:"fetchedAt"`
}

type fixturesResponse struct {
	Fixtures  []domain.Fixture `json:"fixtures"`
	Stale     bool             `json:"stale"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

func (s *Server) handleVehicles(w http.ResponseWriter, _ *http.Request) {
	cat, st := s.Catalog.Current()
	mid.WriteJSON(w, http.StatusOK, vehiclesResponse{Makes: nonNil(cat.Vehicles), Stale: st.Stale, FetchedAt: st.FetchedAt})
}

func (s *Server) handleFixtures(w http.ResponseWriter, _ *http.Request) {
	cat, st := s.Catalog.Current()
	mid.WriteJSON(w, http.StatusOK, fixturesResponse{Fixtures: nonNil(cat.Fixtures), Stale: st.Stale, FetchedAt: st.FetchedAt})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// --- Sessions ---

type sessionResponse struct {
	ID       string `json:"id"`
	Saving   bool   `json:"saving"`
	Revision uint64 `json:"revision"`
	wizard.View
}

func writeView(w http.ResponseWriter, status int, sess *session.Session, v wizard.View) {
	mid.WriteJSON(w, status, sessionResponse{ID: sess.ID(), Saving: sess.Saving(), Revision: sess.Revision(), View: v})
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Sessions.Get(r.PathValue("id"))
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		h(w, r, sess)
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.Sessions.Create(r.Context(), r.URL.Query())
	writeView(w, http.StatusCreated, sess, sess.View())
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeView(w, http.StatusOK, sess, sess.View())
}

// handlePatch merges a partial answer update. A JSON null body resets the
// session to its defaults.
func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var p *wizard.Patch
	if !decode(w, r, maxBody, &p) {
		return
	}
	writeView(w, http.StatusOK, sess, sess.Apply(p))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.Sessions.Delete(r.PathValue("id")) {
		s.writeErr(w, r, session.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type stepRequest struct {
	Step int `json:"step"`
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req stepRequest
	if !decode(w, r, maxBody, &req) {
		return
	}
	writeView(w, http.StatusOK, sess, sess.GoToStep(req.Step))
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	v, err := sess.Next()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeView(w, http.StatusOK, sess, v)
}

func (s *Server) handleBack(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeView(w, http.StatusOK, sess, sess.Back())
}

type loadRequest struct {
	Delta int `json:"delta"`
}

func (s *Server) handleExistingLoad(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req loadRequest
	if !decode(w, r, maxBody, &req) {
		return
	}
	writeView(w, http.StatusOK, sess, sess.AdjustExistingLoad(req.Delta))
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	switch move := r.PathValue("move"); move {
	case session.MovePrev, session.MoveNext, session.MoveCycle:
		writeView(w, http.StatusOK, sess, sess.MoveRecommendation(move))
	default:
		mid.WriteError(w, http.StatusNotFound, "unknown move")
	}
}

// --- Reports ---

type reportResponse struct {
	Report    domain.Report `json:"report"`
	Code      string        `json:"code"`
	Permalink string        `json:"permalink"`
	ShareURL  string        `json:"shareUrl"`
}

func (s *Server) reportBody(rep domain.Report) reportResponse {
	return reportResponse{
		Report:    rep,
		Code:      report.Code(rep.ID),
		Permalink: s.Sharer.Permalink(rep.ID),
		ShareURL:  s.Sharer.URL(rep),
	}
}

func (s *Server) handleSaveReport(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	rep, err := sess.SaveReport(r.Context())
	if err != nil {
		if errors.Is(err, report.ErrSaveInFlight) {
			s.saveConflicts.Inc()
		}
		s.writeErr(w, r, err)
		return
	}
	s.reportsSaved.Inc()
	mid.WriteJSON(w, http.StatusCreated, s.reportBody(rep))
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Reports.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	mid.WriteJSON(w, http.StatusOK, s.reportBody(rep))
}

type shareResponse struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Reports.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	mid.WriteJSON(w, http.StatusOK, shareResponse{Text: s.Sharer.Text(rep), URL: s.Sharer.URL(rep)})
}

// --- Admin ---

type makeRequest struct {
	Name string `json:"name"`
}

type modelRequest struct {
	Make  string `json:"make"`
	Model string `json:"model"`
}

type yearRequest struct {
	Make  string          `json:"make"`
	Model string          `json:"model"`
	Spec  domain.YearSpec `json:"spec"`
}

type replaceResponse struct {
	Inserted int `json:"inserted"`
	Deleted  int `json:"deleted"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.Admin.Dashboard(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	mid.WriteJSON(w, http.StatusOK, d)
}

func (s *Server) handleCreateMake(w http.ResponseWriter, r *http.Request) {
	var req makeRequest
	if !decode(w, r, maxBody, &req) {
		return
	}
	s.adminWrite(w, r, catalog.KindVehicles, func(ctx context.Context) error {
		return s.Admin.CreateMake(ctx, req.Name)
	})
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if !decode(w, r, maxBody, &req) {
		return
	}
	s.adminWrite(w, r, catalog.KindVehicles, func(ctx context.Context) error {
		return s.Admin.CreateModel(ctx, req.Make, req.Model)
	})
}

func (s *Server) handleCreateYear(w http.ResponseWriter, r *http.Request) {
	var req yearRequest
	if !decode(w, r, maxBody, &req) {
		return
	}
	s.adminWrite(w, r, catalog.KindVehicles, func(ctx context.Context) error {
		return s.Admin.CreateYear(ctx, req.Make, req.Model, req.Spec)
	})
}

func (s *Server) handleUpdateYear(w http.ResponseWriter, r *http.Request) {
	var req yearRequest
	if !decode(w, r, maxBody, &req) {
		return
	}
	s.adminWrite(w, r, catalog.KindVehicles, func(ctx context.Context) error {
		return s.Admin.UpdateYear(ctx, req.Make, req.Model, req.Spec)
	})
}

func (s *Server) handleReplaceVehicles(w http.ResponseWriter, r *http.Request) {
	var makes []domain.Make
	if !decode(w, r, maxAdminBody, &makes) {
		return
	}
	res, err := s.Admin.ReplaceVehicles(r.Context(), makes)
	s.replaced(w, r, catalog.KindVehicles, res, err)
}

func (s *Server) handleReplaceFixtures(w http.ResponseWriter, r *http.Request) {
	var fixtures []domain.Fixture
	if !decode(w, r, maxAdminBody, &fixtures) {
		return
	}
	res, err := s.Admin.ReplaceFixtures(r.Context(), fixtures)
	s.replaced(w, r, catalog.KindFixtures, res, err)
}

func (s *Server) adminWrite(w http.ResponseWriter, r *http.Request, kind string, write func(context.Context) error) {
	if err := write(r.Context()); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.changed(r.Context(), catalog.ChangedEvent{Kind: kind, Inserted: 1})
	mid.WriteJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) replaced(w http.ResponseWriter, r *http.Request, kind string, res catalog.ReplaceResult, err error) {
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.changed(r.Context(), catalog.ChangedEvent{Kind: kind, Inserted: res.Inserted, Deleted: res.Deleted})
	mid.WriteJSON(w, http.StatusOK, replaceResponse(res))
}

// changed refreshes the local copy and tells other instances to do the same.
func (s *Server) changed(ctx context.Context, ev catalog.ChangedEvent) {
	s.Catalog.RefreshAsync()
	if s.Events == nil {
		return
	}
	ev.At = time.Now().UTC()
	if err := natsutil.Publish(ctx, s.Events, catalog.SubjectChanged, ev); err != nil {
		s.Logger.Warn("catalog change publish failed", "kind", ev.Kind, "err", err)
	}
}

// --- Helpers ---

func decode(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(dst)
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) {
		mid.WriteError(w, http.StatusBadRequest, "request body required")
		return false
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		mid.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	mid.WriteError(w, http.StatusBadRequest, "invalid request body")
	return false
}

// writeErr maps domain errors to HTTP responses. Anything unrecognised is a
// storage failure the client may retry.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		mid.WriteJSON(w, http.StatusUnprocessableEntity, mid.ErrorBody{Error: ve.Wrapped.Error(), Field: ve.Field})
	case errors.Is(err, domain.ErrInvalidVehicleSpec), errors.Is(err, domain.ErrInvalidFixture):
		mid.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, session.ErrNotFound), errors.Is(err, report.ErrNotFound):
		mid.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, wizard.ErrStepIncomplete), errors.Is(err, report.ErrSaveInFlight):
		mid.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrSessionClosed):
		mid.WriteError(w, http.StatusGone, err.Error())
	default:
		s.Logger.Error("request failed", "path", r.URL.Path, "err", err)
		w.Header().Set("Retry-After", "5")
		mid.WriteError(w, http.StatusServiceUnavailable, "temporarily unavailable, try again")
	}
}

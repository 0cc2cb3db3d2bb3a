package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motolight/motolight/engine/catalog"
	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/engine/report"
	"github.com/motolight/motolight/engine/session"
	"github.com/motolight/motolight/pkg/metrics"
)

const testToken = "s3cret"

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- Fakes ---

type fakeCatalog struct {
	cat       domain.Catalog
	stale     bool
	refreshes atomic.Int32
	ch        chan struct{}
	once      sync.Once
}

func (f *fakeCatalog) Current() (domain.Catalog, catalog.Status) {
	return f.cat, catalog.Status{Loaded: true, Stale: f.stale}
}

func (f *fakeCatalog) Subscribe() (<-chan struct{}, func()) {
	return f.ch, func() { f.once.Do(func() { close(f.ch) }) }
}

func (f *fakeCatalog) RefreshAsync() { f.refreshes.Add(1) }

type memReports struct {
	mu   sync.Mutex
	byID map[string]domain.Report
	err  error
}

func (m *memReports) Save(_ context.Context, r domain.Report) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.byID[r.ID] = r
	return r.ID, nil
}

func (m *memReports) Get(_ context.Context, id string) (domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Report{}, m.err
	}
	r, ok := m.byID[id]
	if !ok {
		return domain.Report{}, report.ErrNotFound
	}
	return r, nil
}

type fakeAdmin struct {
	makes []string
	err   error
}

func (f *fakeAdmin) Dashboard(context.Context) (catalog.Dashboard, error) {
	if f.err != nil {
		return catalog.Dashboard{}, f.err
	}
	return catalog.Dashboard{TotalYears: 1, ManualCoverage: 100}, nil
}

func (f *fakeAdmin) CreateMake(_ context.Context, name string) error {
	if f.err != nil {
		return f.err
	}
	for _, m := range f.makes {
		if strings.EqualFold(m, name) {
			return domain.NewValidationError("make", name, domain.ErrDuplicateMake)
		}
	}
	f.makes = append(f.makes, name)
	return nil
}

func (f *fakeAdmin) CreateModel(context.Context, string, string) error { return f.err }

func (f *fakeAdmin) CreateYear(_ context.Context, makeName, _ string, _ domain.YearSpec) error {
	if makeName == "Nope" {
		return domain.NewValidationError("make", makeName, domain.ErrMakeNotFound)
	}
	return f.err
}

func (f *fakeAdmin) UpdateYear(context.Context, string, string, domain.YearSpec) error {
	return domain.NewValidationError("year", "1999", domain.ErrYearNotFound)
}

func (f *fakeAdmin) ReplaceVehicles(_ context.Context, makes []domain.Make) (catalog.ReplaceResult, error) {
	if err := domain.ValidateVehicles(makes); err != nil {
		return catalog.ReplaceResult{}, err
	}
	return catalog.ReplaceResult{Inserted: len(makes), Deleted: 4}, nil
}

func (f *fakeAdmin) ReplaceFixtures(_ context.Context, fixtures []domain.Fixture) (catalog.ReplaceResult, error) {
	return catalog.ReplaceResult{Inserted: len(fixtures)}, nil
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []*nats.Msg
}

func (p *capturePublisher) PublishMsg(m *nats.Msg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return nil
}

// --- Harness ---

type harness struct {
	t       *testing.T
	handler http.Handler
	catalog *fakeCatalog
	reports *memReports
	admin   *fakeAdmin
	events  *capturePublisher
	metrics *metrics.Registry
}

func testCatalog() domain.Catalog {
	return domain.Catalog{
		Vehicles: []domain.Make{{Make: "Honda", Models: []domain.Model{
			{Name: "CB350", Years: []domain.YearSpec{{Year: 2021, AlternatorOutput: 300, StockLoad: 200}}},
		}}},
		Fixtures: []domain.Fixture{
			{ID: "a1-amber", Name: "Aurora Amber", LoadWatts: 18, Rating: 4.1},
			{ID: "m1", Name: "Mini", LoadWatts: 10, Rating: 3.9},
		},
	}
}

func newHarness(t *testing.T, burst int) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		catalog: &fakeCatalog{cat: testCatalog(), ch: make(chan struct{}, 1)},
		reports: &memReports{byID: map[string]domain.Report{}},
		admin:   &fakeAdmin{makes: []string{"Honda"}},
		events:  &capturePublisher{},
		metrics: metrics.New(),
	}
	reg := session.NewRegistry(session.Config{}, session.Deps{
		Catalog: h.catalog,
		Saver:   report.NewSaver(h.reports, report.WithLogger(quietLogger)),
		Reports: h.reports,
	}, session.WithLogger(quietLogger))
	t.Cleanup(reg.Close)

	sharer, err := report.NewSharer("https://motolight.app/", "https://wa.me/?text=%s")
	require.NoError(t, err)

	srv := &Server{
		Catalog:         h.catalog,
		Sessions:        reg,
		Reports:         h.reports,
		Sharer:          sharer,
		Admin:           h.admin,
		Events:          h.events,
		Metrics:         h.metrics,
		Logger:          quietLogger,
		AdminToken:      testToken,
		ShareRatePerSec: 0.001,
		ShareBurst:      burst,
	}
	h.handler = srv.Routes()
	return h
}

func (h *harness) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(h.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

type viewBody struct {
	ID                string                  `json:"id"`
	Revision          uint64                  `json:"revision"`
	Answers           domain.Answers          `json:"answers"`
	VehicleConfigured bool                    `json:"vehicleConfigured"`
	CanRevealResults  bool                    `json:"canRevealResults"`
	Capacity          domain.CapacitySnapshot `json:"capacity"`
	Recommendations   []domain.Fixture        `json:"recommendations"`
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func (h *harness) newSession(query string) viewBody {
	h.t.Helper()
	rec := h.do("POST", "/api/sessions"+query, nil)
	require.Equal(h.t, http.StatusCreated, rec.Code)
	return decodeBody[viewBody](h.t, rec)
}

// --- Tests ---

func TestHealth(t *testing.T) {
	h := newHarness(t, 5)
	rec := h.do("GET", "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCatalogEndpoints(t *testing.T) {
	h := newHarness(t, 5)
	h.catalog.stale = true

	rec := h.do("GET", "/api/vehicles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeBody[vehiclesResponse](t, rec)
	assert.True(t, v.Stale)
	require.Len(t, v.Makes, 1)
	assert.Equal(t, "Honda", v.Makes[0].Make)

	h.catalog.cat.Fixtures = nil
	rec = h.do("GET", "/api/fixtures", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fixtures":[]`)
}

func TestSessionFlow_SaveAndFetchReport(t *testing.T) {
	h := newHarness(t, 5)
	s := h.newSession("?make=Honda&model=CB350&year=2021")
	assert.True(t, s.VehicleConfigured)
	assert.Equal(t, 2021, s.Answers.Year)
	assert.False(t, s.CanRevealResults)

	rec := h.do("PATCH", "/api/sessions/"+s.ID, `{"checkedUsage":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeBody[viewBody](t, rec)
	assert.True(t, v.CanRevealResults)
	assert.Equal(t, 100, v.Capacity.SafeMargin)
	assert.NotEmpty(t, v.Recommendations)
	assert.Greater(t, v.Revision, s.Revision)

	rec = h.do("POST", "/api/sessions/"+s.ID+"/report", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decodeBody[reportResponse](t, rec)
	assert.Equal(t, "Honda", saved.Report.Answers.Make)
	assert.Len(t, saved.Code, report.CodeLength)
	assert.Equal(t, "https://motolight.app/?report="+saved.Report.ID, saved.Permalink)
	assert.True(t, strings.HasPrefix(saved.ShareURL, "https://wa.me/?text="))
	assert.Contains(t, saved.Report.HTML, "Honda")

	rec = h.do("GET", "/api/reports/"+saved.Report.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[reportResponse](t, rec)
	assert.Equal(t, saved.Report.ID, got.Report.ID)

	// The permalink rehydrates a new session on the results step.
	again := h.newSession("?report=" + saved.Report.ID)
	assert.NotEqual(t, s.ID, again.ID)
	assert.Equal(t, "CB350", again.Answers.Model)
	assert.True(t, again.CanRevealResults)

	assert.Contains(t, h.metrics.Render(), "motolight_reports_saved_total 1")
}

func TestSaveReport_GateClosed(t *testing.T) {
	h := newHarness(t, 5)
	s := h.newSession("")
	rec := h.do("POST", "/api/sessions/"+s.ID+"/report", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, h.reports.byID)
}

func TestSaveReport_StoreFailureIsRetryable(t *testing.T) {
	h := newHarness(t, 5)
	s := h.newSession("?make=Honda&model=CB350&year=2021")
	h.do("PATCH", "/api/sessions/"+s.ID, `{"checkedUsage":true}`)
	h.reports.err = errors.New("neo4j unavailable")

	rec := h.do("POST", "/api/sessions/"+s.ID+"/report", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "neo4j")
}

func TestPatch_NullResets(t *testing.T) {
	h := newHarness(t, 5)
	s := h.newSession("?make=Honda")
	require.Equal(t, "Honda", s.Answers.Make)

	rec := h.do("PATCH", "/api/sessions/"+s.ID, "null")
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeBody[viewBody](t, rec)
	assert.Empty(t, v.Answers.Make)
	assert.Equal(t, s.Answers.VisitorID, v.Answers.VisitorID)
	assert.Equal(t, domain.BeamAmber, v.Answers.BeamColor)
}

func TestPatch_BadBodies(t *testing.T) {
	h := newHarness(t, 5)
	s := h.newSession("")
	assert.Equal(t, http.StatusBadRequest, h.do("PATCH", "/api/sessions/"+s.ID, "{not json").Code)
	assert.Equal(t, http.StatusBadRequest, h.do("PATCH", "/api/sessions/"+s.ID, nil).Code)
}

func TestNavigation(t *testing.T) {
	h := newHarness(t, 5)
	s := h.newSession("")
	base := "/api/sessions/" + s.ID

	rec := h.do("POST", base+"/step", `{"step":99}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decodeBody[viewBody](t, rec).Answers.Step)

	rec = h.do("POST", base+"/step", `{"step":3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do("POST", base+"/next", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do("POST", base+"/back", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[viewBody](t, rec).Answers.Step)

	rec = h.do("POST", base+"/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decodeBody[viewBody](t, rec).Answers.Step)
}

func TestExistingLoadAndCursor(t *testing.T) {
	h := newHarness(t, 5)
	s := h.newSession("?make=Honda&model=CB350&year=2021")
	base := "/api/sessions/" + s.ID
	h.do("PATCH", base, `{"checkedUsage":true}`)

	rec := h.do("POST", base+"/existing-load", `{"delta":-10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeBody[viewBody](t, rec).Answers.ExistingLoad)

	rec = h.do("POST", base+"/existing-load", `{"delta":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, decodeBody[viewBody](t, rec).Answers.ExistingLoad)

	rec = h.do("POST", base+"/recommendation/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[viewBody](t, rec).Answers.RecommendationIndex)

	rec = h.do("POST", base+"/recommendation/cycle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeBody[viewBody](t, rec).Answers.RecommendationIndex)

	assert.Equal(t, http.StatusNotFound, h.do("POST", base+"/recommendation/sideways", nil).Code)
}

func TestUnknownAndDeletedSessions(t *testing.T) {
	h := newHarness(t, 5)
	assert.Equal(t, http.StatusNotFound, h.do("GET", "/api/sessions/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do("DELETE", "/api/sessions/nope", nil).Code)

	s := h.newSession("")
	assert.Equal(t, http.StatusOK, h.do("GET", "/api/sessions/"+s.ID, nil).Code)
	assert.Equal(t, http.StatusNoContent, h.do("DELETE", "/api/sessions/"+s.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do("GET", "/api/sessions/"+s.ID, nil).Code)
}

func TestReports_NotFound(t *testing.T) {
	h := newHarness(t, 5)
	assert.Equal(t, http.StatusNotFound, h.do("GET", "/api/reports/missing-report", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do("GET", "/api/reports/missing-report/share", nil).Code)
}

func TestShare_RateLimitedPerVisitor(t *testing.T) {
	h := newHarness(t, 1)
	h.reports.byID["abcdefgh-1234"] = domain.Report{
		ID:      "abcdefgh-1234",
		Answers: domain.Answers{Make: "Honda", Model: "CB350", Year: 2021},
	}

	rec := h.do("GET", "/api/reports/abcdefgh-1234/share", nil, "X-Visitor-ID", "v1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[shareResponse](t, rec)
	assert.Contains(t, body.Text, "Vehicle: Honda CB350 2021")
	assert.Contains(t, body.Text, "https://motolight.app/?report=abcdefgh-1234")

	assert.Equal(t, http.StatusTooManyRequests,
		h.do("GET", "/api/reports/abcdefgh-1234/share", nil, "X-Visitor-ID", "v1").Code)
	assert.Equal(t, http.StatusOK,
		h.do("GET", "/api/reports/abcdefgh-1234/share", nil, "X-Visitor-ID", "v2").Code)
}

func TestAdmin_RequiresToken(t *testing.T) {
	h := newHarness(t, 5)
	assert.Equal(t, http.StatusUnauthorized, h.do("GET", "/api/admin/dashboard", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		h.do("GET", "/api/admin/dashboard", nil, "Authorization", "Bearer wrong").Code)

	rec := h.do("GET", "/api/admin/dashboard", nil, "Authorization", "Bearer "+testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, decodeBody[catalog.Dashboard](t, rec).ManualCoverage)
}

func TestAdmin_CreateMake(t *testing.T) {
	h := newHarness(t, 5)
	auth := []string{"Authorization", "Bearer " + testToken}

	rec := h.do("POST", "/api/admin/makes", makeRequest{Name: "honda"}, auth...)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody[struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}](t, rec)
	assert.Equal(t, "make", body.Field)
	assert.Equal(t, domain.ErrDuplicateMake.Error(), body.Error)
	assert.Zero(t, h.catalog.refreshes.Load())
	assert.Empty(t, h.events.msgs)

	rec = h.do("POST", "/api/admin/makes", makeRequest{Name: "Yamaha"}, auth...)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 1, h.catalog.refreshes.Load())
	require.Len(t, h.events.msgs, 1)
	assert.Equal(t, catalog.SubjectChanged, h.events.msgs[0].Subject)

	var ev catalog.ChangedEvent
	require.NoError(t, json.Unmarshal(h.events.msgs[0].Data, &ev))
	assert.Equal(t, catalog.KindVehicles, ev.Kind)
}

func TestAdmin_YearErrors(t *testing.T) {
	h := newHarness(t, 5)
	auth := []string{"Authorization", "Bearer " + testToken}

	rec := h.do("POST", "/api/admin/years", yearRequest{Make: "Nope", Model: "X", Spec: domain.YearSpec{Year: 2020}}, auth...)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do("PUT", "/api/admin/years", yearRequest{Make: "Honda", Model: "CB350", Spec: domain.YearSpec{Year: 1999}}, auth...)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"year"`)

	h.admin.err = errors.New("connection reset")
	rec = h.do("POST", "/api/admin/years", yearRequest{Make: "Honda", Model: "CB350", Spec: domain.YearSpec{Year: 2024}}, auth...)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdmin_ReplaceVehicles(t *testing.T) {
	h := newHarness(t, 5)
	auth := []string{"Authorization", "Bearer " + testToken}

	rec := h.do("PUT", "/api/admin/vehicles", `[{"make":"Honda","models":[]},{"make":"Yamaha","models":[]}]`, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"inserted":2,"deleted":4}`, rec.Body.String())
	require.Len(t, h.events.msgs, 1)

	var ev catalog.ChangedEvent
	require.NoError(t, json.Unmarshal(h.events.msgs[0].Data, &ev))
	assert.Equal(t, 2, ev.Inserted)
	assert.Equal(t, 4, ev.Deleted)

	rec = h.do("PUT", "/api/admin/vehicles", `[{"make":"Honda","models":[]},{"make":"honda","models":[]}]`, auth...)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do("PUT", "/api/admin/fixtures", `{"id":"x"}`, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, 5)
	rec := h.do("GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# TYPE motolight_reports_saved_total counter")
}

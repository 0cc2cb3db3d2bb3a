package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/pkg/repo"
)

// --- Mock infrastructure ---

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func newMockResult(records ...*neo4j.Record) *mockResult {
	return &mockResult{records: records}
}

func (m *mockResult) Next(_ context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }

func record(keys []string, values ...any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

func countRecord(makes, models, years int64) *neo4j.Record {
	return record([]string{"makes", "models", "years"}, makes, models, years)
}

type mockSession struct {
	results []*mockResult
	errAt   int
	err     error
	cyphers []string
	params  []map[string]any
	writes  int
	closed  int
}

func newMockSession(results ...*mockResult) *mockSession {
	return &mockSession{results: results, errAt: -1}
}

func (s *mockSession) Run(_ context.Context, cypher string, params map[string]any) (CypherResult, error) {
	n := len(s.cyphers)
	s.cyphers = append(s.cyphers, cypher)
	s.params = append(s.params, params)
	if n == s.errAt {
		return nil, s.err
	}
	if n < len(s.results) && s.results[n] != nil {
		return s.results[n], nil
	}
	return newMockResult(), nil
}

func (s *mockSession) ExecuteWrite(_ context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	s.writes++
	return work(s)
}

func (s *mockSession) Close(_ context.Context) error {
	s.closed++
	return nil
}

type mockOpener struct {
	session *mockSession
	opened  int
}

func (o *mockOpener) OpenSession(_ context.Context) CypherSession {
	o.opened++
	return o.session
}

type fakeFixtures struct {
	list []domain.Fixture
	err  error
	opts repo.ListOpts
}

func (f *fakeFixtures) Get(_ context.Context, id string) (domain.Fixture, error) {
	for _, x := range f.list {
		if x.ID == id {
			return x, nil
		}
	}
	return domain.Fixture{}, repo.ErrNotFound
}

func (f *fakeFixtures) List(_ context.Context, opts repo.ListOpts) ([]domain.Fixture, error) {
	f.opts = opts
	return f.list, f.err
}

func (f *fakeFixtures) Create(_ context.Context, x domain.Fixture) (domain.Fixture, error) {
	f.list = append(f.list, x)
	return x, nil
}

func newTestStore(sess *mockSession) (*Store, *mockOpener, *fakeFixtures) {
	op := &mockOpener{session: sess}
	fx := &fakeFixtures{}
	return NewStoreWithOpener(op, fx), op, fx
}

// --- Tests ---

func TestListVehicles_GroupsRows(t *testing.T) {
	keys := []string{"make", "model", "year"}
	y2020 := map[string]any{"year": int64(2020), "alternator_output": int64(300), "stock_load": int64(200)}
	y2021 := map[string]any{"year": int64(2021), "alternator_output": int64(310), "stock_load": int64(210),
		"stock_load_approx": true, "manual_url": "https://example.com/m.pdf"}
	sess := newMockSession(newMockResult(
		record(keys, "Honda", "CB350", y2020),
		record(keys, "Honda", "CB350", y2021),
		record(keys, "Honda", "Shine", nil),
		record(keys, "Royal Enfield", nil, nil),
	))
	s, _, _ := newTestStore(sess)

	got, err := s.ListVehicles(context.Background())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	want := []domain.Make{
		{Make: "Honda", Models: []domain.Model{
			{Name: "CB350", Years: []domain.YearSpec{
				{Year: 2020, AlternatorOutput: 300, StockLoad: 200},
				{Year: 2021, AlternatorOutput: 310, StockLoad: 210, StockLoadApprox: true, ManualURL: "https://example.com/m.pdf"},
			}},
			{Name: "Shine", Years: []domain.YearSpec{}},
		}},
		{Make: "Royal Enfield", Models: []domain.Model{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("vehicles mismatch (-want +got):\n%s", diff)
	}
	if sess.closed != 1 {
		t.Fatalf("expected session closed once, got %d", sess.closed)
	}
}

func TestListVehicles_EmptyAndError(t *testing.T) {
	s, _, _ := newTestStore(newMockSession())
	got, err := s.ListVehicles(context.Background())
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %v %v", got, err)
	}

	dbErr := errors.New("connection refused")
	sess := newMockSession()
	sess.errAt, sess.err = 0, dbErr
	s, _, _ = newTestStore(sess)
	if _, err := s.ListVehicles(context.Background()); !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestListFixtures_OrderedByName(t *testing.T) {
	s, _, fx := newTestStore(newMockSession())
	got, err := s.ListFixtures(context.Background())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %v", got)
	}
	if fx.opts.OrderBy != "name" {
		t.Fatalf("expected order by name, got %q", fx.opts.OrderBy)
	}

	fx.err = errors.New("boom")
	if _, err := s.ListFixtures(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestCatalog_CombinesBoth(t *testing.T) {
	keys := []string{"make", "model", "year"}
	s, _, fx := newTestStore(newMockSession(newMockResult(record(keys, "Honda", nil, nil))))
	fx.list = []domain.Fixture{{ID: "x1", Name: "X1"}}
	cat, err := s.Catalog(context.Background())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(cat.Vehicles) != 1 || len(cat.Fixtures) != 1 {
		t.Fatalf("unexpected catalog: %+v", cat)
	}
}

func TestReplaceVehicles(t *testing.T) {
	sess := newMockSession(newMockResult(record([]string{"deleted"}, int64(3))))
	s, _, _ := newTestStore(sess)
	makes := []domain.Make{
		{Make: "Honda", Models: []domain.Model{{Name: "CB350", Years: []domain.YearSpec{{Year: 2021, AlternatorOutput: 300}}}}},
		{Make: "Royal Enfield"},
	}

	res, err := s.ReplaceVehicles(context.Background(), makes)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if res != (ReplaceResult{Inserted: 2, Deleted: 3}) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if sess.writes != 1 || len(sess.cyphers) != 2 {
		t.Fatalf("expected one transaction with two statements, got %d/%d", sess.writes, len(sess.cyphers))
	}
	if !strings.Contains(sess.cyphers[0], "DETACH DELETE") {
		t.Fatalf("first statement should delete, got %s", sess.cyphers[0])
	}
	rows := sess.params[1]["makes"].([]map[string]any)
	if rows[1]["key"] != "royal enfield" {
		t.Fatalf("expected lower-case key, got %v", rows[1]["key"])
	}
	models := rows[0]["models"].([]map[string]any)
	years := models[0]["years"].([]map[string]any)
	if years[0]["alternator_output"] != 300 {
		t.Fatalf("unexpected year props: %v", years[0])
	}
}

func TestReplaceVehicles_EmptyOnlyDeletes(t *testing.T) {
	sess := newMockSession()
	s, _, _ := newTestStore(sess)
	res, err := s.ReplaceVehicles(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if res != (ReplaceResult{}) || len(sess.cyphers) != 1 {
		t.Fatalf("unexpected: %+v, %d statements", res, len(sess.cyphers))
	}
}

func TestReplaceVehicles_InvalidNeverTouchesDB(t *testing.T) {
	s, op, _ := newTestStore(newMockSession())
	_, err := s.ReplaceVehicles(context.Background(), []domain.Make{{Make: "Honda"}, {Make: "HONDA"}})
	if !errors.Is(err, domain.ErrDuplicateMake) {
		t.Fatalf("expected ErrDuplicateMake, got %v", err)
	}
	if op.opened != 0 {
		t.Fatal("session must not be opened for invalid input")
	}
}

func TestReplaceFixtures(t *testing.T) {
	sess := newMockSession(newMockResult(record([]string{"deleted"}, int64(1))))
	s, _, _ := newTestStore(sess)
	res, err := s.ReplaceFixtures(context.Background(), []domain.Fixture{
		{ID: "x1", Name: "X1", LoadWatts: 18},
		{ID: "x2", Name: "X2", LoadWatts: 40},
	})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if res != (ReplaceResult{Inserted: 2, Deleted: 1}) {
		t.Fatalf("unexpected result: %+v", res)
	}
	rows := sess.params[1]["fixtures"].([]map[string]any)
	if rows[1]["load_watts"] != 40 {
		t.Fatalf("unexpected fixture props: %v", rows[1])
	}

	_, err = s.ReplaceFixtures(context.Background(), []domain.Fixture{{ID: "a", Name: "A"}, {ID: "a", Name: "B"}})
	if !errors.Is(err, domain.ErrDuplicateFixture) {
		t.Fatalf("expected ErrDuplicateFixture, got %v", err)
	}
}

func TestReplaceFixtures_TxError(t *testing.T) {
	sess := newMockSession()
	sess.errAt, sess.err = 1, errors.New("tx failed")
	s, _, _ := newTestStore(sess)
	_, err := s.ReplaceFixtures(context.Background(), []domain.Fixture{{ID: "a", Name: "A"}})
	if err == nil || !strings.Contains(err.Error(), "replace fixtures") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestCreateMake(t *testing.T) {
	sess := newMockSession(newMockResult(countRecord(0, 0, 0)))
	s, _, _ := newTestStore(sess)
	if err := s.CreateMake(context.Background(), "  Honda "); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(sess.cyphers) != 2 {
		t.Fatalf("expected lookup + create, got %d", len(sess.cyphers))
	}
	if sess.params[0]["make"] != "honda" || sess.params[1]["name"] != "Honda" {
		t.Fatalf("unexpected params: %v / %v", sess.params[0], sess.params[1])
	}
}

func TestCreateMake_Duplicate(t *testing.T) {
	sess := newMockSession(newMockResult(countRecord(1, 0, 0)))
	s, _, _ := newTestStore(sess)
	err := s.CreateMake(context.Background(), "HONDA")
	if !errors.Is(err, domain.ErrDuplicateMake) {
		t.Fatalf("expected ErrDuplicateMake, got %v", err)
	}
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "make" || ve.Value != "HONDA" {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if len(sess.cyphers) != 1 {
		t.Fatal("duplicate must not create")
	}
}

func TestCreateMake_InvalidName(t *testing.T) {
	s, op, _ := newTestStore(newMockSession())
	if err := s.CreateMake(context.Background(), "<b>"); !errors.Is(err, domain.ErrInvalidVehicleSpec) {
		t.Fatalf("expected ErrInvalidVehicleSpec, got %v", err)
	}
	if op.opened != 0 {
		t.Fatal("invalid name must not reach the database")
	}
}

func TestCreateModel(t *testing.T) {
	tests := []struct {
		name   string
		counts *neo4j.Record
		want   error
	}{
		{"created", countRecord(1, 0, 0), nil},
		{"make missing", countRecord(0, 0, 0), domain.ErrMakeNotFound},
		{"duplicate", countRecord(1, 1, 0), domain.ErrDuplicateModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newMockSession(newMockResult(tt.counts))
			s, _, _ := newTestStore(sess)
			err := s.CreateModel(context.Background(), "Honda", "CB350")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateYear(t *testing.T) {
	spec := domain.YearSpec{Year: 2021, AlternatorOutput: 300, StockLoad: 200, ManualURL: "https://example.com/cb.pdf"}
	tests := []struct {
		name   string
		counts *neo4j.Record
		want   error
	}{
		{"created", countRecord(1, 1, 0), nil},
		{"make missing", countRecord(0, 0, 0), domain.ErrMakeNotFound},
		{"model missing", countRecord(1, 0, 0), domain.ErrModelNotFound},
		{"duplicate", countRecord(1, 1, 1), domain.ErrDuplicateYear},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newMockSession(newMockResult(tt.counts))
			s, _, _ := newTestStore(sess)
			err := s.CreateYear(context.Background(), "Honda", "CB350", spec)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.want == nil {
				props := sess.params[1]["props"].(map[string]any)
				if props["manual_url"] != spec.ManualURL || props["year"] != 2021 {
					t.Fatalf("unexpected props: %v", props)
				}
			}
		})
	}
}

func TestCreateYear_InvalidSpec(t *testing.T) {
	s, op, _ := newTestStore(newMockSession())
	err := s.CreateYear(context.Background(), "Honda", "CB350", domain.YearSpec{Year: 2021, StockLoad: -1})
	if !errors.Is(err, domain.ErrInvalidVehicleSpec) {
		t.Fatalf("expected ErrInvalidVehicleSpec, got %v", err)
	}
	if op.opened != 0 {
		t.Fatal("invalid spec must not reach the database")
	}
}

func TestUpdateYear(t *testing.T) {
	sess := newMockSession(newMockResult(countRecord(1, 1, 0)))
	s, _, _ := newTestStore(sess)
	err := s.UpdateYear(context.Background(), "Honda", "CB350", domain.YearSpec{Year: 2021})
	if !errors.Is(err, domain.ErrYearNotFound) {
		t.Fatalf("expected ErrYearNotFound, got %v", err)
	}

	sess = newMockSession(newMockResult(countRecord(1, 1, 1)))
	s, _, _ = newTestStore(sess)
	if err := s.UpdateYear(context.Background(), "Honda", "CB350", domain.YearSpec{Year: 2021, AlternatorOutput: 320}); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !strings.Contains(sess.cyphers[1], "SET y = $props") {
		t.Fatalf("expected update statement, got %s", sess.cyphers[1])
	}
}

func TestWrite_WrapsDatabaseErrors(t *testing.T) {
	dbErr := errors.New("deadlock")
	sess := newMockSession()
	sess.errAt, sess.err = 0, dbErr
	s, _, _ := newTestStore(sess)
	err := s.CreateMake(context.Background(), "Honda")
	if !errors.Is(err, dbErr) || domain.IsValidation(err) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "create make:") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestFixtureFromRecord(t *testing.T) {
	rec := record([]string{"n"}, map[string]any{
		"id": "x1", "name": "X1", "load_watts": int64(18), "lux": "1,200 LM", "rating": 4.5,
	})
	f, err := fixtureFromRecord(rec)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	want := domain.Fixture{ID: "x1", Name: "X1", LoadWatts: 18, Lux: "1,200 LM", Rating: 4.5}
	if f != want {
		t.Fatalf("got %+v, want %+v", f, want)
	}
}

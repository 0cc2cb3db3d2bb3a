// Package catalog holds the vehicle and fixture reference data: the Neo4j
// store behind the admin screens, the on-disk stale copy, and the provider
// that keeps an in-memory snapshot fresh for the wizard.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/pkg/repo"
)

// CypherResult is the subset of a neo4j result the store reads.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// CypherRunner runs a single statement, either on a session or inside a
// transaction.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is a neo4j session with managed write transactions.
type CypherSession interface {
	CypherRunner
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionOpener opens sessions; tests replace it with mocks.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

type driverOpener struct {
	driver neo4j.DriverWithContext
}

func (o driverOpener) OpenSession(ctx context.Context) CypherSession {
	return &driverSession{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

type driverSession struct {
	sess neo4j.SessionWithContext
}

func (s *driverSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return s.sess.Run(ctx, cypher, params)
}

func (s *driverSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(txRunner{tx: tx})
	})
}

func (s *driverSession) Close(ctx context.Context) error { return s.sess.Close(ctx) }

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (r txRunner) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return r.tx.Run(ctx, cypher, params)
}

// ReplaceResult reports how many top-level documents a bulk replace wrote
// and removed.
type ReplaceResult struct {
	Inserted int `json:"inserted"`
	Deleted  int `json:"deleted"`
}

// Store reads and writes the catalog graph:
// (:Make)-[:HAS_MODEL]->(:VehicleModel)-[:HAS_YEAR]->(:ModelYear) and (:Fixture).
type Store struct {
	opener   SessionOpener
	fixtures repo.Repository[domain.Fixture, string]
}

// NewStore creates a Store on driver.
func NewStore(driver neo4j.DriverWithContext) *Store {
	return &Store{
		opener:   driverOpener{driver: driver},
		fixtures: repo.NewNeo4jRepo[domain.Fixture, string](driver, "Fixture", encodeFixture, fixtureFromRecord),
	}
}

// NewStoreWithOpener creates a Store with a custom session opener and
// fixture repository.
func NewStoreWithOpener(opener SessionOpener, fixtures repo.Repository[domain.Fixture, string]) *Store {
	return &Store{opener: opener, fixtures: fixtures}
}

// nameKey is the case-insensitive lookup key stored next to every name.
func nameKey(name string) string {
	return strings.ToLower(domain.NormalizeName(name))
}

// ListVehicles returns every make with its models and years, makes and models
// ordered by name and years ascending.
func (s *Store) ListVehicles(ctx context.Context) ([]domain.Make, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (mk:Make)
	           OPTIONAL MATCH (mk)-[:HAS_MODEL]->(m:VehicleModel)
	           OPTIONAL MATCH (m)-[:HAS_YEAR]->(y:ModelYear)
	           RETURN mk.name AS make, m.name AS model, y AS year
	           ORDER BY mk.key, m.key, y.year`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}

	var makes []domain.Make
	for result.Next(ctx) {
		rec := result.Record()
		makeName := recordString(rec, "make")
		if makeName == "" {
			continue
		}
		if len(makes) == 0 || makes[len(makes)-1].Make != makeName {
			makes = append(makes, domain.Make{Make: makeName, Models: []domain.Model{}})
		}
		mk := &makes[len(makes)-1]

		modelName := recordString(rec, "model")
		if modelName == "" {
			continue
		}
		if len(mk.Models) == 0 || mk.Models[len(mk.Models)-1].Name != modelName {
			mk.Models = append(mk.Models, domain.Model{Name: modelName, Years: []domain.YearSpec{}})
		}
		model := &mk.Models[len(mk.Models)-1]

		if node, ok := rec.Get("year"); ok && node != nil {
			model.Years = append(model.Years, yearFromNode(node))
		}
	}
	if makes == nil {
		makes = []domain.Make{}
	}
	return makes, nil
}

// ListFixtures returns every fixture ordered by name.
func (s *Store) ListFixtures(ctx context.Context) ([]domain.Fixture, error) {
	fixtures, err := s.fixtures.List(ctx, repo.ListOpts{OrderBy: "name"})
	if err != nil {
		return nil, fmt.Errorf("list fixtures: %w", err)
	}
	if fixtures == nil {
		fixtures = []domain.Fixture{}
	}
	return fixtures, nil
}

// Catalog loads both catalogs.
func (s *Store) Catalog(ctx context.Context) (domain.Catalog, error) {
	vehicles, err := s.ListVehicles(ctx)
	if err != nil {
		return domain.Catalog{}, err
	}
	fixtures, err := s.ListFixtures(ctx)
	if err != nil {
		return domain.Catalog{}, err
	}
	return domain.Catalog{Vehicles: vehicles, Fixtures: fixtures}, nil
}

// ReplaceVehicles validates makes and swaps the whole vehicle catalog in one
// transaction. Counts are make documents.
func (s *Store) ReplaceVehicles(ctx context.Context, makes []domain.Make) (ReplaceResult, error) {
	if err := domain.ValidateVehicles(makes); err != nil {
		return ReplaceResult{}, err
	}
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	out, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		deleteCypher := `MATCH (mk:Make)
		                 OPTIONAL MATCH (mk)-[:HAS_MODEL]->(m:VehicleModel)
		                 OPTIONAL MATCH (m)-[:HAS_YEAR]->(y:ModelYear)
		                 WITH collect(DISTINCT mk) AS mks, collect(DISTINCT m) AS ms, collect(DISTINCT y) AS ys
		                 FOREACH (n IN ys + ms + mks | DETACH DELETE n)
		                 RETURN size(mks) AS deleted`
		res, err := tx.Run(ctx, deleteCypher, nil)
		if err != nil {
			return nil, err
		}
		deleted := readCount(ctx, res, "deleted")

		if len(makes) > 0 {
			insertCypher := `UNWIND $makes AS mk
			                 CREATE (a:Make {name: mk.name, key: mk.key})
			                 WITH a, mk
			                 UNWIND mk.models AS m
			                 CREATE (a)-[:HAS_MODEL]->(b:VehicleModel {name: m.name, key: m.key})
			                 WITH b, m
			                 UNWIND m.years AS y
			                 CREATE (b)-[:HAS_YEAR]->(c:ModelYear)
			                 SET c = y`
			if _, err := tx.Run(ctx, insertCypher, map[string]any{"makes": makesToParams(makes)}); err != nil {
				return nil, err
			}
		}
		return ReplaceResult{Inserted: len(makes), Deleted: deleted}, nil
	})
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("replace vehicles: %w", err)
	}
	return out.(ReplaceResult), nil
}

// ReplaceFixtures validates fixtures and swaps the fixture catalog in one
// transaction.
func (s *Store) ReplaceFixtures(ctx context.Context, fixtures []domain.Fixture) (ReplaceResult, error) {
	if err := domain.ValidateFixtures(fixtures); err != nil {
		return ReplaceResult{}, err
	}
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	out, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		res, err := tx.Run(ctx, `MATCH (f:Fixture)
		                         WITH collect(f) AS fs
		                         FOREACH (f IN fs | DETACH DELETE f)
		                         RETURN size(fs) AS deleted`, nil)
		if err != nil {
			return nil, err
		}
		deleted := readCount(ctx, res, "deleted")

		if len(fixtures) > 0 {
			rows := make([]map[string]any, 0, len(fixtures))
			for _, f := range fixtures {
				rows = append(rows, fixtureToMap(f))
			}
			if _, err := tx.Run(ctx, `UNWIND $fixtures AS f CREATE (n:Fixture) SET n = f`,
				map[string]any{"fixtures": rows}); err != nil {
				return nil, err
			}
		}
		return ReplaceResult{Inserted: len(fixtures), Deleted: deleted}, nil
	})
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("replace fixtures: %w", err)
	}
	return out.(ReplaceResult), nil
}

// presence records which levels of a vehicle key exist in the graph.
type presence struct {
	make, model, year bool
}

func locate(ctx context.Context, tx CypherRunner, k domain.VehicleKey) (presence, error) {
	cypher := `OPTIONAL MATCH (mk:Make {key: $make})
	           OPTIONAL MATCH (mk)-[:HAS_MODEL]->(m:VehicleModel {key: $model})
	           OPTIONAL MATCH (m)-[:HAS_YEAR]->(y:ModelYear {year: $year})
	           RETURN count(DISTINCT mk) AS makes, count(DISTINCT m) AS models, count(DISTINCT y) AS years`
	res, err := tx.Run(ctx, cypher, map[string]any{
		"make":  nameKey(k.Make),
		"model": nameKey(k.Model),
		"year":  k.Year,
	})
	if err != nil {
		return presence{}, err
	}
	if !res.Next(ctx) {
		return presence{}, nil
	}
	rec := res.Record()
	return presence{
		make:  recordInt(rec, "makes") > 0,
		model: recordInt(rec, "models") > 0,
		year:  recordInt(rec, "years") > 0,
	}, nil
}

// CreateMake adds an empty make. Names are unique ignoring case.
func (s *Store) CreateMake(ctx context.Context, name string) error {
	name = domain.NormalizeName(name)
	if err := domain.ValidateName("make", name); err != nil {
		return err
	}
	return s.write(ctx, "create make", func(tx CypherRunner) error {
		p, err := locate(ctx, tx, domain.VehicleKey{Make: name})
		if err != nil {
			return err
		}
		if p.make {
			return domain.NewValidationError("make", name, domain.ErrDuplicateMake)
		}
		_, err = tx.Run(ctx, `CREATE (:Make {name: $name, key: $key})`,
			map[string]any{"name": name, "key": nameKey(name)})
		return err
	})
}

// CreateModel adds an empty model to an existing make.
func (s *Store) CreateModel(ctx context.Context, makeName, model string) error {
	makeName, model = domain.NormalizeName(makeName), domain.NormalizeName(model)
	if err := domain.ValidateName("model", model); err != nil {
		return err
	}
	return s.write(ctx, "create model", func(tx CypherRunner) error {
		p, err := locate(ctx, tx, domain.VehicleKey{Make: makeName, Model: model})
		if err != nil {
			return err
		}
		switch {
		case !p.make:
			return domain.NewValidationError("make", makeName, domain.ErrMakeNotFound)
		case p.model:
			return domain.NewValidationError("model", model, domain.ErrDuplicateModel)
		}
		_, err = tx.Run(ctx, `MATCH (mk:Make {key: $makeKey})
		                      CREATE (mk)-[:HAS_MODEL]->(:VehicleModel {name: $name, key: $key})`,
			map[string]any{"makeKey": nameKey(makeName), "name": model, "key": nameKey(model)})
		return err
	})
}

// CreateYear adds a year spec to an existing model.
func (s *Store) CreateYear(ctx context.Context, makeName, model string, spec domain.YearSpec) error {
	if err := domain.ValidateYearSpec(spec); err != nil {
		return err
	}
	k := domain.VehicleKey{Make: domain.NormalizeName(makeName), Model: domain.NormalizeName(model), Year: spec.Year}
	return s.write(ctx, "create year", func(tx CypherRunner) error {
		p, err := locate(ctx, tx, k)
		if err != nil {
			return err
		}
		switch {
		case !p.make:
			return domain.NewValidationError("make", k.Make, domain.ErrMakeNotFound)
		case !p.model:
			return domain.NewValidationError("model", k.Model, domain.ErrModelNotFound)
		case p.year:
			return domain.NewValidationError("year", fmt.Sprint(spec.Year), domain.ErrDuplicateYear)
		}
		_, err = tx.Run(ctx, `MATCH (:Make {key: $makeKey})-[:HAS_MODEL]->(m:VehicleModel {key: $modelKey})
		                      CREATE (m)-[:HAS_YEAR]->(y:ModelYear)
		                      SET y = $props`,
			map[string]any{"makeKey": nameKey(k.Make), "modelKey": nameKey(k.Model), "props": yearToMap(spec)})
		return err
	})
}

// UpdateYear overwrites the spec of an existing model year.
func (s *Store) UpdateYear(ctx context.Context, makeName, model string, spec domain.YearSpec) error {
	if err := domain.ValidateYearSpec(spec); err != nil {
		return err
	}
	k := domain.VehicleKey{Make: domain.NormalizeName(makeName), Model: domain.NormalizeName(model), Year: spec.Year}
	return s.write(ctx, "update year", func(tx CypherRunner) error {
		p, err := locate(ctx, tx, k)
		if err != nil {
			return err
		}
		switch {
		case !p.make:
			return domain.NewValidationError("make", k.Make, domain.ErrMakeNotFound)
		case !p.model:
			return domain.NewValidationError("model", k.Model, domain.ErrModelNotFound)
		case !p.year:
			return domain.NewValidationError("year", fmt.Sprint(spec.Year), domain.ErrYearNotFound)
		}
		_, err = tx.Run(ctx, `MATCH (:Make {key: $makeKey})-[:HAS_MODEL]->(:VehicleModel {key: $modelKey})-[:HAS_YEAR]->(y:ModelYear {year: $year})
		                      SET y = $props`,
			map[string]any{"makeKey": nameKey(k.Make), "modelKey": nameKey(k.Model), "year": spec.Year, "props": yearToMap(spec)})
		return err
	})
}

// write runs fn in a write transaction. Validation errors pass through
// unwrapped so callers can map them to user-facing responses.
func (s *Store) write(ctx context.Context, op string, fn func(tx CypherRunner) error) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		return nil, fn(tx)
	})
	if err == nil || domain.IsValidation(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func makesToParams(makes []domain.Make) []map[string]any {
	out := make([]map[string]any, 0, len(makes))
	for _, mk := range makes {
		models := make([]map[string]any, 0, len(mk.Models))
		for _, m := range mk.Models {
			years := make([]map[string]any, 0, len(m.Years))
			for _, y := range m.Years {
				years = append(years, yearToMap(y))
			}
			name := domain.NormalizeName(m.Name)
			models = append(models, map[string]any{"name": name, "key": nameKey(name), "years": years})
		}
		name := domain.NormalizeName(mk.Make)
		out = append(out, map[string]any{"name": name, "key": nameKey(name), "models": models})
	}
	return out
}

func yearToMap(y domain.YearSpec) map[string]any {
	props := map[string]any{
		"year":                     y.Year,
		"alternator_output":        y.AlternatorOutput,
		"alternator_output_approx": y.AlternatorOutputApprox,
		"stock_load":               y.StockLoad,
		"stock_load_approx":        y.StockLoadApprox,
	}
	if y.ManualURL != "" {
		props["manual_url"] = y.ManualURL
	}
	return props
}

func yearFromNode(node any) domain.YearSpec {
	return domain.YearSpec{
		Year:                   intFromNode(node, "year"),
		AlternatorOutput:       intFromNode(node, "alternator_output"),
		AlternatorOutputApprox: boolFromNode(node, "alternator_output_approx"),
		StockLoad:              intFromNode(node, "stock_load"),
		StockLoadApprox:        boolFromNode(node, "stock_load_approx"),
		ManualURL:              strFromNode(node, "manual_url"),
	}
}

func fixtureToMap(f domain.Fixture) map[string]any {
	return map[string]any{
		"id":         f.ID,
		"name":       f.Name,
		"load_watts": f.LoadWatts,
		"lux":        f.Lux,
		"image_url":  f.ImageURL,
		"rating":     f.Rating,
		"shop_url":   f.ShopURL,
	}
}

func encodeFixture(f domain.Fixture) (map[string]any, error) { return fixtureToMap(f), nil }

func fixtureFromRecord(rec *neo4j.Record) (domain.Fixture, error) {
	props, err := repo.Props(rec)
	if err != nil {
		return domain.Fixture{}, err
	}
	return domain.Fixture{
		ID:        strFromNode(props, "id"),
		Name:      strFromNode(props, "name"),
		LoadWatts: intFromNode(props, "load_watts"),
		Lux:       strFromNode(props, "lux"),
		ImageURL:  strFromNode(props, "image_url"),
		Rating:    floatFromNode(props, "rating"),
		ShopURL:   strFromNode(props, "shop_url"),
	}, nil
}

// readCount returns the integer column key of the first row, or zero.
func readCount(ctx context.Context, res CypherResult, key string) int {
	if res == nil || !res.Next(ctx) {
		return 0
	}
	return recordInt(res.Record(), key)
}

func recordString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func recordInt(rec *neo4j.Record, key string) int {
	v, ok := rec.Get(key)
	if !ok {
		return 0
	}
	return toInt(v)
}

type propsHolder interface {
	GetProperties() map[string]any
}

func propsOf(val any) map[string]any {
	switch v := val.(type) {
	case propsHolder:
		return v.GetProperties()
	case map[string]any:
		return v
	}
	return nil
}

func strFromNode(val any, key string) string {
	s, _ := propsOf(val)[key].(string)
	return s
}

func intFromNode(val any, key string) int {
	return toInt(propsOf(val)[key])
}

func boolFromNode(val any, key string) bool {
	b, _ := propsOf(val)[key].(bool)
	return b
}

func floatFromNode(val any, key string) float64 {
	switch v := propsOf(val)[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

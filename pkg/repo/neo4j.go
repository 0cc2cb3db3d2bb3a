package repo

import (
	"context"
	"fmt"
	"regexp"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var propertyName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Neo4jRepo is a generic Neo4j-backed repository.
type Neo4jRepo[T any, ID comparable] struct {
	driver     neo4j.DriverWithContext
	label      string
	idKey      string
	toMap      func(T) (map[string]any, error)
	fromRecord func(*neo4j.Record) (T, error)
	newSession func(ctx context.Context, mode neo4j.AccessMode) runner // for testing
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// NewNeo4jRepo creates a new Neo4j-backed repository. Queries return the
// node as column "n".
func NewNeo4jRepo[T any, ID comparable](
	driver neo4j.DriverWithContext,
	label string,
	toMap func(T) (map[string]any, error),
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		driver:     driver,
		label:      label,
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (r *Neo4jRepo[T, ID]) session(ctx context.Context, mode neo4j.AccessMode) runner {
	if r.newSession != nil {
		return r.newSession(ctx, mode)
	}
	return &neo4jSessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode})}
}

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n", r.label, r.idKey)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, fmt.Errorf("get %s: %w", r.label, err)
	}
	if !result.Next(ctx) {
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return r.fromRecord(result.Record())
}

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	sess := r.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s) RETURN n", r.label)
	if opts.OrderBy != "" {
		if !propertyName.MatchString(opts.OrderBy) {
			return nil, fmt.Errorf("list %s: invalid order property %q", r.label, opts.OrderBy)
		}
		cypher += " ORDER BY n." + opts.OrderBy
	}
	params := map[string]any{}
	if opts.Offset > 0 {
		cypher += " SKIP $offset"
		params["offset"] = opts.Offset
	}
	if opts.Limit > 0 {
		cypher += " LIMIT $limit"
		params["limit"] = opts.Limit
	}

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.label, err)
	}

	var items []T
	for result.Next(ctx) {
		item, err := r.fromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *Neo4jRepo[T, ID]) Create(ctx context.Context, entity T) (T, error) {
	var zero T
	sess := r.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	props, err := r.toMap(entity)
	if err != nil {
		return zero, fmt.Errorf("encode %s: %w", r.label, err)
	}
	cypher := fmt.Sprintf("CREATE (n:%s $props) RETURN n", r.label)
	result, err := sess.Run(ctx, cypher, map[string]any{"props": props})
	if err != nil {
		return zero, fmt.Errorf("create %s: %w", r.label, err)
	}
	if !result.Next(ctx) {
		return zero, fmt.Errorf("failed to create %s", r.label)
	}
	return r.fromRecord(result.Record())
}

// Props returns the properties of the first column of rec, which may be a
// neo4j node or a plain map.
func Props(rec *neo4j.Record) (map[string]any, error) {
	if rec == nil || len(rec.Values) == 0 {
		return nil, fmt.Errorf("empty record")
	}
	switch v := rec.Values[0].(type) {
	case neo4j.Node:
		return v.Props, nil
	case interface{ GetProperties() map[string]any }:
		return v.GetProperties(), nil
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected record value %T", v)
	}
}

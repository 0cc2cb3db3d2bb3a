package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/pkg/repo"
)

// ErrNotFound is returned for unknown or malformed report ids.
var ErrNotFound = errors.New("report not found")

// Store persists reports. Reports are created once and never changed.
type Store interface {
	Save(ctx context.Context, r domain.Report) (string, error)
	Get(ctx context.Context, id string) (domain.Report, error)
}

// Neo4jStore keeps reports as :Report nodes.
type Neo4jStore struct {
	nodes repo.Repository[domain.Report, string]
}

// NewNeo4jStore creates a store on driver.
func NewNeo4jStore(driver neo4j.DriverWithContext) *Neo4jStore {
	return &Neo4jStore{nodes: repo.NewNeo4jRepo[domain.Report, string](driver, "Report", reportToMap, reportFromRecord)}
}

func (s *Neo4jStore) Save(ctx context.Context, r domain.Report) (string, error) {
	created, err := s.nodes.Create(ctx, r)
	if err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	return created.ID, nil
}

func (s *Neo4jStore) Get(ctx context.Context, id string) (domain.Report, error) {
	id, ok := domain.ParseReportID(id)
	if !ok {
		return domain.Report{}, ErrNotFound
	}
	r, err := s.nodes.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Report{}, ErrNotFound
	}
	if err != nil {
		return domain.Report{}, fmt.Errorf("get report %s: %w", id, err)
	}
	return r, nil
}

func reportToMap(r domain.Report) (map[string]any, error) {
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return nil, fmt.Errorf("encode tool state: %w", err)
	}
	capacity, err := json.Marshal(r.Capacity)
	if err != nil {
		return nil, fmt.Errorf("encode capacity: %w", err)
	}
	props := map[string]any{
		"id":         r.ID,
		"visitor_id": r.VisitorID,
		"tool_state": string(answers),
		"capacity":   string(capacity),
		"created_at": r.CreatedAt,
		"html":       r.HTML,
	}
	if r.FeaturedLight != nil {
		featured, err := json.Marshal(r.FeaturedLight)
		if err != nil {
			return nil, fmt.Errorf("encode featured light: %w", err)
		}
		props["featured_light"] = string(featured)
	}
	return props, nil
}

func reportFromRecord(rec *neo4j.Record) (domain.Report, error) {
	props, err := repo.Props(rec)
	if err != nil {
		return domain.Report{}, err
	}
	var r domain.Report
	r.ID, _ = props["id"].(string)
	r.VisitorID, _ = props["visitor_id"].(string)
	r.HTML, _ = props["html"].(string)
	switch v := props["created_at"].(type) {
	case time.Time:
		r.CreatedAt = v.UTC()
	case string:
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}

	if err := decodeProp(props, "tool_state", &r.Answers); err != nil {
		return domain.Report{}, err
	}
	if err := decodeProp(props, "capacity", &r.Capacity); err != nil {
		return domain.Report{}, err
	}
	if _, ok := props["featured_light"]; ok {
		var f domain.Fixture
		if err := decodeProp(props, "featured_light", &f); err != nil {
			return domain.Report{}, err
		}
		r.FeaturedLight = &f
	}
	return r, nil
}

func decodeProp(props map[string]any, key string, dst any) error {
	s, _ := props[key].(string)
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return fmt.Errorf("decode report %s: %w", key, err)
	}
	return nil
}

// CachedStore keeps recently used reports in memory. Reports never change,
// so entries never go stale.
type CachedStore struct {
	next  Store
	cache *lru.Cache[string, domain.Report]
}

// NewCachedStore wraps next with an LRU of size entries.
func NewCachedStore(next Store, size int) (*CachedStore, error) {
	c, err := lru.New[string, domain.Report](size)
	if err != nil {
		return nil, fmt.Errorf("report cache: %w", err)
	}
	return &CachedStore{next: next, cache: c}, nil
}

func (s *CachedStore) Save(ctx context.Context, r domain.Report) (string, error) {
	id, err := s.next.Save(ctx, r)
	if err != nil {
		return "", err
	}
	r.ID = id
	s.cache.Add(id, clone(r))
	return id, nil
}

func (s *CachedStore) Get(ctx context.Context, id string) (domain.Report, error) {
	if r, ok := s.cache.Get(id); ok {
		return clone(r), nil
	}
	r, err := s.next.Get(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	s.cache.Add(id, clone(r))
	return r, nil
}

func clone(r domain.Report) domain.Report {
	if r.FeaturedLight != nil {
		f := *r.FeaturedLight
		r.FeaturedLight = &f
	}
	return r
}

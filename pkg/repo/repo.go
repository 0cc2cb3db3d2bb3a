// Package repo provides a generic repository over Neo4j nodes of one label.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no node has the requested id.
var ErrNotFound = errors.New("repo: not found")

// Repository is an append-only store: entities are created and read, never
// updated in place.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
}

// ListOpts controls ordering and pagination for List. A Limit of zero or less
// returns every node.
type ListOpts struct {
	Offset  int
	Limit   int
	OrderBy string
}

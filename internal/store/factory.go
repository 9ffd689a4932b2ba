package store

import (
	"context"
	"fmt"

	"github.com/goflagship/experiments/internal/db"
)

// Kind selects which Store implementation NewStore constructs.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindPostgres Kind = "postgres"
)

// NewStore constructs a Store of the given kind. For KindPostgres, dsn
// must be a valid pgx connection string; NewStore opens and health-checks
// the pool via internal/db.NewPool.
func NewStore(ctx context.Context, kind Kind, dsn string) (Store, error) {
	switch kind {
	case KindMemory:
		return NewMemoryStore(), nil
	case KindPostgres:
		pool, err := db.NewPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("store: connect postgres: %w", err)
		}
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("store: unknown store kind %q", kind)
	}
}

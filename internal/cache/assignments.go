// Package cache is a best-effort Redis read-through cache in front of the
// Distribution Store's get-or-create path. The transactional store stays
// the source of truth: a miss, a stale entry after recalculation, or a
// Redis outage all fall through to the store, and a circuit breaker keeps
// a dead Redis from queuing requests behind it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/goflagship/experiments/internal/telemetry"
)

const assignmentTTL = 24 * time.Hour

// Entry is the cached shape of one assignment.
type Entry struct {
	DistributionID string `json:"distribution_id"`
	VariantID      string `json:"variant_id"`
}

// Assignments caches (experiment, user) -> Entry.
type Assignments struct {
	rdb *redis.Client
	cb  *gobreaker.CircuitBreaker
	log zerolog.Logger
}

// NewAssignments connects a Redis client at addr. The breaker opens after
// five consecutive failures and probes again after 30 seconds.
func NewAssignments(addr string, log zerolog.Logger) *Assignments {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "assignment-cache",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Assignments{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		cb:  cb,
		log: log.With().Str("component", "cache").Logger(),
	}
}

func assignmentKey(experimentID, userID string) string {
	return fmt.Sprintf("ab_assignment:%s:%s", experimentID, userID)
}

// Get returns the cached assignment, or ok=false on miss, breaker-open or
// Redis error.
func (c *Assignments) Get(ctx context.Context, experimentID, userID string) (Entry, bool) {
	res, err := c.cb.Execute(func() (any, error) {
		v, err := c.rdb.Get(ctx, assignmentKey(experimentID, userID)).Result()
		if err == redis.Nil {
			// A miss is a normal outcome, not a breaker failure.
			return nil, nil
		}
		return v, err
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("cache get failed")
		telemetry.CacheMisses.Inc()
		return Entry{}, false
	}
	raw, ok := res.(string)
	if !ok {
		telemetry.CacheMisses.Inc()
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		telemetry.CacheMisses.Inc()
		return Entry{}, false
	}
	telemetry.CacheHits.Inc()
	return e, true
}

// Put stores an assignment. Failures are logged and swallowed.
func (c *Assignments) Put(ctx context.Context, experimentID, userID string, e Entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	_, err = c.cb.Execute(func() (any, error) {
		return nil, c.rdb.Set(ctx, assignmentKey(experimentID, userID), raw, assignmentTTL).Err()
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("cache put failed")
	}
}

// Invalidate drops the cached assignment for one (experiment, user), used
// after recalculation rewrites a distribution.
func (c *Assignments) Invalidate(ctx context.Context, experimentID, userID string) {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.rdb.Del(ctx, assignmentKey(experimentID, userID)).Err()
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("cache invalidate failed")
	}
}

// Close releases the underlying Redis client.
func (c *Assignments) Close() error {
	return c.rdb.Close()
}

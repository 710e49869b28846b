// Package store provides sqlx-backed persistence for workflow
// configuration, entity group assignments, and the execution ledger.
//
// Named SQL lives in embedded .sql files (internal/core/db/queries) and is
// accessed through dotsql; dynamic filters for the history surface are the
// one exception, built in executions.go. Configuration reads go through a
// read-through cache with a short TTL plus explicit invalidation on admin
// writes, so per-condition evaluation never re-queries the store.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alal76/crm-solution-sub000/internal/core/db"
	"github.com/alal76/crm-solution-sub000/internal/types"
)

// DefaultCacheTTL bounds staleness of workflow configuration between admin
// edits and evaluations. Rule edits are infrequent relative to entity
// events; eventual consistency here is acceptable.
const DefaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	workflows []types.Workflow
	expires   time.Time
}

// Store wraps the database connection and named queries.
type Store struct {
	conn *sqlx.DB
	q    *db.Queries
	log  *slog.Logger

	cacheTTL time.Duration
	mu       sync.RWMutex
	cache    map[string]cacheEntry
	now      func() time.Time
}

// New creates a store. cacheTTL <= 0 selects DefaultCacheTTL; a TTL is
// always in force so stale configuration ages out even without admin
// traffic.
func New(conn *sqlx.DB, queries *db.Queries, log *slog.Logger, cacheTTL time.Duration) *Store {
	if log == nil {
		log = slog.Default()
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Store{
		conn:     conn,
		q:        queries,
		log:      log,
		cacheTTL: cacheTTL,
		cache:    make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// InvalidateConfig drops all cached workflow configuration. Called after
// every admin write so the next evaluation sees fresh rules.
func (s *Store) InvalidateConfig() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cacheEntry)
}

package cache

import (
	"github.com/rs/zerolog/log"

	"github.com/tallyops/tally/operation"
	"github.com/tallyops/tally/telemetry"
)

// Service is the cache collaborator: glob-style key enumeration and bulk
// delete. Absence of the collaborator degrades invalidation to a no-op.
type Service interface {
	Keys(pattern string) ([]string, error)
	DeleteMatching(pattern string) (int, error)
}

// Invalidator purges cache keys after a successful commit. It is only ever
// invoked post-commit, never before, so caches are not invalidated for
// writes that are later rolled back. All failures are logged and swallowed:
// a committed write is never undone by a cache failure.
type Invalidator struct {
	deps    *DependencyMap
	service Service
}

// NewInvalidator creates an invalidator. service may be nil, in which case
// every invalidation returns zero removed.
func NewInvalidator(deps *DependencyMap, service Service) *Invalidator {
	return &Invalidator{deps: deps, service: service}
}

// InvalidateForTables purges every pattern configured for the given tables
// and returns the number of keys removed.
func (inv *Invalidator) InvalidateForTables(tables []string) int {
	if inv.service == nil {
		if len(tables) > 0 {
			log.Warn().Strs("tables", tables).Msg("No cache service configured, skipping invalidation")
		}
		return 0
	}

	removed := 0
	for _, table := range tables {
		for _, pattern := range inv.deps.PatternsFor(table) {
			n, err := inv.service.DeleteMatching(pattern)
			if err != nil {
				telemetry.CacheInvalidationErrors.Inc()
				log.Warn().
					Err(err).
					Str("table", table).
					Str("pattern", pattern).
					Msg("Cache invalidation failed")
				continue
			}
			removed += n
		}
	}
	telemetry.CacheKeysInvalidated.Add(float64(removed))
	log.Debug().
		Strs("tables", tables).
		Int("keys_removed", removed).
		Msg("Cache invalidation complete")
	return removed
}

// InvalidateForWrite purges the patterns for a single table write.
func (inv *Invalidator) InvalidateForWrite(table string, _ operation.Kind) int {
	return inv.InvalidateForTables([]string{table})
}

// Package cache implements the post-commit cache invalidation step: a static
// table-to-pattern dependency map and a best-effort invalidator driving a
// glob-capable cache service.
package cache

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/gobwas/glob"
)

// DependencyMap maps a table name to the cache-key glob patterns that become
// stale when the table changes. Read-only after construction; loaded once at
// process start.
type DependencyMap struct {
	patterns map[string][]string
}

// NewDependencyMap validates every pattern and builds an immutable map.
func NewDependencyMap(patterns map[string][]string) (*DependencyMap, error) {
	for table, pats := range patterns {
		for _, p := range pats {
			if _, err := glob.Compile(p); err != nil {
				return nil, fmt.Errorf("table %s: invalid cache pattern %q: %w", table, p, err)
			}
		}
	}
	return &DependencyMap{patterns: patterns}, nil
}

// PatternsFor returns the configured patterns for a table. Unknown tables
// fall back to a single "{table}:*" pattern so writes to unmapped tables
// still purge their own keyspace.
func (m *DependencyMap) PatternsFor(table string) []string {
	if pats, ok := m.patterns[table]; ok {
		return pats
	}
	return []string{table + ":*"}
}

type dependencyFile struct {
	Tables map[string][]string `toml:"tables"`
}

// LoadDependencyMap reads a TOML file of table -> patterns.
func LoadDependencyMap(path string) (*DependencyMap, error) {
	var df dependencyFile
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache dependency file: %w", err)
	}
	if err := toml.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("failed to decode cache dependency file: %w", err)
	}
	return NewDependencyMap(df.Tables)
}

// DefaultDependencyMap covers the built-in record tables. Derived views
// (settlement summaries, trial balances) cache under their own prefixes and
// depend on several tables at once.
func DefaultDependencyMap() *DependencyMap {
	m, err := NewDependencyMap(map[string][]string{
		"instructions":    {"instructions:*", "view:settlement:*"},
		"allocations":     {"allocations:*", "view:settlement:*"},
		"business_events": {"business_events:*"},
		"bookings":        {"bookings:*", "view:trial_balance:*"},
		"ledger_entries":  {"ledger_entries:*", "view:trial_balance:*", "view:account_activity:*"},
		"entities":        {"entities:*"},
	})
	if err != nil {
		panic(err)
	}
	return m
}

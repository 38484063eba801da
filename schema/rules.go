// Package schema holds the per-table validation rule sets consumed by the
// validation engine. Rule sets are built once at startup (from the built-in
// defaults, optionally overlaid with a TOML rules file) and are immutable
// afterwards, so engines and coordinators can share them freely.
package schema

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// FieldType is the expected value type of a field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number" // integer or floating point
	TypeInteger FieldType = "integer"
	TypeBool    FieldType = "bool"
	TypeDate    FieldType = "date" // ISO-8601 date string (2006-01-02)
)

// Constraint bounds a single field's value shape.
type Constraint struct {
	MaxLength int      `toml:"max_length"`
	Min       *float64 `toml:"min"`
	Max       *float64 `toml:"max"`
	Pattern   string   `toml:"pattern"`

	re *regexp.Regexp
}

// MatchesPattern reports whether s satisfies the compiled pattern.
// A constraint without a pattern matches everything.
func (c *Constraint) MatchesPattern(s string) bool {
	if c.re == nil {
		return true
	}
	return c.re.MatchString(s)
}

// ForeignKey declares that a field references another table's key.
type ForeignKey struct {
	Field    string `toml:"field"`
	RefTable string `toml:"ref_table"`
	RefField string `toml:"ref_field"`
}

// TableRules is the full rule set for one table.
type TableRules struct {
	Required    []string               `toml:"required"`
	Types       map[string]FieldType   `toml:"types"`
	Enums       map[string][]string    `toml:"enums"`
	Constraints map[string]*Constraint `toml:"constraints"`
	ForeignKeys []ForeignKey           `toml:"foreign_keys"`

	// KeyField is the table's natural key. Inserts that return it become
	// compensable with a keyed delete.
	KeyField string `toml:"key_field"`

	// PeriodSensitive tables require EffectiveDateField to fall inside an
	// open accounting period.
	PeriodSensitive    bool   `toml:"period_sensitive"`
	EffectiveDateField string `toml:"effective_date_field"`

	AuditFields []string `toml:"audit_fields"`
}

// PeriodConfig describes the accounting-periods table consulted by the
// domain time-window check.
type PeriodConfig struct {
	Table       string `toml:"table"`
	NameField   string `toml:"name_field"`
	StatusField string `toml:"status_field"`
	StartsField string `toml:"starts_field"`
	EndsField   string `toml:"ends_field"`
	OpenValue   string `toml:"open_value"`
}

// RuleSet is the process-wide, read-only collection of table rules.
type RuleSet struct {
	tables  map[string]*TableRules
	periods PeriodConfig
}

// Table returns the rules for a table, if any are configured.
func (s *RuleSet) Table(name string) (*TableRules, bool) {
	r, ok := s.tables[name]
	return r, ok
}

// Tables returns the names of all configured tables.
func (s *RuleSet) Tables() []string {
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	return out
}

// Periods returns the accounting-periods table configuration.
func (s *RuleSet) Periods() PeriodConfig {
	return s.periods
}

// ruleFile is the TOML shape of a rules file.
type ruleFile struct {
	Tables  map[string]*TableRules `toml:"tables"`
	Periods *PeriodConfig          `toml:"periods"`
}

// New builds an immutable RuleSet, compiling every constraint pattern.
// Invalid patterns or dangling foreign-key targets are construction errors.
func New(tables map[string]*TableRules, periods PeriodConfig) (*RuleSet, error) {
	rs := &RuleSet{tables: tables, periods: periods}
	for name, tr := range tables {
		for field, c := range tr.Constraints {
			if c.Pattern == "" {
				continue
			}
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				return nil, fmt.Errorf("table %s field %s: invalid pattern %q: %w", name, field, c.Pattern, err)
			}
			c.re = re
		}
		for _, fk := range tr.ForeignKeys {
			if _, ok := tables[fk.RefTable]; !ok {
				return nil, fmt.Errorf("table %s: foreign key %s references unknown table %s", name, fk.Field, fk.RefTable)
			}
		}
	}
	return rs, nil
}

// LoadFile overlays a TOML rules file on the built-in defaults. Tables in
// the file replace the default rules for the same table wholesale.
func LoadFile(path string) (*RuleSet, error) {
	var rf ruleFile
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	if err := toml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to decode rules file: %w", err)
	}

	tables := defaultTables()
	for name, tr := range rf.Tables {
		tables[name] = tr
	}
	periods := defaultPeriods
	if rf.Periods != nil {
		periods = *rf.Periods
	}
	return New(tables, periods)
}

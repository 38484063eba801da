// Package validate implements the pre-commit validation pipeline. Rules are
// evaluated in a fixed order and accumulate findings rather than
// short-circuiting, so a caller sees every problem in one pass.
package validate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/tallyops/tally/datastore"
	"github.com/tallyops/tally/operation"
	"github.com/tallyops/tally/schema"
	"github.com/tallyops/tally/telemetry"
)

// Engine checks proposed mutations against per-table rules before any write
// is attempted. It issues read-only datastore queries (existence, foreign
// key and period lookups) and never mutates anything.
//
// The engine is safe for concurrent use; the rule set is immutable and the
// probe cache is its only mutable state.
type Engine struct {
	rules *schema.RuleSet
	store datastore.Store

	// probes caches positive existence/FK lookups for a short TTL so large
	// batches don't hammer the datastore with identical reads. Negative
	// results are never cached: a row inserted earlier in the batch must be
	// visible to later lookups.
	probes *expirable.LRU[string, bool]
}

// Option configures an Engine.
type Option func(*Engine)

// WithProbeCache sizes the existence/FK probe cache. size <= 0 disables it.
func WithProbeCache(size int, ttl time.Duration) Option {
	return func(e *Engine) {
		if size > 0 {
			e.probes = expirable.NewLRU[string, bool](size, nil, ttl)
		}
	}
}

// NewEngine creates a validation engine. store may be nil; existence and
// foreign-key checks then degrade to warnings, while the period check fails
// closed (it is a regulatory control).
func NewEngine(rules *schema.RuleSet, store datastore.Store, opts ...Option) *Engine {
	e := &Engine{rules: rules, store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// pendingRow records a row an earlier Insert in the same batch will create.
// Foreign-key and uniqueness checks consult these so an operation may
// reference (but not duplicate) rows produced before it in execution order.
type pendingRow struct {
	index int
	table string
	row   operation.Row
}

// Validate checks one operation against its table's rules. Every rule runs;
// the report carries all blocking errors and warnings found.
func (e *Engine) Validate(ctx context.Context, op operation.WriteOperation) operation.ValidationReport {
	return e.validate(ctx, op, nil, 0)
}

func (e *Engine) validate(ctx context.Context, op operation.WriteOperation, pending []pendingRow, index int) operation.ValidationReport {
	report := operation.ValidationReport{
		OperationID: op.OperationID,
		Table:       op.Table,
	}

	rules, known := e.rules.Table(op.Table)
	e.checkTableExists(ctx, op.Table, known, &report)
	if !known {
		// Without rules none of the remaining checks are defined.
		return report
	}

	if !op.Kind.Valid() {
		report.AddError(operation.ValidationIssue{
			Message: fmt.Sprintf("unsupported operation kind %q", op.Kind),
		})
		countError("shape")
		return report
	}

	e.checkRequired(op, rules, &report)
	e.checkTypes(op, rules, &report)
	e.checkEnums(op, rules, &report)
	e.checkConstraints(op, rules, &report)
	e.checkShape(op, &report)
	e.checkUniqueKey(ctx, op, rules, pending, index, &report)
	e.checkForeignKeys(ctx, op, rules, pending, index, &report)
	e.checkPeriodWindow(ctx, op, rules, &report)
	e.checkAuditFields(op, rules, &report)

	telemetry.ValidationWarningsTotal.Add(float64(len(report.Warnings)))
	return report
}

// ValidateBatch validates every operation, issuing the read-only datastore
// probes concurrently. Reports come back in operation order. Rows created by
// earlier inserts in the batch satisfy later foreign-key checks, since the
// coordinator executes operations in exactly this order.
func (e *Engine) ValidateBatch(ctx context.Context, ops []operation.WriteOperation) []operation.ValidationReport {
	start := time.Now()
	reports := make([]operation.ValidationReport, len(ops))

	var pending []pendingRow
	for i, op := range ops {
		if op.Kind == operation.Insert && op.Payload != nil {
			pending = append(pending, pendingRow{index: i, table: op.Table, row: op.Payload})
		}
	}

	type indexed struct {
		i      int
		report operation.ValidationReport
	}
	ch := make(chan indexed, len(ops))
	for i, op := range ops {
		go func(i int, op operation.WriteOperation) {
			ch <- indexed{i: i, report: e.validate(ctx, op, pending, i)}
		}(i, op)
	}
	for range ops {
		r := <-ch
		reports[r.i] = r.report
	}

	telemetry.ValidationDurationSeconds.Observe(time.Since(start).Seconds())
	return reports
}

func countError(rule string) {
	telemetry.ValidationErrorsTotal.With(rule).Inc()
}

// checkTableExists probes the datastore for the table. A table without
// configured rules is always a blocking error; a probe failure against a
// known table is only a warning (connectivity must not block a valid batch).
func (e *Engine) checkTableExists(ctx context.Context, table string, known bool, report *operation.ValidationReport) {
	if !known {
		report.AddError(operation.ValidationIssue{
			Message:    fmt.Sprintf("unknown table %q", table),
			Suggestion: "check the table name against the configured schema",
		})
		countError("table")
		return
	}
	if e.store == nil {
		report.AddWarning(operation.ValidationIssue{
			Message: "datastore unavailable, table existence not verified",
		})
		return
	}
	if e.probeCached("exists:" + table) {
		return
	}

	_, err := e.store.Select(ctx, table, nil, 1)
	if err != nil {
		if datastore.IsUnknownTable(err) {
			report.AddError(operation.ValidationIssue{
				Message: fmt.Sprintf("table %q does not exist in datastore", table),
			})
			countError("table")
			return
		}
		report.AddWarning(operation.ValidationIssue{
			Message: fmt.Sprintf("table existence probe failed: %v", err),
		})
		return
	}
	e.probeStore("exists:" + table)
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func (e *Engine) checkRequired(op operation.WriteOperation, rules *schema.TableRules, report *operation.ValidationReport) {
	for _, field := range rules.Required {
		v, present := op.Payload[field]
		switch op.Kind {
		case operation.Insert:
			if !present || isEmpty(v) {
				report.AddError(operation.ValidationIssue{
					Field:      field,
					Message:    "required field is missing or empty",
					Suggestion: fmt.Sprintf("populate %q before submitting", field),
				})
				countError("required")
			}
		case operation.Update:
			// Updates may omit required fields, but must not blank them.
			if present && isEmpty(v) {
				report.AddError(operation.ValidationIssue{
					Field:   field,
					Message: "required field cannot be set to empty",
				})
				countError("required")
			}
		}
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int32, int64:
		return "integer"
	case float32, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func typeMatches(ft schema.FieldType, v interface{}) bool {
	switch ft {
	case schema.TypeString:
		_, ok := v.(string)
		return ok
	case schema.TypeBool:
		_, ok := v.(bool)
		return ok
	case schema.TypeNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case schema.TypeInteger:
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			// JSON numbers arrive as float64; integral values are acceptable.
			return n == math.Trunc(n)
		}
		return false
	case schema.TypeDate:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := time.Parse("2006-01-02", s)
		if err != nil {
			_, err = time.Parse(time.RFC3339, s)
		}
		return err == nil
	}
	return true
}

func (e *Engine) checkTypes(op operation.WriteOperation, rules *schema.TableRules, report *operation.ValidationReport) {
	for field, ft := range rules.Types {
		v, present := op.Payload[field]
		if !present || v == nil {
			continue
		}
		if !typeMatches(ft, v) {
			report.AddError(operation.ValidationIssue{
				Field:    field,
				Message:  "field has wrong type",
				Expected: string(ft),
				Actual:   typeName(v),
			})
			countError("type")
		}
	}
}

func (e *Engine) checkEnums(op operation.WriteOperation, rules *schema.TableRules, report *operation.ValidationReport) {
	for field, allowed := range rules.Enums {
		v, present := op.Payload[field]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue // type check reports this
		}
		found := false
		for _, a := range allowed {
			if s == a {
				found = true
				break
			}
		}
		if !found {
			report.AddError(operation.ValidationIssue{
				Field:    field,
				Message:  fmt.Sprintf("value %q is not allowed", s),
				Expected: fmt.Sprintf("one of %v", allowed),
				Actual:   s,
			})
			countError("enum")
		}
	}
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func (e *Engine) checkConstraints(op operation.WriteOperation, rules *schema.TableRules, report *operation.ValidationReport) {
	for field, c := range rules.Constraints {
		v, present := op.Payload[field]
		if !present || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			if c.MaxLength > 0 && len(s) > c.MaxLength {
				report.AddError(operation.ValidationIssue{
					Field:    field,
					Message:  fmt.Sprintf("value exceeds maximum length %d", c.MaxLength),
					Expected: fmt.Sprintf("<= %d characters", c.MaxLength),
					Actual:   fmt.Sprintf("%d characters", len(s)),
				})
				countError("constraint")
			}
			if !c.MatchesPattern(s) {
				report.AddError(operation.ValidationIssue{
					Field:    field,
					Message:  fmt.Sprintf("value does not match required pattern %s", c.Pattern),
					Expected: c.Pattern,
					Actual:   s,
				})
				countError("constraint")
			}
		}
		if n, ok := numeric(v); ok {
			if c.Min != nil && n < *c.Min {
				report.AddError(operation.ValidationIssue{
					Field:    field,
					Message:  fmt.Sprintf("value below minimum %v", *c.Min),
					Expected: fmt.Sprintf(">= %v", *c.Min),
					Actual:   fmt.Sprintf("%v", n),
				})
				countError("constraint")
			}
			if c.Max != nil && n > *c.Max {
				report.AddError(operation.ValidationIssue{
					Field:    field,
					Message:  fmt.Sprintf("value above maximum %v", *c.Max),
					Expected: fmt.Sprintf("<= %v", *c.Max),
					Actual:   fmt.Sprintf("%v", n),
				})
				countError("constraint")
			}
		}
	}
}

// checkShape rejects unbounded mutations: an Update or Delete without a
// filter would touch every row in the table.
func (e *Engine) checkShape(op operation.WriteOperation, report *operation.ValidationReport) {
	if (op.Kind == operation.Update || op.Kind == operation.Delete) && len(op.Filter) == 0 {
		report.AddError(operation.ValidationIssue{
			Message:    fmt.Sprintf("%s without a filter is not allowed", op.Kind),
			Suggestion: "add a filter selecting the rows to mutate",
		})
		countError("shape")
	}
}

// pendingMatch reports whether an Insert earlier in the batch creates a row
// in table whose field equals v.
func pendingMatch(pending []pendingRow, index int, table, field string, v interface{}) bool {
	for _, p := range pending {
		if p.index >= index || p.table != table {
			continue
		}
		if pv, ok := p.row[field]; ok && fmt.Sprintf("%v", pv) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}

// checkUniqueKey rejects an Insert whose natural key already exists, either in
// the datastore or in an earlier Insert of the same batch. Re-submitting a
// batch therefore surfaces as a validation error instead of a duplicate row.
// Results are never cached: existence is time-sensitive for inserts.
func (e *Engine) checkUniqueKey(ctx context.Context, op operation.WriteOperation, rules *schema.TableRules, pending []pendingRow, index int, report *operation.ValidationReport) {
	if op.Kind != operation.Insert || rules.KeyField == "" {
		return
	}
	v, present := op.Payload[rules.KeyField]
	if !present || isEmpty(v) {
		return // required check reports the missing key
	}

	if pendingMatch(pending, index, op.Table, rules.KeyField, v) {
		report.AddError(operation.ValidationIssue{
			Field:   rules.KeyField,
			Message: fmt.Sprintf("duplicate %s.%s = %v earlier in the same batch", op.Table, rules.KeyField, v),
		})
		countError("unique")
		return
	}

	if e.store == nil {
		report.AddWarning(operation.ValidationIssue{
			Field:   rules.KeyField,
			Message: "datastore unavailable, key uniqueness not verified",
		})
		return
	}
	rows, err := e.store.Select(ctx, op.Table, operation.Filter{rules.KeyField: v}, 1)
	if err != nil {
		report.AddWarning(operation.ValidationIssue{
			Field:   rules.KeyField,
			Message: fmt.Sprintf("key uniqueness lookup failed: %v", err),
		})
		return
	}
	if len(rows) > 0 {
		report.AddError(operation.ValidationIssue{
			Field:      rules.KeyField,
			Message:    fmt.Sprintf("%s.%s = %v already exists", op.Table, rules.KeyField, v),
			Suggestion: "use an update, or a new key, if this is not a duplicate submission",
		})
		countError("unique")
	}
}

func (e *Engine) checkForeignKeys(ctx context.Context, op operation.WriteOperation, rules *schema.TableRules, pending []pendingRow, index int, report *operation.ValidationReport) {
	for _, fk := range rules.ForeignKeys {
		v, present := op.Payload[fk.Field]
		if !present || isEmpty(v) {
			continue
		}
		if pendingMatch(pending, index, fk.RefTable, fk.RefField, v) {
			continue
		}
		if e.store == nil {
			report.AddWarning(operation.ValidationIssue{
				Field:   fk.Field,
				Message: "datastore unavailable, foreign key not verified",
			})
			continue
		}

		key := fmt.Sprintf("fk:%s:%s:%v", fk.RefTable, fk.RefField, v)
		if e.probeCached(key) {
			continue
		}
		rows, err := e.store.Select(ctx, fk.RefTable, operation.Filter{fk.RefField: v}, 1)
		if err != nil {
			report.AddWarning(operation.ValidationIssue{
				Field:   fk.Field,
				Message: fmt.Sprintf("foreign key lookup failed: %v", err),
			})
			log.Warn().
				Err(err).
				Str("table", op.Table).
				Str("ref_table", fk.RefTable).
				Msg("Foreign key lookup failed during validation")
			continue
		}
		if len(rows) == 0 {
			report.AddError(operation.ValidationIssue{
				Field:      fk.Field,
				Message:    fmt.Sprintf("referenced %s.%s = %v does not exist", fk.RefTable, fk.RefField, v),
				Suggestion: fmt.Sprintf("create the %s row first or fix the reference", fk.RefTable),
			})
			countError("foreign_key")
			continue
		}
		e.probeStore(key)
	}
}

func (e *Engine) checkAuditFields(op operation.WriteOperation, rules *schema.TableRules, report *operation.ValidationReport) {
	if op.Kind != operation.Insert {
		return
	}
	for _, field := range rules.AuditFields {
		if v, present := op.Payload[field]; !present || isEmpty(v) {
			report.AddWarning(operation.ValidationIssue{
				Field:      field,
				Message:    "audit field is missing",
				Suggestion: fmt.Sprintf("populate %q for traceability", field),
			})
		}
	}
}

func (e *Engine) probeCached(key string) bool {
	if e.probes == nil {
		return false
	}
	ok, _ := e.probes.Get(key)
	return ok
}

func (e *Engine) probeStore(key string) {
	if e.probes != nil {
		e.probes.Add(key, true)
	}
}

package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/tallyops/tally/operation"
	"github.com/tallyops/tally/schema"
)

// checkPeriodWindow enforces the domain time-window control: writes to
// period-sensitive tables must carry an effective date inside an open
// accounting period. The downstream ledger cannot reject postings to closed
// periods itself, so this check fails closed - an unreachable periods table
// is a blocking error, not a warning.
func (e *Engine) checkPeriodWindow(ctx context.Context, op operation.WriteOperation, rules *schema.TableRules, report *operation.ValidationReport) {
	if !rules.PeriodSensitive || op.Kind == operation.Delete {
		return
	}

	dateField := rules.EffectiveDateField
	v, present := op.Payload[dateField]
	if !present {
		// An update not touching the effective date has no window to check.
		return
	}

	s, ok := v.(string)
	if !ok {
		return // type check reports this
	}
	effective, err := parseDate(s)
	if err != nil {
		return // type check reports this
	}

	if e.store == nil {
		report.AddError(operation.ValidationIssue{
			Field:   dateField,
			Message: "accounting periods unavailable, rejecting period-sensitive write",
		})
		countError("period")
		return
	}

	pc := e.rules.Periods()
	periods, err := e.store.Select(ctx, pc.Table, nil, 0)
	if err != nil {
		report.AddError(operation.ValidationIssue{
			Field:   dateField,
			Message: fmt.Sprintf("failed to read accounting periods: %v", err),
		})
		countError("period")
		return
	}

	for _, p := range periods {
		starts, err1 := parseDate(stringField(p, pc.StartsField))
		ends, err2 := parseDate(stringField(p, pc.EndsField))
		if err1 != nil || err2 != nil {
			continue
		}
		if effective.Before(starts) || effective.After(ends) {
			continue
		}

		name := stringField(p, pc.NameField)
		status := stringField(p, pc.StatusField)
		if status != pc.OpenValue {
			report.AddError(operation.ValidationIssue{
				Field:    dateField,
				Message:  fmt.Sprintf("accounting period %q is %s", name, status),
				Expected: pc.OpenValue,
				Actual:   status,
			})
			countError("period")
		}
		return
	}

	report.AddError(operation.ValidationIssue{
		Field:   dateField,
		Message: fmt.Sprintf("no accounting period covers %s", s),
	})
	countError("period")
}

func stringField(row operation.Row, field string) string {
	s, _ := row[field].(string)
	return s
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	return t, err
}

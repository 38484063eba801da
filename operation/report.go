package operation

import "fmt"

// ValidationIssue is one finding from checking an operation against a
// table's rules. Expected, Actual and Suggestion are optional context.
type ValidationIssue struct {
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
	Expected   string `json:"expected,omitempty"`
	Actual     string `json:"actual,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (i ValidationIssue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// ValidationReport is the outcome of checking one WriteOperation.
// Errors block the whole batch; warnings are informational only.
type ValidationReport struct {
	OperationID string            `json:"operation_id"`
	Table       string            `json:"table"`
	Errors      []ValidationIssue `json:"errors,omitempty"`
	Warnings    []ValidationIssue `json:"warnings,omitempty"`
}

// IsValid reports whether the operation carries no blocking errors.
func (r *ValidationReport) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError appends a blocking issue.
func (r *ValidationReport) AddError(issue ValidationIssue) {
	r.Errors = append(r.Errors, issue)
}

// AddWarning appends a non-blocking issue.
func (r *ValidationReport) AddWarning(issue ValidationIssue) {
	r.Warnings = append(r.Warnings, issue)
}

// ErrorStrings flattens blocking errors for the transaction result.
func (r *ValidationReport) ErrorStrings() []string {
	if len(r.Errors) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, fmt.Sprintf("%s.%s", r.Table, e.String()))
	}
	return out
}

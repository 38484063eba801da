// Package scenario assembles domain write scenarios into operation batches
// for the transaction coordinator. Builders are pure: they produce the
// operation list and leave execution (and result interpretation) to the
// caller.
package scenario

import (
	"strings"
	"time"

	"github.com/tallyops/tally/operation"
)

// AllocationLeg is one account allocation of a settlement instruction.
type AllocationLeg struct {
	AllocationID string
	Account      string
	Quantity     float64
}

// Settlement builds the canonical "new instruction" batch: the instruction
// itself, its allocations, and a CREATE business event, committed
// all-or-nothing.
type Settlement struct {
	InstructionID string
	EntityID      string
	TradeDate     string // ISO date
	Currency      string
	Quantity      float64
	Allocations   []AllocationLeg

	// EventID defaults to the instruction ID with an EVT- prefix.
	EventID   string
	CreatedBy string
}

func (s Settlement) eventID() string {
	if s.EventID != "" {
		return s.EventID
	}
	return "EVT-" + strings.TrimPrefix(s.InstructionID, "INS-")
}

func (s Settlement) audit(row operation.Row) operation.Row {
	if s.CreatedBy != "" {
		row["created_by"] = s.CreatedBy
		row["created_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	return row
}

// Operations returns the ordered batch. The instruction comes first so the
// allocation and event foreign keys resolve against it.
func (s Settlement) Operations() []operation.WriteOperation {
	ops := []operation.WriteOperation{
		operation.NewInsert("instructions", s.audit(operation.Row{
			"instruction_id": s.InstructionID,
			"status":         "PENDING",
			"trade_date":     s.TradeDate,
			"entity_id":      s.EntityID,
			"quantity":       s.Quantity,
			"currency":       s.Currency,
		})),
	}

	for _, leg := range s.Allocations {
		ops = append(ops, operation.NewInsert("allocations", s.audit(operation.Row{
			"allocation_id":  leg.AllocationID,
			"instruction_id": s.InstructionID,
			"account":        leg.Account,
			"quantity":       leg.Quantity,
		})))
	}

	ops = append(ops, operation.NewInsert("business_events", s.audit(operation.Row{
		"event_id":       s.eventID(),
		"event_type":     "CREATE",
		"instruction_id": s.InstructionID,
		"occurred_at":    time.Now().UTC().Format(time.RFC3339),
	})))

	return ops
}

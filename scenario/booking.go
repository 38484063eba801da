package scenario

import (
	"fmt"
	"math"
	"time"

	"github.com/tallyops/tally/operation"
)

// LedgerLeg is one side of a booking's ledger postings.
type LedgerLeg struct {
	EntryID string
	Account string
	Side    string // DEBIT or CREDIT
	Amount  float64
}

// Booking builds a booking plus its ledger entries. The legs must balance:
// total debits equal total credits, to the cent.
type Booking struct {
	BookingID     string
	InstructionID string
	BookingDate   string // ISO date, must fall in an open period
	Entries       []LedgerLeg
	CreatedBy     string
}

// Operations returns the ordered batch, or an error when the legs do not
// balance. Balance is enforced here rather than in validation because it is
// a property of the batch, not of any single row.
func (b Booking) Operations() ([]operation.WriteOperation, error) {
	var debits, credits float64
	for _, leg := range b.Entries {
		switch leg.Side {
		case "DEBIT":
			debits += leg.Amount
		case "CREDIT":
			credits += leg.Amount
		default:
			return nil, fmt.Errorf("entry %s: invalid side %q", leg.EntryID, leg.Side)
		}
	}
	if math.Abs(debits-credits) >= 0.005 {
		return nil, fmt.Errorf("ledger entries do not balance: debits %.2f, credits %.2f", debits, credits)
	}

	audit := func(row operation.Row) operation.Row {
		if b.CreatedBy != "" {
			row["created_by"] = b.CreatedBy
			row["created_at"] = time.Now().UTC().Format(time.RFC3339)
		}
		return row
	}

	ops := []operation.WriteOperation{
		operation.NewInsert("bookings", audit(operation.Row{
			"booking_id":     b.BookingID,
			"instruction_id": b.InstructionID,
			"booking_date":   b.BookingDate,
		})),
	}
	for _, leg := range b.Entries {
		ops = append(ops, operation.NewInsert("ledger_entries", audit(operation.Row{
			"entry_id":     leg.EntryID,
			"booking_id":   b.BookingID,
			"account":      leg.Account,
			"amount":       leg.Amount,
			"posting_date": b.BookingDate,
			"side":         leg.Side,
		})))
	}
	return ops, nil
}

// Package events publishes business events for committed transactions.
// Publishing is strictly post-commit and best-effort: failures are logged
// and never alter a transaction's status, mirroring the cache invalidation
// contract.
package events

import (
	"fmt"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"

	"github.com/tallyops/tally/encoding"
	"github.com/tallyops/tally/operation"
	"github.com/tallyops/tally/telemetry"
)

// Sink delivers encoded events to a transport.
type Sink interface {
	Publish(subject, key string, value []byte) error
	Close() error
}

// Event is the record published for each committed operation.
type Event struct {
	TransactionID string          `msgpack:"transaction_id"`
	Table         string          `msgpack:"table"`
	Kind          operation.Kind  `msgpack:"kind"`
	Rows          []operation.Row `msgpack:"rows"`
	CommittedAt   time.Time       `msgpack:"committed_at"`
}

// Publisher fans committed transactions out to a sink, one event per
// operation, filtered by table glob patterns. Empty patterns match all
// tables.
type Publisher struct {
	sink       Sink
	prefix     string
	tableGlobs []glob.Glob
}

// NewPublisher compiles the table patterns and wraps the sink.
func NewPublisher(sink Sink, subjectPrefix string, tablePatterns []string) (*Publisher, error) {
	p := &Publisher{
		sink:       sink,
		prefix:     subjectPrefix,
		tableGlobs: make([]glob.Glob, 0, len(tablePatterns)),
	}
	for _, pattern := range tablePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid table pattern %q: %w", pattern, err)
		}
		p.tableGlobs = append(p.tableGlobs, g)
	}
	return p, nil
}

func (p *Publisher) matches(table string) bool {
	if len(p.tableGlobs) == 0 {
		return true
	}
	for _, g := range p.tableGlobs {
		if g.Match(table) {
			return true
		}
	}
	return false
}

// TransactionCommitted implements coordinator.CommitNotifier.
func (p *Publisher) TransactionCommitted(result *operation.TransactionResult) {
	now := time.Now().UTC()
	for _, res := range result.Results {
		if !p.matches(res.Table) {
			continue
		}

		event := Event{
			TransactionID: result.TransactionID,
			Table:         res.Table,
			Kind:          res.Kind,
			Rows:          res.Rows,
			CommittedAt:   now,
		}
		payload, err := encoding.Marshal(event)
		if err != nil {
			telemetry.EventsPublishedTotal.With("failed").Inc()
			log.Warn().Err(err).Str("txn_id", result.TransactionID).Msg("Failed to encode commit event")
			continue
		}

		subject := fmt.Sprintf("%s.%s", p.prefix, res.Table)
		if err := p.sink.Publish(subject, result.TransactionID, payload); err != nil {
			telemetry.EventsPublishedTotal.With("failed").Inc()
			log.Warn().
				Err(err).
				Str("txn_id", result.TransactionID).
				Str("subject", subject).
				Msg("Failed to publish commit event")
			continue
		}
		telemetry.EventsPublishedTotal.With("success").Inc()
	}
}

// Close releases the underlying sink.
func (p *Publisher) Close() error {
	return p.sink.Close()
}

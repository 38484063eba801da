package events

import "github.com/rs/zerolog/log"

// LogSink writes events to the structured log. Useful for development and
// for deployments without a message broker.
type LogSink struct{}

// NewLogSink creates a log sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Publish logs the event metadata (payload size only, not contents).
func (s *LogSink) Publish(subject, key string, value []byte) error {
	log.Info().
		Str("subject", subject).
		Str("key", key).
		Int("bytes", len(value)).
		Msg("Commit event")
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error {
	return nil
}

package coordinator

import (
	"time"

	"github.com/tallyops/tally/telemetry"
)

// TxnMetrics provides centralized transaction telemetry recording.
// It tracks transaction timing and terminal outcome (committed,
// validation_failed, rolled_back, failed).
type TxnMetrics struct {
	startTime time.Time
}

// NewTxnMetrics creates a new transaction metrics recorder.
func NewTxnMetrics() *TxnMetrics {
	return &TxnMetrics{startTime: time.Now()}
}

// Record records the terminal result of a transaction and returns the
// elapsed time since the recorder was created.
func (m *TxnMetrics) Record(result string) time.Duration {
	elapsed := time.Since(m.startTime)
	telemetry.TxnTotal.With(result).Inc()
	telemetry.TxnDurationSeconds.With(result).Observe(elapsed.Seconds())
	return elapsed
}

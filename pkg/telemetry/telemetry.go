// Package telemetry defines the analytics sink RenameCoordinator emits
// to (spec §6.6): one structured Record per rename, with a default
// stdlib-log implementation. Analytics is a side channel — a Sink
// failure never affects the rename's result.
//
// Grounded in the teacher's plain log.Printf usage (pkg/cache/service.go);
// no third-party logging library appears anywhere in the teacher's stack,
// so none is introduced here either.
package telemetry

import "log"

// Record is the single structured event emitted per rename (spec §6.6).
type Record struct {
	CorrelationID   string
	Success         bool
	UpdatedCount    int
	TotalReferences int
	ScanMs          int64
	PrepareMs       int64
	CommitMs        int64
	TotalMs         int64
	ErrorCode       string
	Warnings        []string
}

// Sink is the out-of-scope analytics collaborator's consumed interface.
type Sink interface {
	Record(r Record)
}

// LogSink is the default Sink, writing one line per rename via the
// standard log package.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink wraps logger (or the default std logger if nil).
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(r Record) {
	if r.Success {
		s.logger.Printf(
			"rename correlation_id=%s success updated_count=%d total_references=%d total_ms=%d",
			r.CorrelationID, r.UpdatedCount, r.TotalReferences, r.TotalMs,
		)
		return
	}
	s.logger.Printf(
		"rename correlation_id=%s failed error_code=%s total_ms=%d warnings=%v",
		r.CorrelationID, r.ErrorCode, r.TotalMs, r.Warnings,
	)
}

// NoopSink discards every record; useful in tests that don't care about
// telemetry output.
type NoopSink struct{}

func (NoopSink) Record(Record) {}

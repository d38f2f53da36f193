package telemetry

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogSink_WritesSuccessLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(log.New(&buf, "", 0))

	sink.Record(Record{CorrelationID: "abc", Success: true, UpdatedCount: 2, TotalReferences: 2, TotalMs: 10})

	assert.Contains(t, buf.String(), "correlation_id=abc")
	assert.Contains(t, buf.String(), "updated_count=2")
}

func TestLogSink_WritesFailureLineWithErrorCode(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(log.New(&buf, "", 0))

	sink.Record(Record{CorrelationID: "abc", Success: false, ErrorCode: "HASH_MISMATCH"})

	assert.Contains(t, buf.String(), "failed")
	assert.Contains(t, buf.String(), "HASH_MISMATCH")
}

func TestNoopSink_NeverPanics(t *testing.T) {
	var sink NoopSink
	sink.Record(Record{CorrelationID: "abc"})
}

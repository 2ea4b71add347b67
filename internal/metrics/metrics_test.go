package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFile(t *testing.T) {
	m := New()
	m.RecordFile("imported")
	m.RecordFile("imported")
	m.RecordFile("skipped")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.filesTotal.WithLabelValues("imported")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.filesTotal.WithLabelValues("skipped")))
}

func TestRecordAIRequest(t *testing.T) {
	m := New()
	m.RecordAIRequest("remote", true, 200*time.Millisecond)
	m.RecordAIRequest("remote", false, time.Second)
	m.RecordAIFallback()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.aiRequests.WithLabelValues("remote", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.aiRequests.WithLabelValues("remote", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.aiFallback))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFile("imported")
		m.RecordScan(time.Second)
		m.RecordScanRejected()
		m.RecordAIRequest("local", true, time.Millisecond)
		m.RecordExtraction("history")
		m.RecordTransition("validated")
		m.RecordSplit(3)
		m.RecordMoveError()
	})
	assert.Zero(t, m.Uptime())
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordExtraction("rules")
	m.RecordTransition("needs_review")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `paperflow_field_extractions_total{source="rules"} 1`))
	assert.True(t, strings.Contains(text, `paperflow_document_transitions_total{status="needs_review"} 1`))
}

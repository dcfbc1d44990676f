package metrics

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPrometheusExporterWriteMetrics(t *testing.T) {
	c := NewCollector(nil)
	c.RecordAgreementRound()
	c.RecordAgreementSuccess()
	c.SessionEstablished()
	c.RecordMessageEncrypted(512)
	c.RecordAuthFailure()

	e := NewPrometheusExporter(c, "quantum_chat")
	var buf bytes.Buffer
	e.WriteMetrics(&buf)
	out := buf.String()

	expected := []string{
		"quantum_chat_agreement_rounds_total 1",
		"quantum_chat_agreements_succeeded_total 1",
		"quantum_chat_sessions_active 1",
		"quantum_chat_sessions_established_total 1",
		"quantum_chat_messages_encrypted_total 1",
		"quantum_chat_bytes_encrypted_total 512",
		"quantum_chat_auth_failures_total 1",
		"# TYPE quantum_chat_sessions_active gauge",
		"# TYPE quantum_chat_agreement_rounds_total counter",
	}
	for _, want := range expected {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestPrometheusExporterLabels(t *testing.T) {
	c := NewCollector(Labels{"instance": "node-1", "region": "eu"})
	c.RecordAgreementRound()

	e := NewPrometheusExporter(c, "quantum_chat")
	var buf bytes.Buffer
	e.WriteMetrics(&buf)

	// Labels are sorted by key.
	if !strings.Contains(buf.String(), `quantum_chat_agreement_rounds_total{instance="node-1",region="eu"} 1`) {
		t.Errorf("labeled metric missing:\n%s", buf.String())
	}
}

func TestPrometheusExporterHistogram(t *testing.T) {
	c := NewCollector(nil)
	c.RecordAgreementLatency(3 * time.Millisecond)
	c.RecordAgreementLatency(30 * time.Millisecond)
	c.RecordAgreementLatency(2 * time.Second)

	e := NewPrometheusExporter(c, "quantum_chat")
	var buf bytes.Buffer
	e.WriteMetrics(&buf)
	out := buf.String()

	expected := []string{
		"# TYPE quantum_chat_agreement_duration_milliseconds histogram",
		`quantum_chat_agreement_duration_milliseconds_bucket{le="5"} 1`,
		`quantum_chat_agreement_duration_milliseconds_bucket{le="50"} 2`,
		`quantum_chat_agreement_duration_milliseconds_bucket{le="+Inf"} 3`,
		"quantum_chat_agreement_duration_milliseconds_count 3",
	}
	for _, want := range expected {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrometheusExporterErrorRateHistogram(t *testing.T) {
	c := NewCollector(nil)
	c.RecordErrorRate(0.0)
	c.RecordInterception(0.24)

	e := NewPrometheusExporter(c, "quantum_chat")
	var buf bytes.Buffer
	e.WriteMetrics(&buf)
	out := buf.String()

	if !strings.Contains(out, "quantum_chat_interceptions_detected_total 1") {
		t.Errorf("interception counter missing:\n%s", out)
	}
	// 0.0 lands in the first bucket, 0.24 under the 0.25 bound.
	if !strings.Contains(out, `quantum_chat_observed_error_rate_bucket{le="0.01"} 1`) {
		t.Errorf("first rate bucket missing:\n%s", out)
	}
	if !strings.Contains(out, `quantum_chat_observed_error_rate_bucket{le="0.25"} 2`) {
		t.Errorf("0.25 rate bucket missing:\n%s", out)
	}
}

func TestPrometheusExporterHandler(t *testing.T) {
	c := NewCollector(nil)
	c.RecordAgreementRound()

	e := NewPrometheusExporter(c, "quantum_chat")
	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != 200 {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Body.String(), "quantum_chat_agreement_rounds_total 1") {
		t.Error("handler output missing counter")
	}
}

func TestPrometheusLabelEscaping(t *testing.T) {
	c := NewCollector(Labels{"path": `C:\data`, "note": "line\nbreak \"quoted\""})
	e := NewPrometheusExporter(c, "quantum_chat")

	var buf bytes.Buffer
	e.WriteMetrics(&buf)
	out := buf.String()

	if !strings.Contains(out, `path="C:\\data"`) {
		t.Errorf("backslash not escaped:\n%s", out)
	}
	if !strings.Contains(out, `note="line\nbreak \"quoted\""`) {
		t.Errorf("newline or quote not escaped:\n%s", out)
	}
}

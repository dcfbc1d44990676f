package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
)

// PrometheusExporter exports collector metrics in Prometheus text format.
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

// NewPrometheusExporter creates a Prometheus exporter for the given
// collector. The namespace is prepended to all metric names.
func NewPrometheusExporter(c *Collector, namespace string) *PrometheusExporter {
	return &PrometheusExporter{
		collector: c,
		namespace: namespace,
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (e *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		e.WriteMetrics(w)
	})
}

// WriteMetrics writes all metrics in Prometheus text format to the writer.
func (e *PrometheusExporter) WriteMetrics(w io.Writer) {
	snap := e.collector.Snapshot()
	labels := e.formatLabels(snap.Labels)

	// --- Agreement Metrics ---
	e.writeHelp(w, "agreement_rounds_total", "Total key agreement rounds started")
	e.writeType(w, "agreement_rounds_total", "counter")
	e.writeMetric(w, "agreement_rounds_total", labels, float64(snap.AgreementRounds))

	e.writeHelp(w, "agreements_succeeded_total", "Total rounds that produced a session key")
	e.writeType(w, "agreements_succeeded_total", "counter")
	e.writeMetric(w, "agreements_succeeded_total", labels, float64(snap.AgreementsSucceeded))

	e.writeHelp(w, "agreements_failed_total", "Total rounds aborted without a key")
	e.writeType(w, "agreements_failed_total", "counter")
	e.writeMetric(w, "agreements_failed_total", labels, float64(snap.AgreementsFailed))

	e.writeHelp(w, "interceptions_detected_total", "Total rounds aborted by the error-rate check")
	e.writeType(w, "interceptions_detected_total", "counter")
	e.writeMetric(w, "interceptions_detected_total", labels, float64(snap.InterceptionsDetected))

	// --- Session Metrics ---
	e.writeHelp(w, "sessions_active", "Number of currently established sessions")
	e.writeType(w, "sessions_active", "gauge")
	e.writeMetric(w, "sessions_active", labels, float64(snap.SessionsActive))

	e.writeHelp(w, "sessions_established_total", "Total sessions established")
	e.writeType(w, "sessions_established_total", "counter")
	e.writeMetric(w, "sessions_established_total", labels, float64(snap.SessionsEstablished))

	e.writeHelp(w, "sessions_rejected_total", "Total handshake requests declined")
	e.writeType(w, "sessions_rejected_total", "counter")
	e.writeMetric(w, "sessions_rejected_total", labels, float64(snap.SessionsRejected))

	e.writeHelp(w, "sessions_terminated_total", "Total sessions torn down")
	e.writeType(w, "sessions_terminated_total", "counter")
	e.writeMetric(w, "sessions_terminated_total", labels, float64(snap.SessionsTerminated))

	// --- Messaging Metrics ---
	e.writeHelp(w, "messages_encrypted_total", "Total messages encrypted")
	e.writeType(w, "messages_encrypted_total", "counter")
	e.writeMetric(w, "messages_encrypted_total", labels, float64(snap.MessagesEncrypted))

	e.writeHelp(w, "messages_decrypted_total", "Total messages decrypted")
	e.writeType(w, "messages_decrypted_total", "counter")
	e.writeMetric(w, "messages_decrypted_total", labels, float64(snap.MessagesDecrypted))

	e.writeHelp(w, "bytes_encrypted_total", "Total plaintext bytes encrypted")
	e.writeType(w, "bytes_encrypted_total", "counter")
	e.writeMetric(w, "bytes_encrypted_total", labels, float64(snap.BytesEncrypted))

	e.writeHelp(w, "bytes_decrypted_total", "Total payload bytes decrypted")
	e.writeType(w, "bytes_decrypted_total", "counter")
	e.writeMetric(w, "bytes_decrypted_total", labels, float64(snap.BytesDecrypted))

	e.writeHelp(w, "auth_failures_total", "Total message authentication failures")
	e.writeType(w, "auth_failures_total", "counter")
	e.writeMetric(w, "auth_failures_total", labels, float64(snap.AuthFailures))

	// --- Uptime ---
	e.writeHelp(w, "uptime_seconds", "Time since the collector was created")
	e.writeType(w, "uptime_seconds", "gauge")
	e.writeMetric(w, "uptime_seconds", labels, snap.Uptime.Seconds())

	// --- Histograms ---
	e.writeHistogram(w, "agreement_duration_milliseconds", "Key agreement duration in milliseconds", labels, snap.AgreementLatency)
	e.writeHistogram(w, "observed_error_rate", "Sample error rate observed per agreement round", labels, snap.ObservedErrorRate)
}

func (e *PrometheusExporter) writeHelp(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s_%s %s\n", e.namespace, name, help)
}

func (e *PrometheusExporter) writeType(w io.Writer, name, typ string) {
	fmt.Fprintf(w, "# TYPE %s_%s %s\n", e.namespace, name, typ)
}

func (e *PrometheusExporter) writeMetric(w io.Writer, name, labels string, value float64) {
	if labels != "" {
		fmt.Fprintf(w, "%s_%s{%s} %g\n", e.namespace, name, labels, value)
	} else {
		fmt.Fprintf(w, "%s_%s %g\n", e.namespace, name, value)
	}
}

func (e *PrometheusExporter) writeHistogram(w io.Writer, name, help, labels string, h HistogramSummary) {
	e.writeHelp(w, name, help)
	e.writeType(w, name, "histogram")

	fullName := e.namespace + "_" + name

	for _, b := range h.Buckets {
		le := fmt.Sprintf("%g", b.UpperBound)
		if math.IsInf(b.UpperBound, 1) {
			le = "+Inf"
		}
		if labels != "" {
			fmt.Fprintf(w, "%s_bucket{%s,le=\"%s\"} %d\n", fullName, labels, le, b.Count)
		} else {
			fmt.Fprintf(w, "%s_bucket{le=\"%s\"} %d\n", fullName, le, b.Count)
		}
	}

	if labels != "" {
		fmt.Fprintf(w, "%s_sum{%s} %g\n", fullName, labels, h.Sum)
		fmt.Fprintf(w, "%s_count{%s} %d\n", fullName, labels, h.Count)
	} else {
		fmt.Fprintf(w, "%s_sum %g\n", fullName, h.Sum)
		fmt.Fprintf(w, "%s_count %d\n", fullName, h.Count)
	}
}

// formatLabels converts Labels to Prometheus label format.
func (e *PrometheusExporter) formatLabels(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", k, escapePromValue(labels[k])))
	}
	return strings.Join(parts, ",")
}

// escapePromValue escapes a string for use as a Prometheus label value.
func escapePromValue(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

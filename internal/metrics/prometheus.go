package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the coach service
type Metrics struct {
	// Upload and correlation metrics
	UploadsTotal        *prometheus.CounterVec
	CorrelationOutcomes *prometheus.CounterVec
	PendingUploads      prometheus.Gauge
	CorrelationDuration prometheus.Histogram
	RelayErrors         prometheus.Counter

	// History metrics
	HistoryEntries   prometheus.Gauge
	DuplicateReports prometheus.Counter
	AudioDuration    prometheus.Histogram

	// Capture metrics
	RecordingSessions *prometheus.CounterVec
	RecordedBytes     prometheus.Histogram

	// Archive, journal and event sink metrics
	ArchiveUploads  *prometheus.CounterVec
	JournalWrites   *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec

	// WebSocket metrics
	WebSocketClients prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPPanics          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_uploads_total",
			Help: "Total number of uploads sent to the analysis backend",
		}, []string{"result"}),
		CorrelationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_correlation_outcomes_total",
			Help: "Terminal correlation outcomes by state and error code",
		}, []string{"state", "code"}),
		PendingUploads: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coach_pending_uploads",
			Help: "Current number of uploads awaiting their report",
		}),
		CorrelationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coach_correlation_duration_seconds",
			Help:    "Time from upload acceptance to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		RelayErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "coach_outcome_relay_errors_total",
			Help: "Total number of failed outcome relay operations",
		}),

		HistoryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coach_history_entries",
			Help: "Current number of entries in the audio history",
		}),
		DuplicateReports: factory.NewCounter(prometheus.CounterOpts{
			Name: "coach_duplicate_reports_total",
			Help: "Reports ignored because their tracking id was already recorded",
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coach_audio_duration_seconds",
			Help:    "Resolved duration of recorded audio",
			Buckets: prometheus.LinearBuckets(5, 5, 12), // 5s to 60s
		}),

		RecordingSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_recording_sessions_total",
			Help: "Recording sessions by final state",
		}, []string{"state"}),
		RecordedBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coach_recorded_bytes",
			Help:    "Size of finalized recordings in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KB to ~8MB
		}),

		ArchiveUploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_archive_uploads_total",
			Help: "Objects written to the audio archive",
		}, []string{"kind", "result"}),
		JournalWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_journal_writes_total",
			Help: "History entries written to the Postgres journal",
		}, []string{"result"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_events_published_total",
			Help: "History events published to Pub/Sub",
		}, []string{"result"}),

		WebSocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coach_websocket_clients",
			Help: "Current number of connected history WebSocket clients",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coach_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		HTTPPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_http_panics_total",
			Help: "Handler panics recovered by the server",
		}, []string{"route"}),
	}
}

// RecordUpload counts an upload attempt
func (m *Metrics) RecordUpload(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
}

// RecordOutcome records a terminal correlation state
func (m *Metrics) RecordOutcome(state, code string, durationSeconds float64) {
	m.CorrelationOutcomes.WithLabelValues(state, code).Inc()
	m.CorrelationDuration.Observe(durationSeconds)
}

// SetPending sets the current number of pending uploads
func (m *Metrics) SetPending(n int) {
	m.PendingUploads.Set(float64(n))
}

// RecordRelayError increments the relay error counter
func (m *Metrics) RecordRelayError() {
	m.RelayErrors.Inc()
}

// RecordHistoryEntry records an inserted history entry
func (m *Metrics) RecordHistoryEntry(total int, durationSeconds float64, durationKnown bool) {
	m.HistoryEntries.Set(float64(total))
	if durationKnown {
		m.AudioDuration.Observe(durationSeconds)
	}
}

// RecordDuplicateReport increments the duplicate report counter
func (m *Metrics) RecordDuplicateReport() {
	m.DuplicateReports.Inc()
}

// RecordRecording records a finished recording session
func (m *Metrics) RecordRecording(state string, sizeBytes int) {
	m.RecordingSessions.WithLabelValues(state).Inc()
	if sizeBytes > 0 {
		m.RecordedBytes.Observe(float64(sizeBytes))
	}
}

// RecordArchiveUpload records an archive write
func (m *Metrics) RecordArchiveUpload(kind string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ArchiveUploads.WithLabelValues(kind, result).Inc()
}

// RecordJournalWrite records a journal insert. Duplicates count as success.
func (m *Metrics) RecordJournalWrite(ok bool) {
	m.JournalWrites.WithLabelValues(result(ok)).Inc()
}

// RecordEventPublished records a Pub/Sub publish
func (m *Metrics) RecordEventPublished(ok bool) {
	m.EventsPublished.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// SetWebSocketClients sets the number of connected WebSocket clients
func (m *Metrics) SetWebSocketClients(n int) {
	m.WebSocketClients.Set(float64(n))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordPanic counts a recovered handler panic
func (m *Metrics) RecordPanic(route string) {
	m.HTTPPanics.WithLabelValues(route).Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	// Packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed *prometheus.CounterVec
	PacketParseError prometheus.Counter
	PacketQueueSize  prometheus.Gauge

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEnded   prometheus.Counter
	SessionsFailed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Chunk metrics
	ChunksSubmitted *prometheus.CounterVec
	BytesIngested   prometheus.Counter

	// Interruption and recovery metrics
	Interruptions   prometheus.Counter
	Recoveries      prometheus.Counter
	RecoveredChunks prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics against a specific registry
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_packets_received_total",
			Help: "Total number of packets received over the transport",
		}),
		PacketsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_packets_processed_total",
			Help: "Total number of packets processed by type",
		}, []string{"type"}),
		PacketParseError: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_packet_parse_errors_total",
			Help: "Total number of packets that failed to parse",
		}),
		PacketQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_packet_queue_size",
			Help: "Current number of packets waiting in the processing queue",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_active_sessions",
			Help: "Current number of live streaming sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_created_total",
			Help: "Total number of sessions created (including resumes)",
		}),
		SessionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_ended_total",
			Help: "Total number of sessions ended normally",
		}),
		SessionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_failed_total",
			Help: "Total number of sessions force-terminated on I/O failure",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_session_duration_seconds",
			Help:    "Audio duration of ended sessions in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		ChunksSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_chunks_submitted_total",
			Help: "Total number of submitted chunks by outcome",
		}, []string{"outcome"}),
		BytesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_bytes_ingested_total",
			Help: "Total PCM bytes appended to audio artifacts",
		}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_interruptions_total",
			Help: "Total number of network interruptions reported by clients",
		}),
		Recoveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_recoveries_total",
			Help: "Total number of recovery batches processed",
		}),
		RecoveredChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_recovered_chunks_total",
			Help: "Total number of chunks replayed through recovery",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// RecordPacketReceived increments the received packet counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the processed counter for a packet type
func (m *Metrics) RecordPacketProcessed(packetType string) {
	m.PacketsProcessed.WithLabelValues(packetType).Inc()
}

// RecordParseError increments the parse error counter
func (m *Metrics) RecordParseError() {
	m.PacketParseError.Inc()
}

// SetQueueSize updates the packet queue gauge
func (m *Metrics) SetQueueSize(size int) {
	m.PacketQueueSize.Set(float64(size))
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionEnded records a normal session end and its audio duration
func (m *Metrics) RecordSessionEnded(duration float64) {
	m.SessionsEnded.Inc()
	m.SessionDuration.Observe(duration)
}

// RecordSessionFailed increments the failed session counter
func (m *Metrics) RecordSessionFailed() {
	m.SessionsFailed.Inc()
}

// SetActiveSessions updates the live session gauge
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordChunk increments the chunk counter for an outcome
func (m *Metrics) RecordChunk(outcome string) {
	m.ChunksSubmitted.WithLabelValues(outcome).Inc()
}

// RecordBytesIngested adds to the ingested bytes counter
func (m *Metrics) RecordBytesIngested(bytes int) {
	m.BytesIngested.Add(float64(bytes))
}

// RecordInterruption increments the interruption counter
func (m *Metrics) RecordInterruption() {
	m.Interruptions.Inc()
}

// RecordRecovery records a recovery batch and the chunks it replayed
func (m *Metrics) RecordRecovery(chunks int) {
	m.Recoveries.Inc()
	m.RecoveredChunks.Add(float64(chunks))
}

// RecordHTTPRequest records an HTTP request with its duration
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration)
}

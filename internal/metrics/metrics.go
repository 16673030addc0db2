// Package metrics exposes the client library's instrumentation as prometheus
// collectors. A Metrics value is always safe to use as nil: every method on
// it is a no-op when the receiver is nil, the same nil-tolerant pattern the
// teacher uses for its hook manager and loggers.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters and gauges produced by connections, file
// transfers, and live-TV chains. Callers that don't care about metrics pass
// a nil *Metrics to constructors; callers that do should build one with New
// and register it with their own prometheus.Registerer.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RepliesTotal        *prometheus.CounterVec
	HandshakeAttempts   prometheus.Counter
	HandshakeRejections prometheus.Counter
	BytesTransferred    *prometheus.CounterVec
	ChainSegmentsAdded  *prometheus.CounterVec
	OpenConnections     *prometheus.GaugeVec
}

// New builds a Metrics bound to reg. Pass prometheus.NewRegistry() for an
// isolated registry (tests, multiple client instances) or a shared
// *prometheus.Registry for a single process-wide exporter.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmyth",
			Name:      "requests_total",
			Help:      "Control requests sent, labeled by command.",
		}, []string{"command"}),
		RepliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmyth",
			Name:      "replies_total",
			Help:      "Control replies received, labeled by command and outcome.",
		}, []string{"command", "outcome"}),
		HandshakeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cmyth",
			Name:      "handshake_attempts_total",
			Help:      "Protocol version handshakes attempted.",
		}),
		HandshakeRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cmyth",
			Name:      "handshake_rejections_total",
			Help:      "Protocol version handshakes rejected by the backend at least once.",
		}),
		BytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmyth",
			Name:      "bytes_transferred_total",
			Help:      "Bytes read from data connections, labeled by channel kind.",
		}, []string{"kind"}),
		ChainSegmentsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmyth",
			Name:      "chain_segments_added_total",
			Help:      "Segments appended to a live-TV chain, labeled by chain id.",
		}, []string{"chain_id"}),
		OpenConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cmyth",
			Name:      "open_connections",
			Help:      "Currently open connections, labeled by role.",
		}, []string{"role"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RequestsTotal, m.RepliesTotal, m.HandshakeAttempts, m.HandshakeRejections,
			m.BytesTransferred, m.ChainSegmentsAdded, m.OpenConnections,
		)
	}
	return m
}

func (m *Metrics) ObserveRequest(command string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(command).Inc()
}

func (m *Metrics) ObserveReply(command, outcome string) {
	if m == nil {
		return
	}
	m.RepliesTotal.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) ObserveHandshakeAttempt() {
	if m == nil {
		return
	}
	m.HandshakeAttempts.Inc()
}

func (m *Metrics) ObserveHandshakeRejection() {
	if m == nil {
		return
	}
	m.HandshakeRejections.Inc()
}

func (m *Metrics) ObserveBytes(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesTransferred.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObserveChainSegment(chainID string) {
	if m == nil {
		return
	}
	m.ChainSegmentsAdded.WithLabelValues(chainID).Inc()
}

func (m *Metrics) ConnectionOpened(role string) {
	if m == nil {
		return
	}
	m.OpenConnections.WithLabelValues(role).Inc()
}

func (m *Metrics) ConnectionClosed(role string) {
	if m == nil {
		return
	}
	m.OpenConnections.WithLabelValues(role).Dec()
}

// Package metrics defines all Prometheus metrics for captive-dhcpd.
// All metrics use the "captive_dhcpd_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "captive_dhcpd"

// --- DHCP Packet Metrics ---

var (
	// PacketsReceived counts DHCP packets received by message type.
	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_received_total",
		Help:      "Total DHCP packets received, by message type.",
	}, []string{"msg_type"})

	// PacketsSent counts DHCP packets sent by message type.
	PacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_sent_total",
		Help:      "Total DHCP packets sent, by message type.",
	}, []string{"msg_type"})

	// PacketsIgnored counts well-formed packets that get no reply.
	PacketsIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_ignored_total",
		Help:      "Total DHCP packets ignored, by reason (unknown_type, unhandled_type, reply_op, wrong_interface).",
	}, []string{"reason"})

	// PacketErrors counts packet processing errors.
	PacketErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packet_errors_total",
		Help:      "Total packet processing errors, by type (decode, magic, handler, encode, send, read, oversize).",
	}, []string{"type"})

	// PacketProcessingDuration tracks DHCP packet handling latency.
	PacketProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "packet_processing_duration_seconds",
		Help:      "DHCP packet processing duration in seconds.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"msg_type"})
)

// --- Lease Metrics ---

var (
	// LeasesAcked is a gauge of acknowledged leases.
	LeasesAcked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leases_acked",
		Help:      "Number of leases acknowledged with DHCPACK.",
	})

	// LeasesOffered is a gauge of offered (pending) leases.
	LeasesOffered = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leases_offered",
		Help:      "Number of currently offered (pending) leases.",
	})

	// LeaseOperations counts lease state transitions.
	LeaseOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lease_operations_total",
		Help:      "Total lease operations, by type (offer, ack).",
	}, []string{"operation"})

	// PoolExhausted counts allocations that found no free address.
	PoolExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pool_exhausted_total",
		Help:      "Total times the captive pool had no free address.",
	})

	// RateLimited counts DISCOVERs dropped by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Total DHCPDISCOVER packets dropped by the rate limiter.",
	})
)

// --- Event Metrics ---

var (
	// EventsPublished counts events published to the bus.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total events published, by type.",
	}, []string{"event_type"})

	// EventBufferDrops counts events dropped due to full buffer.
	EventBufferDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_buffer_drops_total",
		Help:      "Total events dropped due to full event buffer.",
	})

	// AuditRecords counts records written to the audit log.
	AuditRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_records_total",
		Help:      "Total audit log writes, by result (success, error).",
	}, []string{"result"})
)

// --- API Metrics ---

var (
	// APIRequests counts HTTP API requests.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Total API requests, by method, path, and status.",
	}, []string{"method", "path", "status"})

	// APIRequestDuration tracks API request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "API request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// SSEConnections is a gauge of connected event stream clients.
	SSEConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sse_connections",
		Help:      "Number of connected SSE event stream clients.",
	})
)

// --- Captive DNS Metrics ---

var (
	// DNSQueries counts DNS queries answered by the captive resolver.
	DNSQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dns_queries_total",
		Help:      "Total DNS queries, by query type and result (redirect, empty, servfail).",
	}, []string{"qtype", "result"})
)

// --- Server Info ---

var (
	// ServerInfo exposes build information.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_info",
		Help:      "Server build information.",
	}, []string{"version"})

	// ServerStartTime records when the server started.
	ServerStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_start_time_seconds",
		Help:      "Unix timestamp when the server started.",
	})
)

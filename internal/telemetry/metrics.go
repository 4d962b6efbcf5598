package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors the telemetry.db counters of spec.md §4.2: peer-error
// counts, queue depths, DAG state counts, handshake outcomes. Grounded
// on the teacher's internal/metrics package (one prometheus collector
// per concern, registered eagerly).
type Metrics struct {
	HandshakeAttempts   *prometheus.CounterVec
	HandshakeFailures   *prometheus.CounterVec
	PeerErrorTotal       *prometheus.CounterVec
	QueueDepth           *prometheus.GaugeVec
	DeliveryRetries      prometheus.Counter
	DAGTasksByState      *prometheus.GaugeVec
	SkillInvocations     *prometheus.CounterVec
	MemoryWrites         *prometheus.CounterVec
	EventBusDrops        *prometheus.CounterVec
}

// NewMetrics constructs and registers all CIS collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HandshakeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cis", Subsystem: "federation", Name: "handshake_attempts_total",
		}, []string{"direction"}),
		HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cis", Subsystem: "federation", Name: "handshake_failures_total",
		}, []string{"reason"}),
		PeerErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cis", Subsystem: "federation", Name: "peer_errors_total",
		}, []string{"peer_did"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cis", Subsystem: "federation", Name: "delivery_queue_depth",
		}, []string{"status"}),
		DeliveryRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cis", Subsystem: "federation", Name: "delivery_retries_total",
		}),
		DAGTasksByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cis", Subsystem: "skill", Name: "dag_tasks",
		}, []string{"state"}),
		SkillInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cis", Subsystem: "skill", Name: "invocations_total",
		}, []string{"variant", "outcome"}),
		MemoryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cis", Subsystem: "memory", Name: "writes_total",
		}, []string{"domain"}),
		EventBusDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cis", Subsystem: "eventbus", Name: "subscriber_drops_total",
		}, []string{"topic"}),
	}
	reg.MustRegister(
		m.HandshakeAttempts, m.HandshakeFailures, m.PeerErrorTotal, m.QueueDepth,
		m.DeliveryRetries, m.DAGTasksByState, m.SkillInvocations, m.MemoryWrites, m.EventBusDrops,
	)
	return m
}

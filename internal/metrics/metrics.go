package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/audit"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/eventbus"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/notify"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/service"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); components receive hook structs,
// never the instruments themselves.
type Metrics struct {
	QueueTransitions *prometheus.CounterVec
	QueueRejections  *prometheus.CounterVec

	EventsPublished *prometheus.CounterVec
	HandlerFailures *prometheus.CounterVec

	AuditWrites    *prometheus.CounterVec
	VisitsWritten  prometheus.Counter
	DaysAutoClosed prometheus.Counter

	MessagesDispatched *prometheus.CounterVec
	BudgetExceeded     *prometheus.CounterVec
	SMSSent            *prometheus.CounterVec
	SMSFailed          *prometheus.CounterVec
	SMSLatency         *prometheus.HistogramVec

	OutboundDepthHigh   prometheus.Gauge
	OutboundDepthNormal prometheus.Gauge
	OutboundDepthLow    prometheus.Gauge

	RealtimeDropped prometheus.Counter
}

// New registers all instruments with reg. A custom registry keeps tests
// isolated from global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_transitions_total",
			Help: "Queue entry status transitions.",
		}, []string{"from", "to"}),
		QueueRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_operations_rejected_total",
			Help: "Queue operations that returned an error, by error kind.",
		}, []string{"op", "kind"}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Domain events published on the bus.",
		}, []string{"type"}),
		HandlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_handler_failures_total",
			Help: "Event handler errors and panics.",
		}, []string{"subscriber", "type"}),

		AuditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_writes_total",
			Help: "Audit rows written, by action and result.",
		}, []string{"action", "result"}),
		VisitsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visit_history_writes_total",
			Help: "Completed visits mirrored into the visit history.",
		}),
		DaysAutoClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_days_auto_closed_total",
			Help: "Clinic days closed by the scheduled job.",
		}),

		MessagesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_messages_total",
			Help: "Patient messages by kind and outcome (queued, simulated, dropped).",
		}, []string{"kind", "outcome"}),
		BudgetExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_budget_exceeded_total",
			Help: "Messages skipped because the clinic's monthly budget was used up.",
		}, []string{"clinic_id"}),
		SMSSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_sent_total",
			Help: "Messages accepted by the SMS gateway.",
		}, []string{"kind"}),
		SMSFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_failed_total",
			Help: "Messages the SMS gateway did not accept. Not retried.",
		}, []string{"kind"}),
		SMSLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sms_send_seconds",
			Help:    "Gateway call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),

		OutboundDepthHigh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbound_queue_depth_high",
			Help: "Messages waiting in the high-priority tier.",
		}),
		OutboundDepthNormal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbound_queue_depth_normal",
			Help: "Messages waiting in the normal-priority tier.",
		}),
		OutboundDepthLow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbound_queue_depth_low",
			Help: "Messages waiting in the low-priority tier.",
		}),

		RealtimeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_frames_dropped_total",
			Help: "Feed frames dropped because the hub was saturated.",
		}),
	}

	reg.MustRegister(
		m.QueueTransitions,
		m.QueueRejections,
		m.EventsPublished,
		m.HandlerFailures,
		m.AuditWrites,
		m.VisitsWritten,
		m.DaysAutoClosed,
		m.MessagesDispatched,
		m.BudgetExceeded,
		m.SMSSent,
		m.SMSFailed,
		m.SMSLatency,
		m.OutboundDepthHigh,
		m.OutboundDepthNormal,
		m.OutboundDepthLow,
		m.RealtimeDropped,
	)
	return m
}

func (m *Metrics) ServiceHooks() service.MetricHooks {
	return service.MetricHooks{
		OnTransition: func(from, to domain.Status) {
			m.QueueTransitions.WithLabelValues(string(from), string(to)).Inc()
		},
		OnRejected: func(op string, kind domain.Kind) {
			m.QueueRejections.WithLabelValues(op, string(kind)).Inc()
		},
	}
}

func (m *Metrics) BusHooks() eventbus.MetricHooks {
	return eventbus.MetricHooks{
		OnPublished: func(t domain.EventType) {
			m.EventsPublished.WithLabelValues(string(t)).Inc()
		},
		OnHandlerFailed: func(sub string, t domain.EventType) {
			m.HandlerFailures.WithLabelValues(sub, string(t)).Inc()
		},
	}
}

func (m *Metrics) AuditHooks() audit.MetricHooks {
	return audit.MetricHooks{
		OnWritten: func(a domain.AuditAction) { m.AuditWrites.WithLabelValues(string(a), "ok").Inc() },
		OnFailed:  func(a domain.AuditAction) { m.AuditWrites.WithLabelValues(string(a), "error").Inc() },
	}
}

func (m *Metrics) NotifyHooks() notify.MetricHooks {
	outcome := func(o string) func(domain.MessageKind) {
		return func(k domain.MessageKind) { m.MessagesDispatched.WithLabelValues(string(k), o).Inc() }
	}
	return notify.MetricHooks{
		OnQueued:         outcome("queued"),
		OnSimulated:      outcome("simulated"),
		OnDropped:        outcome("dropped"),
		OnBudgetExceeded: func(clinicID string) { m.BudgetExceeded.WithLabelValues(clinicID).Inc() },
	}
}

func (m *Metrics) WorkerHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnSent: func(k domain.MessageKind, latency time.Duration) {
			m.SMSSent.WithLabelValues(string(k)).Inc()
			m.SMSLatency.WithLabelValues(string(k)).Observe(latency.Seconds())
		},
		OnFailed: func(k domain.MessageKind) {
			m.SMSFailed.WithLabelValues(string(k)).Inc()
		},
	}
}

// RecordDepths sets the outbound queue gauges; passed to worker.DepthSampler.
func (m *Metrics) RecordDepths(high, normal, low int) {
	m.OutboundDepthHigh.Set(float64(high))
	m.OutboundDepthNormal.Set(float64(normal))
	m.OutboundDepthLow.Set(float64(low))
}

package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/metrics"
)

func TestHooksFeedInstruments(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ServiceHooks().OnTransition(domain.StatusWaiting, domain.StatusInProgress)
	m.ServiceHooks().OnRejected("call_next_patient", domain.KindBusinessRule)
	m.BusHooks().OnHandlerFailed("audit", domain.EventDayClosed)
	m.NotifyHooks().OnBudgetExceeded("clinic-1")
	m.NotifyHooks().OnSimulated(domain.MessageCalled)
	m.WorkerHooks().OnSent(domain.MessageCalled, 30*time.Millisecond)
	m.RecordDepths(1, 2, 3)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"transition", testutil.ToFloat64(m.QueueTransitions.WithLabelValues("waiting", "in_progress")), 1},
		{"rejection", testutil.ToFloat64(m.QueueRejections.WithLabelValues("call_next_patient", "business_rule")), 1},
		{"handler failure", testutil.ToFloat64(m.HandlerFailures.WithLabelValues("audit", "DayClosedEvent")), 1},
		{"budget exceeded", testutil.ToFloat64(m.BudgetExceeded.WithLabelValues("clinic-1")), 1},
		{"simulated", testutil.ToFloat64(m.MessagesDispatched.WithLabelValues("called", "simulated")), 1},
		{"sent", testutil.ToFloat64(m.SMSSent.WithLabelValues("called")), 1},
		{"depth normal", testutil.ToFloat64(m.OutboundDepthNormal), 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, tc.got)
			}
		})
	}
}

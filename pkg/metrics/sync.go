package metrics

import "github.com/prometheus/client_golang/prometheus"

// SyncMetrics records order status synchronization activity.
type SyncMetrics struct {
	updates         *prometheus.CounterVec
	connectAttempts *prometheus.CounterVec
	polls           *prometheus.CounterVec
	state           prometheus.Gauge
	subscriptions   prometheus.Gauge
}

// NewSyncMetrics registers the synchronizer metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	updates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_updates_total",
		Help: "Incoming order status updates by source and reconcile decision.",
	}, []string{"source", "decision"})
	connectAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_push_connect_attempts_total",
		Help: "Push channel dial attempts by result.",
	}, []string{"result"})
	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_poll_requests_total",
		Help: "Order tracking polls by result.",
	}, []string{"result"})
	state := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "order_push_connection_state",
		Help: "0 disconnected, 1 connecting, 2 connected, 3 polling only.",
	})
	subscriptions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "order_subscriptions_active",
		Help: "Orders with at least one live subscriber.",
	})
	reg.MustRegister(updates, connectAttempts, polls, state, subscriptions)
	return &SyncMetrics{
		updates:         updates,
		connectAttempts: connectAttempts,
		polls:           polls,
		state:           state,
		subscriptions:   subscriptions,
	}
}

// IncUpdate counts one reconciled status update.
func (s *SyncMetrics) IncUpdate(source, decision string) {
	if s == nil || s.updates == nil {
		return
	}
	s.updates.WithLabelValues(normalizeLabel(source), normalizeLabel(decision)).Inc()
}

// IncConnectAttempt counts a push dial attempt.
func (s *SyncMetrics) IncConnectAttempt(result string) {
	if s == nil || s.connectAttempts == nil {
		return
	}
	s.connectAttempts.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncPoll counts a tracking poll.
func (s *SyncMetrics) IncPoll(result string) {
	if s == nil || s.polls == nil {
		return
	}
	s.polls.WithLabelValues(normalizeLabel(result)).Inc()
}

// SetConnectionState publishes the numeric connection state.
func (s *SyncMetrics) SetConnectionState(v float64) {
	if s == nil || s.state == nil {
		return
	}
	s.state.Set(v)
}

// SetSubscriptions publishes the number of tracked orders.
func (s *SyncMetrics) SetSubscriptions(n int) {
	if s == nil || s.subscriptions == nil {
		return
	}
	s.subscriptions.Set(float64(n))
}

// Package metrics exposes the guard's Prometheus metrics:
//   - guard_intents_total{status}        – intent decisions (pending_approval|approved|rejected)
//   - guard_transitions_total{to}        – state transitions by destination state
//   - guard_cas_conflicts_total          – lost compare-and-swap claims
//   - guard_executions_total{result}     – executions by result (ok|failed)
//   - guard_blocked_total{reason}        – intents blocked by screening, by reason code
//   - guard_breaker_state{scope}         – breaker state per scope (0 closed, 1 half_open, 2 open)
//
// Registered in init() and served by promhttp at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"intent-guard/internal/breaker"
)

var (
	mtxIntents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_intents_total",
			Help: "Intent creation decisions by status",
		},
		[]string{"status"},
	)

	mtxTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_transitions_total",
			Help: "State transitions by destination state",
		},
		[]string{"to"},
	)

	mtxCASConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guard_cas_conflicts_total",
			Help: "Lost compare-and-swap claims",
		},
	)

	mtxExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_executions_total",
			Help: "Executions by result (ok|failed)",
		},
		[]string{"result"},
	)

	mtxBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_blocked_total",
			Help: "Intents blocked by screening, by reason code",
		},
		[]string{"reason"},
	)

	// Breaker state per scope as one numeric series; 0 closed, 1 half_open,
	// 2 open keeps dashboards simple.
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guard_breaker_state",
			Help: "Circuit breaker state per scope (0 closed, 1 half_open, 2 open)",
		},
		[]string{"scope"},
	)
)

func init() {
	prometheus.MustRegister(mtxIntents, mtxTransitions, mtxCASConflicts)
	prometheus.MustRegister(mtxExecutions, mtxBlocked, breakerState)
}

func IncIntent(status string)    { mtxIntents.WithLabelValues(status).Inc() }
func IncTransition(to string)    { mtxTransitions.WithLabelValues(to).Inc() }
func IncCASConflict()            { mtxCASConflicts.Inc() }
func IncBlocked(reason string)   { mtxBlocked.WithLabelValues(reason).Inc() }
func IncExecution(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	mtxExecutions.WithLabelValues(result).Inc()
}

// SetBreakerState publishes a registry snapshot.
func SetBreakerState(snapshot map[string]breaker.Slot) {
	for scope, slot := range snapshot {
		var v float64
		switch slot.State {
		case breaker.StateOpen:
			v = 2
		case breaker.StateHalfOpen:
			v = 1
		}
		breakerState.WithLabelValues(scope).Set(v)
	}
}

// Handler returns the Prometheus text exposition handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

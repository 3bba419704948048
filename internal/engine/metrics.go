package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the engine's prometheus collectors.
type Metrics struct {
	Mutations *prometheus.CounterVec
	Folds     *prometheus.CounterVec
	Discarded *prometheus.CounterVec
	Rollbacks *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg, if reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todosync_engine_mutations_total",
			Help: "Resolved mutations, by table, operation and outcome.",
		}, []string{"table", "op", "outcome"}),
		Folds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todosync_engine_folds_total",
			Help: "Change events folded into local state, by table and kind.",
		}, []string{"table", "kind"}),
		Discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todosync_engine_discarded_events_total",
			Help: "Change events dropped, by table and reason.",
		}, []string{"table", "reason"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todosync_engine_rollbacks_total",
			Help: "Optimistic edits rolled back after a remote failure.",
		}, []string{"table"}),
	}
	if reg != nil {
		reg.MustRegister(m.Mutations, m.Folds, m.Discarded, m.Rollbacks)
	}
	return m
}

// Mutation outcomes.
const (
	outcomeConfirmed  = "confirmed"
	outcomeRolledBack = "rolled_back"
	outcomeNoop       = "noop"
)

// Discard reasons.
const (
	reasonUnknownID = "unknown_id"
	reasonMalformed = "malformed"
)

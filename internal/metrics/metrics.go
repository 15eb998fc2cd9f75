// Package metrics holds the prometheus collectors exported by the daemon.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "beemesh"

// Result label values.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultTimeout  = "timeout"
	ResultError    = "error"
	ResultRefused  = "refused"
)

type Distributor struct {
	ConnectAttempts  *prometheus.CounterVec
	Connections      prometheus.Gauge
	KnownPeers       prometheus.Gauge
	EstablishSeconds prometheus.Histogram
	Dispatches       *prometheus.CounterVec
}

// NewDistributor creates the distributor collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewDistributor(reg prometheus.Registerer) *Distributor {
	m := &Distributor{
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distributor",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts to known peers by result.",
		}, []string{"result"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "distributor",
			Name:      "connections",
			Help:      "Live connections in the connection table.",
		}),
		KnownPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "distributor",
			Name:      "known_peers",
			Help:      "Peers in the directory.",
		}),
		EstablishSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "distributor",
			Name:      "establish_duration_seconds",
			Help:      "Time taken by one establish batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distributor",
			Name:      "dispatches_total",
			Help:      "Tasks sent to peers by outcome.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.ConnectAttempts, m.Connections, m.KnownPeers, m.EstablishSeconds, m.Dispatches)
	}
	return m
}

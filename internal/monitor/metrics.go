package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sieve-sdn/sieve/pkg/admin"
)

// factory registers every Monitor collector against admin.Registry instead
// of the global default, so /metrics serves exactly what the controller
// wires (see pkg/admin.Registry).
var factory = promauto.With(admin.Registry)

var (
	detoursInstalled = factory.NewCounter(prometheus.CounterOpts{
		Name: "sieve_detours_installed_total",
		Help: "Total number of detour flow entries installed by the monitor.",
	})

	rerouteFailures = factory.NewCounter(prometheus.CounterOpts{
		Name: "sieve_reroute_failures_total",
		Help: "Total number of candidates for which no admissible detour path was found (spec §7 failCount).",
	})

	flowStatsProcessed = factory.NewCounter(prometheus.CounterOpts{
		Name: "sieve_flow_stats_processed_total",
		Help: "Total number of flow-stats replies processed.",
	})

	adaptivePeriodSeconds = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sieve_monitor_period_seconds",
		Help: "Current adaptive monitor sampling period T.",
	})

	edgeUplinkLoadRatio = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sieve_edge_uplink_load_ratio",
		Help: "Current load ratio for each edge uplink port.",
	}, []string{"dpid", "port"})
)

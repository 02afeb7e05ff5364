// Package metrics defines the Prometheus instruments exported by the engine.
// The HTTP server mounts promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BarsAppendedTotal counts base bars accepted into session state.
	BarsAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mismartera",
		Name:      "bars_appended_total",
		Help:      "Base-interval bars appended to session data.",
	}, []string{"symbol", "interval"})

	// OutOfOrderBarsTotal counts bars dropped for violating monotonicity.
	OutOfOrderBarsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mismartera",
		Name:      "out_of_order_bars_total",
		Help:      "Bars dropped because their timestamp was not strictly increasing.",
	}, []string{"symbol", "interval"})

	// DerivedBarsTotal counts derived bars emitted by the processor.
	DerivedBarsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mismartera",
		Name:      "derived_bars_total",
		Help:      "Derived-interval bars emitted on period completion.",
	}, []string{"symbol", "interval"})

	// SessionActive is 1 while the session gate is open for external readers.
	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mismartera",
		Name:      "session_active",
		Help:      "Whether external reads currently see session data.",
	})

	// LagSeconds is the distance between wall clock and the newest processed
	// bar in live mode.
	LagSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mismartera",
		Name:      "lag_seconds",
		Help:      "Processing lag behind wall clock per symbol.",
	}, []string{"symbol"})

	// ProvisionedSymbols counts symbols by how they entered the session.
	ProvisionedSymbols = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mismartera",
		Name:      "provisioned_symbols_total",
		Help:      "Symbols provisioned into the session, by source.",
	}, []string{"added_by"})
)

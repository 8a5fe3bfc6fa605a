// Package metrics exposes the exchange's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	OrdersPlaced     *prometheus.CounterVec
	OrdersRejected   *prometheus.CounterVec
	OrdersCancelled  prometheus.Counter
	Matches          prometheus.Counter
	MatchVolume      prometheus.Counter
	SelfTradeCancels prometheus.Counter
	PaymentsMarked   prometheus.Counter
	Settlements      prometheus.Counter

	VaultBalance  prometheus.Gauge
	RestingOrders prometheus.Gauge
	PendingQty    prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zk2p_orders_placed_total",
			Help: "Accepted order placements.",
		}, []string{"side", "type"}),
		OrdersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zk2p_orders_rejected_total",
			Help: "Rejected order placements.",
		}, []string{"reason"}),
		OrdersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "zk2p_orders_cancelled_total",
			Help: "Orders cancelled by their owner.",
		}),
		Matches: factory.NewCounter(prometheus.CounterOpts{
			Name: "zk2p_matches_total",
			Help: "Maker/taker fills executed.",
		}),
		MatchVolume: factory.NewCounter(prometheus.CounterOpts{
			Name: "zk2p_match_volume_base_units",
			Help: "Matched volume in base units.",
		}),
		SelfTradeCancels: factory.NewCounter(prometheus.CounterOpts{
			Name: "zk2p_self_trade_cancels_total",
			Help: "Resting orders removed by self-trade prevention.",
		}),
		PaymentsMarked: factory.NewCounter(prometheus.CounterOpts{
			Name: "zk2p_payments_marked_total",
			Help: "Buyer payment declarations.",
		}),
		Settlements: factory.NewCounter(prometheus.CounterOpts{
			Name: "zk2p_settlements_verified_total",
			Help: "Settlements verified and released.",
		}),
		VaultBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zk2p_escrow_vault_base_units",
			Help: "Base tokens held by the escrow vault.",
		}),
		RestingOrders: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zk2p_resting_orders",
			Help: "Live orders on the book.",
		}),
		PendingQty: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zk2p_settlement_pending_base_units",
			Help: "Matched base units awaiting settlement release.",
		}),
	}
}

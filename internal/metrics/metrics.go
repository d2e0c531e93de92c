package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Position metrics
	PositionUtilizationBps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_position_liq_utilization_bps",
		Help: "Liquidation utilization rate of the managed position in basis points",
	})

	PositionNetWorthUsd = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_position_net_worth_usd",
		Help: "Net worth of the managed position in USD",
	})

	StateFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keeper_state_fetch_duration_seconds",
		Help:    "Position state fetch duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	// Planning metrics
	Plans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_plans_total",
			Help: "Total number of rebalance plans by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	DebtAdjustmentUsd = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keeper_debt_adjustment_usd",
			Help:    "Absolute USD debt adjustment of executed plans",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 50000},
		},
		[]string{"direction"},
	)

	FlashLoans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keeper_flash_loans_total",
		Help: "Total number of rebalances that needed a flash loan",
	})

	SwapQuoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keeper_swap_quote_duration_seconds",
			Help:    "Swap quote request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"swap_mode", "status"},
	)

	// Transaction metrics
	SetsPacked = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keeper_sets_packed",
		Help:    "Number of transactions produced per pack",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 8},
	})

	SetSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_set_submissions_total",
			Help: "Total number of transaction set outcomes by status",
		},
		[]string{"status"},
	)

	Retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keeper_retries_total",
		Help: "Total number of re-planned retries",
	})

	SimulationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_simulation_failures_total",
			Help: "Total number of failed transaction simulations",
		},
		[]string{"reason"},
	)

	ComputeUnits = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keeper_compute_units",
		Help:    "Compute units consumed by simulated transactions",
		Buckets: []float64{10000, 50000, 100000, 200000, 400000, 800000, 1400000},
	})

	PriorityFee = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_priority_fee_micro_lamports",
		Help: "Last priority fee per compute unit in micro lamports",
	})

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keeper_run_duration_seconds",
			Help:    "Transaction run duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"outcome"},
	)

	// RPC metrics
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_rpc_requests_total",
			Help: "Total number of RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keeper_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	BlockhashAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_blockhash_age_seconds",
		Help: "Age of the cached blockhash when it was served",
	})

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keeper_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

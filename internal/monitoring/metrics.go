package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPC caller metrics
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_rpc_calls_total",
			Help: "Total number of RPC call attempts",
		},
		[]string{"label", "outcome"},
	)

	RPCCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stakedeck_rpc_call_duration_seconds",
			Help:    "Time taken for one RPC call including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"label"},
	)

	RPCRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_rpc_retries_total",
			Help: "Total number of RPC retry attempts after a failure",
		},
		[]string{"label"},
	)

	RPCRateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_rpc_rate_limited_total",
			Help: "Number of RPC failures classified as rate limiting",
		},
		[]string{"label"},
	)

	RPCExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_rpc_exhausted_total",
			Help: "Number of RPC calls that used up every attempt",
		},
		[]string{"label"},
	)

	// Chain health metrics
	ChainHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakedeck_chain_healthy",
			Help: "Target network health status (1 = healthy, 0 = unhealthy)",
		},
	)

	ChainBlockNumber = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakedeck_chain_block_number",
			Help: "Latest observed block number on the target network",
		},
	)

	EndpointRotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stakedeck_endpoint_rotations_total",
			Help: "Number of failovers to another RPC endpoint",
		},
	)

	// Session metrics
	SessionConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakedeck_session_connected",
			Help: "Wallet session state (1 = connected, 0 = disconnected)",
		},
	)

	SessionConnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_session_connects_total",
			Help: "Total number of wallet connect attempts",
		},
		[]string{"outcome"},
	)

	// Reconciliation metrics
	ReconcilePassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_reconcile_passes_total",
			Help: "Total number of reconciliation passes",
		},
		[]string{"outcome"},
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stakedeck_reconcile_duration_seconds",
			Help:    "Time taken for a full reconciliation pass",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ReconcileStrategyHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_reconcile_strategy_hits_total",
			Help: "Which staked-token discovery strategy produced the result",
		},
		[]string{"strategy"},
	)

	ReconcileStaleDiscards = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stakedeck_reconcile_stale_discards_total",
			Help: "Reconciliation results discarded because a newer pass finished first",
		},
	)

	EnumerationIndexFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stakedeck_enumeration_index_failures_total",
			Help: "Per-index failures skipped during owned token enumeration",
		},
	)

	OwnedTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakedeck_owned_tokens",
			Help: "Number of tokens in the owned set",
		},
	)

	StakedTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakedeck_staked_tokens",
			Help: "Number of tokens in the staked set",
		},
	)

	// Reward refresher metrics
	RewardRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_reward_refreshes_total",
			Help: "Total number of reward refresh cycles",
		},
		[]string{"outcome"},
	)

	RewardEarned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakedeck_reward_earned",
			Help: "Accumulated rewards for the session address in display units",
		},
	)

	RewardDailyCap = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakedeck_reward_daily_cap",
			Help: "Contract-wide daily reward cap in display units",
		},
	)

	ContractTotalStaked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakedeck_contract_total_staked",
			Help: "Contract-wide count of staked tokens",
		},
	)

	// Operation metrics
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_operations_total",
			Help: "Total number of transaction operations",
		},
		[]string{"kind", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stakedeck_operation_duration_seconds",
			Help:    "Time from operation submission to settlement",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	OptimisticRollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_optimistic_rollbacks_total",
			Help: "Local set mutations rolled back after a failed transaction",
		},
		[]string{"kind"},
	)

	// Event watcher metrics
	EventsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_events_detected_total",
			Help: "Staking contract events detected for the session address",
		},
		[]string{"event_type"},
	)

	EventPollLastBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakedeck_event_poll_last_block",
			Help: "Last block number scanned by the event watcher",
		},
	)

	// Metadata metrics
	MetadataFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_metadata_fetches_total",
			Help: "Token metadata fetch attempts",
		},
		[]string{"outcome"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakedeck_api_requests_total",
			Help: "Total number of console API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stakedeck_api_request_duration_seconds",
			Help:    "Console API request duration",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordRPCOutcome records the end state of one resilient call
func RecordRPCOutcome(label, outcome string, duration float64) {
	RPCCallsTotal.WithLabelValues(label, outcome).Inc()
	RPCCallDuration.WithLabelValues(label).Observe(duration)
}

// UpdateChainHealth updates the target network health gauge
func UpdateChainHealth(healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	ChainHealthy.Set(value)
}

// UpdateChainBlockNumber updates the latest observed block number
func UpdateChainBlockNumber(blockNumber uint64) {
	ChainBlockNumber.Set(float64(blockNumber))
}

// UpdateSessionConnected flips the session gauge
func UpdateSessionConnected(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	SessionConnected.Set(value)
}

// UpdateTokenCounts updates the owned and staked set gauges
func UpdateTokenCounts(owned, staked int) {
	OwnedTokens.Set(float64(owned))
	StakedTokens.Set(float64(staked))
}

// RecordOperation records a settled operation
func RecordOperation(kind, status string, duration float64) {
	OperationsTotal.WithLabelValues(kind, status).Inc()
	OperationDuration.WithLabelValues(kind).Observe(duration)
}

// RecordAPIRequest records a console API request
func RecordAPIRequest(method, endpoint, status string, duration float64) {
	APIRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionAttempts counts node connection attempts by the tip watcher
	ConnectionAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderwatch_connection_attempts_total",
			Help: "Total number of Ethereum node connection attempts",
		},
	)

	// BlocksReceived counts headers accepted by the tip watcher
	BlocksReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderwatch_blocks_received_total",
			Help: "Total number of block headers accepted",
		},
	)

	// BlocksAdded tracks how many headers each resolution pass emitted
	BlocksAdded = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderwatch_blocks_added",
			Help:    "Headers emitted per resolution pass",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	// BlocksRewound tracks reorg depths
	BlocksRewound = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderwatch_blocks_rewound",
			Help:    "Blocks rewound per detected reorg",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)

	// HeaderAge tracks the age of received headers relative to wall clock
	HeaderAge = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderwatch_block_header_age_seconds",
			Help:    "Age of received block headers",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	// HeaderFetchLatency tracks header fetch RPC latency
	HeaderFetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderwatch_block_header_latency_seconds",
			Help:    "Header fetch RPC latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// EventsDropped counts broadcast events dropped for lagging subscribers
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderwatch_events_dropped_total",
			Help: "Events dropped because a subscriber lagged behind",
		},
	)

	// OrderStateQueued counts orders queued for state fetching
	OrderStateQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderwatch_order_state_queued_total",
			Help: "Orders queued for state fetching",
		},
		[]string{"priority"},
	)

	// OrderStateMerged counts deduplicated state requests
	OrderStateMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderwatch_order_state_merged_total",
			Help: "Order state requests merged into an existing job",
		},
	)

	// OrderStateCalls counts batch contract calls issued
	OrderStateCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderwatch_order_state_calls_total",
			Help: "Batch order state contract calls issued",
		},
	)

	// OrderStateFetched counts order states successfully fetched
	OrderStateFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderwatch_order_state_fetched_total",
			Help: "Order states fetched from the exchange contract",
		},
	)

	// BatchSize tracks how many orders each contract call carried
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderwatch_order_state_batch_size",
			Help:    "Orders per batch contract call",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// BatchLatency tracks the batch eth_call duration
	BatchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderwatch_order_state_latency_seconds",
			Help:    "Batch order state eth_call duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RevalidationLatency tracks per-block revalidation duration
	RevalidationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderwatch_revalidation_latency_seconds",
			Help:    "Time to revalidate the order set for one block",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// InvalidationReason counts invalidated orders by reason
	InvalidationReason = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderwatch_invalidation_reason_total",
			Help: "Invalidated orders by reason",
		},
		[]string{"reason"},
	)

	// ReorgsObserved counts reorg events seen by the revalidator
	ReorgsObserved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderwatch_reorgs_observed_total",
			Help: "Reorg events observed by the revalidation loop",
		},
	)

	// DBOperations counts database operations by kind
	DBOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderwatch_db_operations_total",
			Help: "Database operations by kind",
		},
		[]string{"kind"},
	)

	// DBOrders tracks the number of orders in the database
	DBOrders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderwatch_db_orders",
			Help: "Number of orders in the database",
		},
	)

	// APIRequests counts API requests by route
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderwatch_api_requests_total",
			Help: "API requests by route",
		},
		[]string{"route"},
	)

	// APIResponseStatus counts API responses by status code
	APIResponseStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderwatch_api_response_status_total",
			Help: "API responses by status code",
		},
		[]string{"status_code"},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Wallet metrics
	// ============================================
	WalletReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faucet_wallet_ready",
		Help: "Wallet readiness (1=ready, 0=not ready)",
	})

	WalletTokenBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faucet_wallet_token_balance",
		Help: "Dispensing wallet token balance, in base units",
	})

	WalletNativeBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faucet_wallet_native_balance",
		Help: "Dispensing wallet native gas balance, in base units",
	})

	WalletSequence = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faucet_wallet_sequence",
		Help: "Dispensing wallet account sequence",
	})

	// ============================================
	// Claim pipeline metrics
	// ============================================
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faucet_claim_queue_depth",
		Help: "Number of claims waiting in the queue",
	})

	PendingCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faucet_claim_pending_count",
		Help: "Number of claims broadcast and awaiting confirmation",
	})

	ClaimsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faucet_claims_processed_total",
			Help: "Total claims dequeued, labelled by terminal outcome",
		},
		[]string{"outcome"},
	)

	LastProcessedClaimIdx = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faucet_last_processed_claim_idx",
		Help: "Highest claimIdx dequeued so far",
	})

	LastConfirmedClaimIdx = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faucet_last_confirmed_claim_idx",
		Help: "Highest claimIdx confirmed so far",
	})

	// ============================================
	// Refill controller metrics
	// ============================================
	RefillAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faucet_refill_attempts_total",
			Help: "Total refill/overflow attempts, labelled by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// ============================================
	// Notification hub metrics
	// ============================================
	HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faucet_hub_subscribers",
		Help: "Number of active notification subscribers",
	})

	// ============================================
	// Database metrics
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faucet_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})
)

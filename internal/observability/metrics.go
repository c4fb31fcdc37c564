package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain counters. Label values are fixed small sets so cardinality stays
// bounded; ids never become labels.
var (
	// BatchRows counts processed rows by outcome (new, duplicate_in_batch,
	// duplicate_in_pool, invalid).
	BatchRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadx_batch_rows_total",
			Help: "Rows processed by the batch processor, by outcome.",
		},
		[]string{"outcome"},
	)

	// Batches counts batches reaching a terminal status.
	Batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadx_batches_total",
			Help: "Batches finished, by terminal status.",
		},
		[]string{"status"},
	)

	// Purchases counts confirmation outcomes (completed, lost_race, replay).
	Purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadx_purchases_total",
			Help: "Purchase confirmations, by outcome.",
		},
		[]string{"outcome"},
	)

	// Settlements counts commission settlements by source (inline, reconcile).
	Settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadx_settlements_total",
			Help: "Commission settlements applied, by source.",
		},
		[]string{"source"},
	)

	// CreditGrants counts free credit grant attempts (granted, already_granted).
	CreditGrants = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadx_credit_grants_total",
			Help: "Free credit grant attempts, by result.",
		},
		[]string{"result"},
	)

	// PayoutRequests counts payout request results (accepted or a rejection
	// reason).
	PayoutRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadx_payout_requests_total",
			Help: "Payout requests, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(BatchRows, Batches, Purchases, Settlements, CreditGrants, PayoutRequests)
}

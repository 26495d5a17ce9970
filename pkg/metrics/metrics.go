package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoansRegistered counts loans created, by amortization regime.
	LoansRegistered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanbook_loans_registered_total",
			Help: "Number of loans registered",
		},
		[]string{"loan_type"},
	)

	// PaymentsRecorded counts payments by the installment status they left behind.
	PaymentsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanbook_payments_recorded_total",
			Help: "Number of payments recorded",
		},
		[]string{"installment_status"},
	)

	// ArrearsCalculations counts arrears runs by outcome (written or a skip reason).
	ArrearsCalculations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanbook_arrears_calculations_total",
			Help: "Number of arrears calculations",
		},
		[]string{"outcome"},
	)

	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanbook_operation_errors_total",
			Help: "Number of failed ledger operations",
		},
		[]string{"operation", "kind"},
	)
)

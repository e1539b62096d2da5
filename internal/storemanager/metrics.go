package storemanager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

var (
	// OperationsTotal counts store lifecycle operations.
	// Labels: op (list, create, merge, delete, open), result (success or an error kind)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragstore",
			Subsystem: "stores",
			Name:      "operations_total",
			Help:      "Total number of store lifecycle operations",
		},
		[]string{"op", "result"},
	)

	// OperationDuration tracks how long lifecycle operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragstore",
			Subsystem: "stores",
			Name:      "operation_duration_seconds",
			Help:      "Duration of store lifecycle operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// NameAttempts observes how many candidate names Create tried.
	NameAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragstore",
			Subsystem: "stores",
			Name:      "name_attempts",
			Help:      "Candidate names tried per store creation",
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		},
	)
)

func observe(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = ragerr.Kind(err)
	}
	OperationsTotal.WithLabelValues(op, result).Inc()
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

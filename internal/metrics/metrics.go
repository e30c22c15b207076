// Package metrics содержит метрики Prometheus сервиса стейкинга.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OperationsTotal считает операции леджера по действию и результату.
var OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "staking",
	Name:      "operations_total",
	Help:      "Ledger operations by action and outcome.",
}, []string{"action", "outcome"})

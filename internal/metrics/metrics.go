// Package metrics exports ledger operation counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "wallet"

	labelOperation = "operation"
	labelStatus    = "status"
	labelResult    = "result"

	ResultConsistent = "consistent"
	ResultDiverged   = "diverged"
	ResultFailed     = "failed"
)

// Operations whose credits move balances. append is excluded because every
// one of these also produces an append entry.
var creditOperations = map[string]struct{}{
	"spend":    {},
	"purchase": {},
	"grant":    {},
	"deduct":   {},
	"refund":   {},
}

// Recorder counts ledger operations on its own registry. It implements
// ledger.OperationLogger.
type Recorder struct {
	registry        *prometheus.Registry
	operations      *prometheus.CounterVec
	credits         *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
}

// NewRecorder registers the wallet collectors plus the Go and process collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	recorder := &Recorder{
		registry: registry,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by outcome.",
		}, []string{labelOperation, labelStatus}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_credits_total",
			Help:      "Absolute credits moved by committed operations.",
		}, []string{labelOperation}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_accounts_total",
			Help:      "Accounts checked by reconciliation by result.",
		}, []string{labelResult}),
	}
	registry.MustRegister(
		recorder.operations,
		recorder.credits,
		recorder.reconciliations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return recorder
}

func (recorder *Recorder) LogOperation(_ context.Context, entry ledger.OperationLog) {
	recorder.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Status != ledger.StatusOK {
		return
	}
	if _, counted := creditOperations[entry.Operation]; !counted {
		return
	}
	credits := entry.Credits
	if credits < 0 {
		credits = -credits
	}
	recorder.credits.WithLabelValues(entry.Operation).Add(float64(credits))
}

// ObserveReconciliation counts one reconciled account.
func (recorder *Recorder) ObserveReconciliation(reconciliation ledger.Reconciliation) {
	result := ResultConsistent
	if !reconciliation.Consistent() {
		result = ResultDiverged
	}
	recorder.reconciliations.WithLabelValues(result).Inc()
}

// ObserveReconciliationFailure counts a reconciliation pass that could not complete.
func (recorder *Recorder) ObserveReconciliationFailure() {
	recorder.reconciliations.WithLabelValues(ResultFailed).Inc()
}

// Registry exposes the underlying registry.
func (recorder *Recorder) Registry() *prometheus.Registry {
	return recorder.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (recorder *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(recorder.registry, promhttp.HandlerOpts{})
}

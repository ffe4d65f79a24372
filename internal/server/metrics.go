// Prometheus metrics served at /metrics.
//
//   - fair_decisions_total{outcome}  – Decision cycles by outcome (execute|hold)
//   - fair_net_benefit_eur           – Net benefit of the last decision (gauge)
//   - fair_tax_batches_total{mode}   – Tax batches priced (preview|resolve)
//   - fair_last_tax_eur              – Total tax of the last batch (gauge)
package server

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fair_decisions_total",
			Help: "Decision cycles evaluated, by outcome",
		},
		[]string{"outcome"},
	)

	mtxNetBenefit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fair_net_benefit_eur",
			Help: "Net benefit of the most recent decision",
		},
	)

	mtxTaxBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fair_tax_batches_total",
			Help: "Tax batches priced, by mode",
		},
		[]string{"mode"},
	)

	mtxLastTax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fair_last_tax_eur",
			Help: "Total tax of the most recent batch",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxDecisions, mtxNetBenefit)
	prometheus.MustRegister(mtxTaxBatches, mtxLastTax)
}

// ObserveDecision records the outcome of one decision cycle.
func ObserveDecision(execute bool, netBenefit float64) {
	outcome := "hold"
	if execute {
		outcome = "execute"
	}
	mtxDecisions.WithLabelValues(outcome).Inc()
	mtxNetBenefit.Set(netBenefit)
}

// ObserveTaxBatch records one priced tax batch.
func ObserveTaxBatch(commit bool, totalTax float64) {
	mode := "preview"
	if commit {
		mode = "resolve"
	}
	mtxTaxBatches.WithLabelValues(mode).Inc()
	mtxLastTax.Set(totalTax)
}

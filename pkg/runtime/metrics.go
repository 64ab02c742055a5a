package runtime

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const namespace = "x1_staking"

// metrics are the bank's prometheus collectors. A nil *metrics records nothing.
type metrics struct {
	transactions *prometheus.CounterVec
	instructions *prometheus.CounterVec
	computeUnits prometheus.Histogram
}

func register[T prometheus.Collector](reg prometheus.Registerer, log logrus.FieldLogger, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		log.WithError(err).Warn("unable to register metric")
	}
	return c
}

func newMetrics(reg prometheus.Registerer, log logrus.FieldLogger) *metrics {
	if reg == nil {
		return nil
	}
	return &metrics{
		transactions: register(reg, log, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Processed transactions by outcome.",
			},
			[]string{"status"},
		)),
		instructions: register(reg, log, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instructions_total",
				Help:      "Executed top-level instructions by program and outcome.",
			},
			[]string{"program", "status"},
		)),
		computeUnits: register(reg, log, prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_compute_units",
				Help:      "Compute units consumed per transaction.",
				Buckets:   prometheus.ExponentialBuckets(500, 2, 12),
			},
		)),
	}
}

func status(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}

func (m *metrics) observeInstruction(program string, err error) {
	if m == nil {
		return
	}
	m.instructions.WithLabelValues(program, status(err)).Inc()
}

func (m *metrics) observeTransaction(cu uint64, err error) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(status(err)).Inc()
	m.computeUnits.Observe(float64(cu))
}

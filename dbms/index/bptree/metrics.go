package bptree

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	splits           *prometheus.CounterVec
	seekRetries      prometheus.Counter
	writerContention prometheus.Counter
	lastPageID       prometheus.Gauge
}

// newMetrics registers the index collectors with reg, labelled with the
// index name. A nil reg leaves them unregistered. Collectors already
// registered under the same name and label are reused; any other
// registration failure is returned.
func newMetrics(reg prometheus.Registerer, name string) (*metrics, error) {
	labels := prometheus.Labels{"index": name}
	m := &metrics{
		splits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gbptree_splits_total",
			Help:        "Node splits by node kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		seekRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gbptree_seek_retries_total",
			Help:        "Optimistic page reads redone because a writer touched the page.",
			ConstLabels: labels,
		}),
		writerContention: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gbptree_writer_contention_total",
			Help:        "Writer acquisitions refused because the writer was taken.",
			ConstLabels: labels,
		}),
		lastPageID: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "gbptree_last_page_id",
			Help:        "Highest page id allocated.",
			ConstLabels: labels,
		}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.splits, err = register(reg, m.splits); err != nil {
		return nil, err
	}
	if m.seekRetries, err = register(reg, m.seekRetries); err != nil {
		return nil, err
	}
	if m.writerContention, err = register(reg, m.writerContention); err != nil {
		return nil, err
	}
	if m.lastPageID, err = register(reg, m.lastPageID); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, errors.Wrap(err, "bptree: register metrics")
}

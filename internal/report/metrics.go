// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package report

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a [Reporter] that counts anomalies by kind.
type Metrics struct {
	anomalies *prometheus.CounterVec
}

// NewMetrics creates a [Metrics] reporter and registers its collector with
// reg. All known kinds are initialized to zero so they show up in scrapes
// before the first anomaly.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leyla",
			Name:      "anomalies_total",
			Help:      "Operational anomalies by kind.",
		}, []string{"kind"}),
	}
	for _, k := range Kinds {
		m.anomalies.WithLabelValues(string(k))
	}
	reg.MustRegister(m.anomalies)
	return m
}

// Report implements [Reporter].
func (m *Metrics) Report(_ context.Context, kind Kind, _ string) {
	m.anomalies.WithLabelValues(string(kind)).Inc()
}

package escrow

import (
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// opMetrics times every ledger operation and counts its rejections by kind.
type opMetrics struct {
	registry gometrics.Registry
}

func newOpMetrics(r gometrics.Registry) *opMetrics {
	if r == nil {
		r = gometrics.NewRegistry()
	}
	return &opMetrics{registry: r}
}

func (m *opMetrics) measure(op string, start time.Time, err *error) {
	gometrics.GetOrRegisterTimer("ledger."+op+".duration", m.registry).UpdateSince(start)
	if *err == nil {
		gometrics.GetOrRegisterCounter("ledger."+op+".ok", m.registry).Inc(1)
		return
	}
	gometrics.GetOrRegisterCounter("ledger."+op+".rejected."+KindOf(*err).String(), m.registry).Inc(1)
}

package network

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	sent          prometheus.Counter
	received      prometheus.Counter
	receiveErrors *prometheus.CounterVec
}

// newMetrics builds the counters and registers them on reg when it is not
// nil. Unregistered counters still count, they are just not exported. A
// failed registration leaves reg as it was.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "securenet",
			Name:      "messages_sent_total",
			Help:      "Number of envelopes published by Send",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "securenet",
			Name:      "messages_received_total",
			Help:      "Number of inbound packets accepted",
		}),
		receiveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securenet",
			Name:      "receive_errors_total",
			Help:      "Number of inbound payloads rejected, by kind",
		}, []string{"kind"}),
	}

	if reg == nil {
		return m, nil
	}
	collectors := []prometheus.Collector{m.sent, m.received, m.receiveErrors}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			for _, done := range collectors[:i] {
				reg.Unregister(done)
			}
			return nil, err
		}
	}
	return m, nil
}

package swap

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes transfer volume counters for one scheduler instance.
// All methods are nil-safe so the scheduler can run unmetered.
type Metrics struct {
	SwapInBytes  prometheus.Counter
	SwapOutBytes prometheus.Counter
	Preclears    prometheus.Counter
	WrongOrdered prometheus.Counter
	Iterations   prometheus.Counter
}

// NewMetrics builds the counter set and registers it with reg when
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SwapInBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swap_sched",
			Name:      "swap_in_bytes_total",
			Help:      "Bytes prefetched from host to device.",
		}),
		SwapOutBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swap_sched",
			Name:      "swap_out_bytes_total",
			Help:      "Bytes evicted from device to host.",
		}),
		Preclears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swap_sched",
			Name:      "preclears_total",
			Help:      "Scheduled evictions replaced by a release.",
		}),
		WrongOrdered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swap_sched",
			Name:      "wrong_ordered_total",
			Help:      "Live accesses that diverged from the recorded trace.",
		}),
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swap_sched",
			Name:      "iterations_total",
			Help:      "Completed training iterations.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.SwapInBytes, m.SwapOutBytes, m.Preclears, m.WrongOrdered, m.Iterations)
	}
	return m
}

func (m *Metrics) addSwapIn(bytes int64) {
	if m != nil {
		m.SwapInBytes.Add(float64(bytes))
	}
}

func (m *Metrics) addSwapOut(bytes int64) {
	if m != nil {
		m.SwapOutBytes.Add(float64(bytes))
	}
}

func (m *Metrics) addPreclear() {
	if m != nil {
		m.Preclears.Inc()
	}
}

func (m *Metrics) addWrongOrdered() {
	if m != nil {
		m.WrongOrdered.Inc()
	}
}

func (m *Metrics) addIteration() {
	if m != nil {
		m.Iterations.Inc()
	}
}

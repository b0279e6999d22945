package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SwapMetrics aggregates the counters tracked for the swap RPC surface.
type SwapMetrics struct {
	requests  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	transfers prometheus.Counter
}

var (
	swapOnce     sync.Once
	swapRegistry *SwapMetrics
)

// Swap returns the process-wide swap metrics, registering them on first use.
func Swap() *SwapMetrics {
	swapOnce.Do(func() {
		swapRegistry = &SwapMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "swap_rpc_requests_total",
				Help: "Count of swap RPC calls by method.",
			}, []string{"method"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "swap_rpc_failures_total",
				Help: "Count of failed swap RPC calls by method.",
			}, []string{"method"}),
			transfers: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "swap_transfer_instructions_total",
				Help: "Count of transfer instructions planned by settlements.",
			}),
		}
		prometheus.MustRegister(swapRegistry.requests, swapRegistry.failures, swapRegistry.transfers)
	})
	return swapRegistry
}

// ObserveRequest records one RPC call for method.
func (m *SwapMetrics) ObserveRequest(method string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method).Inc()
}

// ObserveFailure records one failed RPC call for method.
func (m *SwapMetrics) ObserveFailure(method string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(method).Inc()
}

// ObserveTransfers records n planned transfer instructions.
func (m *SwapMetrics) ObserveTransfers(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.transfers.Add(float64(n))
}

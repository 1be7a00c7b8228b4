/*
Package metrics defines and registers this process's Prometheus
metrics: node registry counts, the derived container/model/package
state gauges, cascade timing, reconcile dispatch outcomes, the
gRPC/REST request histograms, and KV store operation latency. All
metrics are registered at package init and exposed over /metrics via
Handler.

# Usage

	timer := metrics.NewTimer()
	err := store.Put(key, value)
	timer.ObserveDurationVec(metrics.StoreOpDuration, "put")

	metrics.RegistrationsTotal.WithLabelValues("ok").Inc()

piccolod and piccolo-agent both import this package; the agent only
increments AgentReconnectsTotal, the rest are Master-side.
*/
package metrics

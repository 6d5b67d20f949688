/*
Package metrics provides Prometheus metrics collection and exposition
for nspawnd.

It defines and registers the collectors exercised by the provisioning
pipeline, the lifecycle controller, the port-forward rule store and
the Host Invoker, using the Prometheus client library. Collectors are
package-level vars registered at init(); Handler returns the HTTP
handler a caller mounts at /metrics.

# Usage

	http.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LifecycleOpDuration, "start")
*/
package metrics

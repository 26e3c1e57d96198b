/*
Package metrics exposes Bay's Prometheus instrumentation.

All collectors are package-level variables registered at init and
served through Handler() on /metrics. Names follow the bay_ prefix
convention:

  - bay_sandboxes_live, bay_sandboxes_created_total,
    bay_sandboxes_deleted_total
  - bay_session_starts_total, bay_session_ready_duration_seconds
  - bay_capability_calls_total, bay_capability_duration_seconds
  - bay_api_requests_total, bay_api_request_duration_seconds
  - bay_gc_runs_total, bay_gc_reclaimed_total
  - bay_adapter_pool_size

Timer is a small helper for observing durations:

	timer := metrics.NewTimer(metrics.CapabilityDuration.WithLabelValues("python"))
	defer timer.Stop()
*/
package metrics

// Package metrics counts what the broker does and exposes the counts in
// Prometheus text exposition format.
//
// Metrics is a plain struct of atomic counters shared by the hub, the ingest
// service and the dispatcher; there is no global state. Handler(m, gauges)
// returns the /metrics endpoint: gauges (active sessions, tracked resources,
// live subscriptions) are read through callbacks at scrape time, counters
// are copied with Snapshot. All series carry the consistd_ prefix.
package metrics

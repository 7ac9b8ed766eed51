// Package api implements the HTTP ingest and introspection surface served on
// the ingest port. It registers:
//
//	POST /api/v1/invalidate - report a changed resource (guarded)
//	GET  /api/v1/health     - liveness and headline gauges
//	GET  /api/v1/stats      - full counter snapshot
//
// No external HTTP framework is used; the stdlib mux is enough for the
// handful of routes involved.
package api

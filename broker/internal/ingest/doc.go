// Package ingest accepts resource change reports and drives dispatch.
//
// Every transport converges on Service.ReportChange: the HTTP API handler,
// the optional raw TCP listener, and in-process callers all enqueue into one
// bounded backlog. A full backlog fails the report with ErrBacklogFull
// instead of blocking the transport — the backend hears about the refusal
// and decides whether to retry.
//
// A single worker (Run) drains the backlog, which keeps per-uri dispatch
// order equal to report order. With coalescing enabled the worker also
// collapses bursts for the same uri down to the newest payload before
// fan-out; subscribers still receive at least one notification reflecting
// the latest reported state, just not one per intermediate report.
//
// The TCP listener exists for backends that cannot issue HTTP requests:
// one JSON report per line ({"uri":...,"payload":...}), one JSON ack per
// report ({"ok":true} or {"ok":false,"error":...}). It is unauthenticated
// and meant for trusted networks.
package ingest

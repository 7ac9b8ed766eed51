// Package notify is the Go client backends use to report resource changes to
// a consistd broker.
//
// The simple path is a synchronous call:
//
//	cli := notify.New("http://localhost:1991")
//	err := cli.ReportChange(ctx, "/orders/42", payload)
//
// Backends that must never stall on the broker use the buffered path instead:
// Queue never blocks (the oldest report is evicted when the buffer fills) and
// a Run goroutine drains the buffer, retrying transient failures with
// exponential backoff. Reports the broker rejects as invalid are discarded,
// not retried.
//
//	cli := notify.New(endpoint, notify.WithAPIKey("x-api-key", key))
//	go cli.Run(ctx)
//	cli.Queue("/orders/42", payload)
package notify

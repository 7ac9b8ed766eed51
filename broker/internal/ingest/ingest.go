package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/consistd/consistd/broker/internal/dispatch"
	"github.com/consistd/consistd/broker/internal/metrics"
)

// maxBatch caps how many queued reports one worker pass may drain while
// coalescing, so a sustained burst cannot starve dispatch.
const maxBatch = 256

var (
	// ErrBacklogFull is returned when a report arrives while the intake
	// backlog is full. The caller decides whether to retry.
	ErrBacklogFull = errors.New("ingest: change backlog is full")

	// ErrEmptyURI is returned for a report that names no resource.
	ErrEmptyURI = errors.New("ingest: uri must not be empty")
)

// Dispatcher hands one change event to its subscribers.
type Dispatcher interface {
	Dispatch(ev dispatch.Event) int
}

// Service accepts change reports from backends and feeds the dispatcher.
// All report transports (HTTP, raw TCP, in-process) converge on ReportChange.
type Service struct {
	disp     Dispatcher
	met      *metrics.Metrics
	backlog  chan dispatch.Event
	coalesce bool
}

// New creates a service with the given backlog capacity. When coalesce is
// true the worker collapses bursts of reports for the same uri into the
// newest one.
func New(disp Dispatcher, met *metrics.Metrics, backlogSize int, coalesce bool) *Service {
	return &Service{
		disp:     disp,
		met:      met,
		backlog:  make(chan dispatch.Event, backlogSize),
		coalesce: coalesce,
	}
}

// ReportChange queues a change notification for uri. payload is optional and
// opaque. The call never blocks: when the backlog is full it fails with
// ErrBacklogFull so the caller knows the report was not accepted.
func (s *Service) ReportChange(ctx context.Context, uri string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if uri == "" {
		return ErrEmptyURI
	}

	select {
	case s.backlog <- dispatch.Event{URI: uri, Payload: payload}:
		s.met.ChangesIngested.Add(1)
		return nil
	default:
		s.met.ChangesRejected.Add(1)
		slog.Warn("ingest: backlog full, report rejected", "uri", uri, "backlog_cap", cap(s.backlog))
		return ErrBacklogFull
	}
}

// Backlog returns the number of reports waiting for the worker.
func (s *Service) Backlog() int { return len(s.backlog) }

// Run drains the backlog and dispatches until ctx is cancelled. A single
// worker drains the queue, so reports for the same uri dispatch in the order
// they were accepted.
func (s *Service) Run(ctx context.Context) {
	slog.Info("ingest: worker started", "backlog_cap", cap(s.backlog), "coalesce", s.coalesce)
	for {
		select {
		case <-ctx.Done():
			slog.Info("ingest: worker stopped")
			return
		case ev := <-s.backlog:
			for _, e := range s.collect(ev) {
				s.disp.Dispatch(e)
			}
		}
	}
}

// collect returns the batch opened by first. With coalescing enabled it
// drains whatever is already queued (up to maxBatch) and keeps only the
// newest payload per uri, so an invalidation storm for one resource becomes
// a single notification reflecting the latest reported state.
func (s *Service) collect(first dispatch.Event) []dispatch.Event {
	batch := []dispatch.Event{first}
	if !s.coalesce {
		return batch
	}

	seen := map[string]int{first.URI: 0}
	for len(batch) < maxBatch {
		select {
		case ev := <-s.backlog:
			if i, ok := seen[ev.URI]; ok {
				batch[i].Payload = ev.Payload
				s.met.ChangesCoalesced.Add(1)
				continue
			}
			seen[ev.URI] = len(batch)
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

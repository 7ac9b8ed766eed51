package metrics

import (
	"net/http"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Metrics is the broker's counter set. The hot paths bump fields lock-free;
// Snapshot and the exposition handler read them atomically.
type Metrics struct {
	SessionsOpened        atomic.Uint64
	SessionsClosed        atomic.Uint64
	FramesMalformed       atomic.Uint64
	ChangesIngested       atomic.Uint64
	ChangesCoalesced      atomic.Uint64
	ChangesRejected       atomic.Uint64
	InvalidationsEnqueued atomic.Uint64
	InvalidationsDropped  atomic.Uint64
}

// New returns a zeroed metrics set.
func New() *Metrics { return &Metrics{} }

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	SessionsOpened        uint64 `json:"sessions_opened"`
	SessionsClosed        uint64 `json:"sessions_closed"`
	FramesMalformed       uint64 `json:"frames_malformed"`
	ChangesIngested       uint64 `json:"changes_ingested"`
	ChangesCoalesced      uint64 `json:"changes_coalesced"`
	ChangesRejected       uint64 `json:"changes_rejected"`
	InvalidationsEnqueued uint64 `json:"invalidations_enqueued"`
	InvalidationsDropped  uint64 `json:"invalidations_dropped"`
}

// Snapshot reads every counter once.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		SessionsOpened:        m.SessionsOpened.Load(),
		SessionsClosed:        m.SessionsClosed.Load(),
		FramesMalformed:       m.FramesMalformed.Load(),
		ChangesIngested:       m.ChangesIngested.Load(),
		ChangesCoalesced:      m.ChangesCoalesced.Load(),
		ChangesRejected:       m.ChangesRejected.Load(),
		InvalidationsEnqueued: m.InvalidationsEnqueued.Load(),
		InvalidationsDropped:  m.InvalidationsDropped.Load(),
	}
}

// Gauges supplies the live values exported next to the counters. A nil
// function exports zero.
type Gauges struct {
	Sessions      func() int
	Resources     func() int
	Subscriptions func() int
}

// Handler serves the counter set and gauges in Prometheus exposition format,
// honoring the request's Accept header.
func Handler(m *Metrics, g Gauges) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Snapshot()
		families := []*dto.MetricFamily{
			gauge("consistd_sessions_active",
				"Currently connected client sessions.", readGauge(g.Sessions)),
			gauge("consistd_resources_tracked",
				"Resource URIs with at least one subscriber.", readGauge(g.Resources)),
			gauge("consistd_subscriptions_active",
				"Live (session, uri) subscription pairs.", readGauge(g.Subscriptions)),
			counter("consistd_sessions_opened_total",
				"Sessions accepted since start.", s.SessionsOpened),
			counter("consistd_sessions_closed_total",
				"Sessions torn down since start.", s.SessionsClosed),
			counter("consistd_frames_malformed_total",
				"Client frames rejected as malformed or unexpected.", s.FramesMalformed),
			counter("consistd_changes_ingested_total",
				"Change reports accepted into the ingest backlog.", s.ChangesIngested),
			counter("consistd_changes_coalesced_total",
				"Change reports collapsed into an earlier report for the same uri.", s.ChangesCoalesced),
			counter("consistd_changes_rejected_total",
				"Change reports refused because the backlog was full.", s.ChangesRejected),
			counter("consistd_invalidations_enqueued_total",
				"Invalidation frames enqueued to session queues.", s.InvalidationsEnqueued),
			counter("consistd_invalidations_dropped_total",
				"Invalidation frames shed by the session overflow policy.", s.InvalidationsDropped),
		}

		format := expfmt.Negotiate(r.Header)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				return
			}
		}
	})
}

func readGauge(fn func() int) float64 {
	if fn == nil {
		return 0
	}
	return float64(fn())
}

func counter(name, help string, v uint64) *dto.MetricFamily {
	value := float64(v)
	return &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: &value}}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: &v}}},
	}
}

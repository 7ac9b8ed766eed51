package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

const (
	reportPath = "/api/v1/invalidate"

	defaultBufferSize = 256
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// ErrRejected is returned when the broker refuses a report as invalid.
// Retrying a rejected report is pointless.
var ErrRejected = errors.New("notify: broker rejected the report")

// change is the JSON body of a report.
type change struct {
	URI     string `json:"uri"`
	Payload []byte `json:"payload,omitempty"`
}

// Client reports resource changes to a consistd broker. ReportChange is a
// synchronous one-shot; Queue plus Run give a non-blocking buffered path with
// retry, for backends that must never stall on the broker.
type Client struct {
	endpoint string
	header   string
	key      string
	httpc    *http.Client
	buf      chan change
	bufSize  int

	boInitial time.Duration
	boMax     time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIKey sends key in the named header on every report. An empty header
// keeps the default x-api-key.
func WithAPIKey(header, key string) Option {
	return func(c *Client) {
		if header != "" {
			c.header = header
		}
		c.key = key
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithBufferSize sets the Queue buffer depth.
func WithBufferSize(n int) Option {
	return func(c *Client) { c.bufSize = n }
}

// WithRetryBackoff overrides the retry backoff bounds used by Run.
func WithRetryBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.boInitial = initial
		c.boMax = max
	}
}

// New creates a Client for the broker's ingest endpoint, for example
// "http://localhost:1991".
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:  strings.TrimRight(endpoint, "/"),
		header:    "x-api-key",
		httpc:     &http.Client{Timeout: sendTimeout},
		bufSize:   defaultBufferSize,
		boInitial: backoffInitial,
		boMax:     backoffMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bufSize < 1 {
		c.bufSize = 1
	}
	c.buf = make(chan change, c.bufSize)
	return c
}

// ReportChange tells the broker that uri changed. payload is optional and
// opaque to the broker. A rejection (bad report) wraps ErrRejected; every
// other failure is transient and worth retrying.
func (c *Client) ReportChange(ctx context.Context, uri string, payload []byte) error {
	body, err := json.Marshal(change{URI: uri, Payload: payload})
	if err != nil {
		return fmt.Errorf("notify: encode report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+reportPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set(c.header, c.key)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("notify: report %s: %w", uri, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRejected, readError(resp.Body))
	default:
		return fmt.Errorf("notify: report %s: broker answered %s", uri, resp.Status)
	}
}

// Queue enqueues a report for the Run loop. Never blocks: when the buffer is
// full the oldest report is evicted to make room for the newest. Safe for
// concurrent use.
func (c *Client) Queue(uri string, payload []byte) {
	ch := change{URI: uri, Payload: payload}
	for {
		select {
		case c.buf <- ch:
			return
		default:
		}
		// Buffer full — drop the oldest report, keep the newest. Another
		// producer may win the freed slot, so keep going until ours lands.
		select {
		case <-c.buf:
			slog.Warn("notify: buffer full, evicted oldest report",
				"uri", uri, "buffer_cap", cap(c.buf))
		default:
		}
	}
}

// Run drains the queue, delivering each report before taking the next.
// Transient failures retry the same report with exponential backoff;
// rejections are logged and discarded. Run blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	bo := &backoff{initial: c.boInitial, max: c.boMax}
	bo.reset()

	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-c.buf:
			c.deliver(ctx, bo, ch)
		}
	}
}

// deliver retries ch until it lands, is rejected, or ctx ends.
func (c *Client) deliver(ctx context.Context, bo *backoff, ch change) {
	for {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := c.ReportChange(sendCtx, ch.URI, ch.Payload)
		cancel()

		switch {
		case err == nil:
			bo.reset()
			slog.Debug("notify: report delivered", "uri", ch.URI)
			return
		case errors.Is(err, ErrRejected):
			slog.Error("notify: report rejected, discarding", "uri", ch.URI, "err", err)
			return
		case ctx.Err() != nil:
			return
		}

		wait := bo.next()
		slog.Warn("notify: report failed, will retry",
			"uri", ch.URI, "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// readError pulls the error detail out of a broker error envelope.
func readError(r io.Reader) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&e); err == nil && e.Error != "" {
		return e.Error
	}
	return "no detail"
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	// Advance for next call.
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}

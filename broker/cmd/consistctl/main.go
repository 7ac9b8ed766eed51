package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/consistd/consistd/pkg/notify"
)

// consistctl reports a single resource change to a running broker, over HTTP
// by default or over the raw TCP listener with -tcp.
func main() {
	endpoint := flag.String("endpoint", "http://localhost:1991", "broker ingest endpoint")
	tcpAddr := flag.String("tcp", "", "report over raw TCP to this host:port instead of HTTP")
	uri := flag.String("uri", "", "resource uri that changed (required)")
	payload := flag.String("payload", "", "optional opaque payload to attach")
	keyEnv := flag.String("key-env", "", "environment variable holding the API key")
	header := flag.String("header", "x-api-key", "header carrying the API key")
	timeout := flag.Duration("timeout", 5*time.Second, "report timeout")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *uri == "" {
		slog.Error("missing -uri")
		flag.Usage()
		os.Exit(2)
	}

	var body []byte
	if *payload != "" {
		body = []byte(*payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	if *tcpAddr != "" {
		err = reportTCP(ctx, *tcpAddr, *uri, body)
	} else {
		var key string
		if *keyEnv != "" {
			key = os.Getenv(*keyEnv)
		}
		cli := notify.New(*endpoint, notify.WithAPIKey(*header, key))
		err = cli.ReportChange(ctx, *uri, body)
	}
	if err != nil {
		slog.Error("report failed", "uri", *uri, "err", err)
		os.Exit(1)
	}

	slog.Info("change reported", "uri", *uri)
}

// reportTCP sends one newline-delimited JSON report and checks the ack.
func reportTCP(ctx context.Context, addr, uri string, payload []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline) //nolint:errcheck
	}

	report := struct {
		URI     string `json:"uri"`
		Payload []byte `json:"payload,omitempty"`
	}{URI: uri, Payload: payload}
	if err := json.NewEncoder(conn).Encode(report); err != nil {
		return fmt.Errorf("send report: %w", err)
	}

	var ack struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(conn).Decode(&ack); err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("broker refused the report: %s", ack.Error)
	}
	return nil
}

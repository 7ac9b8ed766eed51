package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
)

// maxLineBytes bounds one report line on the raw TCP listener so a bad
// writer cannot balloon memory.
const maxLineBytes = 256 << 10

// changeLine is one newline-delimited report.
type changeLine struct {
	URI     string `json:"uri"`
	Payload []byte `json:"payload,omitempty"`
}

// ackLine answers every report line.
type ackLine struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// TCPServer accepts newline-delimited JSON change reports from backends that
// do not speak HTTP. The listener carries no authentication and belongs on
// trusted networks only.
type TCPServer struct {
	svc *Service
}

// NewTCPServer creates a raw TCP report front for svc.
func NewTCPServer(svc *Service) *TCPServer { return &TCPServer{svc: svc} }

// Serve accepts connections on lis until ctx is cancelled. Each connection
// gets its own goroutine; cancelling ctx closes the listener and every live
// connection.
func (t *TCPServer) Serve(ctx context.Context, lis net.Listener) error {
	stop := context.AfterFunc(ctx, func() { lis.Close() })
	defer stop()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ingest: accept: %w", err)
		}
		go t.handle(ctx, conn)
	}
}

// handle serves one connection: one JSON report per line, one JSON ack per
// report. A malformed line earns a failed ack; the connection stays open.
func (t *TCPServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	slog.Debug("ingest: tcp connection opened", "remote", remote)

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	enc := json.NewEncoder(conn)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		ack := ackLine{OK: true}
		var report changeLine
		if err := json.Unmarshal(line, &report); err != nil {
			ack = ackLine{OK: false, Error: "malformed report line"}
		} else if err := t.svc.ReportChange(ctx, report.URI, report.Payload); err != nil {
			ack = ackLine{OK: false, Error: err.Error()}
		}

		if err := enc.Encode(ack); err != nil {
			return
		}
	}

	if err := sc.Err(); err != nil && ctx.Err() == nil {
		slog.Debug("ingest: tcp connection read error", "remote", remote, "err", err)
	}
	slog.Debug("ingest: tcp connection closed", "remote", remote)
}

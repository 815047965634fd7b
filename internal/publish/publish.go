// Package publish sends directories and match tables to NATS subjects with
// OpenTelemetry trace propagation.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tenant-locator/internal/directory"
	"tenant-locator/internal/match"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	PublishMsg(m *nats.Msg) error
}

// traceHeader exposes message headers as an OTel TextMapCarrier.
type traceHeader nats.Header

func (h traceHeader) Get(key string) string { return nats.Header(h).Get(key) }

func (h traceHeader) Set(key, val string) { nats.Header(h).Set(key, val) }

func (h traceHeader) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// RunIDHeader names the header holding the run that produced a message.
const RunIDHeader = "Run-Id"

// DirectoryMessage carries a fetched tenant directory.
type DirectoryMessage struct {
	RunID       string             `json:"run_id"`
	Venue       string             `json:"venue"`
	PublishedAt time.Time          `json:"published_at"`
	Tenants     []directory.Tenant `json:"tenants"`
}

// MatchMessage carries the match table of one screenshot.
type MatchMessage struct {
	RunID       string           `json:"run_id"`
	Venue       string           `json:"venue"`
	Image       string           `json:"image"`
	Floor       string           `json:"floor"`
	PublishedAt time.Time        `json:"published_at"`
	Rows        []match.TableRow `json:"rows"`
}

// Publisher publishes pipeline results under a subject prefix.
type Publisher struct {
	conn   Conn
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// New wraps an existing connection.
func New(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, prefix: strings.Trim(prefix, "."), logger: logger, now: time.Now}
}

// Connect dials a NATS server.
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("tenant-locator"))
	if err != nil {
		return nil, fmt.Errorf("publish: connect %s: %w", url, err)
	}
	p := New(nc, prefix, logger)
	p.nc = nc
	return p, nil
}

// Close drains and closes a connection opened by Connect.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

// Directory publishes tenants on <prefix>.directory.<venue>.
func (p *Publisher) Directory(ctx context.Context, runID, venue string, tenants []directory.Tenant) error {
	msg := DirectoryMessage{RunID: runID, Venue: venue, PublishedAt: p.now().UTC(), Tenants: tenants}
	subject, err := p.send(ctx, "directory", runID, venue, msg)
	if err != nil {
		return err
	}
	p.logger.Info("directory published", "subject", subject, "tenants", len(tenants))
	return nil
}

// Matches publishes a match table on <prefix>.matches.<venue>.
func (p *Publisher) Matches(ctx context.Context, runID, venue, image, floor string, rows []match.TableRow) error {
	msg := MatchMessage{RunID: runID, Venue: venue, Image: image, Floor: floor, PublishedAt: p.now().UTC(), Rows: rows}
	subject, err := p.send(ctx, "matches", runID, venue, msg)
	if err != nil {
		return err
	}
	p.logger.Info("matches published", "subject", subject, "image", image, "rows", len(rows))
	return nil
}

// send encodes v as JSON and publishes it on <prefix>.<kind>.<venue> with the
// run id and the trace context of ctx in its headers.
func (p *Publisher) send(ctx context.Context, kind, runID, venue string, v any) (string, error) {
	subject := p.subject(kind, venue)
	data, err := json.Marshal(v)
	if err != nil {
		return subject, fmt.Errorf("publish: encode %s: %w", kind, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(RunIDHeader, runID)
	otel.GetTextMapPropagator().Inject(ctx, traceHeader(msg.Header))
	if err := p.conn.PublishMsg(msg); err != nil {
		return subject, fmt.Errorf("publish: %s: %w", subject, err)
	}
	return subject, nil
}

func (p *Publisher) subject(kind, venue string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>':
			return '_'
		}
		return r
	}, venue)
	if token == "" {
		token = "unknown"
	}
	return p.prefix + "." + kind + "." + token
}

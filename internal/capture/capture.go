// Package capture watches the request log of a browser session for the
// mapping service's bearer token and venue identifier.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ErrCaptureTimeout is returned when credentials were not observed within the
// polling budget or the session stopped responding.
var ErrCaptureTimeout = errors.New("capture: credentials not observed")

// RequestLogEntry is one outgoing request seen by the session.
type RequestLogEntry struct {
	Method  string
	URL     string
	Headers map[string]string
}

// Header returns the value of a header, matching the name case-insensitively.
func (e RequestLogEntry) Header(name string) string {
	for k, v := range e.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Session is a live page whose network traffic can be inspected.
type Session interface {
	// PollNewEntries returns the requests logged since the previous call.
	PollNewEntries(ctx context.Context) ([]RequestLogEntry, error)
	// CurrentURL reports the page URL; an error means the session is gone.
	CurrentURL(ctx context.Context) (string, error)
	// Nudge scrolls the page slightly so lazy map requests are issued.
	Nudge(ctx context.Context) error
}

// PagePreparer readies the page (e.g. dismisses a consent dialog) before
// polling starts.
type PagePreparer interface {
	PreparePage(ctx context.Context) error
}

// Credentials are what a capture produces.
type Credentials struct {
	Token string
	Venue string
}

// Complete reports whether both token and venue are known.
func (c Credentials) Complete() bool {
	return c.Token != "" && c.Venue != ""
}

// Options control the polling loop.
type Options struct {
	MaxIterations int
	Interval      time.Duration
	NudgeEvery    int
	Domain        string
	Preparer      PagePreparer
	Logger        *slog.Logger
}

// DefaultOptions polls once a second for two minutes.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 120,
		Interval:      time.Second,
		NudgeEvery:    5,
		Domain:        "mappedin.com",
	}
}

const minTokenLength = 20

var (
	venueSegments = map[string]bool{"map": true, "location": true, "node": true, "venue": true}
	mallPath      = regexp.MustCompile(`/mall/([^/#?]+)`)
)

// Observer extracts credentials from a Session.
type Observer struct {
	session Session
	opts    Options
	logger  *slog.Logger

	creds          Credentials
	tokenFromQuery bool
}

// NewObserver creates an Observer. Zero-valued options fall back to
// DefaultOptions; Interval may be zero.
func NewObserver(session Session, opts Options) *Observer {
	def := DefaultOptions()
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.Interval < 0 {
		opts.Interval = def.Interval
	}
	if opts.NudgeEvery <= 0 {
		opts.NudgeEvery = def.NudgeEvery
	}
	if opts.Domain == "" {
		opts.Domain = def.Domain
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{session: session, opts: opts, logger: logger}
}

// Capture polls the session until both credentials are seen. It returns
// ErrCaptureTimeout (with whatever was captured) when the budget runs out or
// the session becomes unreachable.
func (o *Observer) Capture(ctx context.Context) (Credentials, error) {
	if o.opts.Preparer != nil {
		if err := o.opts.Preparer.PreparePage(ctx); err != nil {
			o.logger.Warn("page preparation failed", "err", err)
		}
	}

	for i := 0; i < o.opts.MaxIterations; i++ {
		if _, err := o.session.CurrentURL(ctx); err != nil {
			return o.creds, fmt.Errorf("%w: session unavailable: %v", ErrCaptureTimeout, err)
		}

		entries, err := o.session.PollNewEntries(ctx)
		if err != nil {
			o.logger.Debug("poll failed", "iteration", i, "err", err)
		}
		o.Scan(entries)
		if o.creds.Complete() {
			o.logger.Info("credentials captured", "venue", o.creds.Venue, "iterations", i+1)
			return o.creds, nil
		}

		if (i+1)%o.opts.NudgeEvery == 0 {
			if err := o.session.Nudge(ctx); err != nil {
				o.logger.Debug("nudge failed", "err", err)
			}
		}
		if err := sleep(ctx, o.opts.Interval); err != nil {
			return o.creds, err
		}
	}

	if o.creds.Venue == "" {
		if page, err := o.session.CurrentURL(ctx); err == nil {
			if m := mallPath.FindStringSubmatch(page); m != nil {
				o.creds.Venue = m[1]
				o.logger.Info("venue taken from page url", "venue", m[1])
			}
		}
	}
	if o.creds.Complete() {
		return o.creds, nil
	}
	return o.creds, fmt.Errorf("%w after %d polls (token=%t venue=%t)",
		ErrCaptureTimeout, o.opts.MaxIterations, o.creds.Token != "", o.creds.Venue != "")
}

// Scan inspects a batch of requests. A bearer token always replaces a token
// taken from a query parameter; otherwise the first value seen is kept.
func (o *Observer) Scan(entries []RequestLogEntry) {
	for _, e := range entries {
		if tok, ok := bearerToken(e.Header("Authorization")); ok {
			if o.creds.Token == "" || o.tokenFromQuery {
				o.creds.Token = tok
				o.tokenFromQuery = false
			}
		}

		u, err := url.Parse(e.URL)
		if err != nil || !o.inDomain(u.Hostname()) {
			continue
		}
		if o.creds.Token == "" {
			q := u.Query()
			for _, key := range []string{"token", "key"} {
				if v := q.Get(key); v != "" {
					o.creds.Token = v
					o.tokenFromQuery = true
					break
				}
			}
		}
		if o.creds.Venue == "" {
			o.creds.Venue = venueFromPath(u.Path)
		}
	}
}

func (o *Observer) inDomain(host string) bool {
	host = strings.ToLower(host)
	return host == o.opts.Domain || strings.HasSuffix(host, "."+o.opts.Domain)
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, len(tok) > minTokenLength
}

func venueFromPath(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i+1 < len(segs); i++ {
		if venueSegments[segs[i]] && len(segs[i+1]) > 5 {
			return segs[i+1]
		}
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

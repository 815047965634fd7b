package capture

import (
	"context"
	"errors"
	"testing"
)

const longToken = "eyJhbGciOiJIUzI1NiJ9.abcdefghijklmnop"

type fakeSession struct {
	batches  [][]RequestLogEntry
	polls    int
	nudges   int
	page     string
	deadAt   int // CurrentURL fails from this call on; 0 disables
	urlCalls int
}

func (f *fakeSession) PollNewEntries(context.Context) ([]RequestLogEntry, error) {
	defer func() { f.polls++ }()
	if f.polls < len(f.batches) {
		return f.batches[f.polls], nil
	}
	return nil, nil
}

func (f *fakeSession) CurrentURL(context.Context) (string, error) {
	f.urlCalls++
	if f.deadAt > 0 && f.urlCalls >= f.deadAt {
		return "", errors.New("target closed")
	}
	return f.page, nil
}

func (f *fakeSession) Nudge(context.Context) error {
	f.nudges++
	return nil
}

type countingPreparer struct{ calls int }

func (p *countingPreparer) PreparePage(context.Context) error {
	p.calls++
	return errors.New("no consent dialog")
}

func bearer(url, token string) RequestLogEntry {
	return RequestLogEntry{Method: "GET", URL: url, Headers: map[string]string{"authorization": "Bearer " + token}}
}

func get(url string) RequestLogEntry {
	return RequestLogEntry{Method: "GET", URL: url}
}

func fastOptions() Options {
	return Options{MaxIterations: 10, NudgeEvery: 5}
}

func TestCaptureTokenAndVenue(t *testing.T) {
	s := &fakeSession{batches: [][]RequestLogEntry{
		{get("https://www.example.com/static/app.js")},
		{bearer("https://api-gateway.mappedin.com/public/1/map/simon-midland-park?fields=id", longToken)},
	}}
	prep := &countingPreparer{}
	opts := fastOptions()
	opts.Preparer = prep

	creds, err := NewObserver(s, opts).Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if creds.Token != longToken || creds.Venue != "simon-midland-park" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
	if prep.calls != 1 {
		t.Fatalf("preparer called %d times", prep.calls)
	}
	if s.polls != 2 {
		t.Fatalf("expected capture to stop after 2 polls, got %d", s.polls)
	}
}

func TestCaptureIgnoresShortBearer(t *testing.T) {
	s := &fakeSession{batches: [][]RequestLogEntry{
		{bearer("https://api.mappedin.com/location/midland-park", "short")},
	}}
	creds, err := NewObserver(s, fastOptions()).Capture(context.Background())
	if !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("expected ErrCaptureTimeout, got %v", err)
	}
	if creds.Token != "" || creds.Venue != "midland-park" {
		t.Fatalf("unexpected partial credentials %+v", creds)
	}
}

func TestCaptureQueryTokenFallback(t *testing.T) {
	s := &fakeSession{batches: [][]RequestLogEntry{
		{get("https://tiles.mappedin.com/venue/midland-park/tiles?key=querykey123")},
	}}
	creds, err := NewObserver(s, fastOptions()).Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if creds.Token != "querykey123" || creds.Venue != "midland-park" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
}

func TestScanBearerReplacesQueryToken(t *testing.T) {
	o := NewObserver(&fakeSession{}, fastOptions())
	o.Scan([]RequestLogEntry{
		get("https://cdn.mappedin.com/assets?token=querytoken"),
		bearer("https://api.mappedin.com/node/short", longToken),
		bearer("https://api.mappedin.com/node/short", longToken+"-second"),
	})
	if got := o.creds.Token; got != longToken {
		t.Fatalf("token = %q, want first bearer", got)
	}
	if o.creds.Venue != "" {
		t.Fatal("venue segments of 5 characters or fewer must be ignored")
	}
}

func TestScanIgnoresForeignHosts(t *testing.T) {
	o := NewObserver(&fakeSession{}, fastOptions())
	o.Scan([]RequestLogEntry{
		get("https://analytics.example.com/map/midland-park?token=abc"),
		get("https://notmappedin.com/map/midland-park?token=abc"),
	})
	if c := o.creds; c.Token != "" || c.Venue != "" {
		t.Fatalf("foreign hosts produced credentials %+v", c)
	}
}

func TestCaptureTimeoutNudges(t *testing.T) {
	s := &fakeSession{}
	_, err := NewObserver(s, fastOptions()).Capture(context.Background())
	if !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("expected ErrCaptureTimeout, got %v", err)
	}
	if s.polls != 10 || s.nudges != 2 {
		t.Fatalf("polls=%d nudges=%d", s.polls, s.nudges)
	}
}

func TestCaptureSessionGone(t *testing.T) {
	s := &fakeSession{deadAt: 3}
	_, err := NewObserver(s, fastOptions()).Capture(context.Background())
	if !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("expected ErrCaptureTimeout, got %v", err)
	}
	if s.polls != 2 {
		t.Fatalf("expected polling to stop with the session, got %d polls", s.polls)
	}
}

func TestCaptureMallPathFallback(t *testing.T) {
	s := &fakeSession{
		page:    "https://www.simon.com/mall/midland-park/map#level-1",
		batches: [][]RequestLogEntry{{bearer("https://api.mappedin.com/things", longToken)}},
	}
	creds, err := NewObserver(s, fastOptions()).Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if creds.Venue != "midland-park" {
		t.Fatalf("venue = %q", creds.Venue)
	}
}

func TestCaptureContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewObserver(&fakeSession{}, fastOptions()).Capture(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

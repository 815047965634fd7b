// Package browser provides capture sessions: a live Chrome page driven over
// the DevTools protocol, and a replay of a recorded HAR file.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"tenant-locator/internal/capture"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromeOptions configure a live session.
type ChromeOptions struct {
	Headless  bool
	UserAgent string
	Logger    *slog.Logger
}

// ChromeSession records every request issued by a Chrome tab.
type ChromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.Mutex
	pending []capture.RequestLogEntry
	byID    map[network.RequestID]int // request id -> index in pending
	flushed map[network.RequestID]string
}

// Launch starts Chrome and enables network tracking on a fresh tab.
func Launch(ctx context.Context, opts ChromeOptions) (*ChromeSession, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(1440, 900),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	s := &ChromeSession{
		ctx: tabCtx,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
		logger:  logger,
		byID:    make(map[network.RequestID]int),
		flushed: make(map[network.RequestID]string),
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		s.cancel()
		return nil, fmt.Errorf("browser: enable network: %w", err)
	}
	return s, nil
}

// Navigate opens url in the tab.
func (s *ChromeSession) Navigate(url string) error {
	s.logger.Info("navigating", "url", url)
	return chromedp.Run(s.ctx, chromedp.Navigate(url))
}

// Close shuts the browser down.
func (s *ChromeSession) Close() {
	s.cancel()
}

func (s *ChromeSession) onEvent(ev any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		s.byID[e.RequestID] = len(s.pending)
		s.pending = append(s.pending, capture.RequestLogEntry{
			Method:  e.Request.Method,
			URL:     e.Request.URL,
			Headers: headerMap(e.Request.Headers),
		})
	case *network.EventRequestWillBeSentExtraInfo:
		// Extra info carries the headers actually sent, including
		// Authorization. It can arrive after the entry was polled.
		if i, ok := s.byID[e.RequestID]; ok {
			for k, v := range headerMap(e.Headers) {
				s.pending[i].Headers[k] = v
			}
			return
		}
		s.pending = append(s.pending, capture.RequestLogEntry{
			URL:     s.flushed[e.RequestID],
			Headers: headerMap(e.Headers),
		})
	}
}

// PollNewEntries implements capture.Session.
func (s *ChromeSession) PollNewEntries(ctx context.Context) ([]capture.RequestLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.pending
	for id, i := range s.byID {
		s.flushed[id] = out[i].URL
	}
	s.pending = nil
	s.byID = make(map[network.RequestID]int)
	return out, nil
}

// CurrentURL implements capture.Session.
func (s *ChromeSession) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var u string
	if err := chromedp.Run(s.ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("browser: location: %w", err)
	}
	return u, nil
}

// Nudge implements capture.Session.
func (s *ChromeSession) Nudge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dy := rand.Intn(7) - 3
	return chromedp.Run(s.ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", dy), nil))
}

// ConsentPreparer clicks the first visible element among Selectors, which is
// usually enough to get past a cookie banner.
type ConsentPreparer struct {
	Session   *ChromeSession
	Selectors []string
	Wait      time.Duration
}

// DefaultConsentSelectors match the common consent-manager buttons.
var DefaultConsentSelectors = []string{
	"#onetrust-accept-btn-handler",
	"button[aria-label='Accept']",
	"button[id*='accept']",
}

// PreparePage implements capture.PagePreparer.
func (p ConsentPreparer) PreparePage(ctx context.Context) error {
	wait := p.Wait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	selectors := p.Selectors
	if len(selectors) == 0 {
		selectors = DefaultConsentSelectors
	}
	for _, sel := range selectors {
		if err := ctx.Err(); err != nil {
			return err
		}
		tctx, cancel := context.WithTimeout(p.Session.ctx, wait)
		err := chromedp.Run(tctx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible))
		cancel()
		if err == nil {
			p.Session.logger.Debug("consent dismissed", "selector", sel)
			return nil
		}
	}
	return fmt.Errorf("browser: no consent control matched")
}

func headerMap(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}

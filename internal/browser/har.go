package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"tenant-locator/internal/capture"
)

type harFile struct {
	Log struct {
		Pages []struct {
			Title string `json:"title"`
		} `json:"pages"`
		Entries []struct {
			Request struct {
				Method  string `json:"method"`
				URL     string `json:"url"`
				Headers []struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"headers"`
			} `json:"request"`
		} `json:"entries"`
	} `json:"log"`
}

// HARSession replays the requests of a recorded HAR archive, BatchSize
// entries per poll.
type HARSession struct {
	entries   []capture.RequestLogEntry
	page      string
	next      int
	batchSize int
}

// OpenHAR loads a HAR file. The page URL is the first page title, which
// browsers set to the page's address.
func OpenHAR(path string, batchSize int) (*HARSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseHAR(data, batchSize)
}

// ParseHAR builds a session from HAR JSON.
func ParseHAR(data []byte, batchSize int) (*HARSession, error) {
	var har harFile
	if err := json.Unmarshal(data, &har); err != nil {
		return nil, fmt.Errorf("browser: parse har: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	s := &HARSession{batchSize: batchSize}
	if len(har.Log.Pages) > 0 {
		s.page = har.Log.Pages[0].Title
	}
	for _, e := range har.Log.Entries {
		headers := make(map[string]string, len(e.Request.Headers))
		for _, h := range e.Request.Headers {
			headers[h.Name] = h.Value
		}
		s.entries = append(s.entries, capture.RequestLogEntry{
			Method:  e.Request.Method,
			URL:     e.Request.URL,
			Headers: headers,
		})
	}
	return s, nil
}

// Len is the number of recorded requests.
func (s *HARSession) Len() int { return len(s.entries) }

// PollNewEntries implements capture.Session.
func (s *HARSession) PollNewEntries(ctx context.Context) ([]capture.RequestLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	end := min(s.next+s.batchSize, len(s.entries))
	batch := s.entries[s.next:end]
	s.next = end
	return batch, nil
}

// CurrentURL implements capture.Session.
func (s *HARSession) CurrentURL(ctx context.Context) (string, error) {
	return s.page, ctx.Err()
}

// Nudge implements capture.Session.
func (s *HARSession) Nudge(context.Context) error { return nil }

// Package mapapi is a read-only client for the venue mapping service's
// map, location and node resources.
package mapapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public API gateway of the mapping service.
	DefaultBaseURL = "https://api-gateway.mappedin.com/public/1"

	// AliasPrefix is the vendor prefix some venues are registered under.
	AliasPrefix = "simon-"

	mapFields      = "id,name,georeference,elevation,shortName"
	locationFields = "name,description,externalId,type,nodes,operationHours"
	nodeFields     = "id,x,y,map"
)

// ErrAPI marks every failure of a venue fetch.
var ErrAPI = errors.New("mapping api error")

// APIError describes a failed request. StatusCode is 0 when the request never
// produced a response.
type APIError struct {
	Resource   string
	Venue      string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("mapapi: %s/%s: status %d", e.Resource, e.Venue, e.StatusCode)
	}
	return fmt.Sprintf("mapapi: %s/%s: %v", e.Resource, e.Venue, e.Err)
}

func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAPI}
	}
	return []error{ErrAPI, e.Err}
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Transport         http.RoundTripper
	Logger            *slog.Logger
}

// DefaultOptions returns the settings used against the public gateway.
func DefaultOptions() Options {
	return Options{
		BaseURL:           DefaultBaseURL,
		Timeout:           15 * time.Second,
		RequestsPerSecond: 5,
		Burst:             3,
	}
}

// Client fetches venue data.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Client. Zero-valued options fall back to DefaultOptions.
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = def.RequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(opts.Transport),
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		logger:  opts.Logger,
	}
}

// FetchVenue reads the maps, locations and nodes of a venue. If the maps
// request fails and the venue id has no alias prefix, it is retried once with
// the prefix; the alias is then used for the remaining requests. Any other
// failure aborts the fetch.
func (c *Client) FetchVenue(ctx context.Context, token, venue string) (*Venue, error) {
	var maps []Map
	status, err := c.get(ctx, token, "map", venue, mapFields, &maps)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && !strings.HasPrefix(venue, AliasPrefix) {
		alias := AliasPrefix + venue
		c.logger.Info("retrying venue with alias", "venue", venue, "alias", alias, "status", status)
		maps = nil
		status, err = c.get(ctx, token, "map", alias, mapFields, &maps)
		if err != nil {
			return nil, err
		}
		if status == http.StatusOK {
			venue = alias
		}
	}
	if status != http.StatusOK {
		return nil, &APIError{Resource: "map", Venue: venue, StatusCode: status}
	}

	var locations []Location
	if err := c.mustGet(ctx, token, "location", venue, locationFields, &locations); err != nil {
		return nil, err
	}
	var nodes []Node
	if err := c.mustGet(ctx, token, "node", venue, nodeFields, &nodes); err != nil {
		return nil, err
	}

	kept := locations[:0]
	for _, loc := range locations {
		if loc.Type == "void" {
			continue
		}
		kept = append(kept, loc)
	}

	c.logger.Info("venue fetched", "venue", venue,
		"maps", len(maps), "locations", len(kept), "voids", len(locations)-len(kept), "nodes", len(nodes))

	return &Venue{ID: venue, Maps: maps, Locations: kept, Nodes: nodes}, nil
}

func (c *Client) mustGet(ctx context.Context, token, resource, venue, fields string, out any) error {
	status, err := c.get(ctx, token, resource, venue, fields, out)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &APIError{Resource: resource, Venue: venue, StatusCode: status}
	}
	return nil
}

// get issues one GET and decodes the body into out on 200. Non-200 statuses
// are returned without error so the caller can decide about retries.
func (c *Client) get(ctx context.Context, token, resource, venue, fields string, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, &APIError{Resource: resource, Venue: venue, Err: err}
	}

	u := fmt.Sprintf("%s/%s/%s?fields=%s", c.baseURL, resource, url.PathEscape(venue), fields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, &APIError{Resource: resource, Venue: venue, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &APIError{Resource: resource, Venue: venue, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Debug("mapping api non-success", "resource", resource, "venue", venue, "status", resp.StatusCode)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, &APIError{Resource: resource, Venue: venue, Err: fmt.Errorf("decode: %w", err)}
	}
	return resp.StatusCode, nil
}

// Package axds provides a client for the AXDS sensor and search APIs.
package axds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/oceanfeed/oceanfeed/internal/provider/resilience"
	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

const (
	// DefaultSensorsURL is the base URL of the sensor API.
	DefaultSensorsURL = "https://sensors.axds.co/api"

	// DefaultSearchURL is the base URL of the search API.
	DefaultSearchURL = "https://search.axds.co/v2"

	// ProviderName identifies this provider.
	ProviderName = "axds"

	// timeFormat is the timestamp form accepted by the observations endpoint.
	timeFormat = "2006-01-02T15:04:05Z"
)

// ErrStationNotFound is returned when a lookup matches no station.
var ErrStationNotFound = errors.New("station not found")

// ClientConfig holds configuration for the AXDS client.
type ClientConfig struct {
	// SensorsURL is the sensor API base URL (defaults to DefaultSensorsURL).
	SensorsURL string

	// SearchURL is the search API base URL (defaults to DefaultSearchURL).
	SearchURL string

	// HTTPClient is the HTTP client to use (must implement HTTPDoer).
	// If nil, a default resilient client will be created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 30s).
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls. Zero disables throttling.
	RequestsPerSecond float64

	// Burst is the limiter burst size (default: 1).
	Burst int

	// Registry receives the default resilient client. Optional.
	Registry *resilience.Registry
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an AXDS API client. It implements sensor.Fetcher.
type Client struct {
	sensorsURL string
	searchURL  string
	httpClient HTTPDoer
	limiter    *rate.Limiter
}

var _ sensor.Fetcher = (*Client)(nil)

// NewClient creates a new AXDS client.
func NewClient(cfg ClientConfig) *Client {
	sensorsURL := cfg.SensorsURL
	if sensorsURL == "" {
		sensorsURL = DefaultSensorsURL
	}
	searchURL := cfg.SearchURL
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rc := resilience.DefaultClientConfig(ProviderName)
		if cfg.Timeout > 0 {
			rc.Timeout = cfg.Timeout
		}
		rc.Registry = cfg.Registry
		httpClient = resilience.NewClient(rc)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		sensorsURL: strings.TrimSuffix(sensorsURL, "/"),
		searchURL:  strings.TrimSuffix(searchURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// API response types (from the AXDS sensor API).

type metadataResponse struct {
	Data struct {
		Stations []struct {
			ID   int    `json:"id"`
			UUID string `json:"uuid"`
		} `json:"stations"`
	} `json:"data"`
}

type filterBody struct {
	Stations        []string `json:"stations"`
	ParameterGroups []int    `json:"parameterGroups,omitempty"`
}

// FilterJSON returns the JSON filter expression for f.
func FilterJSON(f sensor.Filter) string {
	body := filterBody{Stations: []string{strconv.Itoa(f.StationID)}}
	if f.HasParameterGroup {
		body.ParameterGroups = []int{f.ParameterGroupID}
	}
	// Marshal cannot fail for this type.
	b, _ := json.Marshal(body)
	return string(b)
}

// MetadataURL returns the station metadata URL for a filter.
func (c *Client) MetadataURL(f sensor.Filter) string {
	q := url.Values{}
	q.Set("filter", FilterJSON(f))
	return c.sensorsURL + "/metadata/filter/custom?" + q.Encode()
}

// DataURL returns the observations URL for a feed request.
func (c *Client) DataURL(req sensor.FeedRequest) string {
	q := url.Values{}
	q.Set("filter", FilterJSON(req.Filter))
	q.Set("start", req.Start.UTC().Format(timeFormat))
	q.Set("end", req.End.UTC().Format(timeFormat))
	if req.Binned && req.BinInterval != "" {
		q.Set("binInterval", req.BinInterval)
	}
	return c.sensorsURL + "/observations/filter/custom?" + q.Encode()
}

// DocsURL returns the search document URL for a dataset id.
func (c *Client) DocsURL(datasetID string) string {
	q := url.Values{}
	q.Set("verbose", "false")
	q.Set("id", datasetID)
	return c.searchURL + "/docs?" + q.Encode()
}

// ParameterGroupsURL returns the parameter group listing URL.
func (c *Client) ParameterGroupsURL() string {
	return c.sensorsURL + "/parameterGroups"
}

// FetchDatasetID resolves a station's dataset id from its internal id.
func (c *Client) FetchDatasetID(ctx context.Context, internalID int) (string, error) {
	var result metadataResponse
	if err := c.getJSON(ctx, c.MetadataURL(sensor.Filter{StationID: internalID}), "station metadata", &result); err != nil {
		return "", err
	}
	if len(result.Data.Stations) == 0 || result.Data.Stations[0].UUID == "" {
		return "", fmt.Errorf("%w: internal id %d", ErrStationNotFound, internalID)
	}
	return result.Data.Stations[0].UUID, nil
}

// FetchSearchDocs returns the search documents of a dataset.
func (c *Client) FetchSearchDocs(ctx context.Context, datasetID string) ([]SearchDoc, error) {
	var docs []SearchDoc
	if err := c.getJSON(ctx, c.DocsURL(datasetID), "search docs", &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// FetchStationMetadata returns the full metadata record of a station.
func (c *Client) FetchStationMetadata(ctx context.Context, datasetID string) (*sensor.StationMetadata, error) {
	docs, err := c.FetchSearchDocs(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: dataset id %s", ErrStationNotFound, datasetID)
	}
	return LoadMetadata(&docs[0])
}

// FetchFeeds fetches the feed payload selected by a filter.
func (c *Client) FetchFeeds(ctx context.Context, req sensor.FeedRequest) (*sensor.FeedPayload, error) {
	var payload sensor.FeedPayload
	if err := c.getJSON(ctx, c.DataURL(req), "observations", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ParameterGroup is a named group of related sensor parameters.
type ParameterGroup struct {
	ID            int    `json:"id"`
	Label         string `json:"label"`
	ParameterName string `json:"parameterName"`
}

// FetchParameterGroups lists the parameter groups known to the sensor API.
func (c *Client) FetchParameterGroups(ctx context.Context) ([]ParameterGroup, error) {
	var result struct {
		Data []ParameterGroup `json:"data"`
	}
	if err := c.getJSON(ctx, c.ParameterGroupsURL(), "parameter groups", &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

// FetchSearch runs a prepared search URL and returns its result documents.
// A response without a results field is an error; an empty list is not.
func (c *Client) FetchSearch(ctx context.Context, searchURL string) ([]SearchDoc, error) {
	var result struct {
		Results *[]SearchDoc `json:"results"`
	}
	if err := c.getJSON(ctx, searchURL, "search", &result); err != nil {
		return nil, err
	}
	if result.Results == nil {
		return nil, errors.New("search returned no results field")
	}
	return *result.Results, nil
}

// getJSON waits for the limiter, issues a GET and decodes a 200 response into dst.
func (c *Client) getJSON(ctx context.Context, rawURL, what string, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", what, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s endpoint", resp.StatusCode, what)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", what, err)
	}
	return nil
}

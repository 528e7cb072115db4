// Package etoro reads public portfolio data from eToro's JSON endpoints.
package etoro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirphl/portfolio-sync/internal/utils"
)

const (
	DefaultBaseURL      = "https://www.etoro.com"
	DefaultStaticAPIURL = "https://api.etorostatic.com"
)

// HTTPError is returned when an endpoint answers with a non-2xx status.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

type Options struct {
	BaseURL      string
	StaticAPIURL string
	UserAgent    string
	Timeout      time.Duration
	HTTPClient   *http.Client // overrides Timeout when set
}

// Client performs the raw endpoint calls. It holds no state between calls.
type Client struct {
	baseURL   string
	staticURL string
	userAgent string
	http      *http.Client
}

func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		staticURL: strings.TrimRight(opts.StaticAPIURL, "/"),
		userAgent: opts.UserAgent,
		http:      opts.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.staticURL == "" {
		c.staticURL = DefaultStaticAPIURL
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	return c
}

func (c *Client) profileURL(username string) string {
	return fmt.Sprintf("%s/api/logininfo/v1.1/users/%s", c.baseURL, url.PathEscape(username))
}

func (c *Client) instrumentsURL() string {
	return c.staticURL + "/sapi/instrumentsmetadata/V1.1/instruments/bulk?bulkNumber=1&totalBulks=1"
}

func (c *Client) aggregatedPositionsURL(cid int64) string {
	return fmt.Sprintf("%s/sapi/trade-data-real/live/public/portfolios?cid=%d", c.baseURL, cid)
}

func (c *Client) publicPositionsURL(cid, instrumentID int64) string {
	return fmt.Sprintf("%s/sapi/trade-data-real/live/public/positions?cid=%d&InstrumentID=%d", c.baseURL, cid, instrumentID)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	utils.GetLogger().Debugw("etoro request", "url", rawURL, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &HTTPError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}

// ProfileCID resolves a username to the portfolio's customer id.
func (c *Client) ProfileCID(ctx context.Context, username string) (int64, error) {
	if username == "" {
		return 0, fmt.Errorf("username cannot be empty: %w", ErrProfileNotFound)
	}

	var resp profileResponse
	if err := c.getJSON(ctx, c.profileURL(username), &resp); err != nil {
		return 0, err
	}
	if resp.RealCID == nil {
		return 0, fmt.Errorf("realCID not found in response for username: %s: %w", username, ErrProfileNotFound)
	}
	return *resp.RealCID, nil
}

// AggregatedPositions lists the per-instrument summary of a portfolio.
func (c *Client) AggregatedPositions(ctx context.Context, cid int64) ([]AggregatedPosition, error) {
	if cid <= 0 {
		return nil, fmt.Errorf("CID must be a positive integer, got %d", cid)
	}

	var resp aggregatedResponse
	if err := c.getJSON(ctx, c.aggregatedPositionsURL(cid), &resp); err != nil {
		return nil, err
	}
	if resp.AggregatedPositions == nil {
		return nil, fmt.Errorf("AggregatedPositions not found in response for cid %d", cid)
	}
	return resp.AggregatedPositions, nil
}

// PublicPositions lists the open positions of a portfolio on one instrument.
// A response without a PublicPositions key yields no positions.
func (c *Client) PublicPositions(ctx context.Context, cid, instrumentID int64) ([]PublicPosition, error) {
	var resp publicPositionsResponse
	if err := c.getJSON(ctx, c.publicPositionsURL(cid, instrumentID), &resp); err != nil {
		return nil, err
	}
	return resp.PublicPositions, nil
}

// LoadInstruments fetches the instrument catalog. The result is meant to be
// held for one sync run and passed explicitly to whoever needs lookups.
func (c *Client) LoadInstruments(ctx context.Context) (*Instruments, error) {
	var resp instrumentsResponse
	if err := c.getJSON(ctx, c.instrumentsURL(), &resp); err != nil {
		return nil, err
	}
	if resp.InstrumentDisplayDatas == nil {
		return nil, fmt.Errorf("InstrumentDisplayDatas not found in response")
	}

	byID := make(map[int64]Instrument, len(resp.InstrumentDisplayDatas))
	for _, d := range resp.InstrumentDisplayDatas {
		byID[d.InstrumentID] = Instrument{ID: d.InstrumentID, DisplayName: d.InstrumentDisplayName, Symbol: d.SymbolFull}
	}
	return NewInstruments(byID), nil
}

package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/banshee-data/tac3d.report/internal/httputil"
	"github.com/banshee-data/tac3d.report/internal/tactile"
	"github.com/banshee-data/tac3d.report/internal/tactile/storage/sqlite"
)

// Client provides HTTP operations against a running monitor server.
type Client struct {
	HTTPClient httputil.HTTPClient
	BaseURL    string
}

// NewClient creates a new monitoring client. A nil httpClient uses
// httputil.NewStandardClient(nil).
func NewClient(httpClient httputil.HTTPClient, baseURL string) *Client {
	if httpClient == nil {
		httpClient = httputil.NewStandardClient(nil)
	}
	return &Client{HTTPClient: httpClient, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if err := httputil.DecodeJSON(resp, out); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// Health fetches /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

// Stats fetches the cumulative receive statistics.
func (c *Client) Stats(ctx context.Context) (tactile.StatsSnapshot, error) {
	var s tactile.StatsSnapshot
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &s)
	return s, err
}

// Sensors lists the sensors the receiver has heard from.
func (c *Client) Sensors(ctx context.Context) ([]SensorStatus, error) {
	var out []SensorStatus
	err := c.do(ctx, http.MethodGet, "/api/sensors", nil, &out)
	return out, err
}

// Calibrate asks the receiver to send the calibrate command to a sensor.
func (c *Client) Calibrate(ctx context.Context, sensorID string) error {
	return c.do(ctx, http.MethodPost, "/api/sensors/calibrate", url.Values{"sn": {sensorID}}, nil)
}

// Quit asks the receiver to send the quit command to a sensor.
func (c *Client) Quit(ctx context.Context, sensorID string) error {
	return c.do(ctx, http.MethodPost, "/api/sensors/quit", url.Values{"sn": {sensorID}}, nil)
}

// RecentFrames reads recorded frame summaries, newest first.
func (c *Client) RecentFrames(ctx context.Context, sensorID string, limit int) ([]sqlite.FrameRecord, error) {
	q := url.Values{}
	if sensorID != "" {
		q.Set("sn", sensorID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []sqlite.FrameRecord
	err := c.do(ctx, http.MethodGet, "/api/frames", q, &out)
	return out, err
}

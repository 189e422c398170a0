package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/banshee-data/geoanchor/internal/anchors"
	"github.com/banshee-data/geoanchor/internal/db"
	"github.com/banshee-data/geoanchor/internal/geo"
	"github.com/banshee-data/geoanchor/internal/httputil"
	"github.com/banshee-data/geoanchor/internal/reconcile"
)

// Client talks to a running geoanchor server.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
}

// NewClient returns a client for the server at baseURL (for example
// "http://localhost:8090"). A nil hc uses http.DefaultClient.
func NewClient(baseURL string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := httputil.DoJSON(c.http, req, out); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// Status returns the latest frame result.
func (c *Client) Status(ctx context.Context) (reconcile.Result, error) {
	var res reconcile.Result
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &res)
	return res, err
}

// AddAnchor places an anchor at the camera pose, or at world when non-nil.
func (c *Client) AddAnchor(ctx context.Context, terrain bool, world *geo.Transform) (anchors.ID, error) {
	var out struct {
		AnchorID anchors.ID `json:"anchor_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/anchors", addAnchorRequest{Terrain: terrain, WorldTransform: world}, &out)
	return out.AnchorID, err
}

// ClearAnchors removes every anchor and returns the removed ids.
func (c *Client) ClearAnchors(ctx context.Context) ([]anchors.ID, error) {
	var out struct {
		Removed []anchors.ID `json:"removed"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/anchors", nil, &out)
	return out.Removed, err
}

// RestartSession discards the server's session and starts a new one.
func (c *Client) RestartSession(ctx context.Context) (reconcile.Result, error) {
	var res reconcile.Result
	err := c.do(ctx, http.MethodPost, "/api/session/restart", nil, &res)
	return res, err
}

// Summary fetches the localization summary for the last minutes.
func (c *Client) Summary(ctx context.Context, minutes int) (db.LocalizationSummary, error) {
	var sum db.LocalizationSummary
	q := url.Values{}
	if minutes > 0 {
		q.Set("minutes", strconv.Itoa(minutes))
	}
	path := "/api/localization/summary"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, path, nil, &sum)
	return sum, err
}

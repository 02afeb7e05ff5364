// Package mismartera provides a Go SDK for the engine's HTTP API.
package mismartera

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/httpapi"
	"github.com/yohannes916/mismartera-sub002/internal/session"
)

// Client talks to a running engine instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client for the given base URL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError carries the server's JSON error payload.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, path string, wantStatus int) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return decodeError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Error == "" {
		payload.Error = resp.Status
	}
	return &apiError{Status: resp.StatusCode, Message: payload.Error}
}

// Status returns the engine's session state.
func (c *Client) Status(ctx context.Context) (httpapi.StatusResponse, error) {
	var out httpapi.StatusResponse
	err := c.get(ctx, "/api/status", &out)
	return out, err
}

// Snapshot returns the full session projection. Bars are empty while the
// session is deactivated.
func (c *Client) Snapshot(ctx context.Context) (session.Snapshot, error) {
	var out session.Snapshot
	err := c.get(ctx, "/api/snapshot", &out)
	return out, err
}

// SymbolSnapshot returns one symbol's projection.
func (c *Client) SymbolSnapshot(ctx context.Context, symbol string) (session.SymbolSnapshot, error) {
	var out session.SymbolSnapshot
	err := c.get(ctx, "/api/snapshot/"+url.PathEscape(symbol), &out)
	return out, err
}

// Symbols lists the symbols currently in the session.
func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	var out httpapi.SymbolsResponse
	if err := c.get(ctx, "/api/symbols", &out); err != nil {
		return nil, err
	}
	return out.Symbols, nil
}

// Bars returns session bars for one (symbol, interval). since is optional
// (zero means from the session open); limit zero means unbounded.
func (c *Client) Bars(ctx context.Context, symbol, iv string, since time.Time, limit int) ([]domain.Bar, error) {
	path := "/api/bars/" + url.PathEscape(symbol) + "/" + url.PathEscape(iv)
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out httpapi.BarsResponse
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Bars, nil
}

// Quality returns the quality score and gap spans for one (symbol, interval).
func (c *Client) Quality(ctx context.Context, symbol, iv string) (httpapi.QualityResponse, error) {
	var out httpapi.QualityResponse
	err := c.get(ctx, "/api/quality/"+url.PathEscape(symbol)+"/"+url.PathEscape(iv), &out)
	return out, err
}

// AddSymbol queues a full provisioning of the symbol in the running session.
func (c *Client) AddSymbol(ctx context.Context, symbol string) error {
	return c.do(ctx, http.MethodPut, "/api/symbols/"+url.PathEscape(symbol), http.StatusAccepted)
}

// RemoveSymbol drops the symbol from the running session.
func (c *Client) RemoveSymbol(ctx context.Context, symbol string) error {
	return c.do(ctx, http.MethodDelete, "/api/symbols/"+url.PathEscape(symbol), http.StatusNoContent)
}

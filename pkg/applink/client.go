package applink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joeydtaylor/steeze-applink/pkg/codec"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client builds per-org data API handles sharing one HTTP client.
type Client struct {
	hc *http.Client
}

// NewClient wraps hc (or a default client) with an instrumented transport.
func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    20,
				IdleConnTimeout: 90 * time.Second,
			},
			Timeout: 30 * time.Second,
		}
	}
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *hc
	wrapped.Transport = otelhttp.NewTransport(base)
	return &Client{hc: &wrapped}
}

// HTTPClient exposes the shared client for callers that talk to non-org
// endpoints (callbacks).
func (c *Client) HTTPClient() *http.Client { return c.hc }

// DataAPI returns an API handle bound to one org and access token.
func (c *Client) DataAPI(domainURL, apiVersion, accessToken string) *DataAPI {
	return &DataAPI{
		hc:          c.hc,
		domainURL:   strings.TrimRight(domainURL, "/"),
		apiVersion:  strings.TrimPrefix(apiVersion, "v"),
		accessToken: accessToken,
	}
}

// DataAPI calls the REST API of a single org.
type DataAPI struct {
	hc          *http.Client
	domainURL   string
	apiVersion  string
	accessToken string
}

// AccessToken is the bearer token of the invoking user.
func (d *DataAPI) AccessToken() string { return d.accessToken }

// BasePath is the versioned data path, e.g. /services/data/v62.0.
func (d *DataAPI) BasePath() string { return "/services/data/v" + d.apiVersion }

// APIError is a non-2xx answer from the org.
type APIError struct {
	Status int
	Errors []ErrorDetail
}

type ErrorDetail struct {
	ErrorCode string   `json:"errorCode"`
	Message   string   `json:"message"`
	Fields    []string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("salesforce api: status %d", e.Status)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		parts = append(parts, d.ErrorCode+": "+d.Message)
	}
	return fmt.Sprintf("salesforce api: status %d: %s", e.Status, strings.Join(parts, "; "))
}

// do sends a request to path (relative to the org domain) and decodes a JSON
// answer into out when out is non-nil.
func (d *DataAPI) do(ctx context.Context, method, path string, in, out any) error {
	body, err := d.raw(ctx, method, path, in, "application/json")
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := codec.JSONLenient.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (d *DataAPI) raw(ctx context.Context, method, path string, in any, accept string) ([]byte, error) {
	var rd io.Reader
	if in != nil {
		b, err := codec.JSONLenient.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.domainURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.accessToken)
	req.Header.Set("Accept", accept)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := d.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		ae := &APIError{Status: res.StatusCode}
		_ = codec.JSONLenient.Unmarshal(b, &ae.Errors)
		return nil, ae
	}
	return b, nil
}

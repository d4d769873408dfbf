// Package refdb provides a client for the ingredient reference database API.
package refdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the reference database operations.
type Client interface {
	// Lookup returns the entry for an ingredient name, or nil when the
	// database has no record of it.
	Lookup(ctx context.Context, name string) (*Ingredient, error)
}

// Ingredient is one reference record as served by the API.
type Ingredient struct {
	Name                 string     `json:"name"`
	SafetyLevel          string     `json:"safety_level"`
	SpeciesCompatibility string     `json:"species_compatibility"`
	Warning              string     `json:"warning,omitempty"`
	Nutrients            *Nutrients `json:"nutrients,omitempty"`
}

// Nutrients is the optional nutrient block of a record. Absent fields are
// null in the payload.
type Nutrients struct {
	ServingSizeG       *float64 `json:"serving_size_g"`
	CaloriesPerServing *float64 `json:"calories_per_serving"`
	ProteinPercent     *float64 `json:"protein_percent"`
	FatPercent         *float64 `json:"fat_percent"`
	FiberPercent       *float64 `json:"fiber_percent"`
	MoisturePercent    *float64 `json:"moisture_percent"`
	AshPercent         *float64 `json:"ash_percent"`
	CalciumPercent     *float64 `json:"calcium_percent"`
	PhosphorusPercent  *float64 `json:"phosphorus_percent"`
}

type lookupResponse struct {
	Data *Ingredient `json:"data"`
}

// StatusError is returned for non-2xx responses other than 404.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("refdb: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is a transient server-side condition.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

// Option configures the reference client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a reference database client rooted at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, name string) (*Ingredient, error) {
	reqURL := fmt.Sprintf("%s/ingredients/%s", c.baseURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "refdb: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "refdb: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "refdb: read response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result lookupResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "refdb: unmarshal response")
	}
	return result.Data, nil
}

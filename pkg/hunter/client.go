// Package hunter is a client for the Hunter.io domain search API.
package hunter

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

const defaultBaseURL = "https://api.hunter.io/v2"

// Client looks up email addresses published for a domain.
type Client interface {
	DomainSearch(ctx context.Context, domain string) (*DomainSearchResult, error)
}

// DomainSearchResult is the data block of a domain-search response.
type DomainSearchResult struct {
	Domain       string  `json:"domain"`
	Organization string  `json:"organization"`
	Pattern      string  `json:"pattern"`
	Emails       []Email `json:"emails"`
}

// Email is one address found for the domain.
type Email struct {
	Value      string `json:"value"`
	Type       string `json:"type"` // "generic" or "personal"
	Confidence int    `json:"confidence"`
}

// Best returns the highest-confidence address, preferring generic inboxes
// on ties. Returns nil when no emails were found.
func (r *DomainSearchResult) Best() *Email {
	var best *Email
	for i := range r.Emails {
		e := &r.Emails[i]
		if strings.TrimSpace(e.Value) == "" {
			continue
		}
		if best == nil || e.Confidence > best.Confidence ||
			(e.Confidence == best.Confidence && e.Type == "generic" && best.Type != "generic") {
			best = e
		}
	}
	return best
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hunter: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
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

// NewClient creates a Hunter API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type domainSearchResponse struct {
	Data DomainSearchResult `json:"data"`
}

func (c *httpClient) DomainSearch(ctx context.Context, domain string) (*DomainSearchResult, error) {
	q := url.Values{}
	q.Set("domain", domain)
	q.Set("api_key", c.apiKey)
	q.Set("limit", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/domain-search?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "hunter: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "hunter: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "hunter: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(&APIError{StatusCode: resp.StatusCode, Body: string(body)}, "hunter: domain search %s", domain)
	}

	var out domainSearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "hunter: unmarshal response")
	}
	return &out.Data, nil
}

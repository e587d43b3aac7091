// Package facebook reads public page statistics from the Graph API.
package facebook

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

const defaultBaseURL = "https://graph.facebook.com/v19.0"

// Client fetches page statistics.
type Client interface {
	PageStats(ctx context.Context, handle string) (*PageStats, error)
}

// PageStats is the subset of page fields used for social scoring.
type PageStats struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	FollowersCount    int    `json:"followers_count"`
	FanCount          int    `json:"fan_count"`
	TalkingAboutCount int    `json:"talking_about_count"`
}

// Followers returns the follower count, falling back to page likes for
// pages that do not report followers.
func (s *PageStats) Followers() int {
	if s.FollowersCount > 0 {
		return s.FollowersCount
	}
	return s.FanCount
}

// EngagementRate returns people talking about the page per follower.
func (s *PageStats) EngagementRate() float64 {
	f := s.Followers()
	if f == 0 {
		return 0
	}
	return float64(s.TalkingAboutCount) / float64(f)
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("facebook: HTTP %d: %s", e.StatusCode, e.Body)
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
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a Graph API client authenticated with an app token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PageID extracts the page identifier from a handle, "@handle" or a page URL.
func PageID(handle string) string {
	h := strings.TrimSpace(handle)
	if h == "" {
		return ""
	}
	if strings.Contains(h, "facebook.com") || strings.Contains(h, "fb.com") {
		if !strings.Contains(h, "://") {
			h = "https://" + h
		}
		u, err := url.Parse(h)
		if err != nil {
			return ""
		}
		if id := u.Query().Get("id"); id != "" {
			return id
		}
		parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
		if len(parts) == 0 {
			return ""
		}
		if parts[0] == "pages" && len(parts) > 1 {
			return parts[len(parts)-1]
		}
		h = parts[0]
	}
	return strings.TrimPrefix(h, "@")
}

func (c *httpClient) PageStats(ctx context.Context, handle string) (*PageStats, error) {
	id := PageID(handle)
	if id == "" {
		return nil, eris.Errorf("facebook: invalid page handle %q", handle)
	}

	q := url.Values{}
	q.Set("fields", "id,name,followers_count,fan_count,talking_about_count")
	q.Set("access_token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(id)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "facebook: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "facebook: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "facebook: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(&APIError{StatusCode: resp.StatusCode, Body: string(body)}, "facebook: page %s", id)
	}

	var stats PageStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, eris.Wrap(err, "facebook: unmarshal response")
	}
	return &stats, nil
}

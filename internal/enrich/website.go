package enrich

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/model"
)

// maxPageBytes bounds how much of a business website is read.
const maxPageBytes = 512 * 1024

// PageFetcher fetches a web page body.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchError is a non-2xx website response.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("website: %s: status %d", e.URL, e.StatusCode)
}

// HTTPStatus returns the response status code.
func (e *FetchError) HTTPStatus() int {
	return e.StatusCode
}

// HTTPFetcher fetches pages with net/http.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: timeout,
				}).DialContext,
				TLSHandshakeTimeout: timeout,
			},
		},
	}
}

// Fetch GETs url and returns up to maxPageBytes of the body.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "website: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; LeadflowBot/1.0)")
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "website: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, eris.Wrap(&FetchError{URL: url, StatusCode: resp.StatusCode}, "website: fetch")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, eris.Wrap(err, "website: read body")
	}
	return body, nil
}

// ExtractEmails returns the valid addresses on an HTML page: mailto links
// first, then addresses in the visible text, without duplicates.
func ExtractEmails(html []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "website: parse html")
	}

	var out []string
	seen := make(map[string]bool)
	add := func(raw string) {
		if email := CleanEmail(raw); email != "" && !seen[email] {
			seen[email] = true
			out = append(out, email)
		}
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if len(href) > 7 && strings.EqualFold(href[:7], "mailto:") {
			add(href[7:])
		}
	})

	doc.Find("script, style, noscript").Remove()
	for _, m := range emailPattern.FindAllString(doc.Find("body").Text(), -1) {
		add(m)
	}
	return out, nil
}

// WebsiteEmailStrategy fetches the business website and takes the first
// address found on it.
func WebsiteEmailStrategy(fetch func(ctx context.Context, url string) ([]byte, error)) EmailStrategy {
	return EmailStrategy{
		Name:       "website",
		Provenance: model.EmailScrapedFromSite,
		Find: func(ctx context.Context, rec *model.RawBusinessRecord) (string, error) {
			if WebsiteDomain(rec) == "" {
				return "", nil
			}
			site := strings.TrimSpace(*rec.Website)
			if !strings.Contains(site, "://") {
				site = "https://" + site
			}
			body, err := fetch(ctx, site)
			if err != nil {
				return "", err
			}
			emails, err := ExtractEmails(body)
			if err != nil || len(emails) == 0 {
				return "", err
			}
			return emails[0], nil
		},
	}
}

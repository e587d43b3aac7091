package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progeodata/leadflow/internal/model"
	"github.com/progeodata/leadflow/internal/resilience"
)

const contactPage = `<html><head><title>Rivera</title>
<script>var sentry = "abc@sentry.io";</script></head>
<body>
<p>Call or write: Ventas@Rivera.pr</p>
<a href="MAILTO:hola@rivera.pr?subject=Cita">Email us</a>
<a href="/about">About</a>
<img src="logo@2x.png">
</body></html>`

func TestExtractEmails(t *testing.T) {
	emails, err := ExtractEmails([]byte(contactPage))
	require.NoError(t, err)
	assert.Equal(t, []string{"hola@rivera.pr", "ventas@rivera.pr"}, emails)
}

func TestExtractEmails_None(t *testing.T) {
	emails, err := ExtractEmails([]byte(`<html><body><p>No contact here</p></body></html>`))
	require.NoError(t, err)
	assert.Empty(t, emails)
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "LeadflowBot")
		_, _ = w.Write([]byte(contactPage))
	}))
	defer srv.Close()

	body, err := NewHTTPFetcher(time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hola@rivera.pr")
}

func TestHTTPFetcher_StatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))

		_, err := NewHTTPFetcher(time.Second).Fetch(context.Background(), srv.URL)
		srv.Close()

		require.Error(t, err)
		var fe *FetchError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, tt.status, fe.HTTPStatus())
		assert.Equal(t, tt.transient, resilience.IsTransient(err), "status %d", tt.status)
	}
}

func TestWebsiteEmailStrategy(t *testing.T) {
	var fetched string
	s := WebsiteEmailStrategy(func(_ context.Context, url string) ([]byte, error) {
		fetched = url
		return []byte(contactPage), nil
	})
	assert.Equal(t, model.EmailScrapedFromSite, s.Provenance)

	got, err := s.Find(context.Background(), &model.RawBusinessRecord{Website: strPtr("rivera.pr")})
	require.NoError(t, err)
	assert.Equal(t, "hola@rivera.pr", got)
	assert.Equal(t, "https://rivera.pr", fetched)
}

func TestWebsiteEmailStrategy_SkipsWithoutOwnedSite(t *testing.T) {
	called := false
	s := WebsiteEmailStrategy(func(context.Context, string) ([]byte, error) {
		called = true
		return nil, nil
	})

	got, err := s.Find(context.Background(), &model.RawBusinessRecord{Website: strPtr("https://facebook.com/rivera")})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, called)
}

func TestWebsiteEmailStrategy_FetchError(t *testing.T) {
	s := WebsiteEmailStrategy(func(context.Context, string) ([]byte, error) {
		return nil, &FetchError{URL: "https://rivera.pr", StatusCode: 500}
	})
	_, err := s.Find(context.Background(), &model.RawBusinessRecord{Website: strPtr("https://rivera.pr")})
	require.Error(t, err)
}

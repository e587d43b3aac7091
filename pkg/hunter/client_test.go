package hunter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/domain-search", r.URL.Path)
		assert.Equal(t, "riveraplumbing.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "hk", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"data":{"domain":"riveraplumbing.com","pattern":"{first}","emails":[
			{"value":"jose@riveraplumbing.com","type":"personal","confidence":88},
			{"value":"info@riveraplumbing.com","type":"generic","confidence":88},
			{"value":"old@riveraplumbing.com","type":"personal","confidence":40}
		]}}`))
	}))
	defer srv.Close()

	c := NewClient("hk", WithBaseURL(srv.URL))
	res, err := c.DomainSearch(context.Background(), "riveraplumbing.com")
	require.NoError(t, err)
	assert.Equal(t, "riveraplumbing.com", res.Domain)
	require.Len(t, res.Emails, 3)

	best := res.Best()
	require.NotNil(t, best)
	assert.Equal(t, "info@riveraplumbing.com", best.Value)
}

func TestDomainSearch_NoEmails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"domain":"x.com","emails":[]}}`))
	}))
	defer srv.Close()

	c := NewClient("hk", WithBaseURL(srv.URL))
	res, err := c.DomainSearch(context.Background(), "x.com")
	require.NoError(t, err)
	assert.Nil(t, res.Best())
}

func TestDomainSearch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"id":"authentication_failed"}]}`))
	}))
	defer srv.Close()

	c := NewClient("bad", WithBaseURL(srv.URL))
	_, err := c.DomainSearch(context.Background(), "x.com")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "401")
}

package importer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progeodata/leadflow/internal/resilience"
)

func noSleepRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: attempts,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://data.example.com/leads.csv"))
	assert.True(t, IsRemote("ftp://ftp.example.com/pub/leads.xlsx"))
	assert.False(t, IsRemote("leads.csv"))
	assert.False(t, IsRemote("/tmp/leads.csv"))
	assert.False(t, IsRemote("s3://bucket/leads.csv"))
}

func TestDownloader_HTTPRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("source,external_id,name\nimport,1,Acme Plumbing\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(5*time.Second, noSleepRetry(3))
	path, err := d.Fetch(context.Background(), srv.URL+"/exports/leads.csv", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "leads.csv"), path)
	assert.Equal(t, int32(2), calls.Load())

	recs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Acme Plumbing", recs[0]["name"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestDownloader_HTTPNotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := NewDownloader(5*time.Second, noSleepRetry(3))
	_, err := d.Fetch(context.Background(), srv.URL+"/missing.csv", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDownloader_NoFileName(t *testing.T) {
	d := NewDownloader(time.Second, noSleepRetry(1))
	_, err := d.Fetch(context.Background(), "https://data.example.com/", t.TempDir())
	assert.Error(t, err)
}

func TestDownloader_FTPDialFailure(t *testing.T) {
	d := NewDownloader(time.Second, noSleepRetry(2))
	_, err := d.Fetch(context.Background(), "ftp://127.0.0.1:1/pub/leads.csv", t.TempDir())
	assert.Error(t, err)
}

func TestParseFTPURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{name: "default port", url: "ftp://ftp.example.com/pub/leads.csv", wantHost: "ftp.example.com:21", wantPath: "/pub/leads.csv"},
		{name: "explicit port", url: "ftp://ftp.example.com:2121/leads.xlsx", wantHost: "ftp.example.com:2121", wantPath: "/leads.xlsx"},
		{name: "http rejected", url: "http://example.com/leads.csv", wantErr: true},
		{name: "empty path", url: "ftp://ftp.example.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			require.NoError(t, err)
			host, path, err := parseFTPURL(u)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

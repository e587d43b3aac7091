package importer

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/progeodata/leadflow/internal/resilience"
)

// Downloader fetches remote record files over HTTP(S) or anonymous FTP.
type Downloader struct {
	client  *http.Client
	timeout time.Duration
	retry   resilience.RetryConfig
}

// NewDownloader creates a Downloader. A zero timeout defaults to 60s.
func NewDownloader(timeout time.Duration, retry resilience.RetryConfig) *Downloader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if retry.MaxAttempts <= 0 {
		retry = resilience.DefaultRetryConfig()
	}
	return &Downloader{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		retry:   retry,
	}
}

// IsRemote reports whether src is a URL the Downloader can fetch.
func IsRemote(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ftp":
		return u.Host != ""
	}
	return false
}

// Fetch downloads src into dir and returns the local path. The file keeps
// the remote base name so LoadFile can pick the reader by extension.
func (d *Downloader) Fetch(ctx context.Context, src, dir string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", eris.Wrapf(err, "importer: parse %s", src)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", eris.Errorf("importer: no file name in %s", src)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "importer: create %s", dir)
	}
	dst := filepath.Join(dir, name)

	log := zap.L().With(zap.String("phase", "import"), zap.String("url", src))
	retry := d.retry
	retry.OnRetry = resilience.RetryLogger("importer", "download")

	n, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (int64, error) {
		var rc io.ReadCloser
		var err error
		switch u.Scheme {
		case "ftp":
			rc, err = d.openFTP(ctx, u)
		case "http", "https":
			rc, err = d.openHTTP(ctx, src)
		default:
			return 0, resilience.NewPermanentError(eris.Errorf("importer: unsupported scheme %q", u.Scheme))
		}
		if err != nil {
			return 0, err
		}
		defer rc.Close() //nolint:errcheck
		return writeFile(dst, rc)
	})
	if err != nil {
		return "", eris.Wrapf(err, "importer: download %s", src)
	}
	log.Info("importer: downloaded source", zap.String("path", dst), zap.Int64("bytes", n))
	return dst, nil
}

func (d *Downloader) openHTTP(ctx context.Context, src string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "importer: build request"))
	}
	req.Header.Set("User-Agent", "leadflow-importer/1.0")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "importer: http get")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		err := eris.Errorf("importer: http status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, resilience.NewPermanentError(err)
	}
	return resp.Body, nil
}

// parseFTPURL returns host:port and path, defaulting the port to 21.
func parseFTPURL(u *url.URL) (string, string, error) {
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("importer: expected ftp scheme, got %q", u.Scheme)
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" || u.Path == "/" {
		return "", "", eris.New("importer: empty path in ftp url")
	}
	return host, u.Path, nil
}

// ftpFile closes the transfer and the control connection together.
type ftpFile struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (f *ftpFile) Read(p []byte) (int, error) { return f.resp.Read(p) }

func (f *ftpFile) Close() error {
	respErr := f.resp.Close()
	quitErr := f.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "importer: close ftp transfer")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "importer: quit ftp")
	}
	return nil
}

func (d *Downloader) openFTP(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	host, p, err := parseFTPURL(u)
	if err != nil {
		return nil, resilience.NewPermanentError(err)
	}
	conn, err := ftp.Dial(host, ftp.DialWithTimeout(d.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "importer: ftp dial")
	}

	user, pass := "anonymous", "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			pass = pw
		}
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, resilience.NewPermanentError(eris.Wrap(err, "importer: ftp login"))
	}
	resp, err := conn.Retr(p)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "importer: ftp retrieve")
	}
	return &ftpFile{resp: resp, conn: conn}, nil
}

// writeFile copies r to path through a temp file, so a failed transfer
// never leaves a partial file behind.
func writeFile(dst string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, resilience.NewPermanentError(eris.Wrap(err, "importer: create temp file"))
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return n, eris.Wrap(err, "importer: write download")
	}
	if err := tmp.Close(); err != nil {
		return n, resilience.NewPermanentError(eris.Wrap(err, "importer: close download"))
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return n, resilience.NewPermanentError(eris.Wrap(err, "importer: rename download"))
	}
	return n, nil
}

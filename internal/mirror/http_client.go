package mirror

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/topomirror/internal/artifact"
)

// HTTPConfig configures the downloader.
type HTTPConfig struct {
	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds a single download, including reading the body.
	// Zero means no timeout.
	Timeout time.Duration

	// Progress draws a progress bar for each download.
	Progress bool

	// ProgressOutput receives the progress bar. Default: os.Stderr
	ProgressOutput io.Writer
}

// HTTPClient downloads archives into staging storage.
type HTTPClient struct {
	client    *http.Client
	userAgent string
	staging   *Storage
	progress  bool
	progOut   io.Writer
}

// NewHTTPClient creates a new HTTP client for downloads.
func NewHTTPClient(cfg HTTPConfig, staging *Storage) *HTTPClient {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	progOut := cfg.ProgressOutput
	if progOut == nil {
		progOut = os.Stderr
	}
	return &HTTPClient{
		client:    clonedTransport(cfg.Timeout),
		userAgent: userAgent,
		staging:   staging,
		progress:  cfg.Progress,
		progOut:   progOut,
	}
}

// Fetch performs one GET of rawURL and stores the body in a new staging
// file. The caller owns the returned artifact and must Release it.
//
// Non-2xx responses, transport failures and empty bodies are returned as
// *NetworkError. No staging file survives a failed Fetch.
func (h *HTTPClient) Fetch(ctx context.Context, rawURL string) (*StagingArtifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", h.userAgent)

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	defer closeRespBody(resp)

	slog.Debug("response received", "url", rawURL, "status_code", resp.StatusCode, "content_length", resp.ContentLength)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	tempfile, err := h.staging.TempFile()
	if err != nil {
		return nil, errors.Wrap(err, "create staging file")
	}
	staged := newStagingArtifact(rawURL, tempfile)

	success := false
	defer func() {
		if success {
			return
		}
		if err := staged.Release(); err != nil {
			slog.Warn("failed to remove staging file", "path", staged.Path(), "error", err)
		}
	}()

	var body io.Reader = resp.Body
	if h.progress {
		bar := h.newProgressBar(resp.ContentLength, path.Base(req.URL.Path))
		body = bar.NewProxyReader(resp.Body)
		defer bar.Finish()
	}

	fi, err := copyBody(tempfile, body, tempfile.Name(), rawURL, resp.StatusCode)
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return nil, &NetworkError{URL: rawURL, StatusCode: resp.StatusCode, Err: ErrEmptyPayload}
	}
	if err := tempfile.Sync(); err != nil {
		return nil, errors.Wrap(err, "sync staging file")
	}
	if _, err := tempfile.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek staging file")
	}

	elapsed := time.Since(start)
	slog.Debug("download complete",
		"url", rawURL,
		"bytes", fi.Size(),
		"elapsed", elapsed.Round(time.Millisecond),
		"throughput", formatRate(fi.Size(), elapsed))

	staged.fi = fi
	success = true
	return staged, nil
}

// copyBody copies the response body of rawURL into dst. Only read
// failures are reported as *NetworkError.
func copyBody(dst io.Writer, body io.Reader, p, rawURL string, status int) (*artifact.FileInfo, error) {
	w := &writeTracker{w: dst}
	fi, err := artifact.CopyWithFileInfo(w, body, p)
	if err != nil {
		if w.err != nil {
			return nil, errors.Wrap(err, "write staging file")
		}
		return nil, &NetworkError{URL: rawURL, StatusCode: status, Err: err}
	}
	return fi, nil
}

func (h *HTTPClient) newProgressBar(total int64, name string) *pb.ProgressBar {
	if total < 0 {
		total = 0
	}
	bar := pb.New64(total)
	bar.SetTemplate(pb.Full)
	bar.SetWriter(h.progOut)
	bar.Set(pb.Bytes, true)
	bar.Set("prefix", name+" ")
	return bar.Start()
}

// closeRespBody closes HTTP response body.
func closeRespBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}

// clonedTransport creates a new HTTP client with tuned transport settings.
func clonedTransport(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 10
	tr.MaxIdleConnsPerHost = 2
	tr.IdleConnTimeout = 90 * time.Second

	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}
}

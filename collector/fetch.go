package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CERT-Polska/n6-sub011/errors"
	"github.com/CERT-Polska/n6-sub011/pkg/retry"
)

// Fetcher retrieves one whole payload from a source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// PageFetcher retrieves one page of a paginated source. Pages are numbered
// from 1; an empty result means the source is exhausted.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) ([]byte, error)
}

// HTTPFetcher fetches a source over HTTP with bounded timeouts and a small
// number of retries. A failed fetch is reported upward as transient; the
// run aborts with state untouched (fail-closed: better to re-deliver than
// to silently skip).
type HTTPFetcher struct {
	URL       string
	Method    string
	Headers   map[string]string
	Timeout   time.Duration
	Retry     retry.Config
	PageParam string // query parameter carrying the page number, for paginated sources

	client *http.Client
}

// NewHTTPFetcher builds a fetcher with sane defaults.
func NewHTTPFetcher(url string, opts ...func(*HTTPFetcher)) *HTTPFetcher {
	f := &HTTPFetcher{
		URL:       url,
		Method:    http.MethodGet,
		Timeout:   30 * time.Second,
		Retry:     retry.DefaultConfig(),
		PageParam: "page",
	}
	for _, opt := range opts {
		opt(f)
	}
	f.client = &http.Client{Timeout: f.Timeout}
	return f
}

// Fetch performs the request, retrying transient failures.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	return f.fetchURL(ctx, f.URL)
}

// FetchPage performs the request for one page of a paginated source.
func (f *HTTPFetcher) FetchPage(ctx context.Context, page int) ([]byte, error) {
	sep := "?"
	if strings.Contains(f.URL, "?") {
		sep = "&"
	}
	return f.fetchURL(ctx, f.URL+sep+f.PageParam+"="+strconv.Itoa(page))
}

func (f *HTTPFetcher) fetchURL(ctx context.Context, url string) ([]byte, error) {
	body, err := retry.DoWithResult(ctx, f.Retry, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, f.Method, url, nil)
		if err != nil {
			return nil, retry.NonRetryable(err)
		}
		for k, v := range f.Headers {
			req.Header.Set(k, v)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("source returned %s", resp.Status)
		case resp.StatusCode >= 400:
			// Client errors will not heal on retry.
			return nil, retry.NonRetryable(fmt.Errorf("source returned %s", resp.Status))
		}

		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "HTTPFetcher", "Fetch", "fetch "+url)
	}
	return body, nil
}

// SplitRows splits a payload into non-empty trimmed rows using sep
// (default newline).
func SplitRows(payload []byte, sep string) []string {
	if sep == "" {
		sep = "\n"
	}

	var rows []string
	for _, row := range strings.Split(string(payload), sep) {
		row = strings.TrimRight(row, "\r")
		if strings.TrimSpace(row) == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

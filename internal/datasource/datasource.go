// Package datasource fetches the upstream data moexbonds works with: the
// MOEX ISS bond feed, the Bank of Russia key rate and market news RSS.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// --- Sentinel errors ---

// ErrRateLimited is returned when a source rate-limits the request.
var ErrRateLimited = errors.New("rate limited by data source")

// ErrNoData is returned when a response parses but carries nothing usable.
var ErrNoData = errors.New("no data in response")

// ErrHTTP wraps an HTTP error with status code.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// FetchError reports a feed fetch that failed on every route tried.
type FetchError struct {
	Board  string
	Direct error
	Proxy  error // nil when no proxy is configured
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch board %s: direct: %v", e.Board, e.Direct)
	if e.Proxy != nil {
		fmt.Fprintf(&b, "; proxy: %v", e.Proxy)
	}
	return b.String()
}

// Unwrap exposes both causes to errors.Is and errors.As.
func (e *FetchError) Unwrap() []error {
	errs := []error{e.Direct}
	if e.Proxy != nil {
		errs = append(errs, e.Proxy)
	}
	return errs
}

// IsFetchError reports whether err is (or wraps) a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// --- Shared HTTP client helpers ---

// DefaultUserAgent is the user agent string used for HTTP requests.
const DefaultUserAgent = "moexbonds/1.0 (+https://github.com/moexbonds/moexbonds)"

// maxBodyBytes caps response bodies; a full bond board is a few MB.
const maxBodyBytes = 32 << 20

// NewHTTPClient returns an HTTP client with the given timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// doGet performs a GET request and returns the response body. Status codes
// of 400 and above become *ErrHTTP; 429 also matches ErrRateLimited.
func doGet(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json, text/html, */*")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		httpErr := &ErrHTTP{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, httpErr)
		}
		return nil, httpErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", url, err)
	}
	return body, nil
}

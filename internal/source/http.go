package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "Mozilla/5.0 (compatible; candlesync/1.0)"

// maxBody caps how much of a provider response is read.
const maxBody = 16 << 20

// NewHTTPClient returns an http.Client bounded by timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// Get issues a GET request and returns the body of a 2xx response. Transport
// errors are transient; non-2xx statuses are classified by StatusFailure.
func Get(ctx context.Context, client *http.Client, adapter, symbol, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Wrap(KindMalformed, adapter, symbol, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, Wrap(KindTransient, adapter, symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, Wrap(KindTransient, adapter, symbol, fmt.Errorf("reading body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, StatusFailure(adapter, symbol, resp.StatusCode, body)
	}
	return body, nil
}

// StatusFailure maps a non-2xx HTTP status to a Failure.
func StatusFailure(adapter, symbol string, status int, body []byte) *Failure {
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	var kind Kind
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusForbidden, status == 418:
		kind = KindRateLimited
	case status == http.StatusNotFound, status == http.StatusGone,
		status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		kind = KindNotFound
	case status >= 500:
		kind = KindTransient
	default:
		kind = KindMalformed
	}
	return Fail(kind, adapter, symbol, "HTTP %d: %s", status, snippet)
}

package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// userAgent identifies resolvd to the remote catalogs.
const userAgent = "resolvd/1.0"

// httpStatusError carries a remote status code through the retry loop.
type httpStatusError struct {
	status int
	url    string
}

func (e httpStatusError) Error() string {
	return fmt.Sprintf("remote returned %d for %s", e.status, e.url)
}

// retriableStatus reports whether a response status is worth retrying.
func retriableStatus(status int) bool {
	switch {
	case status >= 500:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	}
	return false
}

// Client is the one HTTP client shared by every adapter. It applies a
// per-request deadline and retries transient failures with exponential
// backoff; adapters only translate payloads.
type Client struct {
	http       *http.Client
	timeout    time.Duration
	maxRetries uint64
}

// NewClient builds the shared client. timeout bounds each request
// (connect + read); retries caps retry attempts on transient failures.
func NewClient(timeout time.Duration, retries int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Client{
		http:       &http.Client{},
		timeout:    timeout,
		maxRetries: uint64(retries),
	}
}

// GetJSON fetches url with the given headers and returns the body.
// Transient failures (network errors, 5xx, 408, 429) are retried with
// exponential backoff until the retry budget or ctx expires. A non-2xx
// terminal status is returned as httpStatusError for the adapter to
// classify.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var body []byte
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err // network errors retry
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			statusErr := httpStatusError{status: resp.StatusCode, url: url}
			if retriableStatus(resp.StatusCode) {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
	return body, err
}

// Classify maps a transport error to an Outcome per the taxonomy:
// cancellation, auth, not-found, permanent 4xx, transient otherwise.
func Classify(err error) Outcome {
	if err == nil {
		return NotFound()
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled(err)
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.status == http.StatusUnauthorized || statusErr.status == http.StatusForbidden:
			return AuthRequired(err)
		case statusErr.status == http.StatusNotFound:
			return NotFound()
		case retriableStatus(statusErr.status):
			return Transient(err)
		case statusErr.status >= 400 && statusErr.status < 500:
			return Permanent(err)
		}
		return Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	return Transient(err)
}

package relay

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/odvcencio/twine/pkg/object"
)

// initialBackoff is the delay before the first retry of a failed request.
var initialBackoff = time.Second

// pacer spaces out repeated requests to a relay. Retries back off
// exponentially; hoist polling uses a fixed delay.
type pacer struct {
	delay time.Duration
	grow  bool
}

func backoffPacer() *pacer { return &pacer{delay: initialBackoff, grow: true} }

func fixedPacer(d time.Duration) *pacer { return &pacer{delay: d} }

// wait sleeps for the current delay or until ctx is done.
func (p *pacer) wait(ctx context.Context) error {
	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return object.Errorf(object.KindNetwork, ctx.Err(), "waiting for relay")
	case <-t.C:
	}
	if p.grow {
		p.delay *= 2
	}
	return nil
}

// retryable reports whether a response proves the relay did nothing, so the
// request may be sent again. A POST /hoist that failed any other way may
// already have appended a twist.
func retryable(method string, status int) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return true
	case method == http.MethodGet && status >= 500:
		return true
	}
	return false
}

// send issues a request to the relay, retrying transient failures up to
// c.maxAttempts times. body is replayed on every attempt. GET requests are
// also retried after transport errors. Once attempts run out the last
// retryable response is returned for the caller to report.
func (c *Client) send(ctx context.Context, method, path string, body []byte, header http.Header) (*http.Response, error) {
	p := backoffPacer()
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := p.wait(ctx); err != nil {
				return nil, err
			}
		}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			req.Header[k] = vs
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if method != http.MethodGet || ctx.Err() != nil {
				break
			}
			continue
		}
		if attempt == c.maxAttempts-1 || !retryable(method, resp.StatusCode) {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return nil, object.Errorf(object.KindNetwork, lastErr, "%s %s", method, path)
}

package actions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"schedq/internal/task"
	"schedq/internal/task/engine"
)

// Request describes an HTTP call made by an http action.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
	Client  *http.Client // nil means a client without its own timeout; the attempt timeout applies
}

// HTTP performs req. 5xx and 429 responses are retryable, honoring a
// Retry-After header in seconds; other 4xx responses are not retried.
func HTTP(req Request) task.Action {
	return func(ctx context.Context) error {
		if req.URL == "" {
			return engine.NoRetry(fmt.Errorf("URL is required"))
		}
		method := strings.ToUpper(strings.TrimSpace(req.Method))
		if method == "" {
			method = http.MethodGet
		}
		client := req.Client
		if client == nil {
			client = http.DefaultClient
		}

		var body io.Reader
		if len(req.Body) > 0 {
			body = bytes.NewReader(req.Body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
		if err != nil {
			return engine.NoRetry(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxOutputInError))

		switch {
		case resp.StatusCode < 400:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			err := fmt.Errorf("HTTP %d error: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				return engine.RetryAfter(err, d)
			}
			return err
		default:
			return engine.NoRetry(fmt.Errorf("HTTP %d error: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
		}
	}
}

func retryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

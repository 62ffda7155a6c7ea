package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// retryBackoffStep is multiplied by the attempt number between deliveries.
const retryBackoffStep = 200 * time.Millisecond

// Delivery posts one JSON body to a webhook endpoint.
type Delivery struct {
	Client *http.Client
	URL    string
	Body   []byte
	// Retries is the number of extra attempts after the first failure.
	Retries int
	// Name prefixes errors, e.g. "slack".
	Name string
}

// Post sends the body, retrying with a linear backoff. Non-2xx responses are errors.
func (d Delivery) Post(ctx context.Context) error {
	attempts := max(d.Retries, 0) + 1
	var lastErr error
	for attempt := range attempts {
		lastErr = d.postOnce(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(time.Duration(attempt+1) * retryBackoffStep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (d Delivery) postOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", d.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", d.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		closeErr := resp.Body.Close()
		if readErr != nil {
			return errors.Join(fmt.Errorf("read %s error response: %w", d.Name, readErr), closeErr)
		}
		return fmt.Errorf("%s %s: %s", d.Name, resp.Status, strings.TrimSpace(string(respBody)))
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return errors.Join(fmt.Errorf("drain %s response body: %w", d.Name, err), resp.Body.Close())
	}
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}

// HTTPClient returns c, or a client with the given timeout (5s when unset).
func HTTPClient(c *http.Client, timeout time.Duration) *http.Client {
	if c != nil {
		return c
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Fallback returns value, or fallback when value is blank.
func Fallback(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

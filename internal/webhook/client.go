/**
 * Webhook Delivery Client
 *
 * Posts the final result document to the customer-supplied callback URL.
 * Delivery retries are driven by the queue layer, not here; this client
 * performs exactly one attempt and classifies the outcome so the handler
 * can decide between retry and permanent failure.
 */

package webhook

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/trace"
)

// DeliveryError is a failed delivery attempt. StatusCode is zero for
// transport-level failures where no response was received.
type DeliveryError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("webhook: delivery to %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("webhook: delivery to %s failed: %v", e.URL, e.Cause)
}

func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// Permanent reports whether retrying this delivery cannot help. A 4xx
// response means the receiver rejected the payload or the URL is wrong;
// deployments that still want retries for those flip the client option.
func (e *DeliveryError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Options configures delivery behavior.
type Options struct {
	// Timeout bounds one delivery attempt end to end.
	Timeout time.Duration
	// AllowInsecure disables TLS certificate verification for endpoints
	// with self-signed certificates. Off in production.
	AllowInsecure bool
	// RetryClientErrors treats 4xx responses as retryable instead of
	// permanent.
	RetryClientErrors bool
}

// Client delivers result payloads over HTTP.
type Client struct {
	httpClient        *http.Client
	retryClientErrors bool
}

// NewClient builds a delivery client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	transport := http.DefaultTransport
	if opts.AllowInsecure {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		retryClientErrors: opts.RetryClientErrors,
	}
}

// Deliver posts the payload as JSON to the callback URL. Any non-2xx
// response is an error; whether it is worth retrying is answered by
// ShouldRetry.
func (c *Client) Deliver(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if correlationID := trace.FromContext(ctx); correlationID != "" {
		req.Header.Set(trace.HeaderName, correlationID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{URL: url, Cause: err}
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}

// ShouldRetry reports whether a failed delivery should be attempted
// again.
func (c *Client) ShouldRetry(err error) bool {
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		return true
	}
	if c.retryClientErrors {
		return true
	}
	return !derr.Permanent()
}

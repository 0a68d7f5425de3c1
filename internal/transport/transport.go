// Package transport implements the client side of the wire protocol: a
// form-encoded POST per request against the fixed sync endpoint, with a fixed
// per-request timeout and an at-most-once completion guarantee.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"resty.dev/v3"

	"github.com/vk/cellsync/internal/ctxlog"
)

// Kind identifies the request type on the wire.
type Kind string

const (
	KindPull Kind = "PULL"
	KindPush Kind = "PUSH"
)

// ErrNotAuthenticated is returned when the server rejects the shared token.
// Retrying will not heal it, so callers surface it distinctly from transient
// failures.
var ErrNotAuthenticated = errors.New("transport: server rejected the sync token")

// Client posts PULL/PUSH requests to one sync endpoint.
type Client struct {
	http     *resty.Client
	endpoint string
	token    string
}

// NewClient creates a transport client. The timeout applies to every request
// and aborts the in-flight call when exceeded.
func NewClient(endpoint, token string, timeout time.Duration) *Client {
	return &Client{
		http:     resty.New().SetTimeout(timeout),
		endpoint: endpoint,
		token:    token,
	}
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	return c.http.Close()
}

// StartRequest issues an asynchronous request. Exactly one of onSuccess and
// onError is invoked, exactly once, even if a late response races the
// timeout. The payload field is sent only when non-empty (PUSH).
func (c *Client) StartRequest(ctx context.Context, kind Kind, payload string, onSuccess func(body []byte), onError func(err error)) {
	requestID := uuid.NewString()
	logger := ctxlog.FromContext(ctx).With("request_id", requestID, "kind", string(kind))

	// Single completion guard.
	var done atomic.Bool
	succeed := func(body []byte) {
		if !done.CompareAndSwap(false, true) {
			return
		}
		logger.Debug("Request completed.")
		onSuccess(body)
	}
	fail := func(err error) {
		if !done.CompareAndSwap(false, true) {
			return
		}
		logger.Warn("Request failed.", "error", err)
		onError(err)
	}

	go func() {
		form := map[string]string{
			"request": string(kind),
			"token":   c.token,
		}
		if payload != "" {
			form["payload"] = payload
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetFormData(form).
			Post(c.endpoint)
		if err != nil {
			fail(fmt.Errorf("transport: %s request: %w", kind, err))
			return
		}

		switch resp.StatusCode() {
		case http.StatusOK:
			succeed(resp.Bytes())
		case http.StatusForbidden:
			fail(ErrNotAuthenticated)
		default:
			fail(fmt.Errorf("transport: %s request: unexpected status %d", kind, resp.StatusCode()))
		}
	}()
}

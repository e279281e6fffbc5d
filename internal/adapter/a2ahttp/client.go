// Package a2ahttp implements the agent transport over HTTP: JSON-RPC for
// blocking calls, SSE or NDJSON for streamed calls.
package a2ahttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/agentrelay/internal/domain/agent"
	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/domain/failure"
	"github.com/Strob0t/agentrelay/internal/port/a2a"
)

const (
	maxErrorBody = 4 << 10
	maxCardBody  = 1 << 20
)

// Options configures a Client.
type Options struct {
	HTTPClient    *http.Client // defaults to an otelhttp-instrumented client
	Auth          Authenticator
	CallTimeout   time.Duration // blocking calls and card fetches
	StreamTimeout time.Duration // whole lifetime of a stream
}

// Client is the HTTP transport to downstream agents.
type Client struct {
	http          *http.Client
	auth          Authenticator
	callTimeout   time.Duration
	streamTimeout time.Duration
	now           func() time.Time
}

var _ a2a.Client = (*Client)(nil)

// New creates a transport client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	auth := opts.Auth
	if auth == nil {
		auth = noAuth{}
	}
	return &Client{
		http:          hc,
		auth:          auth,
		callTimeout:   opts.CallTimeout,
		streamTimeout: opts.StreamTimeout,
		now:           time.Now,
	}
}

// Call posts message/send and returns the final frame of the result. A
// result that is not a frame is returned as an artifact frame.
func (c *Client) Call(ctx context.Context, endpoint string, msg a2a.Message) (event.Frame, error) {
	ctx, cancel := withTimeout(ctx, c.callTimeout)
	defer cancel()

	body, err := encodeRequest(a2a.MethodSend, msg)
	if err != nil {
		return event.Frame{}, failure.Protocol(err, "encode request")
	}
	resp, err := c.do(ctx, http.MethodPost, join(endpoint, a2a.MethodSend), body, "application/json")
	if err != nil {
		return event.Frame{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes+1))
	if err != nil {
		return event.Frame{}, failure.Unreachable(err, "read response from %s", endpoint)
	}
	if len(data) > maxFrameBytes {
		return event.Frame{}, failure.Protocol(nil, "response from %s exceeds %d bytes", endpoint, maxFrameBytes)
	}
	return decodeCallResult(data)
}

// Stream posts message/stream and returns an incremental frame reader.
func (c *Client) Stream(ctx context.Context, endpoint string, msg a2a.Message) (a2a.FrameStream, error) {
	ctx, cancel := withTimeout(ctx, c.streamTimeout)

	body, err := encodeRequest(a2a.MethodStream, msg)
	if err != nil {
		cancel()
		return nil, failure.Protocol(err, "encode request")
	}
	resp, err := c.do(ctx, http.MethodPost, join(endpoint, a2a.MethodStream), body, "text/event-stream, application/x-ndjson")
	if err != nil {
		cancel()
		return nil, err
	}
	return newFrameStream(ctx, cancel, resp), nil
}

// FetchCard gets {endpoint}/agent-card. Required fields are not checked here.
func (c *Client) FetchCard(ctx context.Context, endpoint string) (*agent.Card, error) {
	ctx, cancel := withTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, join(endpoint, "agent-card"), nil, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var card agent.Card
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxCardBody)).Decode(&card); err != nil {
		return nil, failure.Protocol(fmt.Errorf("%w: %v", agent.ErrMalformedCard, err), "decode card from %s", endpoint)
	}
	return &card, nil
}

// do sends the request and classifies transport and status failures.
// On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, method, url string, body []byte, accept string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, failure.Protocol(err, "build request for %s", url)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	if err := c.auth.Authenticate(req); err != nil {
		return nil, fmt.Errorf("authenticate request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, failure.Unreachable(err, "%s %s", method, url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, failure.Remote(resp.StatusCode, parseRetryAfter(resp.Header, c.now()),
			"%s %s: %s", method, url, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func join(endpoint, path string) string {
	return strings.TrimRight(endpoint, "/") + "/" + path
}

// isTimeout reports whether err comes from a deadline rather than a cancel.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

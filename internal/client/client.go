// Package client issues single load-test requests against the target
// endpoint over HTTP or WebSocket and evaluates response checks.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// Request is one fully-built request for the target endpoint.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is what checks and metrics consume: status, body, round-trip time.
type Response struct {
	Status  int
	Body    []byte
	Latency time.Duration
}

// Doer performs one blocking request with internal timeout handling.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

const maxBodyBytes = 10 << 20

// HTTP is a Doer over a shared http.Client tuned for many concurrent VUs.
type HTTP struct {
	client *http.Client
}

// NewHTTP builds an HTTP doer. timeout bounds each request end to end;
// maxConns sizes the idle connection pool to the expected peak VU count.
func NewHTTP(timeout time.Duration, maxConns int) *HTTP {
	if maxConns < 2 {
		maxConns = 2
	}
	transport := &http.Transport{
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
	}
	return &HTTP{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Do sends the request and reads the full response body. The returned
// latency covers send through body read. Errors (including timeout) leave
// the response nil.
func (h *HTTP) Do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{Status: resp.StatusCode, Body: body, Latency: latency}, nil
}

// WSProbe is a Doer that dials the target WebSocket URL, sends the request
// body as one text message and waits for a single reply. Each call is an
// independent dial so iteration failures stay isolated.
type WSProbe struct {
	Timeout time.Duration
}

// Do performs one WebSocket round trip. A completed round trip reports
// status 200 so response checks stay uniform across protocols.
func (w *WSProbe) Do(ctx context.Context, req Request) (*Response, error) {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if len(req.Headers) > 0 {
		opts.HTTPHeader = http.Header{}
		for k, v := range req.Headers {
			opts.HTTPHeader.Set(k, v)
		}
	}

	start := time.Now()
	conn, _, err := websocket.Dial(ctx, req.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageText, req.Body); err != nil {
		return nil, fmt.Errorf("writing message: %w", err)
	}

	_, reply, err := conn.Read(ctx)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	return &Response{Status: http.StatusOK, Body: reply, Latency: latency}, nil
}

// Check is a named boolean assertion against a response.
type Check struct {
	Name string
	Fn   func(*Response) bool
}

// StatusCheck passes when the response status equals want.
func StatusCheck(name string, want int) Check {
	return Check{Name: name, Fn: func(r *Response) bool {
		return r.Status == want
	}}
}

// BodyContainsCheck passes when the response body contains substr.
func BodyContainsCheck(name, substr string) Check {
	return Check{Name: name, Fn: func(r *Response) bool {
		return strings.Contains(string(r.Body), substr)
	}}
}

// MaxLatencyCheck passes when the round trip finished within limit.
func MaxLatencyCheck(name string, limit time.Duration) Check {
	return Check{Name: name, Fn: func(r *Response) bool {
		return r.Latency <= limit
	}}
}

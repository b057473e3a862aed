// Package trace stamps outgoing HTTP requests with a request ID and logs
// their completion.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"bollette/internal/log"
)

// HeaderRequestID carries the request ID to the server.
const HeaderRequestID = "X-Request-Id"

type contextKey struct{}

// Metrics tracks request metrics
type Metrics struct {
	TotalRequests       int64
	FailedRequests      int64
	AverageResponseTime int64 // in microseconds
}

// Transport is an http.RoundTripper that traces every request it forwards.
type Transport struct {
	next   http.RoundTripper
	logger *log.Logger

	total   atomic.Int64
	failed  atomic.Int64
	totalUS atomic.Int64
}

// NewTransport wraps next; nil means http.DefaultTransport.
func NewTransport(next http.RoundTripper, logger *log.Logger) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Transport{next: next, logger: logger}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	ctx := req.Context()

	requestID := RequestID(ctx)
	if requestID == "" {
		requestID = GenerateRequestID()
	}
	// RoundTrip must not modify the caller's request.
	req = req.Clone(ctx)
	req.Header.Set(HeaderRequestID, requestID)

	resp, err := t.next.RoundTrip(req)

	duration := time.Since(start)
	t.total.Add(1)
	t.totalUS.Add(duration.Microseconds())

	if err != nil {
		t.failed.Add(1)
		t.logger.WarnContext(ctx, "HTTP request failed",
			"request_id", requestID,
			"method", req.Method,
			"path", req.URL.Path,
			log.FieldDuration, duration.Milliseconds(),
			log.FieldError, err)
		return nil, err
	}

	level := slog.LevelDebug
	switch {
	case resp.StatusCode >= 500:
		level = slog.LevelError
		t.failed.Add(1)
	case resp.StatusCode >= 400:
		level = slog.LevelWarn
		t.failed.Add(1)
	}
	t.logger.Log(ctx, level, "HTTP request completed",
		log.FieldComponent, t.logger.Component(),
		"request_id", requestID,
		"method", req.Method,
		"path", req.URL.Path,
		"status_code", resp.StatusCode,
		log.FieldDuration, duration.Milliseconds())
	return resp, nil
}

// Metrics returns a snapshot of the counters.
func (t *Transport) Metrics() Metrics {
	m := Metrics{
		TotalRequests:  t.total.Load(),
		FailedRequests: t.failed.Load(),
	}
	if m.TotalRequests > 0 {
		m.AverageResponseTime = t.totalUS.Load() / m.TotalRequests
	}
	return m
}

// WithRequestID makes every request issued with ctx share id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// RequestID extracts the request ID from context
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateRequestID creates a unique request ID for tracing
func GenerateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp if random fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

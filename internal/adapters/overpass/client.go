// Package overpass queries OpenStreetMap road ways through the Overpass API.
package overpass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/pkg/metrics"
)

// DefaultURL is the public Overpass interpreter.
const DefaultURL = "https://overpass-api.de/api/interpreter"

var tracer = otel.Tracer("github.com/AzyAli/map3d/internal/adapters/overpass")

// Client implements ports.RoadFetcher.
type Client struct {
	url        string
	session    *http.Client
	maxAttempt int
	backoff    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Client) { o.session = c }
}

// WithRetry sets the attempt budget and the initial backoff for transient
// failures. attempts <= 1 disables retries.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(o *Client) {
		o.maxAttempt = attempts
		o.backoff = backoff
	}
}

// New creates a Client for the interpreter at endpoint.
func New(endpoint string, timeout time.Duration, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	c := &Client{
		url:        endpoint,
		session:    &http.Client{Timeout: timeout},
		maxAttempt: 3,
		backoff:    500 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Query returns the Overpass QL query selecting highway ways in b.
func Query(b domain.Bounds) string {
	return fmt.Sprintf(`[out:json][timeout:25];(way["highway"](%s,%s,%s,%s););out body geom;`,
		coord(b.South), coord(b.West), coord(b.North), coord(b.East))
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type response struct {
	Elements []domain.RoadElement `json:"elements"`
}

// FetchRoads returns the highway ways inside b.
func (c *Client) FetchRoads(ctx context.Context, b domain.Bounds) ([]domain.RoadElement, error) {
	ctx, span := tracer.Start(ctx, "overpass.fetch_roads")
	defer span.End()

	start := time.Now()
	body := Query(b)
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, body)
	})
	metrics.OverpassDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OverpassRequests.WithLabelValues(statusLabel(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("overpass: %w", err)
	}
	defer resp.Body.Close()
	metrics.OverpassRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("overpass: decode response: %w", err)
	}

	ways := out.Elements[:0]
	for _, e := range out.Elements {
		if e.Type != "" && e.Type != "way" {
			continue
		}
		ways = append(ways, e)
	}
	span.SetAttributes(attribute.Int("overpass.elements", len(ways)))
	return ways, nil
}

func (c *Client) newRequest(ctx context.Context, body string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.session.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(b)),
		}
	}
	return resp, nil
}

// doWithRetry retries rate limiting, 5xx responses and network errors with
// exponential backoff while respecting context cancellation.
func (c *Client) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	attempts := max(c.maxAttempt, 1)
	backoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}

		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) || attempt == attempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func statusLabel(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.Code)
	}
	return "error"
}

// StatusError is a non-2xx answer from the interpreter.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

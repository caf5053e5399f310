package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/meshcloud/tap-prometheus/pkg/log"
)

const defaultRequestTimeout = 30 * time.Second

// Config holds the connection settings for the Prometheus HTTP API.
type Config struct {
	// Endpoint is the base URL of the backend. The API path suffix
	// (/api/v1/...) is appended by the client library.
	Endpoint string

	// Optional HTTP basic auth.
	Username string
	Password string

	// RequestTimeout bounds a single range query (0 = default 30s).
	RequestTimeout time.Duration
}

// Client implements Source against the Prometheus HTTP API.
type Client struct {
	api     promv1.API
	timeout time.Duration
}

// NewClient creates a Prometheus API client.
func NewClient(cfg Config) (*Client, error) {
	rt := api.DefaultRoundTripper
	if cfg.Username != "" {
		rt = &basicAuthRoundTripper{
			username: cfg.Username,
			password: cfg.Password,
			next:     rt,
		}
	}

	c, err := api.NewClient(api.Config{
		Address:      cfg.Endpoint,
		RoundTripper: rt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{api: promv1.NewAPI(c), timeout: timeout}, nil
}

// FetchRange runs one range query and decodes the result matrix.
func (c *Client) FetchRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]Series, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	value, warnings, err := c.api.QueryRange(ctx, query, promv1.Range{
		Start: start,
		End:   end,
		Step:  step,
	})
	if err != nil {
		return nil, classifyError(err)
	}

	for _, w := range warnings {
		log.Logger.Warnw("backend warning", "query", query, "warning", w)
	}

	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, &BackendError{
			Category: "bad_response",
			Reason:   fmt.Sprintf("expected matrix result, got %s", value.Type()),
		}
	}

	return decodeMatrix(matrix), nil
}

// decodeMatrix converts the client library's matrix into Series values,
// dropping NaN samples (including stale markers) entirely.
func decodeMatrix(matrix model.Matrix) []Series {
	series := make([]Series, 0, len(matrix))

	for _, stream := range matrix {
		labels := make(map[string]string, len(stream.Metric))
		for name, value := range stream.Metric {
			labels[string(name)] = string(value)
		}

		samples := make([]Sample, 0, len(stream.Values))
		for _, pair := range stream.Values {
			v := float64(pair.Value)
			if math.IsNaN(v) {
				continue
			}
			samples = append(samples, Sample{
				Timestamp: pair.Timestamp.Time(),
				Value:     v,
			})
		}

		series = append(series, Series{Labels: labels, Samples: samples})
	}

	return series
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Reason: err.Error()}
	}

	var apiErr *promv1.Error
	if errors.As(err, &apiErr) {
		if apiErr.Type == promv1.ErrTimeout || apiErr.Type == promv1.ErrCanceled {
			return &TimeoutError{Reason: apiErr.Msg}
		}
		reason := apiErr.Msg
		if reason == "" {
			reason = apiErr.Detail
		}
		return &BackendError{Category: string(apiErr.Type), Reason: reason}
	}

	return &BackendError{Category: "transport", Reason: err.Error()}
}

// basicAuthRoundTripper adds an Authorization header to every request.
type basicAuthRoundTripper struct {
	username string
	password string
	next     http.RoundTripper
}

func (rt *basicAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not mutate the original request.
	clone := req.Clone(req.Context())
	clone.SetBasicAuth(rt.username, rt.password)
	return rt.next.RoundTrip(clone)
}

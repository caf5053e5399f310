// Package source fetches raw samples from a Prometheus-compatible backend.
//
// It issues exactly one query shape (a range query) and decodes the matrix
// response into per-label-set sample slices. NaN values, including the
// staleness marker Prometheus encodes as a NaN bit pattern, are treated as
// "no sample" and never surface to callers.
package source

import (
	"context"
	"time"
)

// Sample is one timestamped value of a single time series.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Series is one time series from a range query result: its identifying
// label set and the samples observed in the queried range.
type Series struct {
	Labels  map[string]string
	Samples []Sample
}

// Source is the capability needed by the batch scheduler: run one range
// query and return the decoded matrix. Implementations: Client (HTTP
// backend), test stubs.
type Source interface {
	// FetchRange runs query over [start, end] at the given step. Both
	// boundaries are inclusive, matching the Prometheus range query API.
	FetchRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]Series, error)
}

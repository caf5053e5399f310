// Package aggregate folds raw samples into per-period values, one per
// label set and aggregation function.
//
// Aggregation is a single streaming pass: each label set gets a small
// accumulator (max, min, sum+count), so memory is bounded by the number of
// distinct label sets in the period, not the sample count. max, min and avg
// are associative and commutative, so the result is independent of the
// order in which batches arrive.
package aggregate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/meshcloud/tap-prometheus/pkg/source"
)

// Func is one of the supported aggregation functions.
type Func string

const (
	FuncMax Func = "max"
	FuncMin Func = "min"
	FuncAvg Func = "avg"
)

// ParseFunc validates an aggregation function name from configuration.
func ParseFunc(name string) (Func, error) {
	switch Func(name) {
	case FuncMax, FuncMin, FuncAvg:
		return Func(name), nil
	default:
		return "", fmt.Errorf("unsupported aggregation %q (supported: max, min, avg)", name)
	}
}

// Result is one aggregated value, the unit handed to the record emitter.
// Immutable once produced.
type Result struct {
	Period time.Time // end boundary of the aggregated period
	Labels map[string]string
	Func   Func
	Value  float64
}

// accumulator holds the streaming state for one label set.
type accumulator struct {
	labels map[string]string
	sum    float64
	count  uint64
	min    float64
	max    float64
}

func (a *accumulator) observe(v float64) {
	if a.count == 0 {
		a.min = v
		a.max = v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.sum += v
	a.count++
}

func (a *accumulator) value(fn Func) float64 {
	switch fn {
	case FuncMax:
		return a.max
	case FuncMin:
		return a.min
	default:
		return a.sum / float64(a.count)
	}
}

// Aggregator reduces all samples of one period. Not safe for concurrent
// use; each period gets its own Aggregator.
type Aggregator struct {
	funcs  []Func
	groups map[uint64]*accumulator
}

func New(funcs []Func) *Aggregator {
	return &Aggregator{
		funcs:  funcs,
		groups: make(map[uint64]*accumulator),
	}
}

// Observe folds one batch of series into the accumulators.
func (a *Aggregator) Observe(series []source.Series) {
	for _, s := range series {
		if len(s.Samples) == 0 {
			continue
		}

		key := seriesKey(s.Labels)
		acc, ok := a.groups[key]
		if !ok {
			acc = &accumulator{labels: s.Labels}
			a.groups[key] = acc
		}

		for _, sample := range s.Samples {
			acc.observe(sample.Value)
		}
	}
}

// Results produces one Result per label set and function for the period
// ending at periodEnd, in a deterministic order (sorted by label set, then
// function). Label sets that saw no samples produce nothing.
func (a *Aggregator) Results(periodEnd time.Time) []Result {
	ordered := make([]*accumulator, 0, len(a.groups))
	for _, acc := range a.groups {
		ordered = append(ordered, acc)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return labelString(ordered[i].labels) < labelString(ordered[j].labels)
	})

	results := make([]Result, 0, len(ordered)*len(a.funcs))
	for _, acc := range ordered {
		for _, fn := range a.funcs {
			results = append(results, Result{
				Period: periodEnd,
				Labels: acc.labels,
				Func:   fn,
				Value:  acc.value(fn),
			})
		}
	}

	return results
}

// seriesKey hashes a label set into a grouping key. Labels are sorted
// first so equal sets always hash identically.
func seriesKey(labels map[string]string) uint64 {
	return xxhash.Sum64String(labelString(labels))
}

func labelString(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeLabel(k))
		b.WriteByte('=')
		b.WriteString(escapeLabel(labels[k]))
	}
	return b.String()
}

// escapeLabel escapes the separator characters so label values containing
// "," or "=" (URLs, selector strings) cannot make two distinct label sets
// serialize identically.
var labelEscaper = strings.NewReplacer(`\`, `\\`, `=`, `\=`, `,`, `\,`)

func escapeLabel(s string) string {
	return labelEscaper.Replace(s)
}

package aggregate

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/meshcloud/tap-prometheus/pkg/source"
)

func daySeries(labels map[string]string) source.Series {
	// One sample every 120s for a full day, all value 5 except a 9 at
	// 12:00 (720 samples total).
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	s := source.Series{Labels: labels}
	for i := 0; i < 720; i++ {
		ts := day.Add(time.Duration(i) * 120 * time.Second)
		value := 5.0
		if ts.Equal(day.Add(12 * time.Hour)) {
			value = 9.0
		}
		s.Samples = append(s.Samples, source.Sample{Timestamp: ts, Value: value})
	}
	return s
}

func TestResults_DaySeries(t *testing.T) {
	periodEnd := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	agg := New([]Func{FuncMax, FuncMin, FuncAvg})
	agg.Observe([]source.Series{daySeries(map[string]string{"customer": "a"})})

	results := agg.Results(periodEnd)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	byFunc := make(map[Func]Result)
	for _, r := range results {
		byFunc[r.Func] = r
		if !r.Period.Equal(periodEnd) {
			t.Errorf("result period = %v, want %v", r.Period, periodEnd)
		}
		if r.Labels["customer"] != "a" {
			t.Errorf("result labels = %v", r.Labels)
		}
	}

	if byFunc[FuncMax].Value != 9 {
		t.Errorf("max = %v, want 9", byFunc[FuncMax].Value)
	}
	if byFunc[FuncMin].Value != 5 {
		t.Errorf("min = %v, want 5", byFunc[FuncMin].Value)
	}
	wantAvg := (5*719 + 9) / 720.0
	if math.Abs(byFunc[FuncAvg].Value-wantAvg) > 1e-9 {
		t.Errorf("avg = %v, want %v", byFunc[FuncAvg].Value, wantAvg)
	}
}

func TestResults_BatchOrderIndependent(t *testing.T) {
	periodEnd := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	full := daySeries(map[string]string{"customer": "a"})

	// Split the day into 8 batches and feed them in random orders.
	var batches []source.Series
	for i := 0; i < len(full.Samples); i += 100 {
		end := i + 100
		if end > len(full.Samples) {
			end = len(full.Samples)
		}
		batches = append(batches, source.Series{Labels: full.Labels, Samples: full.Samples[i:end]})
	}

	baseline := New([]Func{FuncMax, FuncMin, FuncAvg})
	for _, b := range batches {
		baseline.Observe([]source.Series{b})
	}
	want := baseline.Results(periodEnd)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		shuffled := make([]source.Series, len(batches))
		copy(shuffled, batches)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		agg := New([]Func{FuncMax, FuncMin, FuncAvg})
		for _, b := range shuffled {
			agg.Observe([]source.Series{b})
		}

		got := agg.Results(periodEnd)
		if len(got) != len(want) {
			t.Fatalf("trial %d: got %d results, want %d", trial, len(got), len(want))
		}
		for i := range want {
			if got[i].Func != want[i].Func {
				t.Fatalf("trial %d: result order differs at %d", trial, i)
			}
			switch got[i].Func {
			case FuncAvg:
				if math.Abs(got[i].Value-want[i].Value) > 1e-9 {
					t.Errorf("trial %d: avg = %v, want %v", trial, got[i].Value, want[i].Value)
				}
			default:
				// max/min must be bit-identical under reordering.
				if got[i].Value != want[i].Value {
					t.Errorf("trial %d: %s = %v, want %v", trial, got[i].Func, got[i].Value, want[i].Value)
				}
			}
		}
	}
}

func TestResults_SeparateLabelSets(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	agg := New([]Func{FuncMax})
	agg.Observe([]source.Series{
		{Labels: map[string]string{"customer": "a"}, Samples: []source.Sample{{Timestamp: ts, Value: 1}}},
		{Labels: map[string]string{"customer": "b"}, Samples: []source.Sample{{Timestamp: ts, Value: 7}}},
	})

	results := agg.Results(ts.AddDate(0, 0, 1))
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// Deterministic order: sorted by label set.
	if results[0].Labels["customer"] != "a" || results[0].Value != 1 {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Labels["customer"] != "b" || results[1].Value != 7 {
		t.Errorf("results[1] = %+v", results[1])
	}
}

func TestResults_SeparatorsInLabelValues(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Both sets would serialize to a=1,b=2 without escaping. They are
	// distinct label sets and must never share an accumulator.
	agg := New([]Func{FuncMax})
	agg.Observe([]source.Series{
		{Labels: map[string]string{"a": "1,b=2"}, Samples: []source.Sample{{Timestamp: ts, Value: 3}}},
		{Labels: map[string]string{"a": "1", "b": "2"}, Samples: []source.Sample{{Timestamp: ts, Value: 7}}},
	})

	results := agg.Results(ts.AddDate(0, 0, 1))
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}

	values := map[float64]bool{results[0].Value: true, results[1].Value: true}
	if !values[3] || !values[7] {
		t.Errorf("label sets were merged: %+v", results)
	}
}

func TestResults_NoSamplesNoResult(t *testing.T) {
	agg := New([]Func{FuncMax, FuncAvg})

	// A series that appears in the matrix but carries no samples in the
	// period must not fabricate a zero.
	agg.Observe([]source.Series{{Labels: map[string]string{"customer": "idle"}}})

	if results := agg.Results(time.Now()); len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
}

func TestParseFunc(t *testing.T) {
	for _, name := range []string{"max", "min", "avg"} {
		if _, err := ParseFunc(name); err != nil {
			t.Errorf("ParseFunc(%q) failed: %v", name, err)
		}
	}
	if _, err := ParseFunc("sum"); err == nil {
		t.Error("ParseFunc(\"sum\") should fail")
	}
}

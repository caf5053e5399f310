// Package config loads and validates the tap configuration file.
//
// Validation is eager and fatal: a run never starts with a partially valid
// configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/meshcloud/tap-prometheus/pkg/aggregate"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Defaults applied to stream specs.
const (
	DefaultBatch  = 500
	DefaultPeriod = "day"
)

// Config is the full tap configuration.
type Config struct {
	// Endpoint is the base URL of the query backend.
	Endpoint string `json:"endpoint"`

	// Auth holds optional HTTP basic auth credentials.
	Auth *Auth `json:"auth,omitempty"`

	// StartDate is where extraction begins when no checkpoint exists yet.
	StartDate time.Time `json:"start_date"`

	// Metrics configures one stream per entry.
	Metrics []Stream `json:"metrics"`
}

// Auth holds HTTP basic auth credentials.
type Auth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Stream is the immutable spec of one output stream. Never mutated after
// load.
type Stream struct {
	// Name of the stream; also the Singer stream identifier.
	Name string `json:"name"`

	// Query is the range query issued for this stream.
	Query string `json:"query"`

	// Aggregations to compute per period and label set.
	Aggregations []aggregate.Func `json:"aggregations"`

	// Period granularity. Only "day" is supported.
	Period string `json:"period"`

	// Step is the sampling resolution requested from the backend.
	Step Duration `json:"step"`

	// Batch is the maximum number of steps fetched per backend request.
	Batch int `json:"batch"`

	// Labels is the JSON Schema describing the label keys this stream's
	// query returns.
	Labels json.RawMessage `json:"labels"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse validates raw configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalid)
	}
	if _, err := url.ParseRequestURI(c.Endpoint); err != nil {
		return fmt.Errorf("%w: endpoint: %v", ErrInvalid, err)
	}
	if c.StartDate.IsZero() {
		return fmt.Errorf("%w: start_date is required", ErrInvalid)
	}
	if len(c.Metrics) == 0 {
		return fmt.Errorf("%w: at least one metric is required", ErrInvalid)
	}

	seen := make(map[string]bool, len(c.Metrics))
	for i := range c.Metrics {
		m := &c.Metrics[i]
		if err := m.validate(c.StartDate); err != nil {
			return fmt.Errorf("%w: metrics[%d]: %v", ErrInvalid, i, err)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: metrics[%d]: duplicate stream name %q", ErrInvalid, i, m.Name)
		}
		seen[m.Name] = true
	}

	return nil
}

func (m *Stream) validate(startDate time.Time) error {
	if m.Name == "" {
		return errors.New("name is required")
	}
	if m.Query == "" {
		return errors.New("query is required")
	}

	if len(m.Aggregations) == 0 {
		return errors.New("at least one aggregation is required")
	}
	for _, fn := range m.Aggregations {
		if _, err := aggregate.ParseFunc(string(fn)); err != nil {
			return err
		}
	}

	if m.Period == "" {
		m.Period = DefaultPeriod
	}
	if m.Period != DefaultPeriod {
		return fmt.Errorf("unsupported period %q (only %q is supported)", m.Period, DefaultPeriod)
	}

	step := time.Duration(m.Step)
	if step <= 0 {
		return errors.New("step must be a positive duration")
	}
	if (24*time.Hour)%step != 0 {
		return fmt.Errorf("step %s must divide a day evenly", step)
	}
	// Keeps windows, batches and the backend request grid on the same
	// boundaries across runs.
	if !startDate.Truncate(step).Equal(startDate) {
		return fmt.Errorf("start_date must be aligned to step %s", step)
	}

	if m.Batch == 0 {
		m.Batch = DefaultBatch
	}
	if m.Batch < 0 {
		return errors.New("batch must be positive")
	}

	if len(m.Labels) == 0 {
		return errors.New("labels schema is required")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("labels.json", bytes.NewReader(m.Labels)); err != nil {
		return fmt.Errorf("labels schema: %v", err)
	}
	if _, err := compiler.Compile("labels.json"); err != nil {
		return fmt.Errorf("labels schema: %v", err)
	}

	return nil
}

// Duration unmarshals either a duration string ("120s") or a bare number
// of seconds, the format the classic tap configs used.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or number of seconds: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Package emit writes the Singer output protocol: one JSON message per
// line, consumed downstream by a loader.
//
// Message order per period is fixed: RECORD messages first, then, after the
// checkpoint has been durably persisted, the STATE message that reports the
// period as complete.
package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/meshcloud/tap-prometheus/pkg/aggregate"
)

// KeyProperties identify a record: one row per period, label set and
// aggregation function.
var KeyProperties = []string{"date", "labels", "aggregation"}

// Emitter serializes protocol messages to a writer. Safe for concurrent
// use; concurrent streams interleave whole messages, never partial lines.
type Emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// New creates an emitter writing to w (stdout in production).
func New(w io.Writer) *Emitter {
	return &Emitter{enc: json.NewEncoder(w)}
}

// Record is the payload of one RECORD message.
type Record struct {
	Date        int64             `json:"date"`
	Labels      map[string]string `json:"labels"`
	Aggregation string            `json:"aggregation"`
	Value       float64           `json:"value"`
}

type schemaMessage struct {
	Type          string          `json:"type"`
	Stream        string          `json:"stream"`
	Schema        json.RawMessage `json:"schema"`
	KeyProperties []string        `json:"key_properties"`
}

type recordMessage struct {
	Type          string `json:"type"`
	Stream        string `json:"stream"`
	Record        Record `json:"record"`
	TimeExtracted string `json:"time_extracted"`
}

type stateMessage struct {
	Type  string `json:"type"`
	Value State  `json:"value"`
}

// State is the value of a STATE message: the bookmark of every stream that
// has one.
type State struct {
	Bookmarks map[string]Bookmark `json:"bookmarks"`
}

// Bookmark marks the end of the last fully processed period of a stream.
type Bookmark struct {
	StartDate string `json:"start_date"`
}

// Schema writes the SCHEMA declaration for a stream, merging the stream's
// labels schema into the fixed record shape.
func (e *Emitter) Schema(stream string, labels json.RawMessage) error {
	schema, err := BuildSchema(labels)
	if err != nil {
		return err
	}

	return e.write(schemaMessage{
		Type:          "SCHEMA",
		Stream:        stream,
		Schema:        schema,
		KeyProperties: KeyProperties,
	})
}

// Results writes one RECORD message per aggregate result.
func (e *Emitter) Results(stream string, results []aggregate.Result, extracted time.Time) error {
	for _, r := range results {
		msg := recordMessage{
			Type:   "RECORD",
			Stream: stream,
			Record: Record{
				Date:        r.Period.Unix(),
				Labels:      r.Labels,
				Aggregation: string(r.Func),
				Value:       r.Value,
			},
			TimeExtracted: extracted.UTC().Format(time.RFC3339),
		}
		if err := e.write(msg); err != nil {
			return err
		}
	}
	return nil
}

// State writes a STATE message with the given bookmarks.
func (e *Emitter) State(state State) error {
	return e.write(stateMessage{Type: "STATE", Value: state})
}

// BuildSchema produces the record schema for a stream: fixed date,
// aggregation and value fields plus the configured labels schema.
func BuildSchema(labels json.RawMessage) (json.RawMessage, error) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"date":        map[string]any{"type": "integer"},
			"aggregation": map[string]any{"type": "string"},
			"value":       map[string]any{"type": "number"},
			"labels":      labels,
		},
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to build schema: %w", err)
	}
	return data, nil
}

func (e *Emitter) write(msg any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

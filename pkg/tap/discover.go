package tap

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/meshcloud/tap-prometheus/pkg/config"
	"github.com/meshcloud/tap-prometheus/pkg/emit"
)

// Catalog lists the schema of every configured stream.
type Catalog struct {
	Streams []CatalogEntry `json:"streams"`
}

// CatalogEntry is the discovery output for one stream.
type CatalogEntry struct {
	Stream        string          `json:"stream"`
	TapStreamID   string          `json:"tap_stream_id"`
	Schema        json.RawMessage `json:"schema"`
	KeyProperties []string        `json:"key_properties"`
}

// Discover writes the catalog for the configured streams. Pure metadata:
// no backend is contacted and no checkpoint is touched.
func Discover(w io.Writer, cfg *config.Config) error {
	catalog := Catalog{Streams: make([]CatalogEntry, 0, len(cfg.Metrics))}

	for _, m := range cfg.Metrics {
		schema, err := emit.BuildSchema(m.Labels)
		if err != nil {
			return fmt.Errorf("stream %q: %w", m.Name, err)
		}
		catalog.Streams = append(catalog.Streams, CatalogEntry{
			Stream:        m.Name,
			TapStreamID:   m.Name,
			Schema:        schema,
			KeyProperties: emit.KeyProperties,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(catalog)
}

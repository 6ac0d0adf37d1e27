// Package schema describes the fields of a dataset so the synthesizer can
// tell dimensions from measures before it proposes a configuration.
package schema

// ============================================================================
// SCHEMA — Describes the shape of a dataset for the engine + synthesizer
// ============================================================================
// Auto-discovered from sampled rows. The synthesizer's get_schema tool
// returns it verbatim and the prompt builder summarises it.
// ============================================================================

// Config describes the complete shape of a dataset.
type Config struct {
	Name     string `json:"name"`
	RowCount int    `json:"rowCount"` // rows sampled

	Dimensions []DimensionMeta `json:"dimensions"`
	Measures   []MeasureMeta   `json:"measures"`

	// Auto-discovery metadata
	DiscoveredFrom string `json:"discoveredFrom,omitempty"`
	DiscoveredAt   string `json:"discoveredAt,omitempty"`

	// Columns skipped during auto-discovery
	SkippedColumns []SkippedColumn `json:"skippedColumns,omitempty"`
}

// DimensionMeta describes a field used for grouping and filtering.
type DimensionMeta struct {
	Key             string   `json:"key"`
	DisplayName     string   `json:"displayName"`
	SampleValues    []string `json:"sampleValues"`
	UniqueCount     int      `json:"uniqueCount"`
	NullCount       int      `json:"nullCount,omitempty"`
	Parent          string   `json:"parent,omitempty"` // parent dimension key for hierarchies
	IsTemporal      bool     `json:"isTemporal,omitempty"`
	TemporalFormat  string   `json:"temporalFormat,omitempty"`
	IsGeographic    bool     `json:"isGeographic,omitempty"`
	CardinalityHint string   `json:"cardinalityHint,omitempty"` // "low", "medium", "high"
}

// MeasureMeta describes a numeric field used for aggregation.
type MeasureMeta struct {
	Key                string   `json:"key"`
	DisplayName        string   `json:"displayName"`
	Unit               string   `json:"unit,omitempty"` // "currency", "units", "hours", "points", "percent"
	IsCurrency         bool     `json:"isCurrency,omitempty"`
	Aggregations       []string `json:"aggregations,omitempty"`
	DefaultAggregation string   `json:"defaultAggregation,omitempty"`
	Min                float64  `json:"min"`
	Max                float64  `json:"max"`
	NullCount          int      `json:"nullCount,omitempty"`
}

// SkippedColumn records why a column was excluded during auto-discovery.
type SkippedColumn struct {
	Column      string `json:"column"`
	Reason      string `json:"reason"`
	Recoverable bool   `json:"recoverable"` // can be restored with RecoverColumns
}

// DimensionKeys returns all dimension keys.
func (c Config) DimensionKeys() []string {
	keys := make([]string, len(c.Dimensions))
	for i, d := range c.Dimensions {
		keys[i] = d.Key
	}
	return keys
}

// MeasureKeys returns all measure keys.
func (c Config) MeasureKeys() []string {
	keys := make([]string, len(c.Measures))
	for i, m := range c.Measures {
		keys[i] = m.Key
	}
	return keys
}

// Dimension looks up a dimension by key.
func (c Config) Dimension(key string) (DimensionMeta, bool) {
	for _, d := range c.Dimensions {
		if d.Key == key {
			return d, true
		}
	}
	return DimensionMeta{}, false
}

// Measure looks up a measure by key.
func (c Config) Measure(key string) (MeasureMeta, bool) {
	for _, m := range c.Measures {
		if m.Key == key {
			return m, true
		}
	}
	return MeasureMeta{}, false
}

// HasField reports whether key is a known dimension or measure.
func (c Config) HasField(key string) bool {
	_, dim := c.Dimension(key)
	_, mes := c.Measure(key)
	return dim || mes
}

// PrimaryMeasure returns the first measure key, or "" when there is none.
func (c Config) PrimaryMeasure() string {
	if len(c.Measures) > 0 {
		return c.Measures[0].Key
	}
	return ""
}

package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spektr-org/widgetkit/engine"
)

// ============================================================================
// CSV LOADER — Parses CSV data into []engine.Row
// ============================================================================
// Caller reads the CSV from wherever it lives. Headers become snake_case
// field names; numeric cells become float64; blank and null-marker cells
// become nil so the field is present but nullish.
// ============================================================================

var nullMarkers = map[string]bool{
	"":     true,
	"null": true,
	"nil":  true,
	"n/a":  true,
	"na":   true,
	"none": true,
}

// LoadCSV parses CSV from r. It returns the rows and the field names in
// header order. Malformed rows are skipped.
func LoadCSV(r io.Reader) ([]engine.Row, []string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = ToSnakeCase(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	rows := make([]engine.Row, 0)
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // skip malformed rows
		}

		row := make(engine.Row, len(keys))
		for i, key := range keys {
			if i >= len(rec) {
				row[key] = nil
				continue
			}
			row[key] = parseCell(rec[i])
		}
		rows = append(rows, row)
	}
	return rows, keys, nil
}

// LoadCSVFile opens and parses a CSV file.
func LoadCSVFile(path string) ([]engine.Row, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return LoadCSV(f)
}

func parseCell(raw string) any {
	val := strings.TrimSpace(raw)
	if nullMarkers[strings.ToLower(val)] {
		return nil
	}
	clean := strings.ReplaceAll(val, ",", "")
	if f, err := strconv.ParseFloat(clean, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return val
}

// ToSnakeCase converts "Column Name" → "column_name".
func ToSnakeCase(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

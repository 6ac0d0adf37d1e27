package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spektr-org/widgetkit/engine"
)

// ============================================================================
// OUTPUT — json, pretty and csv writers
// ============================================================================

// withOutput runs fn against --out, or stdout.
func withOutput(fn func(*os.File) error) error {
	if outPath == "" {
		return fn(os.Stdout)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("output written to " + outPath)
	return nil
}

func writeJSON(w *os.File, v any, format string) error {
	enc := json.NewEncoder(w)
	if format == "pretty" {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// writeCSV flattens a result into spreadsheet rows, one layout per family.
func writeCSV(w *os.File, res *engine.Result) error {
	cw := csv.NewWriter(w)

	switch {
	case res == nil || res.IsEmpty():
		cw.Write([]string{"Result", "No data"})
	case res.KPI != nil:
		cw.Write([]string{"Aggregation", "Field", "Value"})
		cw.Write([]string{string(res.KPI.Aggregation), res.KPI.Field, fmtNum(res.KPI.Value)})
	case len(res.Categories) > 0:
		writeCategoriesCSV(cw, res.Categories)
	case len(res.Points) > 0:
		cw.Write([]string{"X", "Y"})
		for _, p := range res.Points {
			cw.Write([]string{fmt.Sprint(p.X), fmt.Sprint(p.Y)})
		}
	case len(res.Bins) > 0:
		cw.Write([]string{"Bin", "Low", "High", "Count"})
		for _, b := range res.Bins {
			cw.Write([]string{b.Bin, fmtNum(b.Lo), fmtNum(b.Hi), strconv.Itoa(b.Count)})
		}
	case len(res.Flows) > 0:
		cw.Write([]string{"Origin", "Destination", "Value"})
		for _, f := range res.Flows {
			cw.Write([]string{f.Origin, f.Destination, fmtNum(f.Value)})
		}
	case len(res.Rows) > 0:
		writeRowsCSV(cw, res.Rows)
	}

	cw.Flush()
	return cw.Error()
}

// writeCategoriesCSV writes a label column plus one column per breakdown
// series when the result is grouped, else label and value.
func writeCategoriesCSV(cw *csv.Writer, cats []engine.Category) {
	var series []string
	seen := map[string]bool{}
	for _, c := range cats {
		for _, b := range c.Breakdown {
			if !seen[b.Name] {
				seen[b.Name] = true
				series = append(series, b.Name)
			}
		}
	}

	if len(series) == 0 {
		cw.Write([]string{"Label", "Value", "Count"})
		for _, c := range cats {
			cw.Write([]string{c.Name, fmtNum(c.Value), strconv.Itoa(c.Count)})
		}
		return
	}

	cw.Write(append([]string{"Label"}, series...))
	for _, c := range cats {
		values := make(map[string]float64, len(c.Breakdown))
		for _, b := range c.Breakdown {
			values[b.Name] = b.Value
		}
		row := []string{c.Name}
		for _, s := range series {
			row = append(row, fmtNum(values[s]))
		}
		cw.Write(row)
	}
}

func writeRowsCSV(cw *csv.Writer, rows []engine.Row) {
	var headers []string
	seen := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				headers = append(headers, k)
			}
		}
	}
	sort.Strings(headers)
	cw.Write(headers)
	for _, r := range rows {
		line := make([]string, len(headers))
		for i, h := range headers {
			if v, ok := r[h]; ok && v != nil {
				line[i] = fmt.Sprint(v)
			}
		}
		cw.Write(line)
	}
}

func fmtNum(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
